package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	fmt.Println("=== Hash Kiosk Unlock PIN ===")

	fmt.Print("Enter PIN (hidden): ")
	pin, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Printf("Error reading PIN: %v\n", err)
		os.Exit(1)
	}
	if len(pin) < 4 {
		fmt.Println("Error: PIN must be at least 4 characters")
		os.Exit(1)
	}

	fmt.Print("Confirm PIN (hidden): ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Printf("Error reading confirmation: %v\n", err)
		os.Exit(1)
	}
	if string(pin) != string(confirm) {
		fmt.Println("Error: PINs do not match")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword(pin, bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Error hashing PIN: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAdd this to the agent environment:")
	fmt.Printf("UNLOCK_PIN_HASH=%s\n", hash)
}
