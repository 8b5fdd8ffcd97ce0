package config

import (
	"fmt"
)

type StorageKeyStruct struct{}

func NewStorageKeyStruct() *StorageKeyStruct {
	return &StorageKeyStruct{}
}

// ExamAnswersKey returns the storage key for an exam's answer sheet
func (r *StorageKeyStruct) ExamAnswersKey(examID string) string {
	return fmt.Sprintf("exam_answers_%s", examID)
}

// ExamDataKey returns the storage key for an exam's offline snapshot
func (r *StorageKeyStruct) ExamDataKey(examID string) string {
	return fmt.Sprintf("exam_data_%s", examID)
}

// PendingSubmissionsKey returns the storage key for the pending-submission log
func (r *StorageKeyStruct) PendingSubmissionsKey() string {
	return "pending_submissions"
}

var StorageKey = NewStorageKeyStruct()
