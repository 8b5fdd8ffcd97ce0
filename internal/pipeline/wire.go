package pipeline

import (
	"sort"

	"github.com/stemsi/exstem-agent/internal/model"
)

// BuildWireAnswers serializes an answer sheet into variant-tagged wire
// answers, in question order. Questions without a record are omitted;
// absence means unanswered. Matching pairs are emitted sorted by left item
// id so the same sheet always produces the same payload bytes.
func BuildWireAnswers(exam *model.Exam, sheet *model.AnswerSheet) []model.WireAnswer {
	wire := make([]model.WireAnswer, 0, len(exam.Questions))

	for i := range exam.Questions {
		q := &exam.Questions[i]

		switch q.QuestionType {
		case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
			opt := sheet.SelectedOptions[q.ID]
			if opt == "" {
				continue
			}
			wire = append(wire, model.WireAnswer{
				QuestionID:     q.ID,
				Type:           q.QuestionType,
				SelectedOption: opt,
			})

		case model.QuestionTypeShortAnswer:
			text := sheet.ShortAnswers[q.ID]
			if text == "" {
				continue
			}
			wire = append(wire, model.WireAnswer{
				QuestionID: q.ID,
				Type:       q.QuestionType,
				Text:       text,
			})

		case model.QuestionTypeMatching:
			pairs := sheet.MatchingSelections[q.ID]
			if len(pairs) == 0 {
				continue
			}
			lefts := make([]string, 0, len(pairs))
			for left := range pairs {
				lefts = append(lefts, left)
			}
			sort.Strings(lefts)

			matched := make([]model.MatchPair, 0, len(pairs))
			for _, left := range lefts {
				matched = append(matched, model.MatchPair{Left: left, Right: pairs[left]})
			}
			wire = append(wire, model.WireAnswer{
				QuestionID: q.ID,
				Type:       q.QuestionType,
				Pairs:      matched,
			})

		case model.QuestionTypeOrdering:
			order, ok := sheet.OrderingSelections[q.ID]
			if !ok {
				continue
			}
			wire = append(wire, model.WireAnswer{
				QuestionID: q.ID,
				Type:       q.QuestionType,
				Ordering:   append([]string(nil), order...),
			})
		}
	}
	return wire
}
