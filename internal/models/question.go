package models

import (
	"encoding/json"
	"fmt"
)

// AuthoredQuestion is one question in its canonical authored form: options in
// authoring order with CorrectAnswer indexing into them. It is the shape
// stored on cached lectures.
type AuthoredQuestion struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   *string  `json:"explanation,omitempty"`
}

// Validate rejects questions whose grading data does not resolve against
// their own option list.
func (q AuthoredQuestion) Validate() error {
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("correct answer %d out of range of %d options", q.CorrectAnswer, len(q.Options))
	}
	return nil
}

// QuestionState is one question as played: options in the current (possibly
// shuffled) order with CorrectIndex always an index into that order, never
// the authoring order.
type QuestionState struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  *string  `json:"explanation,omitempty"`
}

// QuestionStateFromAuthored converts an authored question into its initial
// play state, options still in authoring order.
func QuestionStateFromAuthored(q AuthoredQuestion) QuestionState {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return QuestionState{
		ID:           q.ID,
		Prompt:       q.Prompt,
		Options:      options,
		CorrectIndex: q.CorrectAnswer,
		Explanation:  q.Explanation,
	}
}

// CloneQuestionStates deep-copies a question list; mutating a copy's options
// never touches the source.
func CloneQuestionStates(qs []QuestionState) []QuestionState {
	if qs == nil {
		return nil
	}
	out := make([]QuestionState, len(qs))
	for i, q := range qs {
		options := make([]string, len(q.Options))
		copy(options, q.Options)
		q.Options = options
		out[i] = q
	}
	return out
}

// MarshalQuestionStates encodes a question list for a JSON column.
func MarshalQuestionStates(qs []QuestionState) ([]byte, error) {
	data, err := json.Marshal(qs)
	if err != nil {
		return nil, fmt.Errorf("marshal question states: %w", err)
	}
	return data, nil
}

// UnmarshalQuestionStates decodes a stored question list.
func UnmarshalQuestionStates(data []byte) ([]QuestionState, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var qs []QuestionState
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("unmarshal question states: %w", err)
	}
	return qs, nil
}
