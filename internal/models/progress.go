package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ProgressRecord is a full snapshot of an in-flight session, written after
// every answered question. Snapshots accumulate; the latest per lecture is
// the live one and older rows are superseded rather than deleted, so a
// partially written snapshot can never destroy the previous good one.
type ProgressRecord struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	LectureID    string `json:"lecture_id" gorm:"not null;size:64;index:idx_progress_lecture_time,priority:1"`
	CurrentIndex int    `json:"current_index"`
	Score        int    `json:"score"`

	// Questions holds []QuestionState in the session's shuffled order.
	Questions datatypes.JSON `json:"questions" gorm:"type:json"`
	// Metadata holds the SessionMetadata the snapshot was taken under.
	Metadata datatypes.JSON `json:"metadata" gorm:"type:json"`

	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_progress_lecture_time,priority:2"`
}

func (ProgressRecord) TableName() string { return "quiz_progress" }

// SetQuestions stores the session's current question list, order included.
func (p *ProgressRecord) SetQuestions(qs []QuestionState) error {
	data, err := MarshalQuestionStates(qs)
	if err != nil {
		return err
	}
	p.Questions = datatypes.JSON(data)
	return nil
}

// QuestionStates decodes the snapshot's question list in stored order.
func (p *ProgressRecord) QuestionStates() ([]QuestionState, error) {
	return UnmarshalQuestionStates(p.Questions)
}

// SetMetadata stores the session metadata alongside the snapshot.
func (p *ProgressRecord) SetMetadata(m SessionMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal progress metadata: %w", err)
	}
	p.Metadata = datatypes.JSON(data)
	return nil
}

// SessionMetadata decodes the stored metadata.
func (p *ProgressRecord) SessionMetadata() (SessionMetadata, error) {
	var m SessionMetadata
	if len(p.Metadata) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(p.Metadata, &m); err != nil {
		return m, fmt.Errorf("unmarshal progress metadata: %w", err)
	}
	return m, nil
}
