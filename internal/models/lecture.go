package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Fetch source tags recorded on cached lectures.
const (
	SourceDirect             = "direct"
	SourceHierarchyPrefetch  = "prefetch:hierarchy"
	SourcePredictivePrefetch = "prefetch:predictive"
)

// Lecture is a locally cached lecture with its question content. It is the
// unit the prefetchers write and the session engine reads.
type Lecture struct {
	ID          string `json:"id" gorm:"primaryKey;size:64"`
	Name        string `json:"name" gorm:"not null;size:255" validate:"required"`
	SubjectID   string `json:"subject_id" gorm:"index;size:64"`
	SubjectName string `json:"subject_name" gorm:"size:255"`

	// Questions holds []AuthoredQuestion in authoring order.
	Questions     datatypes.JSON `json:"questions" gorm:"type:json"`
	QuestionCount int            `json:"question_count"`

	// Cache bookkeeping
	Source    string    `json:"source" gorm:"size:32"`
	CachedAt  time.Time `json:"cached_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Lecture) TableName() string { return "lectures" }

// SetQuestions stores the authored questions on the JSON column and keeps
// QuestionCount in step.
func (l *Lecture) SetQuestions(qs []AuthoredQuestion) error {
	data, err := json.Marshal(qs)
	if err != nil {
		return fmt.Errorf("marshal lecture questions: %w", err)
	}
	l.Questions = datatypes.JSON(data)
	l.QuestionCount = len(qs)
	return nil
}

// AuthoredQuestions decodes the stored question content.
func (l *Lecture) AuthoredQuestions() ([]AuthoredQuestion, error) {
	if len(l.Questions) == 0 {
		return nil, nil
	}
	var qs []AuthoredQuestion
	if err := json.Unmarshal(l.Questions, &qs); err != nil {
		return nil, fmt.Errorf("unmarshal lecture questions: %w", err)
	}
	return qs, nil
}

// Stale reports whether the cached copy is older than the given window.
func (l *Lecture) Stale(window time.Duration, now time.Time) bool {
	return now.Sub(l.CachedAt) > window
}
