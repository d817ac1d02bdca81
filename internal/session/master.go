package session

import (
	"fmt"

	"github.com/harvi-app/study-engine/internal/models"
)

// MasterSet holds a lecture's authored questions in their canonical form.
// It is built once per lecture and never mutated; every attempt plays an
// independent deep copy, so a corrupted or stale shuffle from one attempt
// cannot leak into the next.
type MasterSet struct {
	lectureID   string
	lectureName string
	subjectID   string
	subjectName string
	questions   []models.QuestionState
}

// NewMasterSet validates and freezes a lecture's question content. Lectures
// without grading data or with no questions at all are rejected.
func NewMasterSet(lecture *models.Lecture) (*MasterSet, error) {
	if lecture == nil {
		return nil, fmt.Errorf("master set requires a lecture")
	}
	authored, err := lecture.AuthoredQuestions()
	if err != nil {
		return nil, fmt.Errorf("lecture %s content unreadable: %w", lecture.ID, err)
	}
	if len(authored) == 0 {
		return nil, fmt.Errorf("lecture %s has no questions", lecture.ID)
	}
	questions := make([]models.QuestionState, 0, len(authored))
	for _, q := range authored {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("lecture %s question %s: %w", lecture.ID, q.ID, err)
		}
		questions = append(questions, models.QuestionStateFromAuthored(q))
	}
	return &MasterSet{
		lectureID:   lecture.ID,
		lectureName: lecture.Name,
		subjectID:   lecture.SubjectID,
		subjectName: lecture.SubjectName,
		questions:   questions,
	}, nil
}

// LectureID returns the lecture this master set belongs to.
func (m *MasterSet) LectureID() string { return m.lectureID }

// Len returns the number of questions in the set.
func (m *MasterSet) Len() int { return len(m.questions) }

// Metadata returns the base session metadata for this lecture.
func (m *MasterSet) Metadata() models.SessionMetadata {
	return models.SessionMetadata{
		LectureID:   m.lectureID,
		LectureName: m.lectureName,
		SubjectID:   m.subjectID,
		SubjectName: m.subjectName,
	}
}

// Clone hands out an independent deep copy of the question set in authored
// order. Callers may mutate the copy freely.
func (m *MasterSet) Clone() []models.QuestionState {
	return models.CloneQuestionStates(m.questions)
}
