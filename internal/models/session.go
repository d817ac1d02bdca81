package models

import "time"

// SessionState is the lifecycle state of a quiz session.
type SessionState string

const (
	// SessionIdle means no session has been started.
	SessionIdle SessionState = "idle"
	// SessionUnanswered means the current question awaits an answer.
	SessionUnanswered SessionState = "unanswered"
	// SessionAnswered means the current question is locked and the session
	// waits for an advance.
	SessionAnswered SessionState = "answered"
	// SessionCompleted means the final question was advanced past.
	SessionCompleted SessionState = "completed"
)

// SessionMetadata travels with a session and its progress snapshots.
type SessionMetadata struct {
	LectureID   string `json:"lecture_id"`
	LectureName string `json:"lecture_name"`
	SubjectID   string `json:"subject_id,omitempty"`
	SubjectName string `json:"subject_name,omitempty"`
	// Resumed marks sessions restored from a progress snapshot.
	Resumed bool `json:"resumed"`
}

// QuizSession is the in-memory state of one attempt. It is owned by a single
// engine and never persisted as-is; snapshots go through ProgressRecord.
type QuizSession struct {
	Questions    []QuestionState `json:"questions"`
	CurrentIndex int             `json:"current_index"`
	Score        int             `json:"score"`
	Metadata     SessionMetadata `json:"metadata"`
	StartTime    time.Time       `json:"start_time"`
	State        SessionState    `json:"state"`
}

// Current returns the question at the session cursor, or false when the
// cursor is past the end.
func (s *QuizSession) Current() (QuestionState, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return QuestionState{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// Remaining reports how many questions are left including the current one.
func (s *QuizSession) Remaining() int {
	if s.CurrentIndex >= len(s.Questions) {
		return 0
	}
	return len(s.Questions) - s.CurrentIndex
}
