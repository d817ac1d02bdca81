package validator

// Request DTOs for the loopback API. Handlers bind these with gin and run
// them through the Validator before touching any service.

// StartSessionRequest begins a quiz for a lecture. Resume restores the
// stored attempt instead of dealing a fresh shuffle.
type StartSessionRequest struct {
	LectureID string `json:"lecture_id" validate:"required,lecture_id"`
	Resume    bool   `json:"resume"`
}

// AnswerRequest selects an option on the current question.
type AnswerRequest struct {
	LectureID   string `json:"lecture_id" validate:"required,lecture_id"`
	OptionIndex int    `json:"option_index" validate:"min=0,max=7"`
}

// AdvanceRequest moves past an answered question.
type AdvanceRequest struct {
	LectureID string `json:"lecture_id" validate:"required,lecture_id"`
}

// CompleteRequest finalizes a finished quiz.
type CompleteRequest struct {
	LectureID string `json:"lecture_id" validate:"required,lecture_id"`
}

// RetakeRequest restarts a quiz from its pristine authored set.
type RetakeRequest struct {
	LectureID string `json:"lecture_id" validate:"required,lecture_id"`
}

// NavigateRequest reports a committed navigation so the next hierarchy
// level can be fetched ahead of use.
type NavigateRequest struct {
	Level string `json:"level" validate:"required,oneof=year module subject"`
	ID    string `json:"id" validate:"required,lecture_id"`
}

// TouchRequest reports first physical contact with a lecture tile,
// before the navigation commits.
type TouchRequest struct {
	Target string `json:"target" validate:"required,lecture_id"`
}

// LectureURI names a lecture in a request path.
type LectureURI struct {
	LectureID string `uri:"lecture_id" validate:"required,lecture_id"`
}

// ResultsQuery filters the results history listing and export.
type ResultsQuery struct {
	LectureID string `form:"lecture_id" validate:"omitempty,lecture_id"`
	From      string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" validate:"omitempty,min=0"`
}
