package contentapi

import (
	"fmt"
	"time"

	"github.com/harvi-app/study-engine/internal/models"
)

// Hierarchy is the content tree as served by the backend read endpoint.
type Hierarchy struct {
	Years []YearNode `json:"years" validate:"dive"`
}

// YearNode is a study year grouping modules.
type YearNode struct {
	ID      string       `json:"id" validate:"required,lecture_id"`
	Name    string       `json:"name" validate:"required"`
	Modules []ModuleNode `json:"modules" validate:"dive"`
}

// ModuleNode is a module grouping subjects.
type ModuleNode struct {
	ID       string        `json:"id" validate:"required,lecture_id"`
	Name     string        `json:"name" validate:"required"`
	Subjects []SubjectNode `json:"subjects" validate:"dive"`
}

// SubjectNode is a subject grouping lectures.
type SubjectNode struct {
	ID       string       `json:"id" validate:"required,lecture_id"`
	Name     string       `json:"name" validate:"required"`
	Lectures []LectureRef `json:"lectures" validate:"dive"`
}

// LectureRef identifies a lecture in the tree without its content.
type LectureRef struct {
	ID            string `json:"id" validate:"required,lecture_id"`
	Name          string `json:"name" validate:"required"`
	QuestionCount int    `json:"question_count"`
}

// LectureIDs flattens the tree into every lecture id it contains.
func (h *Hierarchy) LectureIDs() []string {
	var ids []string
	for _, y := range h.Years {
		for _, m := range y.Modules {
			for _, s := range m.Subjects {
				for _, l := range s.Lectures {
					ids = append(ids, l.ID)
				}
			}
		}
	}
	return ids
}

// LecturesUnder returns the lecture refs beneath one tree node. Level is
// "year", "module" or "subject"; an unknown level or id yields nil.
func (h *Hierarchy) LecturesUnder(level, id string) []LectureRef {
	var out []LectureRef
	collect := func(s SubjectNode) { out = append(out, s.Lectures...) }
	for _, y := range h.Years {
		for _, m := range y.Modules {
			for _, s := range m.Subjects {
				switch level {
				case "year":
					if y.ID == id {
						collect(s)
					}
				case "module":
					if m.ID == id {
						collect(s)
					}
				case "subject":
					if s.ID == id {
						collect(s)
					}
				}
			}
		}
	}
	return out
}

// LecturePayload is one lecture's content on the wire.
type LecturePayload struct {
	ID          string            `json:"id" validate:"required,lecture_id"`
	Name        string            `json:"name" validate:"required"`
	SubjectID   string            `json:"subject_id" validate:"omitempty,lecture_id"`
	SubjectName string            `json:"subject_name"`
	Questions   []QuestionPayload `json:"questions" validate:"required,min=1,dive"`
}

// QuestionPayload is one question on the wire. CorrectAnswer is a pointer
// because the backend excludes it for untrusted contexts; such questions
// cannot be graded locally and are dropped during ingest.
type QuestionPayload struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt" validate:"required"`
	Options       []string `json:"options" validate:"required,option_count,dive,required"`
	CorrectAnswer *int     `json:"correct_answer"`
	Explanation   *string  `json:"explanation"`
}

// authored converts a wire question into the stored authoring shape.
func (qp QuestionPayload) authored() (models.AuthoredQuestion, error) {
	if qp.CorrectAnswer == nil {
		return models.AuthoredQuestion{}, fmt.Errorf("question %q: grading data excluded from payload", qp.ID)
	}
	q := models.AuthoredQuestion{
		ID:            qp.ID,
		Prompt:        qp.Prompt,
		Options:       qp.Options,
		CorrectAnswer: *qp.CorrectAnswer,
		Explanation:   qp.Explanation,
	}
	if err := q.Validate(); err != nil {
		return models.AuthoredQuestion{}, fmt.Errorf("question %q: %w", qp.ID, err)
	}
	return q, nil
}

// ResultSubmission is one graded attempt in the write-endpoint batch.
type ResultSubmission struct {
	LectureID        string    `json:"lecture_id" validate:"required,lecture_id"`
	Score            int       `json:"score" validate:"min=0"`
	Total            int       `json:"total" validate:"required,min=1"`
	Percentage       float64   `json:"percentage" validate:"min=0,max=100"`
	TimeSpentSeconds int       `json:"time_spent_seconds" validate:"min=0"`
	CompletedAt      time.Time `json:"completed_at" validate:"required"`
}

// SubmissionFromResult builds the wire shape from a stored result.
func SubmissionFromResult(r models.ResultRecord) ResultSubmission {
	return ResultSubmission{
		LectureID:        r.LectureID,
		Score:            r.Score,
		Total:            r.Total,
		Percentage:       r.Percentage,
		TimeSpentSeconds: r.TimeSpentSeconds,
		CompletedAt:      r.Date,
	}
}

// SubmitAck is the backend's per-submission acknowledgement.
type SubmitAck struct {
	LectureID string `json:"lecture_id"`
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message,omitempty"`
}

type batchLecturesRequest struct {
	IDs []string `json:"ids"`
}

type batchLecturesResponse struct {
	Lectures []LecturePayload `json:"lectures"`
}

type submitResultsRequest struct {
	Results []ResultSubmission `json:"results"`
}

type submitResultsResponse struct {
	Results []SubmitAck `json:"results"`
}
