package models

import "time"

// ResultRecord is a completed session's outcome. Synced reports whether the
// result has reached the backend, either directly or through the sync queue.
type ResultRecord struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	LectureID   string  `json:"lecture_id" gorm:"not null;size:64;index:idx_results_lecture_date,priority:1"`
	LectureName string  `json:"lecture_name" gorm:"size:255"`
	Score       int     `json:"score"`
	Total       int     `json:"total"`
	Percentage  float64 `json:"percentage"`

	TimeSpentSeconds int       `json:"time_spent_seconds"`
	Date             time.Time `json:"date" gorm:"not null;index:idx_results_lecture_date,priority:2"`
	Synced           bool      `json:"synced" gorm:"not null;default:false"`
}

func (ResultRecord) TableName() string { return "quiz_results" }

// Percent computes the rounded percentage for a score out of total.
// A zero total yields 0 rather than dividing by zero.
func Percent(score, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(score) / float64(total) * 100
}
