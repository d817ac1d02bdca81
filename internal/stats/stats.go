package stats

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/harvi-app/study-engine/internal/repositories"
)

// TaskCompute is the worker task kind for aggregate computation.
const TaskCompute = "stats.compute"

const dayFormat = "2006-01-02"

// ===== RESPONSE DTOs =====

// LectureStats aggregates every attempt of one lecture.
type LectureStats struct {
	LectureID         string    `json:"lecture_id"`
	LectureName       string    `json:"lecture_name"`
	Attempts          int       `json:"attempts"`
	BestPercentage    float64   `json:"best_percentage"`
	AveragePercentage float64   `json:"average_percentage"`
	TotalTimeSeconds  int       `json:"total_time_seconds"`
	LastAttempt       time.Time `json:"last_attempt"`
}

// Overview aggregates across every lecture.
type Overview struct {
	TotalAttempts     int     `json:"total_attempts"`
	LecturesPlayed    int     `json:"lectures_played"`
	AveragePercentage float64 `json:"average_percentage"`
	BestPercentage    float64 `json:"best_percentage"`
	TotalTimeSeconds  int     `json:"total_time_seconds"`
	// CurrentStreakDays counts consecutive study days ending today, or
	// yesterday when today has no attempt yet.
	CurrentStreakDays int `json:"current_streak_days"`
	LongestStreakDays int `json:"longest_streak_days"`
}

// Summary is the full statistics payload served to the UI.
type Summary struct {
	Overview Overview       `json:"overview"`
	Lectures []LectureStats `json:"lectures"`
}

// Caller runs a task on the worker and waits for its answer.
type Caller interface {
	Submit(ctx context.Context, kind string, payload any) (any, error)
}

// Service computes result aggregates. The actual computation runs inside a
// worker task so the interactive path only waits, never scans; with no
// worker wired it computes inline.
type Service struct {
	results repositories.ResultRepository
	caller  Caller
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService builds the statistics service. caller may be nil.
func NewService(results repositories.ResultRepository, caller Caller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		results: results,
		caller:  caller,
		logger:  logger.With("component", "stats"),
		clock:   time.Now,
	}
}

// Handler returns the worker handler behind TaskCompute. The payload is
// ignored; the task always recomputes the full summary.
func (s *Service) Handler() func(ctx context.Context, payload any) (any, error) {
	return func(ctx context.Context, _ any) (any, error) {
		return s.compute(ctx)
	}
}

// Summary returns the aggregate view over all stored results.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	if s.caller != nil {
		value, err := s.caller.Submit(ctx, TaskCompute, nil)
		if err != nil {
			return nil, err
		}
		if summary, ok := value.(*Summary); ok {
			return summary, nil
		}
		s.logger.Warn("stats task returned unexpected payload, recomputing inline")
	}
	return s.compute(ctx)
}

// Lecture returns one lecture's aggregates. A lecture with no attempts gets
// zero-valued stats rather than an error.
func (s *Service) Lecture(ctx context.Context, lectureID string) (*LectureStats, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}
	for i := range summary.Lectures {
		if summary.Lectures[i].LectureID == lectureID {
			return &summary.Lectures[i], nil
		}
	}
	return &LectureStats{LectureID: lectureID}, nil
}

func (s *Service) compute(ctx context.Context) (*Summary, error) {
	records, err := s.results.List(ctx, repositories.ResultFilters{})
	if err != nil {
		return nil, err
	}

	perLecture := make(map[string]*LectureStats)
	sums := make(map[string]float64)
	days := make(map[string]bool)

	overview := Overview{}
	var overallSum float64
	for _, r := range records {
		overview.TotalAttempts++
		overview.TotalTimeSeconds += r.TimeSpentSeconds
		overallSum += r.Percentage
		if r.Percentage > overview.BestPercentage {
			overview.BestPercentage = r.Percentage
		}
		days[r.Date.UTC().Format(dayFormat)] = true

		entry, ok := perLecture[r.LectureID]
		if !ok {
			entry = &LectureStats{LectureID: r.LectureID}
			perLecture[r.LectureID] = entry
		}
		entry.Attempts++
		entry.TotalTimeSeconds += r.TimeSpentSeconds
		sums[r.LectureID] += r.Percentage
		if r.Percentage > entry.BestPercentage {
			entry.BestPercentage = r.Percentage
		}
		if !r.Date.Before(entry.LastAttempt) {
			entry.LastAttempt = r.Date
			entry.LectureName = r.LectureName
		}
	}

	lectures := make([]LectureStats, 0, len(perLecture))
	for id, entry := range perLecture {
		entry.AveragePercentage = roundFloat(sums[id]/float64(entry.Attempts), 1)
		entry.BestPercentage = roundFloat(entry.BestPercentage, 1)
		lectures = append(lectures, *entry)
	}
	sort.Slice(lectures, func(i, j int) bool {
		return lectures[i].LastAttempt.After(lectures[j].LastAttempt)
	})

	overview.LecturesPlayed = len(perLecture)
	if overview.TotalAttempts > 0 {
		overview.AveragePercentage = roundFloat(overallSum/float64(overview.TotalAttempts), 1)
	}
	overview.BestPercentage = roundFloat(overview.BestPercentage, 1)
	overview.CurrentStreakDays, overview.LongestStreakDays = streaks(days, s.clock())

	return &Summary{Overview: overview, Lectures: lectures}, nil
}

// streaks derives the current and longest run of consecutive study days.
func streaks(days map[string]bool, today time.Time) (current, longest int) {
	if len(days) == 0 {
		return 0, 0
	}

	cursor := today.UTC().Truncate(24 * time.Hour)
	if !days[cursor.Format(dayFormat)] {
		// Today has no attempt yet; a streak ending yesterday still counts.
		cursor = cursor.AddDate(0, 0, -1)
	}
	for days[cursor.Format(dayFormat)] {
		current++
		cursor = cursor.AddDate(0, 0, -1)
	}

	sorted := make([]string, 0, len(days))
	for day := range days {
		sorted = append(sorted, day)
	}
	sort.Strings(sorted)

	run := 0
	var prev time.Time
	for i, day := range sorted {
		t, err := time.Parse(dayFormat, day)
		if err != nil {
			continue
		}
		if i > 0 && t.Sub(prev) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = t
	}
	return current, longest
}

func roundFloat(val float64, precision int) float64 {
	ratio := 1.0
	for i := 0; i < precision; i++ {
		ratio *= 10
	}
	return float64(int(val*ratio+0.5)) / ratio
}
