package stats

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/cache"
	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/repositories/sqlite"
	"github.com/harvi-app/study-engine/internal/store"
	"github.com/harvi-app/study-engine/internal/worker"
)

var statsNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newResultsRepo(t *testing.T) repositories.ResultRepository {
	t.Helper()

	cfg := config.StoreConfig{
		DataDir:         t.TempDir(),
		DatabaseFile:    "stats_test.db",
		BusyTimeout:     2 * time.Second,
		MaxInitAttempts: 3,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := sqlite.NewRepositoryManager(store.New(cfg, logger), cache.NewManager(), logger)
	require.NoError(t, manager.Initialize(context.Background()))
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })
	return manager.GetRepository().Result()
}

func putResult(t *testing.T, repo repositories.ResultRepository, lectureID string, percentage float64, seconds int, daysAgo int) {
	t.Helper()
	score := int(percentage / 10)
	record := &models.ResultRecord{
		LectureID:        lectureID,
		LectureName:      "Lecture " + lectureID,
		Score:            score,
		Total:            10,
		Percentage:       percentage,
		TimeSpentSeconds: seconds,
		Date:             statsNow.AddDate(0, 0, -daysAgo),
	}
	require.NoError(t, repo.Put(context.Background(), record))
}

func newTestService(t *testing.T, repo repositories.ResultRepository, caller Caller) *Service {
	t.Helper()
	s := NewService(repo, caller, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.clock = func() time.Time { return statsNow }
	return s
}

func TestSummaryAggregatesPerLecture(t *testing.T) {
	repo := newResultsRepo(t)
	putResult(t, repo, "lec-a", 50, 100, 2)
	putResult(t, repo, "lec-a", 80, 120, 1)
	putResult(t, repo, "lec-a", 60, 80, 0)
	putResult(t, repo, "lec-b", 90, 200, 5)

	summary, err := newTestService(t, repo, nil).Summary(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Lectures, 2)
	// Most recently played first.
	a, b := summary.Lectures[0], summary.Lectures[1]
	assert.Equal(t, "lec-a", a.LectureID)
	assert.Equal(t, 3, a.Attempts)
	assert.InDelta(t, 80.0, a.BestPercentage, 0.001)
	assert.InDelta(t, 63.3, a.AveragePercentage, 0.001)
	assert.Equal(t, 300, a.TotalTimeSeconds)

	assert.Equal(t, "lec-b", b.LectureID)
	assert.Equal(t, 1, b.Attempts)
	assert.InDelta(t, 90.0, b.BestPercentage, 0.001)

	assert.Equal(t, 4, summary.Overview.TotalAttempts)
	assert.Equal(t, 2, summary.Overview.LecturesPlayed)
	assert.InDelta(t, 90.0, summary.Overview.BestPercentage, 0.001)
	assert.InDelta(t, 70.0, summary.Overview.AveragePercentage, 0.001)
	assert.Equal(t, 500, summary.Overview.TotalTimeSeconds)
}

func TestSummaryOnEmptyStore(t *testing.T) {
	summary, err := newTestService(t, newResultsRepo(t), nil).Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Overview.TotalAttempts)
	assert.Empty(t, summary.Lectures)
	assert.Zero(t, summary.Overview.CurrentStreakDays)
}

func TestStreakComputation(t *testing.T) {
	repo := newResultsRepo(t)
	// Three-day run ending today.
	putResult(t, repo, "lec-a", 50, 60, 0)
	putResult(t, repo, "lec-a", 50, 60, 1)
	putResult(t, repo, "lec-b", 50, 60, 2)
	// Older five-day run: 10..14 days ago.
	for d := 10; d <= 14; d++ {
		putResult(t, repo, "lec-a", 50, 60, d)
	}

	summary, err := newTestService(t, repo, nil).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Overview.CurrentStreakDays)
	assert.Equal(t, 5, summary.Overview.LongestStreakDays)
}

func TestStreakSurvivesMissingToday(t *testing.T) {
	repo := newResultsRepo(t)
	putResult(t, repo, "lec-a", 50, 60, 1)
	putResult(t, repo, "lec-a", 50, 60, 2)

	summary, err := newTestService(t, repo, nil).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Overview.CurrentStreakDays,
		"a streak ending yesterday still counts until today is over")
}

func TestLectureStatsFallsBackToZeroValues(t *testing.T) {
	repo := newResultsRepo(t)
	putResult(t, repo, "lec-a", 50, 60, 0)

	service := newTestService(t, repo, nil)
	known, err := service.Lecture(context.Background(), "lec-a")
	require.NoError(t, err)
	assert.Equal(t, 1, known.Attempts)

	unknown, err := service.Lecture(context.Background(), "lec-never-played")
	require.NoError(t, err)
	assert.Equal(t, "lec-never-played", unknown.LectureID)
	assert.Zero(t, unknown.Attempts)
}

func TestSummaryRunsThroughWorker(t *testing.T) {
	repo := newResultsRepo(t)
	putResult(t, repo, "lec-a", 50, 60, 0)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := worker.NewDispatcher(config.WorkerConfig{QueueSize: 4, CallTimeout: 2 * time.Second}, logger)
	service := newTestService(t, repo, dispatcher)
	dispatcher.Register(TaskCompute, service.Handler())
	dispatcher.Start()
	defer dispatcher.Stop()

	summary, err := service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Overview.TotalAttempts)
}

func TestSummaryWorksWithStoppedWorker(t *testing.T) {
	repo := newResultsRepo(t)
	putResult(t, repo, "lec-a", 50, 60, 0)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := worker.NewDispatcher(config.WorkerConfig{QueueSize: 4, CallTimeout: 2 * time.Second}, logger)
	service := newTestService(t, repo, dispatcher)
	dispatcher.Register(TaskCompute, service.Handler())
	// Never started: the dispatcher degrades to synchronous execution.

	summary, err := service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Overview.TotalAttempts)
}
