package services

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/prefetch"
	"github.com/harvi-app/study-engine/internal/syncqueue"
	"github.com/harvi-app/study-engine/internal/validator"
	"github.com/harvi-app/study-engine/internal/worker"
)

// stubDoer plays the content backend over the governed-transport seam. The
// probe still dials the configured base URL, so an unroutable one keeps the
// stack offline while reads and writes keep working through the stub.
type stubDoer struct {
	mu        sync.Mutex
	hierarchy []byte
	lectures  []byte
	submits   int
}

func (d *stubDoer) Do(_ context.Context, req governor.Request) (*governor.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch req.Endpoint {
	case contentapi.EndpointHierarchy:
		return &governor.Response{Status: 200, Body: d.hierarchy}, nil
	case contentapi.EndpointLectures:
		return &governor.Response{Status: 200, Body: d.lectures}, nil
	case contentapi.EndpointSubmit:
		d.submits++
		var body struct {
			Results []contentapi.ResultSubmission `json:"results"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return &governor.Response{Status: 400}, nil
		}
		var acks struct {
			Results []contentapi.SubmitAck `json:"results"`
		}
		for _, r := range body.Results {
			acks.Results = append(acks.Results, contentapi.SubmitAck{LectureID: r.LectureID, Accepted: true})
		}
		payload, err := json.Marshal(acks)
		if err != nil {
			return &governor.Response{Status: 500}, nil
		}
		return &governor.Response{Status: 200, Body: payload}, nil
	}
	return &governor.Response{Status: 404}, nil
}

func (d *stubDoer) submitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func backendFixture(t *testing.T) *stubDoer {
	t.Helper()
	hierarchy, err := json.Marshal(contentapi.Hierarchy{
		Years: []contentapi.YearNode{{
			ID: "y1", Name: "Year 1",
			Modules: []contentapi.ModuleNode{{
				ID: "m1", Name: "Anatomy",
				Subjects: []contentapi.SubjectNode{{
					ID: "s1", Name: "Upper Limb",
					Lectures: []contentapi.LectureRef{{ID: "lec-1", Name: "Shoulder", QuestionCount: 2}},
				}},
			}},
		}},
	})
	require.NoError(t, err)

	correct := 0
	lectures, err := json.Marshal(struct {
		Lectures []contentapi.LecturePayload `json:"lectures"`
	}{
		Lectures: []contentapi.LecturePayload{{
			ID: "lec-1", Name: "Shoulder", SubjectID: "s1", SubjectName: "Upper Limb",
			Questions: []contentapi.QuestionPayload{
				{ID: "q1", Prompt: "First?", Options: []string{"right", "wrong", "worse"}, CorrectAnswer: &correct},
				{ID: "q2", Prompt: "Second?", Options: []string{"right", "wrong"}, CorrectAnswer: &correct},
			},
		}},
	})
	require.NoError(t, err)

	return &stubDoer{hierarchy: hierarchy, lectures: lectures}
}

func managerDeps(t *testing.T, doer *stubDoer) Deps {
	t.Helper()
	logger := discardLogger()
	manager := newRepoManager(t)
	repo := manager.GetRepository()
	publisher := events.NewMockEventPublisher()
	v := validator.New()

	// Port 1 refuses connections, which keeps the connectivity probe
	// reporting offline without waiting on a timeout.
	client := contentapi.New(config.BackendConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	}, doer, v, logger)

	queue := syncqueue.NewQueue(repo.SyncItems(), "test-signing-key", publisher, logger)
	prefetchCfg := config.PrefetchConfig{ChunkSize: 2, ChunkDelay: 5 * time.Millisecond, Staleness: time.Hour}

	return Deps{
		Repo:         manager,
		Queue:        queue,
		Replayer:     syncqueue.NewReplayer(queue, client, repo.Result(), v, publisher, logger, 10),
		Client:       client,
		Dispatcher:   worker.NewDispatcher(config.WorkerConfig{QueueSize: 16, CallTimeout: 2 * time.Second}, logger),
		Hierarchical: prefetch.NewHierarchical(client, repo.Lecture(), prefetchCfg, publisher, logger),
		Predictive:   prefetch.NewPredictive(client, repo.Lecture(), prefetchCfg.Staleness, publisher, logger),
		Publisher:    publisher,
		Logger:       logger,
	}
}

func TestServiceManager_Lifecycle(t *testing.T) {
	sm := NewServiceManager(managerDeps(t, backendFixture(t)))
	ctx := context.Background()

	assert.Panics(t, func() { sm.Session() })
	assert.Error(t, sm.HealthCheck(ctx))

	require.NoError(t, sm.Initialize(ctx))
	require.NoError(t, sm.Initialize(ctx), "second initialize is a no-op")

	assert.NotNil(t, sm.Session())
	assert.NotNil(t, sm.Content())
	assert.NotNil(t, sm.Results())
	assert.NotNil(t, sm.Sync())
	assert.NoError(t, sm.HealthCheck(ctx))

	require.NoError(t, sm.Shutdown(ctx))
	assert.Error(t, sm.HealthCheck(ctx))
	assert.NoError(t, sm.Shutdown(ctx), "second shutdown is a no-op")
}

func TestServiceManager_RequiresDependencies(t *testing.T) {
	cases := []struct {
		name  string
		strip func(*Deps)
	}{
		{"repository manager", func(d *Deps) { d.Repo = nil }},
		{"sync queue", func(d *Deps) { d.Queue = nil }},
		{"worker dispatcher", func(d *Deps) { d.Dispatcher = nil }},
		{"predictive prefetcher", func(d *Deps) { d.Predictive = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := managerDeps(t, backendFixture(t))
			tc.strip(&deps)
			err := NewServiceManager(deps).Initialize(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.name)
		})
	}
}

func TestServiceManager_OfflineQuizSyncsOnReplay(t *testing.T) {
	doer := backendFixture(t)
	deps := managerDeps(t, doer)
	sm := NewServiceManager(deps)
	ctx := context.Background()
	require.NoError(t, sm.Initialize(ctx))
	t.Cleanup(func() { _ = sm.Shutdown(ctx) })

	repo := deps.Repo.GetRepository()

	// The hierarchy arrives through the stub backend.
	tree, err := sm.Content().Hierarchy(ctx)
	require.NoError(t, err)
	require.Len(t, tree.Years, 1)

	// Navigating into the subject warms the lecture cache in the background.
	require.NoError(t, sm.Content().Navigate(ctx, NavigateRequest{Level: "subject", ID: "s1"}))
	require.Eventually(t, func() bool {
		n, err := repo.Lecture().Count(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond, "prefetch never stored the lecture")

	// Play the whole quiz. The backend probe fails, so completion queues
	// the result instead of submitting it.
	snap, err := sm.Session().Start(ctx, StartSessionRequest{LectureID: "lec-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
	playThrough(t, sm.Session(), snap)

	record, err := sm.Session().Complete(ctx, CompleteRequest{LectureID: "lec-1"})
	require.NoError(t, err)
	assert.False(t, record.Synced)
	assert.Zero(t, doer.submitCount())

	status, err := sm.Sync().Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Online)
	assert.EqualValues(t, 1, status.Pending)

	// A manual replay drains the queue through the stub backend.
	report, err := sm.Sync().ReplayNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, doer.submitCount())

	status, err = sm.Sync().Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)

	// History, aggregates and the export all see the synced attempt.
	listed, err := sm.Results().List(ctx, ResultsQuery{LectureID: "lec-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Synced)

	summary, err := sm.Results().Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Overview.TotalAttempts)
	require.Len(t, summary.Lectures, 1)
	assert.Equal(t, "lec-1", summary.Lectures[0].LectureID)

	workbook, err := sm.Results().Export(ctx, ResultsQuery{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(workbook, []byte("PK")), "xlsx payloads are zip archives")
}

func TestServiceManager_LectureStatsThroughWorker(t *testing.T) {
	deps := managerDeps(t, backendFixture(t))
	sm := NewServiceManager(deps)
	ctx := context.Background()
	require.NoError(t, sm.Initialize(ctx))
	t.Cleanup(func() { _ = sm.Shutdown(ctx) })

	repo := deps.Repo.GetRepository()
	require.NoError(t, repo.Result().Put(ctx, &models.ResultRecord{
		LectureID: "lec-9", LectureName: "Wrist", Score: 4, Total: 5,
		Percentage: 80, TimeSpentSeconds: 120, Date: time.Now(),
	}))

	stats, err := sm.Results().Lecture(ctx, "lec-9")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Attempts)
	assert.InDelta(t, 80.0, stats.BestPercentage, 0.01)

	// A lecture with no attempts aggregates to zeros, not an error.
	unplayed, err := sm.Results().Lecture(ctx, "never-played")
	require.NoError(t, err)
	assert.Zero(t, unplayed.Attempts)
}
