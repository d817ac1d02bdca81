package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		fakeFetcher: fakeFetcher{tree: sampleTree()},
		entered:     make(chan string, 4),
		release:     make(chan struct{}),
	}
}

func TestPredictiveNavigateReusesInFlightFetch(t *testing.T) {
	fetcher := newBlockingFetcher()
	lectures := newLectureRepo(t)
	publisher := events.NewMockEventPublisher()
	p := NewPredictive(fetcher, lectures, time.Hour, publisher, discardLogger())

	p.OnPointerDown(context.Background(), "lec-1")
	require.Equal(t, "lec-1", <-fetcher.entered, "touch should start the fetch")

	navErr := make(chan error, 1)
	go func() { navErr <- p.OnNavigate(context.Background(), "lec-1") }()

	close(fetcher.release)
	require.NoError(t, <-navErr)

	assert.Equal(t, 1, fetcher.batchCalls(), "navigation must join the racing fetch, not repeat it")
	stored, err := lectures.Get(context.Background(), "lec-1")
	require.NoError(t, err)
	assert.Equal(t, models.SourcePredictivePrefetch, stored.Source)

	completed := publisher.EventsOfType(events.PrefetchCompleted)
	require.Len(t, completed, 1)
	data, ok := completed[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "predictive", data["mode"])
}

func TestPredictiveNavigationElsewhereCancelsPrediction(t *testing.T) {
	fetcher := newBlockingFetcher()
	lectures := newLectureRepo(t)
	p := NewPredictive(fetcher, lectures, time.Hour, events.NewMockEventPublisher(), discardLogger())

	p.OnPointerDown(context.Background(), "lec-1")
	require.Equal(t, "lec-1", <-fetcher.entered)

	navErr := make(chan error, 1)
	go func() { navErr <- p.OnNavigate(context.Background(), "lec-2") }()
	require.Equal(t, "lec-2", <-fetcher.entered, "navigation should fetch its own target")

	close(fetcher.release)
	require.NoError(t, <-navErr)

	fetcher.mu.Lock()
	errs := append([]error(nil), fetcher.ctxErrs...)
	fetcher.mu.Unlock()
	assert.Contains(t, errs, context.Canceled, "abandoned prediction should be cancelled")

	stored, err := lectures.Get(context.Background(), "lec-2")
	require.NoError(t, err)
	assert.Equal(t, models.SourceDirect, stored.Source)
	_, err = lectures.Get(context.Background(), "lec-1")
	assert.True(t, repositories.IsNotFound(err))
}

func TestPredictivePointerDownSkipsFreshLecture(t *testing.T) {
	fetcher := &fakeFetcher{tree: sampleTree()}
	lectures := newLectureRepo(t)
	fresh := makeLectures("lec-9")[0]
	fresh.Source = models.SourceDirect
	require.NoError(t, lectures.Put(context.Background(), &fresh))

	p := NewPredictive(fetcher, lectures, time.Hour, events.NewMockEventPublisher(), discardLogger())
	p.OnPointerDown(context.Background(), "lec-9")
	require.NoError(t, p.OnNavigate(context.Background(), "lec-9"))

	assert.Zero(t, fetcher.batchCalls(), "fresh lecture should not be refetched")
}

func TestPredictiveFailedPredictionFallsBackToDirectFetch(t *testing.T) {
	fetcher := &fakeFetcher{tree: sampleTree(), failNext: 1, batchErr: errors.New("connection reset")}
	lectures := newLectureRepo(t)
	p := NewPredictive(fetcher, lectures, time.Hour, events.NewMockEventPublisher(), discardLogger())

	p.OnPointerDown(context.Background(), "lec-1")
	require.NoError(t, p.OnNavigate(context.Background(), "lec-1"))

	assert.Equal(t, 2, fetcher.batchCalls(), "navigation retries after the prediction failed")
	stored, err := lectures.Get(context.Background(), "lec-1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceDirect, stored.Source)
}

func TestPredictiveRepeatedTouchIsSingleFlight(t *testing.T) {
	fetcher := newBlockingFetcher()
	lectures := newLectureRepo(t)
	p := NewPredictive(fetcher, lectures, time.Hour, events.NewMockEventPublisher(), discardLogger())

	p.OnPointerDown(context.Background(), "lec-1")
	require.Equal(t, "lec-1", <-fetcher.entered)
	p.OnPointerDown(context.Background(), "lec-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.OnNavigate(context.Background(), "lec-1")
	}()
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, 1, fetcher.batchCalls(), "a second touch on the same target must not start a second fetch")
}
