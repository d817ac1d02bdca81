package syncqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/store"
	"github.com/harvi-app/study-engine/internal/validator"
)

type fakeSubmitter struct {
	calls   int
	batches [][]contentapi.ResultSubmission
	err     error
	reject  map[string]bool
}

func (f *fakeSubmitter) SubmitResults(_ context.Context, batch []contentapi.ResultSubmission) ([]contentapi.SubmitAck, error) {
	f.calls++
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return nil, f.err
	}
	acks := make([]contentapi.SubmitAck, len(batch))
	for i, sub := range batch {
		acks[i] = contentapi.SubmitAck{
			LectureID: sub.LectureID,
			Accepted:  !f.reject[sub.LectureID],
		}
	}
	return acks, nil
}

func newTestReplayer(t *testing.T, submitter *fakeSubmitter, batchLimit int) (*Replayer, *Queue, repositories.Repository, *store.Store, *events.MockEventPublisher) {
	t.Helper()
	queue, repo, st, publisher := newTestQueue(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	replayer := NewReplayer(queue, submitter, repo.Result(), validator.New(), publisher, logger, batchLimit)
	return replayer, queue, repo, st, publisher
}

// storeResult persists a local record the way the session engine does when
// offline, then enqueues the matching submission.
func storeResult(t *testing.T, queue *Queue, repo repositories.Repository, lectureID string) *models.ResultRecord {
	t.Helper()
	ctx := context.Background()

	record := &models.ResultRecord{
		LectureID:  lectureID,
		Score:      3,
		Total:      5,
		Percentage: 60,
		Date:       time.Now().UTC(),
	}
	require.NoError(t, repo.Result().Put(ctx, record))

	_, err := queue.Enqueue(ctx, models.SyncActionSubmitResult, sampleResultPayload(record.ID, lectureID))
	require.NoError(t, err)
	return record
}

func TestReplayOnceDrainsQueue(t *testing.T) {
	submitter := &fakeSubmitter{}
	replayer, queue, repo, _, publisher := newTestReplayer(t, submitter, 0)
	ctx := context.Background()

	first := storeResult(t, queue, repo, "lec-1")
	storeResult(t, queue, repo, "lec-2")

	report, err := replayer.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 2, report.Replayed)
	assert.Equal(t, 1, submitter.calls, "one batched submission per pass")
	require.Len(t, submitter.batches[0], 2)
	assert.Equal(t, "lec-1", submitter.batches[0][0].LectureID)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	// The local record is flagged as synced too.
	stored, err := repo.Result().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)

	assert.Len(t, publisher.EventsOfType(events.SyncReplayed), 2)
}

func TestReplaySkipsTamperedAndInvalidItems(t *testing.T) {
	submitter := &fakeSubmitter{}
	replayer, queue, repo, st, _ := newTestReplayer(t, submitter, 0)
	ctx := context.Background()

	storeResult(t, queue, repo, "lec-ok")
	victim, err := queue.Enqueue(ctx, models.SyncActionSubmitResult, sampleResultPayload(99, "lec-tampered"))
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, models.SyncActionSubmitResult, map[string]any{"result_id": 0})
	require.NoError(t, err)

	// Corrupt the second item's payload in place.
	db, err := st.Handle(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Exec(
		"UPDATE sync_queue SET payload = ? WHERE id = ?",
		`{"result_id":99,"lecture_id":"lec-tampered","score":5,"total":5,"percentage":100}`,
		victim.ID,
	).Error)

	report, err := replayer.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, report.Tampered)
	assert.Equal(t, 1, report.Invalid)

	require.Len(t, submitter.batches, 1)
	require.Len(t, submitter.batches[0], 1)
	assert.Equal(t, "lec-ok", submitter.batches[0][0].LectureID)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending, "tampered and invalid items stay queued")
}

func TestReplayDeferredBySyntheticResponse(t *testing.T) {
	submitter := &fakeSubmitter{err: contentapi.ErrUseCache}
	replayer, queue, repo, _, _ := newTestReplayer(t, submitter, 0)
	ctx := context.Background()

	storeResult(t, queue, repo, "lec-1")

	report, err := replayer.ReplayOnce(ctx)
	require.NoError(t, err, "a governed rejection is not an error")
	assert.True(t, report.Deferred)
	assert.Zero(t, report.Replayed)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestReplayStopsOnNetworkError(t *testing.T) {
	submitter := &fakeSubmitter{err: errors.New("connection refused")}
	replayer, queue, repo, _, _ := newTestReplayer(t, submitter, 0)
	ctx := context.Background()

	storeResult(t, queue, repo, "lec-1")

	_, err := replayer.ReplayOnce(ctx)
	require.Error(t, err)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestReplayRespectsBatchLimit(t *testing.T) {
	submitter := &fakeSubmitter{}
	replayer, queue, repo, _, _ := newTestReplayer(t, submitter, 2)
	ctx := context.Background()

	storeResult(t, queue, repo, "lec-1")
	storeResult(t, queue, repo, "lec-2")
	storeResult(t, queue, repo, "lec-3")

	report, err := replayer.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)

	report, err = replayer.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestReplayLeavesRejectedItemsQueued(t *testing.T) {
	submitter := &fakeSubmitter{reject: map[string]bool{"lec-bad": true}}
	replayer, queue, repo, _, _ := newTestReplayer(t, submitter, 0)
	ctx := context.Background()

	storeResult(t, queue, repo, "lec-good")
	storeResult(t, queue, repo, "lec-bad")

	report, err := replayer.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, report.Rejected)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}
