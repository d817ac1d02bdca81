package contentapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/validator"
)

type fakeDoer struct {
	calls    int
	lastReq  governor.Request
	response func(governor.Request) (*governor.Response, error)
}

func (f *fakeDoer) Do(_ context.Context, req governor.Request) (*governor.Response, error) {
	f.calls++
	f.lastReq = req
	return f.response(req)
}

func newTestClient(t *testing.T, doer *fakeDoer) *Client {
	t.Helper()
	cfg := config.BackendConfig{BaseURL: "https://backend.test"}
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return New(cfg, doer, validator.New(), logger)
}

func jsonResponse(status int, body string) (*governor.Response, error) {
	return &governor.Response{Status: status, Body: []byte(body)}, nil
}

func TestGetHierarchy(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{
			"years": [{
				"id": "y1", "name": "Year 1",
				"modules": [{
					"id": "m1", "name": "Anatomy",
					"subjects": [{
						"id": "s1", "name": "Upper Limb",
						"lectures": [
							{"id": "lec-1", "name": "Shoulder", "question_count": 12},
							{"id": "lec-2", "name": "Elbow", "question_count": 9}
						]
					}]
				}]
			}]
		}`)
	}}
	client := newTestClient(t, doer)

	h, err := client.GetHierarchy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, doer.lastReq.Method)
	assert.Equal(t, EndpointHierarchy, doer.lastReq.Endpoint)
	assert.Equal(t, "https://backend.test/api/v1/content/hierarchy", doer.lastReq.URL)

	require.Len(t, h.Years, 1)
	assert.Equal(t, "Anatomy", h.Years[0].Modules[0].Name)
	assert.Equal(t, []string{"lec-1", "lec-2"}, h.LectureIDs())
}

func TestGetHierarchySyntheticResponse(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return &governor.Response{
			Status:    http.StatusTooManyRequests,
			Synthetic: true,
			Reason:    governor.ReasonCooldown,
		}, nil
	}}
	client := newTestClient(t, doer)

	_, err := client.GetHierarchy(context.Background())
	require.ErrorIs(t, err, ErrUseCache)
}

func TestGetHierarchyRejectsMalformedTree(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{"years": [{"id": "", "name": "Year 1"}]}`)
	}}
	client := newTestClient(t, doer)

	_, err := client.GetHierarchy(context.Background())
	require.Error(t, err)
	assert.True(t, validator.IsValidation(err))
}

func TestGetLecturesBatch(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{"lectures": [{
			"id": "lec-1", "name": "Shoulder", "subject_id": "s1",
			"questions": [
				{"id": "q1", "prompt": "P1", "options": ["a", "b", "c"], "correct_answer": 2},
				{"id": "q2", "prompt": "P2", "options": ["x", "y"], "correct_answer": 0}
			]
		}]}`)
	}}
	client := newTestClient(t, doer)

	lectures, err := client.GetLecturesBatch(context.Background(), []string{"lec-1"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, doer.lastReq.Method)
	assert.Equal(t, EndpointLectures, doer.lastReq.Endpoint)
	assert.Contains(t, doer.lastReq.URL, "ids=lec-1")

	require.Len(t, lectures, 1)
	assert.Equal(t, "lec-1", lectures[0].ID)
	assert.Equal(t, 2, lectures[0].QuestionCount)

	questions, err := lectures[0].AuthoredQuestions()
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, 2, questions[0].CorrectAnswer)
}

func TestGetLecturesBatchDropsBadEntries(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{"lectures": [
			{
				"id": "lec-good", "name": "Keeps one question",
				"questions": [
					{"id": "q1", "prompt": "P1", "options": ["a", "b"], "correct_answer": 5},
					{"id": "q2", "prompt": "P2", "options": ["a", "b"], "correct_answer": 1}
				]
			},
			{
				"id": "lec-untrusted", "name": "Grading data excluded",
				"questions": [
					{"id": "q3", "prompt": "P3", "options": ["a", "b"]}
				]
			},
			{
				"id": "lec-malformed", "name": "",
				"questions": [
					{"id": "q4", "prompt": "P4", "options": ["a", "b"], "correct_answer": 0}
				]
			}
		]}`)
	}}
	client := newTestClient(t, doer)

	lectures, err := client.GetLecturesBatch(context.Background(), []string{"lec-good", "lec-untrusted", "lec-malformed"})
	require.NoError(t, err)

	// The out-of-range question and the two bad lectures are dropped; the
	// remaining valid question survives.
	require.Len(t, lectures, 1)
	assert.Equal(t, "lec-good", lectures[0].ID)
	assert.Equal(t, 1, lectures[0].QuestionCount)
}

func TestLectureBatchSwitchesToPostForLargeLists(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{"lectures": []}`)
	}}
	client := newTestClient(t, doer)

	ids := make([]string, 60)
	for i := range ids {
		ids[i] = fmt.Sprintf("lecture-%03d-%s", i, strings.Repeat("x", 40))
	}

	_, err := client.GetLecturesBatch(context.Background(), ids)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, doer.lastReq.Method)
	assert.Equal(t, "https://backend.test/api/v1/content/lectures/batch", doer.lastReq.URL)
	assert.Contains(t, string(doer.lastReq.Body), ids[59])
}

func TestSubmitResults(t *testing.T) {
	doer := &fakeDoer{response: func(req governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{"results": [{"lecture_id": "lec-1", "accepted": true}]}`)
	}}
	client := newTestClient(t, doer)

	acks, err := client.SubmitResults(context.Background(), []ResultSubmission{{
		LectureID:        "lec-1",
		Score:            3,
		Total:            5,
		Percentage:       60,
		TimeSpentSeconds: 92,
		CompletedAt:      time.Now(),
	}})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, doer.lastReq.Method)
	assert.Equal(t, EndpointSubmit, doer.lastReq.Endpoint)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted)
}

func TestSubmitResultsRejectsInvalidSubmissionBeforeNetwork(t *testing.T) {
	doer := &fakeDoer{response: func(governor.Request) (*governor.Response, error) {
		return jsonResponse(http.StatusOK, `{"results": []}`)
	}}
	client := newTestClient(t, doer)

	_, err := client.SubmitResults(context.Background(), []ResultSubmission{{
		LectureID: "lec-1", // Total missing
	}})
	require.Error(t, err)
	assert.True(t, validator.IsValidation(err))
	assert.Zero(t, doer.calls)
}

func TestOnlineProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	client := New(config.BackendConfig{BaseURL: server.URL}, &fakeDoer{}, validator.New(), logger)
	client.probeTTL = 0 // re-probe on every call

	assert.True(t, client.Online(context.Background()))

	server.Close()
	assert.False(t, client.Online(context.Background()))
}

func TestOnlineProbeCachesVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	client := New(config.BackendConfig{BaseURL: server.URL}, &fakeDoer{}, validator.New(), logger)

	require.True(t, client.Online(context.Background()))

	// The server is gone but the cached verdict is still fresh.
	server.Close()
	assert.True(t, client.Online(context.Background()))
}
