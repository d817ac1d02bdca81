package contentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/validator"
)

// Logical endpoint names, keyed into the governor's cooldown map.
const (
	EndpointHierarchy = "content.hierarchy"
	EndpointLectures  = "content.lectures"
	EndpointSubmit    = "results.submit"
)

// batchGetURLLimit is the longest lecture-batch URL fetched with GET; longer
// id lists move into a POST body.
const batchGetURLLimit = 2048

const (
	probeTimeout    = 2 * time.Second
	defaultProbeTTL = 30 * time.Second
)

// ErrUseCache signals that the governor suppressed the call (cooldown or
// budget) and the caller should serve from local data. It is the typed form
// of a synthetic response for callers that want content, not transport
// details.
var ErrUseCache = errors.New("backend call suppressed, use cached data")

// Doer is the governed transport the client speaks through.
type Doer interface {
	Do(ctx context.Context, req governor.Request) (*governor.Response, error)
}

// Client is the typed content-backend client. Every call goes through the
// governor; the connectivity probe is the single deliberate exception.
type Client struct {
	cfg      config.BackendConfig
	gov      Doer
	validate *validator.Validator
	logger   *slog.Logger

	// The probe client bypasses the governor: a liveness check must not
	// consume budget or trip an endpoint's cooldown.
	probeClient *http.Client
	probeTTL    time.Duration
	probeMu     sync.Mutex
	probeAt     time.Time
	probeOK     bool
}

// New builds a Client on top of a governed transport.
func New(cfg config.BackendConfig, gov Doer, v *validator.Validator, logger *slog.Logger) *Client {
	return &Client{
		cfg:         cfg,
		gov:         gov,
		validate:    v,
		logger:      logger,
		probeClient: &http.Client{Timeout: probeTimeout},
		probeTTL:    defaultProbeTTL,
	}
}

// GetHierarchy fetches the years→modules→subjects→lectures tree.
func (c *Client) GetHierarchy(ctx context.Context) (*Hierarchy, error) {
	resp, err := c.gov.Do(ctx, governor.Request{
		Method:   http.MethodGet,
		URL:      c.cfg.BaseURL + "/api/v1/content/hierarchy",
		Endpoint: EndpointHierarchy,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch hierarchy: %w", err)
	}
	if resp.UseCache() {
		return nil, ErrUseCache
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch hierarchy: backend status %d", resp.Status)
	}

	var h Hierarchy
	if err := json.Unmarshal(resp.Body, &h); err != nil {
		return nil, fmt.Errorf("decode hierarchy: %w", err)
	}
	if err := c.validate.Validate(&h); err != nil {
		return nil, fmt.Errorf("hierarchy payload: %w", err)
	}
	return &h, nil
}

// GetLecturesBatch fetches content for a list of lecture ids. Small lists go
// out as a GET query string; large ones as a POST body. Payloads that fail
// validation are dropped and logged, never fail the batch.
func (c *Client) GetLecturesBatch(ctx context.Context, ids []string) ([]models.Lecture, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req, err := c.lectureBatchRequest(ids)
	if err != nil {
		return nil, err
	}
	resp, err := c.gov.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch lectures: %w", err)
	}
	if resp.UseCache() {
		return nil, ErrUseCache
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch lectures: backend status %d", resp.Status)
	}

	var body batchLecturesResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode lectures: %w", err)
	}

	now := time.Now()
	lectures := make([]models.Lecture, 0, len(body.Lectures))
	for _, payload := range body.Lectures {
		lecture, err := c.ingestLecture(payload, now)
		if err != nil {
			c.logger.Warn("dropping lecture payload",
				"lecture_id", payload.ID, "error", err)
			continue
		}
		lectures = append(lectures, *lecture)
	}
	return lectures, nil
}

// lectureBatchRequest builds the GET form of the batch read, switching to
// the POST form when the query string would exceed batchGetURLLimit.
func (c *Client) lectureBatchRequest(ids []string) (governor.Request, error) {
	query := url.Values{}
	for _, id := range ids {
		query.Add("ids", id)
	}
	getURL := c.cfg.BaseURL + "/api/v1/content/lectures?" + query.Encode()
	if len(getURL) <= batchGetURLLimit {
		return governor.Request{
			Method:   http.MethodGet,
			URL:      getURL,
			Endpoint: EndpointLectures,
		}, nil
	}

	body, err := json.Marshal(batchLecturesRequest{IDs: ids})
	if err != nil {
		return governor.Request{}, fmt.Errorf("encode lecture batch: %w", err)
	}
	return governor.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.BaseURL + "/api/v1/content/lectures/batch",
		Body:     body,
		Endpoint: EndpointLectures,
	}, nil
}

// ingestLecture validates one wire payload and converts it into the stored
// lecture shape. Questions without grading data or with out-of-range answers
// are dropped; a lecture keeping zero questions is rejected whole.
func (c *Client) ingestLecture(payload LecturePayload, fetchedAt time.Time) (*models.Lecture, error) {
	if err := c.validate.Validate(&payload); err != nil {
		return nil, err
	}

	questions := make([]models.AuthoredQuestion, 0, len(payload.Questions))
	for _, qp := range payload.Questions {
		q, err := qp.authored()
		if err != nil {
			c.logger.Debug("dropping question",
				"lecture_id", payload.ID, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("lecture %q: no gradable questions", payload.ID)
	}

	lecture := &models.Lecture{
		ID:          payload.ID,
		Name:        payload.Name,
		SubjectID:   payload.SubjectID,
		SubjectName: payload.SubjectName,
		Source:      models.SourceDirect,
		CachedAt:    fetchedAt,
	}
	if err := lecture.SetQuestions(questions); err != nil {
		return nil, err
	}
	return lecture, nil
}

// SubmitResults posts a batch of graded attempts to the write endpoint.
// Submissions are locally produced; an invalid one is a caller bug and fails
// the call before anything goes out.
func (c *Client) SubmitResults(ctx context.Context, batch []ResultSubmission) ([]SubmitAck, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	for i := range batch {
		if err := c.validate.Validate(&batch[i]); err != nil {
			return nil, fmt.Errorf("submission %d: %w", i, err)
		}
	}

	body, err := json.Marshal(submitResultsRequest{Results: batch})
	if err != nil {
		return nil, fmt.Errorf("encode submissions: %w", err)
	}
	resp, err := c.gov.Do(ctx, governor.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.BaseURL + "/api/v1/results/batch",
		Body:     body,
		Endpoint: EndpointSubmit,
	})
	if err != nil {
		return nil, fmt.Errorf("submit results: %w", err)
	}
	if resp.UseCache() {
		return nil, ErrUseCache
	}
	if !resp.OK() {
		return nil, fmt.Errorf("submit results: backend status %d", resp.Status)
	}

	var acks submitResultsResponse
	if err := json.Unmarshal(resp.Body, &acks); err != nil {
		return nil, fmt.Errorf("decode submission acks: %w", err)
	}
	return acks.Results, nil
}

// Online reports whether the backend answered a lightweight probe recently.
// The verdict is cached for a short window so back-to-back completions do
// not stack probe traffic.
func (c *Client) Online(ctx context.Context) bool {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	if !c.probeAt.IsZero() && time.Since(c.probeAt) < c.probeTTL {
		return c.probeOK
	}

	c.probeOK = c.probe(ctx)
	c.probeAt = time.Now()
	return c.probeOK
}

func (c *Client) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	target := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
