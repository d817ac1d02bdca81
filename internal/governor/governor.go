package governor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

// maxResponseBytes caps how much of a backend response is buffered.
const maxResponseBytes = 10 << 20

// Reason explains a synthetic rejection.
type Reason string

const (
	ReasonCooldown Reason = "cooldown"
	ReasonBudget   Reason = "budget"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Request describes one outbound call. Endpoint is the logical name used for
// cooldown windows and bookkeeping; URL is the concrete target.
type Request struct {
	Method   string
	URL      string
	Body     []byte
	Header   http.Header
	Endpoint string
	// SkipCooldown exempts a GET from its endpoint's cooldown window.
	// Non-GET requests are always exempt: writes are never silently
	// swallowed by rate limiting.
	SkipCooldown bool
}

// Response is the outcome of Do. Synthetic responses are produced locally,
// without touching the network; they tell the caller to fall back to cached
// data. A synthetic rejection is a value, never an error.
type Response struct {
	Status    int
	Body      []byte
	Header    http.Header
	Synthetic bool
	Reason    Reason
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// UseCache reports that the caller should serve from local data.
func (r *Response) UseCache() bool { return r.Synthetic }

// Stats is a snapshot of governor counters for the health endpoint.
type Stats struct {
	SessionRequests int    `json:"session_requests"`
	DayRequests     int    `json:"day_requests"`
	Day             string `json:"day"`
	SoftBudget      int    `json:"soft_budget"`
	HardBudget      int    `json:"hard_budget"`
	Warned          bool   `json:"warned"`
}

// Governor is the single gate in front of the process's outbound HTTP
// client. It enforces per-endpoint cooldowns on reads, deduplicates
// concurrent identical requests into one network call, and applies the
// request budget with a soft warning and a hard cap.
type Governor struct {
	client    *http.Client
	cfg       config.GovernorConfig
	settings  repositories.SettingRepository
	publisher events.EventPublisher
	logger    *slog.Logger
	clock     Clock

	group singleflight.Group

	mu           sync.Mutex
	lastDispatch map[string]time.Time
	sessionCount int
	warned       bool
	day          string
	dayCount     int
}

// New builds a Governor. A nil clock means wall time; a nil client means
// http.DefaultClient.
func New(client *http.Client, cfg config.GovernorConfig, settings repositories.SettingRepository, publisher events.EventPublisher, logger *slog.Logger, clock Clock) *Governor {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Governor{
		client:       client,
		cfg:          cfg,
		settings:     settings,
		publisher:    publisher,
		logger:       logger,
		clock:        clock,
		lastDispatch: make(map[string]time.Time),
	}
}

// Do runs one governed request. Identical requests issued concurrently share
// a single network call and receive the same outcome.
func (g *Governor) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if g.hardCapReached() {
		return synthetic(ReasonBudget), nil
	}

	// Cooldown is evaluated inside the deduplicated unit so that a caller
	// racing an identical in-flight request joins it instead of being
	// rejected by the dispatch mark that request just set.
	ch := g.group.DoChan(dedupKey(req), func() (any, error) {
		return g.execute(ctx, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*Response)
		if res.Shared {
			cp := *resp
			return &cp, nil
		}
		return resp, nil
	case <-ctx.Done():
		// The shared call keeps running for any other waiter.
		return nil, ctx.Err()
	}
}

func (g *Governor) execute(ctx context.Context, req Request) (*Response, error) {
	if remaining, rejected := g.cooldownRemaining(req); rejected {
		g.logger.Debug("request under cooldown, serving synthetic rejection",
			"endpoint", req.Endpoint, "remaining", remaining)
		return synthetic(ReasonCooldown), nil
	}

	ok, warnNow := g.consumeBudget(ctx)
	if warnNow {
		g.logger.Warn("session request budget warning",
			"endpoint", req.Endpoint, "soft_budget", g.cfg.SoftBudget)
		if g.publisher != nil {
			event := events.NewEvent(events.BudgetWarning, map[string]any{
				"endpoint":    req.Endpoint,
				"soft_budget": g.cfg.SoftBudget,
			})
			if err := g.publisher.Publish(ctx, event); err != nil {
				g.logger.Warn("publish budget warning failed", "error", err)
			}
		}
	}
	if !ok {
		g.logger.Warn("session request budget exhausted", "endpoint", req.Endpoint, "hard_budget", g.cfg.HardBudget)
		return synthetic(ReasonBudget), nil
	}

	g.markDispatch(req.Endpoint)
	return g.dispatch(ctx, req)
}

func (g *Governor) dispatch(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.Endpoint, err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Endpoint, err)
	}
	return &Response{
		Status: resp.StatusCode,
		Body:   body,
		Header: resp.Header.Clone(),
	}, nil
}

// cooldownRemaining reports whether the request falls inside its endpoint's
// cooldown window.
func (g *Governor) cooldownRemaining(req Request) (time.Duration, bool) {
	if req.Method != http.MethodGet || req.SkipCooldown {
		return 0, false
	}
	window, ok := g.cfg.Cooldowns[req.Endpoint]
	if !ok {
		window = g.cfg.DefaultCooldown
	}
	if window <= 0 {
		return 0, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	last, called := g.lastDispatch[req.Endpoint]
	if !called {
		return 0, false
	}
	elapsed := g.clock.Now().Sub(last)
	if elapsed >= window {
		return 0, false
	}
	return window - elapsed, true
}

func (g *Governor) markDispatch(endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastDispatch[endpoint] = g.clock.Now()
}

func (g *Governor) hardCapReached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.HardBudget > 0 && g.sessionCount >= g.cfg.HardBudget
}

// consumeBudget counts one network call against the session and day budgets.
// It returns whether the call may proceed and whether the soft warning fires
// with this call.
func (g *Governor) consumeBudget(ctx context.Context) (ok, warnNow bool) {
	g.mu.Lock()
	if g.cfg.HardBudget > 0 && g.sessionCount >= g.cfg.HardBudget {
		g.mu.Unlock()
		return false, false
	}
	g.sessionCount++
	if !g.warned && g.cfg.SoftBudget > 0 && g.sessionCount >= g.cfg.SoftBudget {
		g.warned = true
		warnNow = true
	}

	today := g.clock.Now().UTC().Format("2006-01-02")
	if g.day != today {
		g.day = today
		g.dayCount = g.loadDayCount(ctx, today)
	}
	g.dayCount++
	day, count := g.day, g.dayCount
	g.mu.Unlock()

	g.persistDayCount(ctx, day, count)
	return true, warnNow
}

func (g *Governor) loadDayCount(ctx context.Context, day string) int {
	if g.settings == nil {
		return 0
	}
	v, err := g.settings.Get(ctx, models.SettingRequestDayPrefix+day)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// persistDayCount is best effort: monitoring data never blocks a request.
func (g *Governor) persistDayCount(ctx context.Context, day string, count int) {
	if g.settings == nil {
		return
	}
	if err := g.settings.Put(ctx, models.SettingRequestDayPrefix+day, strconv.Itoa(count)); err != nil {
		g.logger.Warn("persist request day count failed", "error", err)
	}
}

// Stats snapshots the counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		SessionRequests: g.sessionCount,
		DayRequests:     g.dayCount,
		Day:             g.day,
		SoftBudget:      g.cfg.SoftBudget,
		HardBudget:      g.cfg.HardBudget,
		Warned:          g.warned,
	}
}

func synthetic(reason Reason) *Response {
	return &Response{
		Status:    http.StatusTooManyRequests,
		Header:    http.Header{},
		Synthetic: true,
		Reason:    reason,
	}
}

func dedupKey(req Request) string {
	sum := sha256.Sum256(req.Body)
	return req.Method + " " + req.URL + " " + hex.EncodeToString(sum[:])
}
