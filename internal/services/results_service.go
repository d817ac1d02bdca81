package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harvi-app/study-engine/internal/export"
	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
	"github.com/harvi-app/study-engine/internal/stats"
)

// resultsService reads the local results history. Listing and export share
// the same filter translation so the spreadsheet always matches the list
// the user was looking at.
type resultsService struct {
	results  repositories.ResultRepository
	stats    *stats.Service
	exporter *export.Exporter
	logger   *slog.Logger
}

func newResultsService(results repositories.ResultRepository, statsService *stats.Service, exporter *export.Exporter, logger *slog.Logger) *resultsService {
	return &resultsService{
		results:  results,
		stats:    statsService,
		exporter: exporter,
		logger:   logger.With("component", "results_service"),
	}
}

func (r *resultsService) List(ctx context.Context, query ResultsQuery) ([]*models.ResultRecord, error) {
	filters, err := filtersFromQuery(query)
	if err != nil {
		return nil, err
	}
	return r.results.List(ctx, filters)
}

func (r *resultsService) Overview(ctx context.Context) (*stats.Summary, error) {
	return r.stats.Summary(ctx)
}

func (r *resultsService) Lecture(ctx context.Context, lectureID string) (*stats.LectureStats, error) {
	return r.stats.Lecture(ctx, lectureID)
}

func (r *resultsService) Export(ctx context.Context, query ResultsQuery) ([]byte, error) {
	filters, err := filtersFromQuery(query)
	if err != nil {
		return nil, err
	}
	return r.exporter.Results(ctx, filters)
}

// filtersFromQuery converts the bound query DTO into repository filters.
// Day strings are inclusive on both ends; To stretches to the last instant
// of its day.
func filtersFromQuery(query ResultsQuery) (repositories.ResultFilters, error) {
	filters := repositories.ResultFilters{
		LectureID: query.LectureID,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	if query.From != "" {
		from, err := time.Parse("2006-01-02", query.From)
		if err != nil {
			return filters, fmt.Errorf("invalid from date %q: %w", query.From, err)
		}
		filters.From = &from
	}
	if query.To != "" {
		to, err := time.Parse("2006-01-02", query.To)
		if err != nil {
			return filters, fmt.Errorf("invalid to date %q: %w", query.To, err)
		}
		end := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filters.To = &end
	}
	return filters, nil
}
