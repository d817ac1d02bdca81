package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/harvi-app/study-engine/internal/models"
	"github.com/harvi-app/study-engine/internal/repositories"
)

const sheetName = "Results"

var headers = []string{"Date", "Lecture", "Score", "Total", "Percentage", "Time Spent (s)", "Synced"}

// Exporter renders the stored result history as an .xlsx workbook.
type Exporter struct {
	results repositories.ResultRepository
	logger  *slog.Logger
}

// NewExporter builds an exporter over the results collection.
func NewExporter(results repositories.ResultRepository, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{results: results, logger: logger.With("component", "export")}
}

// Results builds the workbook for every result matching the filters: one
// header row, one row per record, then a summary block. The bytes are ready
// to stream with the xlsx content type.
func (e *Exporter) Results(ctx context.Context, filters repositories.ResultFilters) ([]byte, error) {
	records, err := e.results.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for export: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("failed to close workbook", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	w := &sheetWriter{f: f}
	for col, h := range headers {
		w.set(col+1, 1, h)
	}
	if styleID, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(sheetName, "A1", "G1", styleID)
	}
	_ = f.SetColWidth(sheetName, "A", "B", 22)

	row := 2
	for _, r := range records {
		w.set(1, row, r.Date.Format("2006-01-02 15:04"))
		w.set(2, row, lectureLabel(r))
		w.set(3, row, r.Score)
		w.set(4, row, r.Total)
		w.set(5, row, r.Percentage)
		w.set(6, row, r.TimeSpentSeconds)
		w.set(7, row, r.Synced)
		row++
	}

	row++ // one blank row between history and summary
	w.set(1, row, "Attempts")
	w.set(2, row, len(records))
	w.set(1, row+1, "Average percentage")
	w.set(2, row+1, averagePercentage(records))
	w.set(1, row+2, "Best percentage")
	w.set(2, row+2, bestPercentage(records))
	w.set(1, row+3, "Total time (s)")
	w.set(2, row+3, totalTime(records))
	w.set(1, row+4, "Exported")
	w.set(2, row+4, time.Now().UTC().Format(time.RFC3339))

	if w.err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", w.err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	e.logger.Info("results exported", "rows", len(records))
	return buf.Bytes(), nil
}

// sheetWriter sets cells and keeps the first error instead of forcing a
// check per cell.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) set(col, row int, value any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(sheetName, cell, value)
}

func lectureLabel(r *models.ResultRecord) string {
	if r.LectureName != "" {
		return r.LectureName
	}
	return r.LectureID
}

func averagePercentage(records []*models.ResultRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.Percentage
	}
	return sum / float64(len(records))
}

func bestPercentage(records []*models.ResultRecord) float64 {
	var best float64
	for _, r := range records {
		if r.Percentage > best {
			best = r.Percentage
		}
	}
	return best
}

func totalTime(records []*models.ResultRecord) int {
	var total int
	for _, r := range records {
		total += r.TimeSpentSeconds
	}
	return total
}
