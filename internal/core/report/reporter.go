package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-attendance-go/internal/db/repository"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Reporter liest Personen und Ereignisse aus dem Store und baut daraus Berichte.
// Er verändert den Store nie.
type Reporter struct {
	repo repository.Repository
	opts Options
}

// NewReporter erstellt einen neuen Reporter
func NewReporter(repo repository.Repository, opts Options) *Reporter {
	return &Reporter{repo: repo, opts: opts}
}

// Location liefert die Zeitzone der Berichte
func (r *Reporter) Location() *time.Location {
	return r.opts.location()
}

// MaxRangeDays begrenzt den Zeitraum eines Tagesberichts
const MaxRangeDays = 366

// SpanDays zählt die lokalen Kalendertage von from bis to (inklusive); negativ, wenn to vor from liegt
func SpanDays(from, to time.Time, loc *time.Location) int {
	f, t := from.In(loc), to.In(loc)
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd)/(24*time.Hour)) + 1
}

// Daily erstellt den Tagesbericht für from bis to (lokale Tage, inklusive)
func (r *Reporter) Daily(ctx context.Context, from, to time.Time) (*DailyReport, error) {
	loc := r.opts.location()
	switch days := SpanDays(from, to, loc); {
	case days < 1:
		return nil, fmt.Errorf("invalid report range: to is before from")
	case days > MaxRangeDays:
		return nil, fmt.Errorf("invalid report range: %d days exceed the limit of %d", days, MaxRangeDays)
	}
	persons, err := r.repo.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	start := from.In(loc)
	end := to.In(loc)
	startUTC := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).UTC()
	endUTC := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).UTC()

	events, err := r.repo.EventsBetween(ctx, startUTC, endUTC)
	if err != nil {
		return nil, err
	}
	return BuildDaily(persons, events, from, to, r.opts), nil
}

// Monthly erstellt die Monatsübersicht für den Monat, in dem month liegt
func (r *Reporter) Monthly(ctx context.Context, month time.Time) (*MonthlyReport, error) {
	loc := r.opts.location()
	lm := month.In(loc)
	first, last := MonthRange(lm.Year(), lm.Month(), loc)

	persons, err := r.repo.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	events, err := r.repo.EventsBetween(ctx, first.UTC(), last.AddDate(0, 0, 1).UTC())
	if err != nil {
		return nil, err
	}
	return BuildMonthly(persons, events, first, r.opts), nil
}

// ExportDaily schreibt den Tagesbericht als Datei nach dir und liefert den Pfad
func (r *Reporter) ExportDaily(ctx context.Context, dir string, from, to time.Time, f Format) (string, error) {
	rep, err := r.Daily(ctx, from, to)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("daily_%s", rep.From)
	if rep.To != rep.From {
		name += "_" + rep.To
	}
	return writeFile(dir, name, f, func(file *os.File) error {
		return WriteDaily(file, rep, f)
	})
}

// ExportMonthly schreibt die Monatsübersicht als Datei nach dir
func (r *Reporter) ExportMonthly(ctx context.Context, dir string, month time.Time, f Format) (string, error) {
	rep, err := r.Monthly(ctx, month)
	if err != nil {
		return "", err
	}
	return writeFile(dir, "monthly_"+rep.Month, f, func(file *os.File) error {
		return WriteMonthly(file, rep, f)
	})
}

// writeFile schreibt über eine temporäre Datei und benennt sie danach um
func writeFile(dir, base string, f Format, fill func(*os.File) error) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	final := filepath.Join(dir, base+"."+f.Extension())
	tmp := filepath.Join(dir, "."+base+"-"+uuid.New().String()+".tmp")

	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := fill(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}
	log.Infof("Report written to %s", final)
	return final, nil
}
