// Package scheduler führt die periodischen Hintergrundjobs aus
// (Tagesbericht, Snapshot-Bereinigung).
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"face-attendance-go/internal/core/report"
	"face-attendance-go/internal/services/cleanup"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

// Task ist eine Jobfunktion; ctx endet mit dem Stoppen des Schedulers
type Task func(ctx context.Context) error

// JobInfo beschreibt einen registrierten Job
type JobInfo struct {
	Name     string     `json:"name"`
	CronExpr string     `json:"cron"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	LastErr  string     `json:"last_error,omitempty"`
	NextRun  time.Time  `json:"next_run"`
}

type entry struct {
	info JobInfo
	job  *gocron.Job
}

// Scheduler ist ein dünner Wrapper um gocron; Jobs laufen nie parallel zu sich selbst
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*entry
	running bool
}

// NewScheduler erstellt einen Scheduler, dessen Cron-Ausdrücke in loc ausgewertet werden
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*entry),
	}
}

// AddJob registriert eine Task unter name; ein leerer Ausdruck deaktiviert den Job
func (s *Scheduler) AddJob(name, cronExpr string, task Task) error {
	if cronExpr == "" {
		log.Infof("Job %s disabled (no cron expression)", name)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	e := &entry{info: JobInfo{Name: name, CronExpr: cronExpr}}
	job, err := s.scheduler.Cron(cronExpr).Do(func() {
		s.execute(e, task)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", cronExpr, name, err)
	}
	e.job = job
	s.jobs[name] = e

	log.WithFields(log.Fields{"job": name, "cron": cronExpr}).Info("Job scheduled")
	return nil
}

func (s *Scheduler) execute(e *entry, task Task) {
	start := time.Now()
	log.Debugf("Executing job %s", e.info.Name)
	err := task(s.ctx)

	s.mu.Lock()
	e.info.LastRun = &start
	e.info.LastErr = ""
	if err != nil {
		e.info.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		log.Errorf("Job %s failed: %v", e.info.Name, err)
		return
	}
	log.Debugf("Job %s finished in %s", e.info.Name, time.Since(start))
}

// Start startet den Scheduler asynchron
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Warn("Scheduler is already running")
		return
	}
	s.scheduler.StartAsync()
	s.running = true
	log.Infof("Scheduler started with %d jobs", len(s.jobs))
}

// Stop hält den Scheduler an und bricht laufende Tasks über ihren Context ab
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if !s.running {
		return
	}
	s.scheduler.Stop()
	s.running = false
	log.Info("Scheduler stopped")
}

// Jobs liefert eine Kopie der registrierten Jobs, nach Namen sortiert
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		info := e.info
		if info.LastRun != nil {
			last := *info.LastRun
			info.LastRun = &last
		}
		info.NextRun = e.job.NextRun()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DailyReportTask exportiert den Bericht des Vortags nach dir
func DailyReportTask(reporter *report.Reporter, dir string, format report.Format, now func() time.Time) Task {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		yesterday := now().In(reporter.Location()).AddDate(0, 0, -1)
		path, err := reporter.ExportDaily(ctx, dir, yesterday, yesterday, format)
		if err != nil {
			return fmt.Errorf("daily report export failed: %w", err)
		}
		log.Infof("Daily report written to %s", path)
		return nil
	}
}

// CleanupTask führt einen Bereinigungslauf aus
func CleanupTask(svc *cleanup.CleanupService) Task {
	return func(ctx context.Context) error {
		_, err := svc.RunCleanup(ctx)
		return err
	}
}
