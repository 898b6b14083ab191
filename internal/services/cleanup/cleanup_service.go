package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// Result fasst einen Bereinigungslauf zusammen
type Result struct {
	Deleted int
	Errors  int
	Cutoff  time.Time
}

// CleanupService löscht Snapshots, die älter als die Aufbewahrungsfrist sind.
// Anwesenheitsereignisse werden nie gelöscht.
type CleanupService struct {
	repo        repository.Repository
	config      config.CleanupConfig
	snapshotDir string
	now         func() time.Time
}

// NewCleanupService erstellt einen neuen Cleanup-Service
func NewCleanupService(repo repository.Repository, cfg config.CleanupConfig, snapshotDir string) *CleanupService {
	return &CleanupService{
		repo:        repo,
		config:      cfg,
		snapshotDir: snapshotDir,
		now:         time.Now,
	}
}

// RunCleanup führt die eigentliche Bereinigung durch
func (s *CleanupService) RunCleanup(ctx context.Context) (Result, error) {
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return Result{}, nil
	}

	res := Result{Cutoff: s.now().AddDate(0, 0, -s.config.RetentionDays)}
	log.Infof("Cleaning up snapshots older than %s", res.Cutoff.Format("2006-01-02"))

	old, err := s.repo.SnapshotsBefore(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to find old snapshots: %w", err)
	}

	dirs := make(map[string]bool)
	for _, snap := range old {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if snap.Path != "" {
			path := filepath.Join(s.snapshotDir, filepath.FromSlash(snap.Path))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warnf("Failed to delete snapshot file %s: %v", path, err)
				res.Errors++
				continue
			}
			dirs[filepath.Dir(path)] = true
		}
		if err := s.repo.DeleteSnapshot(ctx, snap.ID); err != nil {
			log.Errorf("Failed to delete snapshot record ID %d: %v", snap.ID, err)
			res.Errors++
			continue
		}
		res.Deleted++
	}

	// leere Tagesverzeichnisse entfernen; os.Remove scheitert bei nicht leeren
	for dir := range dirs {
		if filepath.Clean(dir) == filepath.Clean(s.snapshotDir) {
			continue
		}
		_ = os.Remove(dir)
	}

	log.Infof("Cleanup completed: deleted %d snapshots, encountered %d errors", res.Deleted, res.Errors)
	return res, nil
}
