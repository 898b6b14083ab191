package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Unterstützte Formate
const (
	FormatJPEG = "jpg"
	FormatWebP = "webp"
)

// Store speichert zu jedem geschriebenen Ereignis ein Audit-Bild
// unter <dir>/<YYYY-MM-DD>/<uuid>.<ext>.
type Store struct {
	repo    repository.Repository
	dir     string
	format  string
	quality int
	loc     *time.Location
}

// NewStore erstellt einen Snapshot-Store
func NewStore(repo repository.Repository, cfg config.AttendanceConfig, loc *time.Location) *Store {
	format := cfg.SnapshotFormat
	if format != FormatWebP {
		format = FormatJPEG
	}
	quality := cfg.SnapshotQuality
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{repo: repo, dir: cfg.SnapshotDir, format: format, quality: quality, loc: loc}
}

// Dir liefert das Basisverzeichnis
func (s *Store) Dir() string {
	return s.dir
}

// Save kodiert den Frame der Beobachtung und legt Datei und Datensatz an
func (s *Store) Save(ctx context.Context, event *models.AttendanceEvent, obs models.Observation) (*models.Snapshot, error) {
	if obs.Frame == nil || !obs.Frame.Valid() {
		return nil, fmt.Errorf("observation carries no frame")
	}

	data, err := s.encode(obs.Frame.ToImage())
	if err != nil {
		return nil, err
	}

	rel := filepath.Join(event.Timestamp.In(s.loc).Format("2006-01-02"), uuid.New().String()+"."+s.format)
	full := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	box, err := json.Marshal(obs.Box)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal face box: %w", err)
	}
	snap := &models.Snapshot{
		EventID: event.ID,
		Path:    filepath.ToSlash(rel),
		Box:     datatypes.JSON(box),
	}
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		if rmErr := os.Remove(full); rmErr != nil {
			log.Warnf("Failed to remove orphaned snapshot %s: %v", full, rmErr)
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id": event.ID,
		"path":     snap.Path,
		"bytes":    len(data),
	}).Debug("Snapshot saved")
	return snap, nil
}

func (s *Store) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	switch s.format {
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: float32(s.quality)}); err != nil {
			return nil, fmt.Errorf("failed to encode webp snapshot: %w", err)
		}
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg snapshot: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Path liefert den absoluten Dateipfad eines Snapshots
func (s *Store) Path(snap models.Snapshot) string {
	return filepath.Join(s.dir, filepath.FromSlash(snap.Path))
}
