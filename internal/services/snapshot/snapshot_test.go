package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/vision"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/db/repository"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

func newEvent(t *testing.T, repo repository.Repository) *models.AttendanceEvent {
	t.Helper()
	ctx := context.Background()
	p := &models.Person{Name: "Alice"}
	if err := repo.CreatePerson(ctx, p); err != nil {
		t.Fatal(err)
	}
	ev := &models.AttendanceEvent{
		PersonID:   p.ID,
		Kind:       models.CheckIn,
		Timestamp:  time.Date(2024, 4, 2, 23, 30, 0, 0, time.UTC),
		Confidence: 0.9,
	}
	if err := repo.SaveEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	gdb, err := db.Open(config.DBConfig{StoreURL: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return repository.NewGormRepository(gdb)
}

func testObservation() models.Observation {
	frame := vision.NewFrame(32, 24)
	for x := 0; x < 32; x++ {
		frame.SetBGR(x, 10, 0, 0, 255)
	}
	return models.Observation{
		PersonID:   1,
		Name:       "Alice",
		Confidence: 0.9,
		Box:        vision.Region{X: 4, Y: 4, W: 16, H: 16, Confidence: 0.99},
		Frame:      &frame,
	}
}

func TestSaveWritesFileAndRow(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	for _, format := range []string{FormatJPEG, FormatWebP} {
		t.Run(format, func(t *testing.T) {
			repo := newRepo(t)
			ev := newEvent(t, repo)
			store := NewStore(repo, config.AttendanceConfig{
				SnapshotDir:     t.TempDir(),
				SnapshotFormat:  format,
				SnapshotQuality: 80,
			}, berlin)

			snap, err := store.Save(context.Background(), ev, testObservation())
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			// 23:30 UTC ist in Berlin schon der nächste Tag
			if !strings.HasPrefix(snap.Path, "2024-04-03/") || !strings.HasSuffix(snap.Path, "."+format) {
				t.Errorf("unexpected path %q", snap.Path)
			}

			f, err := os.Open(store.Path(*snap))
			if err != nil {
				t.Fatalf("snapshot file missing: %v", err)
			}
			defer f.Close()
			if format == FormatWebP {
				img, err := webp.Decode(f)
				if err != nil || img.Bounds().Dx() != 32 {
					t.Errorf("webp decode: %v", err)
				}
			} else {
				img, err := imaging.Decode(f)
				if err != nil || img.Bounds().Dx() != 32 {
					t.Errorf("jpeg decode: %v", err)
				}
			}

			rows, err := repo.SnapshotsForEvent(context.Background(), ev.ID)
			if err != nil || len(rows) != 1 {
				t.Fatalf("expected one snapshot row, got %d (%v)", len(rows), err)
			}
			var box vision.Region
			if err := json.Unmarshal(rows[0].Box, &box); err != nil || box.W != 16 {
				t.Errorf("box not stored: %s (%v)", rows[0].Box, err)
			}
		})
	}
}

func TestSaveWithoutFrame(t *testing.T) {
	repo := newRepo(t)
	ev := newEvent(t, repo)
	store := NewStore(repo, config.AttendanceConfig{SnapshotDir: t.TempDir()}, time.UTC)
	if _, err := store.Save(context.Background(), ev, models.Observation{}); err == nil {
		t.Error("expected an error without frame")
	}
}
