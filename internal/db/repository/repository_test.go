package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db"

	"gorm.io/datatypes"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	gdb, err := db.Open(config.DBConfig{StoreURL: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return NewGormRepository(gdb)
}

func mustPerson(t *testing.T, repo Repository, name string) *models.Person {
	t.Helper()
	p := &models.Person{Name: name}
	if err := repo.CreatePerson(context.Background(), p); err != nil {
		t.Fatalf("CreatePerson(%s): %v", name, err)
	}
	return p
}

func TestPersons(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	alice := mustPerson(t, repo, "Alice")
	bob := mustPerson(t, repo, "Bob")
	if alice.ID == 0 || bob.ID <= alice.ID {
		t.Fatalf("unexpected ids alice=%d bob=%d", alice.ID, bob.ID)
	}

	err := repo.CreatePerson(ctx, &models.Person{Name: "Alice"})
	if !failure.Is(err, failure.DuplicateEnrolment) {
		t.Errorf("expected DuplicateEnrolment for duplicate name, got %v", err)
	}
	if err := repo.CreatePerson(ctx, &models.Person{Name: "  "}); err == nil {
		t.Errorf("expected error for empty name")
	}

	got, err := repo.GetPersonByName(ctx, "Bob")
	if err != nil || got == nil || got.ID != bob.ID {
		t.Fatalf("GetPersonByName: %+v, %v", got, err)
	}
	missing, err := repo.GetPersonByID(ctx, 999)
	if err != nil || missing != nil {
		t.Errorf("missing person should be nil, nil; got %+v, %v", missing, err)
	}

	all, err := repo.ListPersons(ctx)
	if err != nil || len(all) != 2 || all[0].Name != "Alice" {
		t.Errorf("ListPersons = %+v, %v", all, err)
	}
}

func TestEventsAreQueriedByUTCInterval(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := mustPerson(t, repo, "Alice")
	bob := mustPerson(t, repo, "Bob")

	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	events := []models.AttendanceEvent{
		{PersonID: alice.ID, Kind: models.CheckIn, Timestamp: base, Confidence: 0.9},
		{PersonID: bob.ID, Kind: models.CheckIn, Timestamp: base.Add(30 * time.Minute), Confidence: 0.8},
		{PersonID: alice.ID, Kind: models.CheckOut, Timestamp: base.Add(8 * time.Hour), Confidence: 0.85},
		{PersonID: alice.ID, Kind: models.CheckIn, Timestamp: base.Add(24 * time.Hour), Confidence: 0.9},
	}
	for i := range events {
		if err := repo.SaveEvent(ctx, &events[i]); err != nil {
			t.Fatalf("SaveEvent %d: %v", i, err)
		}
	}
	if err := repo.SaveEvent(ctx, &events[0]); err == nil {
		t.Errorf("re-saving a stored event must fail")
	}

	dayStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	day, err := repo.EventsBetween(ctx, dayStart, dayEnd)
	if err != nil {
		t.Fatalf("EventsBetween: %v", err)
	}
	if len(day) != 3 {
		t.Fatalf("expected 3 events on day one, got %d", len(day))
	}
	for i := 1; i < len(day); i++ {
		if day[i].Timestamp.Before(day[i-1].Timestamp) {
			t.Errorf("events not ordered by timestamp")
		}
	}
	if !day[0].Timestamp.Equal(base) {
		t.Errorf("timestamp round trip: got %v want %v", day[0].Timestamp, base)
	}

	aliceDay, err := repo.EventsForPerson(ctx, alice.ID, dayStart, dayEnd)
	if err != nil || len(aliceDay) != 2 {
		t.Fatalf("EventsForPerson = %d events, %v", len(aliceDay), err)
	}
	if aliceDay[0].Kind != models.CheckIn || aliceDay[1].Kind != models.CheckOut {
		t.Errorf("unexpected kinds %s, %s", aliceDay[0].Kind, aliceDay[1].Kind)
	}

	stats, err := repo.GetStatistics(ctx, dayStart, dayEnd)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.Persons != 2 || stats.Events != 4 || stats.CheckInsToday != 2 || stats.OpenSessions != 1 {
		t.Errorf("unexpected statistics %+v", stats)
	}
	if stats.LatestEvent == nil || !stats.LatestEvent.Equal(base.Add(24*time.Hour)) {
		t.Errorf("unexpected latest event %v", stats.LatestEvent)
	}
}

func TestEventKindIsConstrained(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := mustPerson(t, repo, "Alice")

	err := repo.SaveEvent(ctx, &models.AttendanceEvent{
		PersonID: alice.ID, Kind: "BREAK", Timestamp: time.Now(), Confidence: 1,
	})
	if err == nil {
		t.Errorf("expected check constraint violation for unknown kind")
	}

	err = repo.SaveEvent(ctx, &models.AttendanceEvent{
		PersonID: 4242, Kind: models.CheckIn, Timestamp: time.Now(), Confidence: 1,
	})
	if err == nil {
		t.Errorf("expected foreign key violation for unknown person")
	}
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := mustPerson(t, repo, "Alice")

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.SaveEvent(ctx, &models.AttendanceEvent{
			PersonID: alice.ID, Kind: models.CheckIn, Timestamp: time.Now(), Confidence: 0.9,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	events, err := repo.EventsForPerson(ctx, alice.ID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("transaction should have been rolled back, found %d events", len(events))
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := mustPerson(t, repo, "Alice")

	ev := &models.AttendanceEvent{PersonID: alice.ID, Kind: models.CheckIn, Timestamp: time.Now(), Confidence: 0.9}
	if err := repo.SaveEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	old := &models.Snapshot{
		EventID:   ev.ID,
		Path:      "2024-01-01/a.jpg",
		Box:       datatypes.JSON(`{"x":1,"y":2,"w":50,"h":60}`),
		CreatedAt: time.Now().Add(-72 * time.Hour),
	}
	fresh := &models.Snapshot{EventID: ev.ID, Path: "2024-01-04/b.jpg"}
	for _, s := range []*models.Snapshot{old, fresh} {
		if err := repo.SaveSnapshot(ctx, s); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	byEvent, err := repo.SnapshotsForEvent(ctx, ev.ID)
	if err != nil || len(byEvent) != 2 {
		t.Fatalf("SnapshotsForEvent = %d, %v", len(byEvent), err)
	}

	stale, err := repo.SnapshotsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].Path != old.Path {
		t.Fatalf("expected only the old snapshot, got %+v", stale)
	}

	if err := repo.DeleteSnapshot(ctx, stale[0].ID); err != nil {
		t.Fatal(err)
	}
	byEvent, _ = repo.SnapshotsForEvent(ctx, ev.ID)
	if len(byEvent) != 1 {
		t.Errorf("expected one snapshot left, got %d", len(byEvent))
	}
}

func TestUpdatePersonMetadata(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := mustPerson(t, repo, "Alice")
	mustPerson(t, repo, "Bob")

	emp, dept := "E-042", "Research"
	alice.EmployeeID, alice.Department = &emp, &dept
	if err := repo.UpdatePerson(ctx, alice); err != nil {
		t.Fatalf("UpdatePerson: %v", err)
	}
	got, err := repo.GetPersonByID(ctx, alice.ID)
	if err != nil || got == nil {
		t.Fatalf("GetPersonByID: %+v, %v", got, err)
	}
	if got.EmployeeID == nil || *got.EmployeeID != emp || got.Department == nil || *got.Department != dept {
		t.Errorf("metadata not stored: %+v", got)
	}

	got.Name = "Bob"
	if err := repo.UpdatePerson(ctx, got); !failure.Is(err, failure.DuplicateEnrolment) {
		t.Errorf("renaming onto an existing name should be DuplicateEnrolment, got %v", err)
	}
}
