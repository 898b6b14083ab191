package attendance

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/vision"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/util/timezone"
)

var t0 = time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)

func testConfig() config.AttendanceConfig {
	return config.AttendanceConfig{
		MinRecordConfidence: 0.75,
		MinSessionSeconds:   60,
		WorkStartHour:       8,
	}
}

func newTestService(t *testing.T, names ...string) (*Service, repository.Repository, []models.Person) {
	t.Helper()
	gdb, err := db.Open(config.DBConfig{StoreURL: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	repo := repository.NewGormRepository(gdb)

	persons := make([]models.Person, 0, len(names))
	for _, name := range names {
		p := models.Person{Name: name}
		if err := repo.CreatePerson(context.Background(), &p); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		persons = append(persons, p)
	}

	svc := NewService(repo, testConfig(), time.UTC)
	svc.now = func() time.Time { return t0.Add(4 * time.Hour) }
	return svc, repo, persons
}

func TestObserveWritesCheckInAtObservationTime(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice")
	alice := persons[0]

	ev, outcome, err := svc.Observe(ctx, alice.ID, 0.95, t0)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if outcome != CheckedIn || ev == nil {
		t.Fatalf("expected CheckedIn with event, got %s %+v", outcome, ev)
	}
	if ev.Kind != models.CheckIn || !ev.Timestamp.Equal(t0) || ev.PersonID != alice.ID {
		t.Errorf("unexpected event %+v", ev)
	}

	today, err := svc.Today(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(today) != 1 {
		t.Fatalf("expected exactly one event today, got %d", len(today))
	}
}

func TestObserveRejectsLowConfidence(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice")

	ev, outcome, err := svc.Observe(ctx, persons[0].ID, 0.74, t0)
	if err != nil || ev != nil || outcome != Rejected {
		t.Fatalf("expected Rejected without event, got %v %+v %v", outcome, ev, err)
	}
	today, _ := svc.Today(ctx)
	if len(today) != 0 {
		t.Errorf("rejected observation must not write, found %d events", len(today))
	}
}

func TestObserveDebounce(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice")
	alice := persons[0].ID

	if _, outcome, _ := svc.Observe(ctx, alice, 0.9, t0); outcome != CheckedIn {
		t.Fatalf("first observation: %s", outcome)
	}
	ev, outcome, err := svc.Observe(ctx, alice, 0.9, t0.Add(10*time.Second))
	if err != nil || ev != nil || outcome != Debounced {
		t.Fatalf("expected Debounced, got %s %+v %v", outcome, ev, err)
	}

	today, _ := svc.Today(ctx)
	if len(today) != 1 {
		t.Errorf("expected no second event, got %d events", len(today))
	}
}

func TestObserveCheckOutThenDayComplete(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice")
	alice := persons[0].ID

	steps := []struct {
		offset  time.Duration
		outcome Outcome
	}{
		{0, CheckedIn},
		{120 * time.Second, CheckedOut},
		{200 * time.Second, DayComplete},
	}
	for _, step := range steps {
		_, outcome, err := svc.Observe(ctx, alice, 0.9, t0.Add(step.offset))
		if err != nil {
			t.Fatalf("Observe at +%s: %v", step.offset, err)
		}
		if outcome != step.outcome {
			t.Errorf("at +%s: got %s, want %s", step.offset, outcome, step.outcome)
		}
	}

	events, err := svc.ForPerson(ctx, alice, t0, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if d := events[1].Timestamp.Sub(events[0].Timestamp); d != 120*time.Second {
		t.Errorf("duration = %s, want 2m0s", d)
	}

	status, err := svc.Status(ctx, alice)
	if err != nil || status != models.StatusCheckedOut {
		t.Errorf("Status = %s, %v", status, err)
	}
}

func TestObserveUnknownPerson(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.Observe(context.Background(), 77, 0.99, t0)
	if !errors.Is(err, ErrUnknownPerson) {
		t.Fatalf("expected ErrUnknownPerson, got %v", err)
	}
}

func TestNewDayStartsNewSession(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+2", 2*60*60)
	svc, _, persons := newTestService(t, "Alice")
	svc.loc = loc
	alice := persons[0].ID

	// 21:30 UTC ist 23:30 lokal, 22:30 UTC schon der nächste lokale Tag
	evening := time.Date(2024, 4, 15, 21, 30, 0, 0, time.UTC)
	if _, outcome, _ := svc.Observe(ctx, alice, 0.9, evening); outcome != CheckedIn {
		t.Fatalf("evening: %s", outcome)
	}
	if _, outcome, _ := svc.Observe(ctx, alice, 0.9, evening.Add(time.Hour)); outcome != CheckedIn {
		t.Fatalf("after local midnight a new day must start with CHECK_IN, got %s", outcome)
	}
}

func TestPerDayInvariantUnderRandomObservations(t *testing.T) {
	ctx := context.Background()
	svc, repo, persons := newTestService(t, "Alice", "Bob", "Carol")
	rng := rand.New(rand.NewSource(42))

	ts := t0
	for i := 0; i < 300; i++ {
		ts = ts.Add(time.Duration(rng.Intn(900)) * time.Second)
		p := persons[rng.Intn(len(persons))]
		conf := 0.6 + rng.Float64()*0.4
		if _, _, err := svc.Observe(ctx, p.ID, conf, ts); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}

	events, err := repo.EventsBetween(ctx, t0.Add(-24*time.Hour), ts.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	type key struct {
		person uint
		day    string
	}
	days := make(map[key][]models.AttendanceEvent)
	for _, ev := range events {
		k := key{ev.PersonID, timezone.LocalDate(ev.Timestamp, time.UTC)}
		days[k] = append(days[k], ev)
	}
	if len(days) == 0 {
		t.Fatal("expected some events to be written")
	}
	for k, evs := range days {
		var ins, outs int
		for _, ev := range evs {
			if ev.Kind == models.CheckIn {
				ins++
			} else {
				outs++
			}
		}
		if ins > 1 || outs > 1 {
			t.Errorf("%v: %d check-ins, %d check-outs", k, ins, outs)
		}
		in, out := DayState(evs)
		if out != nil && (in == nil || !out.Timestamp.After(in.Timestamp)) {
			t.Errorf("%v: check-out without earlier check-in", k)
		}
	}
}

func TestConcurrentObserversKeepDayInvariant(t *testing.T) {
	ctx := context.Background()
	svc, repo, persons := newTestService(t, "Alice")
	alice := persons[0]

	const observers = 32
	var wg sync.WaitGroup
	errs := make(chan error, observers)
	for i := 0; i < observers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := t0.Add(time.Duration(i%3) * 2 * time.Minute)
			if _, _, err := svc.Observe(ctx, alice.ID, 0.9, ts); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Observe: %v", err)
	}

	events, err := repo.EventsForPerson(ctx, alice.ID, timezone.DayStart(t0, time.UTC), timezone.DayStart(t0, time.UTC).Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	var ins, outs int
	for _, ev := range events {
		if ev.Kind == models.CheckIn {
			ins++
		} else {
			outs++
		}
	}
	if ins != 1 || outs > 1 {
		t.Fatalf("expected one check-in and at most one check-out, got %d and %d", ins, outs)
	}
	in, out := DayState(events)
	if out != nil && !out.Timestamp.After(in.Timestamp) {
		t.Errorf("check-out %v not after check-in %v", out.Timestamp, in.Timestamp)
	}
}

func TestOpenSessionsAndRoster(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice", "Bob", "Carol")
	alice, bob := persons[0].ID, persons[1].ID

	svc.Observe(ctx, alice, 0.9, t0)
	svc.Observe(ctx, bob, 0.9, t0.Add(time.Minute))
	svc.Observe(ctx, bob, 0.9, t0.Add(2*time.Hour))

	open, err := svc.OpenSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0] != alice {
		t.Errorf("OpenSessions = %v, want [%d]", open, alice)
	}

	roster, err := svc.Roster(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.PersonStatus{models.StatusCheckedIn, models.StatusCheckedOut, models.StatusAbsent}
	if len(roster) != len(want) {
		t.Fatalf("roster has %d entries", len(roster))
	}
	for i, day := range roster {
		if day.Status != want[i] {
			t.Errorf("%s: status %s, want %s", day.Person.Name, day.Status, want[i])
		}
	}
	if roster[1].CheckOut == nil || roster[2].CheckIn != nil {
		t.Errorf("unexpected roster times %+v", roster)
	}
}

func TestForPersonRejectsInvertedRange(t *testing.T) {
	svc, _, persons := newTestService(t, "Alice")
	if _, err := svc.ForPerson(context.Background(), persons[0].ID, t0, t0.AddDate(0, 0, -1)); err == nil {
		t.Error("expected error for inverted range")
	}
}

type fakeSnapshots struct {
	saved []uint
	err   error
}

func (f *fakeSnapshots) Save(_ context.Context, ev *models.AttendanceEvent, _ models.Observation) (*models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = append(f.saved, ev.ID)
	return &models.Snapshot{EventID: ev.ID}, nil
}

type fakeNotifier struct {
	events []models.AttendanceEvent
	names  []string
}

func (f *fakeNotifier) NotifyAttendance(ev models.AttendanceEvent, name string) {
	f.events = append(f.events, ev)
	f.names = append(f.names, name)
}

func TestRecorderNotifiesOnlyWrittenEvents(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice")
	snaps := &fakeSnapshots{}
	notifier := &fakeNotifier{}
	rec := NewRecorder(svc, snaps, notifier)

	frame := vision.NewFrame(64, 48)
	obs := models.Observation{PersonID: persons[0].ID, Name: "Alice", Confidence: 0.9, Timestamp: t0, Frame: &frame}

	if outcome, err := rec.Record(ctx, obs); err != nil || outcome != CheckedIn {
		t.Fatalf("Record: %s %v", outcome, err)
	}
	obs.Timestamp = t0.Add(5 * time.Second)
	if outcome, err := rec.Record(ctx, obs); err != nil || outcome != Debounced {
		t.Fatalf("Record: %s %v", outcome, err)
	}

	if len(notifier.events) != 1 || notifier.names[0] != "Alice" {
		t.Errorf("expected one notification for Alice, got %+v", notifier.names)
	}
	if len(snaps.saved) != 1 || snaps.saved[0] != notifier.events[0].ID {
		t.Errorf("expected one snapshot for the written event, got %v", snaps.saved)
	}
}

func TestRecorderIgnoresSnapshotFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, persons := newTestService(t, "Alice")
	notifier := &fakeNotifier{}
	rec := NewRecorder(svc, &fakeSnapshots{err: errors.New("disk full")}, notifier)

	frame := vision.NewFrame(8, 8)
	obs := models.Observation{PersonID: persons[0].ID, Name: "Alice", Confidence: 0.9, Timestamp: t0, Frame: &frame}
	if _, err := rec.Record(ctx, obs); err != nil {
		t.Fatalf("snapshot failure must not fail the record: %v", err)
	}
	if len(notifier.events) != 1 {
		t.Errorf("event should still be announced")
	}
}

func TestManualEntryFollowsDayRules(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, "Alice")

	cases := []struct {
		name    string
		person  string
		ts      time.Time
		want    Outcome
		wantErr error
	}{
		{"check in", "Alice", t0, CheckedIn, nil},
		{"within minimum session", "Alice", t0.Add(30 * time.Second), Debounced, nil},
		{"check out", "Alice", t0.Add(8 * time.Hour), CheckedOut, nil},
		{"day closed", "Alice", t0.Add(9 * time.Hour), DayComplete, nil},
		{"unknown name", "Mallory", t0, Rejected, ErrUnknownPerson},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			person, ev, outcome, err := svc.Manual(ctx, c.person, c.ts)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("expected %v, got %v", c.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Manual: %v", err)
			}
			if outcome != c.want {
				t.Fatalf("outcome %s, want %s", outcome, c.want)
			}
			if person == nil || person.Name != c.person {
				t.Errorf("unexpected person %+v", person)
			}
			if outcome.Wrote() && (ev == nil || ev.Confidence != ManualConfidence) {
				t.Errorf("manual event must carry confidence %v, got %+v", ManualConfidence, ev)
			}
		})
	}
}

func TestRecorderManualNotifies(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, "Alice")
	notifier := &fakeNotifier{}
	rec := NewRecorder(svc, nil, notifier)

	ev, outcome, err := rec.Manual(ctx, "Alice", t0)
	if err != nil || outcome != CheckedIn || ev == nil {
		t.Fatalf("Manual: %v %s %+v", err, outcome, ev)
	}
	if _, outcome, _ := rec.Manual(ctx, "Alice", t0.Add(time.Second)); outcome != Debounced {
		t.Errorf("second entry should be debounced, got %s", outcome)
	}
	if len(notifier.names) != 1 || notifier.names[0] != "Alice" {
		t.Errorf("expected one notification for Alice, got %v", notifier.names)
	}
}
