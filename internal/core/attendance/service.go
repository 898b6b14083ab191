package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// ErrUnknownPerson wird gemeldet, wenn eine Beobachtung auf keine gespeicherte Person zeigt
var ErrUnknownPerson = errors.New("unknown person")

// Outcome beschreibt, was eine Beobachtung bewirkt hat
type Outcome int

const (
	Rejected Outcome = iota
	CheckedIn
	CheckedOut
	Debounced
	DayComplete
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case CheckedIn:
		return "checked_in"
	case CheckedOut:
		return "checked_out"
	case Debounced:
		return "debounced"
	case DayComplete:
		return "day_complete"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Wrote meldet, ob ein Ereignis geschrieben wurde
func (o Outcome) Wrote() bool {
	return o == CheckedIn || o == CheckedOut
}

// Service setzt die Check-in/Check-out-Regeln pro Person und Tag durch
type Service struct {
	repo repository.Repository
	cfg  config.AttendanceConfig
	loc  *time.Location
	now  func() time.Time

	// serialisiert Lesen-Entscheiden-Schreiben über alle Beobachter
	mu sync.Mutex
}

// NewService erstellt einen neuen Anwesenheitsdienst; loc bestimmt den Kalendertag
func NewService(repo repository.Repository, cfg config.AttendanceConfig, loc *time.Location) *Service {
	if loc == nil {
		loc = timezone.Location()
	}
	return &Service{
		repo: repo,
		cfg:  cfg,
		loc:  loc,
		now:  time.Now,
	}
}

// Location liefert die Zeitzone, in der Tage gerechnet werden
func (s *Service) Location() *time.Location {
	return s.loc
}

// Observe verarbeitet eine erkannte Person und schreibt höchstens ein Ereignis
func (s *Service) Observe(ctx context.Context, personID uint, confidence float64, ts time.Time) (*models.AttendanceEvent, Outcome, error) {
	logger := log.WithFields(log.Fields{
		"person_id":  personID,
		"confidence": fmt.Sprintf("%.3f", confidence),
	})

	if confidence < s.cfg.MinRecordConfidence {
		logger.Debug("Observation below record confidence, rejected")
		return nil, Rejected, nil
	}

	// Datenbanken speichern Mikrosekunden
	ts = ts.UTC().Truncate(time.Microsecond)
	dayStart, dayEnd := timezone.DayBounds(ts, s.loc)
	minSession := time.Duration(s.cfg.MinSessionSeconds) * time.Second

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		written *models.AttendanceEvent
		outcome Outcome
	)
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		person, err := tx.GetPersonByID(ctx, personID)
		if err != nil {
			return err
		}
		if person == nil {
			return fmt.Errorf("%w: %d", ErrUnknownPerson, personID)
		}

		events, err := tx.EventsForPerson(ctx, personID, dayStart, dayEnd)
		if err != nil {
			return err
		}

		kind, result := decide(events, ts, minSession)
		outcome = result
		if !result.Wrote() {
			return nil
		}

		ev := &models.AttendanceEvent{
			PersonID:   personID,
			Kind:       kind,
			Timestamp:  ts,
			Confidence: confidence,
		}
		if err := tx.SaveEvent(ctx, ev); err != nil {
			return err
		}
		written = ev
		return nil
	})
	if err != nil {
		return nil, Rejected, err
	}

	switch outcome {
	case CheckedIn, CheckedOut:
		logger.WithField("kind", written.Kind).Infof("Attendance event %d written", written.ID)
	case DayComplete:
		logger.Info("Day already closed for person, observation ignored")
	default:
		logger.Debugf("Observation %s", outcome)
	}
	return written, outcome, nil
}

// ManualConfidence ist die Konfidenz von Hand erfasster Ereignisse
const ManualConfidence = 1.0

// Manual erfasst eine Anwesenheit von Hand. Es gelten dieselben Tagesregeln wie für
// erkannte Gesichter, Korrekturen entstehen also nur als neue Ereignisse.
func (s *Service) Manual(ctx context.Context, name string, ts time.Time) (*models.Person, *models.AttendanceEvent, Outcome, error) {
	person, err := s.repo.GetPersonByName(ctx, name)
	if err != nil {
		return nil, nil, Rejected, err
	}
	if person == nil {
		return nil, nil, Rejected, fmt.Errorf("%w: %s", ErrUnknownPerson, name)
	}
	event, outcome, err := s.Observe(ctx, person.ID, ManualConfidence, ts)
	if err != nil {
		return person, nil, outcome, err
	}
	log.WithFields(log.Fields{
		"person":  person.Name,
		"outcome": outcome,
	}).Info("Manual attendance entry")
	return person, event, outcome, nil
}

// decide wendet die Tagesregeln auf die bisherigen Ereignisse eines Tages an
func decide(events []models.AttendanceEvent, ts time.Time, minSession time.Duration) (models.EventKind, Outcome) {
	in, out := DayState(events)
	switch {
	case in == nil:
		return models.CheckIn, CheckedIn
	case out != nil:
		return "", DayComplete
	case ts.After(in.Timestamp) && ts.Sub(in.Timestamp) >= minSession:
		return models.CheckOut, CheckedOut
	default:
		return "", Debounced
	}
}

// DayState liefert das erste Check-in und das erste Check-out eines Tages
func DayState(events []models.AttendanceEvent) (in, out *models.AttendanceEvent) {
	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case models.CheckIn:
			if in == nil {
				in = ev
			}
		case models.CheckOut:
			if out == nil {
				out = ev
			}
		}
	}
	return in, out
}

// StatusOf leitet den Tagesstatus aus den Ereignissen eines Tages ab
func StatusOf(events []models.AttendanceEvent) models.PersonStatus {
	in, out := DayState(events)
	switch {
	case in == nil:
		return models.StatusAbsent
	case out == nil:
		return models.StatusCheckedIn
	default:
		return models.StatusCheckedOut
	}
}

// Today liefert die heutigen Ereignisse nach Zeit sortiert
func (s *Service) Today(ctx context.Context) ([]models.AttendanceEvent, error) {
	start, end := timezone.DayBounds(s.now(), s.loc)
	return s.repo.EventsBetween(ctx, start, end)
}

// ForPerson liefert die Ereignisse einer Person zwischen zwei lokalen Tagen (inklusive)
func (s *Service) ForPerson(ctx context.Context, personID uint, from, to time.Time) ([]models.AttendanceEvent, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid date range: %s is before %s",
			timezone.LocalDate(to, s.loc), timezone.LocalDate(from, s.loc))
	}
	start, _ := timezone.DayBounds(from, s.loc)
	_, end := timezone.DayBounds(to, s.loc)
	return s.repo.EventsForPerson(ctx, personID, start, end)
}

// OpenSessions liefert die Personen, die heute eingecheckt, aber nicht ausgecheckt haben
func (s *Service) OpenSessions(ctx context.Context) ([]uint, error) {
	events, err := s.Today(ctx)
	if err != nil {
		return nil, err
	}
	byPerson := groupByPerson(events)
	open := make([]uint, 0)
	for id, evs := range byPerson {
		if StatusOf(evs) == models.StatusCheckedIn {
			open = append(open, id)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })
	return open, nil
}

// Status liefert den heutigen Zustand einer Person
func (s *Service) Status(ctx context.Context, personID uint) (models.PersonStatus, error) {
	start, end := timezone.DayBounds(s.now(), s.loc)
	events, err := s.repo.EventsForPerson(ctx, personID, start, end)
	if err != nil {
		return models.StatusAbsent, err
	}
	return StatusOf(events), nil
}

// PersonDay ist der heutige Stand einer Person
type PersonDay struct {
	Person   models.Person       `json:"person"`
	Status   models.PersonStatus `json:"status"`
	CheckIn  *time.Time          `json:"check_in,omitempty"`
	CheckOut *time.Time          `json:"check_out,omitempty"`
}

// Roster liefert alle Personen mit ihrem heutigen Status
func (s *Service) Roster(ctx context.Context) ([]PersonDay, error) {
	persons, err := s.repo.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.Today(ctx)
	if err != nil {
		return nil, err
	}
	byPerson := groupByPerson(events)

	roster := make([]PersonDay, 0, len(persons))
	for _, p := range persons {
		day := PersonDay{Person: p, Status: StatusOf(byPerson[p.ID])}
		in, out := DayState(byPerson[p.ID])
		if in != nil {
			t := in.Timestamp.In(s.loc)
			day.CheckIn = &t
		}
		if out != nil {
			t := out.Timestamp.In(s.loc)
			day.CheckOut = &t
		}
		roster = append(roster, day)
	}
	return roster, nil
}

func groupByPerson(events []models.AttendanceEvent) map[uint][]models.AttendanceEvent {
	byPerson := make(map[uint][]models.AttendanceEvent)
	for _, ev := range events {
		byPerson[ev.PersonID] = append(byPerson[ev.PersonID], ev)
	}
	return byPerson
}
