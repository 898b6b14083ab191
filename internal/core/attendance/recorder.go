package attendance

import (
	"context"
	"time"

	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// SnapshotStore legt zu einem geschriebenen Ereignis ein Bild ab
type SnapshotStore interface {
	Save(ctx context.Context, event *models.AttendanceEvent, obs models.Observation) (*models.Snapshot, error)
}

// Notifier wird über jedes geschriebene Ereignis informiert (SSE, MQTT)
type Notifier interface {
	NotifyAttendance(event models.AttendanceEvent, personName string)
}

// Recorder verbindet den Anwesenheitsdienst mit Snapshots und Benachrichtigungen.
// Er ist der Verbraucher des Event-Writers.
type Recorder struct {
	service   *Service
	snapshots SnapshotStore
	notifiers []Notifier
}

// NewRecorder erstellt einen Recorder; snapshots darf nil sein
func NewRecorder(service *Service, snapshots SnapshotStore, notifiers ...Notifier) *Recorder {
	return &Recorder{
		service:   service,
		snapshots: snapshots,
		notifiers: notifiers,
	}
}

// Record übergibt eine bestätigte Beobachtung an den Dienst
func (r *Recorder) Record(ctx context.Context, obs models.Observation) (Outcome, error) {
	event, outcome, err := r.service.Observe(ctx, obs.PersonID, obs.Confidence, obs.Timestamp)
	if err != nil || event == nil {
		return outcome, err
	}

	if r.snapshots != nil && obs.Frame != nil {
		if _, err := r.snapshots.Save(ctx, event, obs); err != nil {
			// das Ereignis bleibt gültig, nur das Audit-Bild fehlt
			log.WithError(err).Warnf("Failed to save snapshot for event %d", event.ID)
		}
	}

	for _, n := range r.notifiers {
		n.NotifyAttendance(*event, obs.Name)
	}
	return outcome, nil
}

// Manual erfasst eine Anwesenheit von Hand und benachrichtigt wie bei erkannten Gesichtern
func (r *Recorder) Manual(ctx context.Context, name string, ts time.Time) (*models.AttendanceEvent, Outcome, error) {
	person, event, outcome, err := r.service.Manual(ctx, name, ts)
	if err != nil || event == nil {
		return event, outcome, err
	}
	for _, n := range r.notifiers {
		n.NotifyAttendance(*event, person.Name)
	}
	return event, outcome, nil
}
