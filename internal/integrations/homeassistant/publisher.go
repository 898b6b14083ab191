package homeassistant

import (
	"context"
	"sync"
	"time"

	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// AttendanceMessage wird pro geschriebenem Ereignis veröffentlicht
type AttendanceMessage struct {
	ID         uint             `json:"id"`
	PersonID   uint             `json:"person_id"`
	Name       string           `json:"name"`
	Kind       models.EventKind `json:"kind"`
	Timestamp  time.Time        `json:"timestamp"`
	Confidence float64          `json:"confidence"`
}

// PresenceAttributes sind die JSON-Attribute des Personensensors
type PresenceAttributes struct {
	PersonID uint       `json:"person_id"`
	CheckIn  *time.Time `json:"check_in,omitempty"`
	CheckOut *time.Time `json:"check_out,omitempty"`
}

// Publisher veröffentlicht Anwesenheitsereignisse und den Tagesstatus je Person
type Publisher struct {
	broker Broker
	loc    *time.Location
	now    func() time.Time

	mu         sync.Mutex
	attributes map[string]PresenceAttributes
	day        string
}

// NewPublisher erstellt einen neuen Publisher
func NewPublisher(broker Broker, loc *time.Location) *Publisher {
	if loc == nil {
		loc = time.Local
	}
	return &Publisher{
		broker:     broker,
		loc:        loc,
		now:        time.Now,
		attributes: make(map[string]PresenceAttributes),
	}
}

// NotifyAttendance implementiert attendance.Notifier
func (p *Publisher) NotifyAttendance(event models.AttendanceEvent, personName string) {
	msg := AttendanceMessage{
		ID:         event.ID,
		PersonID:   event.PersonID,
		Name:       personName,
		Kind:       event.Kind,
		Timestamp:  event.Timestamp.In(p.loc),
		Confidence: event.Confidence,
	}
	if err := p.broker.Publish(p.broker.Topic("attendance"), msg); err != nil {
		log.Errorf("Failed to publish attendance event %d: %v", event.ID, err)
	}

	slug := Slug(personName)
	ts := event.Timestamp.In(p.loc)

	p.resetIfNewDay()
	p.mu.Lock()
	attrs := p.attributes[slug]
	attrs.PersonID = event.PersonID
	status := models.StatusCheckedIn
	if event.Kind == models.CheckOut {
		attrs.CheckOut = &ts
		status = models.StatusCheckedOut
	} else {
		attrs.CheckIn = &ts
		attrs.CheckOut = nil
	}
	p.attributes[slug] = attrs
	p.mu.Unlock()

	p.publishPresence(slug, status, attrs)
}

// PublishRoster setzt den Status aller Personen, z.B. nach dem Verbinden
func (p *Publisher) PublishRoster(roster []attendance.PersonDay) {
	p.resetIfNewDay()
	for _, day := range roster {
		slug := Slug(day.Person.Name)
		attrs := PresenceAttributes{PersonID: day.Person.ID, CheckIn: day.CheckIn, CheckOut: day.CheckOut}
		p.mu.Lock()
		p.attributes[slug] = attrs
		p.mu.Unlock()
		p.publishPresence(slug, day.Status, attrs)
	}
}

// StartResetTimer setzt nach Mitternacht (lokale Zeit) alle Personen auf absent
func (p *Publisher) StartResetTimer(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.resetIfNewDay()
			}
		}
	}()
}

func (p *Publisher) resetIfNewDay() {
	p.mu.Lock()
	stale := p.rollDay()
	p.mu.Unlock()

	for slug, attrs := range stale {
		p.publishPresence(slug, models.StatusAbsent, PresenceAttributes{PersonID: attrs.PersonID})
	}
	if len(stale) > 0 {
		log.Debugf("Reset presence of %d persons for the new day", len(stale))
	}
}

// rollDay leert die Attribute beim Tageswechsel und liefert die alten zurück; mu muss gehalten werden
func (p *Publisher) rollDay() map[string]PresenceAttributes {
	today := p.now().In(p.loc).Format("2006-01-02")
	if p.day == today {
		return nil
	}
	var stale map[string]PresenceAttributes
	if p.day != "" {
		stale = p.attributes
	}
	p.day = today
	p.attributes = make(map[string]PresenceAttributes)
	return stale
}

func (p *Publisher) publishPresence(slug string, status models.PersonStatus, attrs PresenceAttributes) {
	if err := p.broker.PublishRetain(StateTopic(p.broker, slug), string(status)); err != nil {
		log.Errorf("Failed to publish presence for %s: %v", slug, err)
		return
	}
	if err := p.broker.PublishRetain(AttributesTopic(p.broker, slug), attrs); err != nil {
		log.Errorf("Failed to publish presence attributes for %s: %v", slug, err)
	}
}
