package services

import (
	"sync"
	"sync/atomic"

	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

type notification struct {
	event models.AttendanceEvent
	name  string
}

// NotifierService verteilt geschriebene Ereignisse asynchron an SSE, MQTT usw.,
// damit ein langsamer Broker den Event-Writer nicht blockiert.
type NotifierService struct {
	targets []attendance.Notifier
	queue   chan notification
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

var _ attendance.Notifier = (*NotifierService)(nil)

// NewNotifierService erstellt einen neuen NotifierService mit Puffergröße capacity
func NewNotifierService(capacity int, targets ...attendance.Notifier) *NotifierService {
	if capacity <= 0 {
		capacity = 32
	}
	log.Infof("Initializing NotifierService with %d targets", len(targets))
	return &NotifierService{
		targets: targets,
		queue:   make(chan notification, capacity),
	}
}

// Start startet den Verteil-Worker
func (s *NotifierService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for n := range s.queue {
			s.deliver(n)
		}
	}()
}

// Stop leert die Warteschlange und beendet den Worker
func (s *NotifierService) Stop() {
	s.once.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

// NotifyAttendance reiht ein Ereignis ein; bei voller Warteschlange wird es verworfen
func (s *NotifierService) NotifyAttendance(event models.AttendanceEvent, personName string) {
	defer func() {
		// Senden nach Stop
		if r := recover(); r != nil {
			s.dropped.Add(1)
		}
	}()
	select {
	case s.queue <- notification{event: event, name: personName}:
	default:
		s.dropped.Add(1)
		log.Warnf("Notification queue full, dropping notification for event %d", event.ID)
	}
}

// Dropped liefert die Zahl verworfener Benachrichtigungen
func (s *NotifierService) Dropped() int64 {
	return s.dropped.Load()
}

func (s *NotifierService) deliver(n notification) {
	for _, t := range s.targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Notifier panicked for event %d: %v", n.event.ID, r)
				}
			}()
			t.NotifyAttendance(n.event, n.name)
		}()
	}
}
