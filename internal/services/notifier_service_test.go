package services

import (
	"sync"
	"testing"

	"face-attendance-go/internal/core/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingNotifier) NotifyAttendance(_ models.AttendanceEvent, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

type panickingNotifier struct{}

func (panickingNotifier) NotifyAttendance(models.AttendanceEvent, string) { panic("boom") }

func TestNotifierServiceFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	svc := NewNotifierService(8, a, panickingNotifier{}, b)
	svc.Start()

	svc.NotifyAttendance(models.AttendanceEvent{ID: 1}, "Alice")
	svc.NotifyAttendance(models.AttendanceEvent{ID: 2}, "Bob")
	svc.Stop()

	for _, n := range []*recordingNotifier{a, b} {
		if len(n.names) != 2 || n.names[0] != "Alice" || n.names[1] != "Bob" {
			t.Errorf("unexpected deliveries %v", n.names)
		}
	}

	svc.NotifyAttendance(models.AttendanceEvent{ID: 3}, "Carol")
	if svc.Dropped() != 1 {
		t.Errorf("notify after stop should be dropped, dropped=%d", svc.Dropped())
	}
}

func TestNotifierServiceDropsWhenFull(t *testing.T) {
	svc := NewNotifierService(1, &recordingNotifier{})
	// ohne Start bleibt die Warteschlange voll
	svc.NotifyAttendance(models.AttendanceEvent{ID: 1}, "Alice")
	svc.NotifyAttendance(models.AttendanceEvent{ID: 2}, "Bob")
	if svc.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", svc.Dropped())
	}
}
