package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DateLayout ist das Format lokaler Kalendertage
const DateLayout = "2006-01-02"

var (
	currentLocation *time.Location
	mu              sync.RWMutex
)

// Initialize setzt die Zeitzone. Ein leerer Name fällt auf die TZ-Umgebungsvariable
// und danach auf die lokale Zeitzone des Systems zurück.
func Initialize(name string) *time.Location {
	if name == "" {
		name = os.Getenv("TZ")
	}

	loc := time.Local
	if name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			log.Warnf("Failed to load timezone %s: %v. Falling back to system local time.", name, err)
		} else {
			loc = l
		}
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()

	log.Infof("Reporting timezone set to %s", loc)
	return loc
}

// Location liefert die konfigurierte Zeitzone
func Location() *time.Location {
	mu.RLock()
	loc := currentLocation
	mu.RUnlock()
	if loc == nil {
		return Initialize("")
	}
	return loc
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(Location())
}

// Format formatiert ein time.Time-Objekt mit der konfigurierten Zeitzone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// DayStart liefert Mitternacht des lokalen Kalendertags von t
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// DayBounds liefert den lokalen Tag von t als halboffenes UTC-Intervall [start, end)
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := DayStart(t, loc)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}

// LocalDate liefert den lokalen Kalendertag als "YYYY-MM-DD"
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ParseDate liest einen lokalen Kalendertag
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, loc)
}

// Days liefert alle lokalen Tage zwischen from und to (jeweils inklusive)
func Days(from, to time.Time, loc *time.Location) []time.Time {
	var days []time.Time
	for d := DayStart(from, loc); !d.After(DayStart(to, loc)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
