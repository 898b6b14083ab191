// Package report leitet Tages- und Monatsberichte aus dem Event-Store ab.
// Alle Builder sind reine Funktionen über Personen und Ereignissen.
package report

import (
	"sort"
	"time"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/util/timezone"
)

// Options steuert Zeitzone und Verspätungsregel
type Options struct {
	Location         *time.Location
	WorkStartHour    int
	WorkStartMinute  int
	LateGraceMinutes int
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// isLate prüft, ob ein Check-in nach Arbeitsbeginn plus Kulanz liegt
func (o Options) isLate(checkIn time.Time) bool {
	lt := checkIn.In(o.location())
	deadline := time.Date(lt.Year(), lt.Month(), lt.Day(), o.WorkStartHour, o.WorkStartMinute, 0, 0, o.location()).
		Add(time.Duration(o.LateGraceMinutes) * time.Minute)
	return lt.After(deadline)
}

// DailyRow ist eine Zeile pro Person und lokalem Tag. Fehlende Tage bleiben als leere Zeile stehen.
type DailyRow struct {
	PersonID uint           `json:"person_id"`
	Name     string         `json:"name"`
	Date     string         `json:"date"`
	CheckIn  *time.Time     `json:"check_in"`
	CheckOut *time.Time     `json:"check_out"`
	Duration *time.Duration `json:"duration"`
	Late     bool           `json:"late"`
}

// DailyReport umfasst alle Zeilen eines Datumsbereichs
type DailyReport struct {
	From string     `json:"from"`
	To   string     `json:"to"`
	Rows []DailyRow `json:"rows"`
}

// MonthlyRow fasst einen Monat pro Person zusammen
type MonthlyRow struct {
	PersonID        uint          `json:"person_id"`
	Name            string        `json:"name"`
	DaysPresent     int           `json:"days_present"`
	EarliestCheckIn *time.Time    `json:"earliest_check_in"`
	LatestCheckOut  *time.Time    `json:"latest_check_out"`
	TotalDuration   time.Duration `json:"total_duration"`
	WorkingDays     int           `json:"working_days"`
	LateDays        int           `json:"late_days"`
	AttendanceRate  float64       `json:"attendance_rate"`
}

// MonthlyReport ist die Monatsübersicht
type MonthlyReport struct {
	Month string       `json:"month"`
	Rows  []MonthlyRow `json:"rows"`
}

type dayKey struct {
	person uint
	date   string
}

// indexEvents gruppiert Ereignisse nach Person und lokalem Tag
func indexEvents(events []models.AttendanceEvent, loc *time.Location) map[dayKey][]models.AttendanceEvent {
	idx := make(map[dayKey][]models.AttendanceEvent)
	for _, ev := range events {
		k := dayKey{ev.PersonID, timezone.LocalDate(ev.Timestamp, loc)}
		idx[k] = append(idx[k], ev)
	}
	for k := range idx {
		evs := idx[k]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
	}
	return idx
}

func sortedPersons(persons []models.Person) []models.Person {
	out := append([]models.Person(nil), persons...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// firstOf liefert das erste Ereignis einer Art
func firstOf(events []models.AttendanceEvent, kind models.EventKind) *models.AttendanceEvent {
	for i := range events {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}

// buildRow berechnet check_in, check_out, Dauer und Verspätung eines Tages
func buildRow(p models.Person, date string, events []models.AttendanceEvent, opts Options) DailyRow {
	row := DailyRow{PersonID: p.ID, Name: p.Name, Date: date}
	in := firstOf(events, models.CheckIn)
	if in == nil {
		return row
	}
	loc := opts.location()
	ci := in.Timestamp.In(loc)
	row.CheckIn = &ci
	row.Late = opts.isLate(ci)

	if out := firstOf(events, models.CheckOut); out != nil && out.Timestamp.After(in.Timestamp) {
		co := out.Timestamp.In(loc)
		d := co.Sub(ci)
		row.CheckOut = &co
		row.Duration = &d
	}
	return row
}

// BuildDaily erstellt eine Zeile für jede Person und jeden Tag zwischen from und to (inklusive)
func BuildDaily(persons []models.Person, events []models.AttendanceEvent, from, to time.Time, opts Options) *DailyReport {
	loc := opts.location()
	days := timezone.Days(from, to, loc)
	idx := indexEvents(events, loc)

	report := &DailyReport{
		From: timezone.LocalDate(from, loc),
		To:   timezone.LocalDate(to, loc),
		Rows: make([]DailyRow, 0, len(persons)*len(days)),
	}
	for _, p := range sortedPersons(persons) {
		for _, day := range days {
			date := day.Format(timezone.DateLayout)
			report.Rows = append(report.Rows, buildRow(p, date, idx[dayKey{p.ID, date}], opts))
		}
	}
	return report
}

// MonthRange liefert den ersten und letzten lokalen Tag eines Monats
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	return first, last
}

// ParseMonth liest "YYYY-MM"
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01", s, loc)
}

// WorkingDays zählt Montag bis Freitag zwischen from und to (inklusive)
func WorkingDays(from, to time.Time, loc *time.Location) int {
	n := 0
	for _, d := range timezone.Days(from, to, loc) {
		if isWorkingDay(d) {
			n++
		}
	}
	return n
}

func isWorkingDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// clockOf liefert die Uhrzeit als Dauer seit Mitternacht
func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// BuildMonthly fasst einen Monat pro Person zusammen. Frühestes Check-in und spätestes
// Check-out vergleichen die Uhrzeit, nicht das Datum.
func BuildMonthly(persons []models.Person, events []models.AttendanceEvent, month time.Time, opts Options) *MonthlyReport {
	loc := opts.location()
	lm := month.In(loc)
	first, last := MonthRange(lm.Year(), lm.Month(), loc)
	daily := BuildDaily(persons, events, first, last, opts)
	working := WorkingDays(first, last, loc)

	rows := make([]MonthlyRow, 0, len(persons))
	byPerson := make(map[uint]int)
	for _, p := range sortedPersons(persons) {
		byPerson[p.ID] = len(rows)
		rows = append(rows, MonthlyRow{PersonID: p.ID, Name: p.Name, WorkingDays: working})
	}

	presentOnWorkdays := make(map[uint]int)
	for _, dr := range daily.Rows {
		if dr.CheckIn == nil {
			continue
		}
		row := &rows[byPerson[dr.PersonID]]
		row.DaysPresent++
		if dr.Late {
			row.LateDays++
		}
		if isWorkingDay(*dr.CheckIn) {
			presentOnWorkdays[dr.PersonID]++
		}
		if row.EarliestCheckIn == nil || clockOf(*dr.CheckIn) < clockOf(*row.EarliestCheckIn) {
			ci := *dr.CheckIn
			row.EarliestCheckIn = &ci
		}
		if dr.CheckOut != nil {
			if row.LatestCheckOut == nil || clockOf(*dr.CheckOut) > clockOf(*row.LatestCheckOut) {
				co := *dr.CheckOut
				row.LatestCheckOut = &co
			}
		}
		if dr.Duration != nil {
			row.TotalDuration += *dr.Duration
		}
	}

	for i := range rows {
		if working > 0 {
			rows[i].AttendanceRate = float64(presentOnWorkdays[rows[i].PersonID]) / float64(working)
		}
	}

	return &MonthlyReport{
		Month: first.Format("2006-01"),
		Rows:  rows,
	}
}
