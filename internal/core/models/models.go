package models

import (
	"time"

	"face-attendance-go/internal/core/vision"

	"gorm.io/datatypes"
)

// EventKind ist die Art eines Anwesenheitsereignisses
type EventKind string

const (
	CheckIn  EventKind = "CHECK_IN"
	CheckOut EventKind = "CHECK_OUT"
)

// PersonStatus beschreibt den Tagesstatus einer Person
type PersonStatus string

const (
	StatusAbsent     PersonStatus = "absent"
	StatusCheckedIn  PersonStatus = "checked_in"
	StatusCheckedOut PersonStatus = "checked_out"
)

// Person repräsentiert eine angelernte Person; Personalnummer und Abteilung sind optional
type Person struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	EmployeeID *string   `gorm:"size:64" json:"employee_id,omitempty"`
	Department *string   `gorm:"size:128" json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName legt den Tabellennamen fest
func (Person) TableName() string { return "persons" }

// AttendanceEvent ist ein einzelnes Check-in oder Check-out; Zeitstempel in UTC
type AttendanceEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PersonID   uint      `gorm:"not null;index:idx_attendance_person_ts,priority:1" json:"person_id"`
	Person     Person    `gorm:"foreignKey:PersonID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Kind       EventKind `gorm:"type:varchar(16);not null;check:chk_attendance_kind,kind IN ('CHECK_IN','CHECK_OUT')" json:"kind"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index:idx_attendance_person_ts,priority:2" json:"timestamp"`
	Confidence float64   `gorm:"not null" json:"confidence"`
}

// TableName legt den Tabellennamen fest
func (AttendanceEvent) TableName() string { return "attendance" }

// Snapshot ist ein gespeichertes Bild zu einem Ereignis
type Snapshot struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	EventID   uint            `gorm:"not null;index" json:"event_id"`
	Event     AttendanceEvent `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"-"`
	Path      string          `gorm:"not null" json:"path"`
	Box       datatypes.JSON  `gorm:"type:json" json:"box,omitempty"` // x, y, w, h der Gesichtsregion
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

// TableName legt den Tabellennamen fest
func (Snapshot) TableName() string { return "snapshots" }

// Observation ist eine bestätigte Erkennung, die an den Event-Writer geht
type Observation struct {
	PersonID   uint
	Name       string
	Confidence float64
	Timestamp  time.Time
	SlotID     int
	Box        vision.Region
	Frame      *vision.Frame // optional, für Snapshots
}

// Statistics fasst den Zustand des Event-Stores zusammen
type Statistics struct {
	Persons       int64      `json:"persons"`
	Events        int64      `json:"events"`
	CheckInsToday int64      `json:"check_ins_today"`
	OpenSessions  int64      `json:"open_sessions"`
	Snapshots     int64      `json:"snapshots"`
	LatestEvent   *time.Time `json:"latest_event,omitempty"`
}
