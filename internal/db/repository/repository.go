package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Personen
	CreatePerson(ctx context.Context, person *models.Person) error
	GetPersonByID(ctx context.Context, id uint) (*models.Person, error)
	GetPersonByName(ctx context.Context, name string) (*models.Person, error)
	UpdatePerson(ctx context.Context, person *models.Person) error
	ListPersons(ctx context.Context) ([]models.Person, error)

	// Anwesenheitsereignisse; Intervalle sind halboffen [from, to) in UTC
	SaveEvent(ctx context.Context, event *models.AttendanceEvent) error
	EventsBetween(ctx context.Context, from, to time.Time) ([]models.AttendanceEvent, error)
	EventsForPerson(ctx context.Context, personID uint, from, to time.Time) ([]models.AttendanceEvent, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error
	SnapshotsForEvent(ctx context.Context, eventID uint) ([]models.Snapshot, error)
	SnapshotsBefore(ctx context.Context, cutoff time.Time) ([]models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id uint) error

	// Statistik
	GetStatistics(ctx context.Context, dayStart, dayEnd time.Time) (models.Statistics, error)

	// Transaktionen
	WithTx(ctx context.Context, fn func(repo Repository) error) error
	Ping(ctx context.Context) error
}

// GormRepository implementiert die Repository-Schnittstelle für SQLite und PostgreSQL
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository erstellt eine neue Repository-Instanz
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// storeErr kennzeichnet Datenbankfehler als StoreUnavailable
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if failure.KindOf(err) != failure.Unknown {
		return err
	}
	return failure.New(failure.StoreUnavailable, op, err)
}

// Personen

// CreatePerson legt eine Person an; doppelte Namen werden als DuplicateEnrolment gemeldet
func (r *GormRepository) CreatePerson(ctx context.Context, person *models.Person) error {
	if strings.TrimSpace(person.Name) == "" {
		return fmt.Errorf("person name must not be empty")
	}
	err := r.db.WithContext(ctx).Create(person).Error
	if err != nil && isUniqueViolation(err) {
		return failure.Errorf(failure.DuplicateEnrolment, "repo.CreatePerson", "person %q already exists", person.Name)
	}
	return storeErr("repo.CreatePerson", err)
}

// GetPersonByID holt eine Person anhand ihrer ID
func (r *GormRepository) GetPersonByID(ctx context.Context, id uint) (*models.Person, error) {
	var person models.Person
	result := r.db.WithContext(ctx).First(&person, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("repo.GetPersonByID", result.Error)
	}
	return &person, nil
}

// GetPersonByName holt eine Person anhand ihres Namens
func (r *GormRepository) GetPersonByName(ctx context.Context, name string) (*models.Person, error) {
	var person models.Person
	result := r.db.WithContext(ctx).Where("name = ?", name).First(&person)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("repo.GetPersonByName", result.Error)
	}
	return &person, nil
}

// UpdatePerson speichert die Stammdaten einer vorhandenen Person
func (r *GormRepository) UpdatePerson(ctx context.Context, person *models.Person) error {
	if person.ID == 0 {
		return fmt.Errorf("person has no ID")
	}
	err := r.db.WithContext(ctx).Model(person).
		Select("name", "employee_id", "department").
		Updates(person).Error
	if err != nil && isUniqueViolation(err) {
		return failure.Errorf(failure.DuplicateEnrolment, "repo.UpdatePerson", "person %q already exists", person.Name)
	}
	return storeErr("repo.UpdatePerson", err)
}

// ListPersons liefert alle Personen nach ID sortiert
func (r *GormRepository) ListPersons(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&persons).Error; err != nil {
		return nil, storeErr("repo.ListPersons", err)
	}
	return persons, nil
}

// Anwesenheitsereignisse

// SaveEvent hängt ein Ereignis an; Ereignisse werden nie verändert
func (r *GormRepository) SaveEvent(ctx context.Context, event *models.AttendanceEvent) error {
	if event.ID != 0 {
		return fmt.Errorf("attendance events are append-only (event %d already stored)", event.ID)
	}
	event.Timestamp = event.Timestamp.UTC()
	return storeErr("repo.SaveEvent", r.db.WithContext(ctx).Omit(clause.Associations).Create(event).Error)
}

// EventsBetween liefert alle Ereignisse im Intervall, nach Zeit sortiert
func (r *GormRepository) EventsBetween(ctx context.Context, from, to time.Time) ([]models.AttendanceEvent, error) {
	var events []models.AttendanceEvent
	err := r.db.WithContext(ctx).
		Where(`"timestamp" >= ? AND "timestamp" < ?`, from.UTC(), to.UTC()).
		Order(`"timestamp" ASC, id ASC`).
		Find(&events).Error
	if err != nil {
		return nil, storeErr("repo.EventsBetween", err)
	}
	return events, nil
}

// EventsForPerson liefert die Ereignisse einer Person im Intervall
func (r *GormRepository) EventsForPerson(ctx context.Context, personID uint, from, to time.Time) ([]models.AttendanceEvent, error) {
	var events []models.AttendanceEvent
	err := r.db.WithContext(ctx).
		Where(`person_id = ? AND "timestamp" >= ? AND "timestamp" < ?`, personID, from.UTC(), to.UTC()).
		Order(`"timestamp" ASC, id ASC`).
		Find(&events).Error
	if err != nil {
		return nil, storeErr("repo.EventsForPerson", err)
	}
	return events, nil
}

// Snapshots

// SaveSnapshot speichert einen Snapshot-Eintrag
func (r *GormRepository) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	return storeErr("repo.SaveSnapshot", r.db.WithContext(ctx).Omit(clause.Associations).Create(snapshot).Error)
}

// SnapshotsForEvent liefert die Snapshots eines Ereignisses
func (r *GormRepository) SnapshotsForEvent(ctx context.Context, eventID uint) ([]models.Snapshot, error) {
	var snapshots []models.Snapshot
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").Find(&snapshots).Error; err != nil {
		return nil, storeErr("repo.SnapshotsForEvent", err)
	}
	return snapshots, nil
}

// SnapshotsBefore liefert Snapshots, die vor dem Stichtag angelegt wurden
func (r *GormRepository) SnapshotsBefore(ctx context.Context, cutoff time.Time) ([]models.Snapshot, error) {
	var snapshots []models.Snapshot
	if err := r.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Order("id ASC").Find(&snapshots).Error; err != nil {
		return nil, storeErr("repo.SnapshotsBefore", err)
	}
	return snapshots, nil
}

// DeleteSnapshot löscht einen Snapshot-Eintrag
func (r *GormRepository) DeleteSnapshot(ctx context.Context, id uint) error {
	return storeErr("repo.DeleteSnapshot", r.db.WithContext(ctx).Delete(&models.Snapshot{}, id).Error)
}

// Statistik

// GetStatistics sammelt Kennzahlen; dayStart/dayEnd begrenzen den heutigen Tag in UTC
func (r *GormRepository) GetStatistics(ctx context.Context, dayStart, dayEnd time.Time) (models.Statistics, error) {
	var stats models.Statistics
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Person{}).Count(&stats.Persons).Error; err != nil {
		return stats, storeErr("repo.GetStatistics", err)
	}
	if err := db.Model(&models.AttendanceEvent{}).Count(&stats.Events).Error; err != nil {
		return stats, storeErr("repo.GetStatistics", err)
	}
	if err := db.Model(&models.Snapshot{}).Count(&stats.Snapshots).Error; err != nil {
		return stats, storeErr("repo.GetStatistics", err)
	}

	today, err := r.EventsBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return stats, err
	}
	open := make(map[uint]bool)
	for _, ev := range today {
		switch ev.Kind {
		case models.CheckIn:
			stats.CheckInsToday++
			open[ev.PersonID] = true
		case models.CheckOut:
			delete(open, ev.PersonID)
		}
	}
	stats.OpenSessions = int64(len(open))

	var latest models.AttendanceEvent
	result := db.Order(`"timestamp" DESC`).Limit(1).Find(&latest)
	if result.Error != nil {
		return stats, storeErr("repo.GetStatistics", result.Error)
	}
	if result.RowsAffected > 0 {
		ts := latest.Timestamp
		stats.LatestEvent = &ts
	}
	return stats, nil
}

// Transaktionen

// WithTx führt fn in einer Datenbanktransaktion aus
func (r *GormRepository) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	// Fehler aus fn werden unverändert weitergereicht
	var fnErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&GormRepository{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return storeErr("repo.WithTx", err)
}

// Ping prüft die Verbindung zur Datenbank
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return storeErr("repo.Ping", err)
	}
	return storeErr("repo.Ping", sqlDB.PingContext(ctx))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
