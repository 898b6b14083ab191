package failure

import (
	"errors"
	"fmt"
)

// Kind klassifiziert Fehler an den Komponentengrenzen der Pipeline
type Kind int

const (
	Unknown Kind = iota
	CameraUnavailable
	ModelUnavailable
	BadFrame
	NoFaceFound
	EmbeddingFailed
	GalleryCorrupt
	StoreUnavailable
	DuplicateEnrolment
	ConfigInvalid
)

var kindNames = map[Kind]string{
	Unknown:            "Unknown",
	CameraUnavailable:  "CameraUnavailable",
	ModelUnavailable:   "ModelUnavailable",
	BadFrame:           "BadFrame",
	NoFaceFound:        "NoFaceFound",
	EmbeddingFailed:    "EmbeddingFailed",
	GalleryCorrupt:     "GalleryCorrupt",
	StoreUnavailable:   "StoreUnavailable",
	DuplicateEnrolment: "DuplicateEnrolment",
	ConfigInvalid:      "ConfigInvalid",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error ist ein typisierter Fehler mit Operation und Ursache
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New erstellt einen typisierten Fehler
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf erstellt einen typisierten Fehler mit formatierter Ursache
func Errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf liefert die erste Fehlerart in der Kette oder Unknown
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is prüft, ob irgendein Fehler in der Kette die angegebene Art hat
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// ExitCode bildet einen Fehler auf den Prozess-Exit-Code ab
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case Is(err, ConfigInvalid):
		return 2
	case Is(err, CameraUnavailable):
		return 3
	case Is(err, StoreUnavailable):
		return 4
	default:
		return 1
	}
}
