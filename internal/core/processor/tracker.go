package processor

import (
	"sort"
	"time"

	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"
)

// SlotState ist der Zustand eines verfolgten Gesichts
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotSeen
	SlotConfirmed
)

func (s SlotState) String() string {
	switch s {
	case SlotSeen:
		return "seen"
	case SlotConfirmed:
		return "confirmed"
	default:
		return "empty"
	}
}

// Vote ist eine einzelne Erkennung innerhalb des Fensters; PersonID 0 bedeutet Unknown
type Vote struct {
	PersonID   uint
	Name       string
	Confidence float64
}

// Detection ist ein erkanntes und abgeglichenes Gesicht eines Frames
type Detection struct {
	Box  vision.Region
	Vote Vote
}

// Assignment ist das Ergebnis des Trackers für eine Detection
type Assignment struct {
	SlotID    int
	Box       vision.Region
	State     SlotState
	Candidate uint
	Count     int

	// nur bei SlotConfirmed gesetzt
	PersonID   uint
	Name       string
	Confidence float64

	// Forward: die Beobachtung soll an den Event-Writer gehen
	Forward bool
	// Switched: die Identität wurde in diesem Frame bestätigt oder gewechselt
	Switched bool
}

// Label liefert den Anzeigetext für die Annotation
func (a Assignment) Label() string {
	if a.State == SlotConfirmed {
		return a.Name
	}
	return "Unknown"
}

type slot struct {
	id    int
	box   vision.Region
	state SlotState
	votes []Vote

	candidate uint
	count     int

	confirmed     uint
	confirmedName string

	lastSeen      time.Time
	lastForwarded time.Time
}

// TrackerOptions steuert Fenstergröße, Ablauf und Weiterleitungstakt
type TrackerOptions struct {
	Window          int
	Expire          time.Duration
	MatchIoU        float64
	ObserveInterval time.Duration
}

// Tracker hält pro verfolgtem Gesicht ein rollendes Fenster der letzten Erkennungen.
// Eine Identität gilt erst als bestätigt, wenn sie die Mehrheit des Fensters stellt.
type Tracker struct {
	opts     TrackerOptions
	majority int
	slots    []*slot
	nextID   int
}

// NewTracker erstellt einen neuen Tracker
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Window < 1 {
		opts.Window = 1
	}
	if opts.MatchIoU <= 0 {
		opts.MatchIoU = 0.3
	}
	return &Tracker{
		opts:     opts,
		majority: opts.Window/2 + 1,
		nextID:   1,
	}
}

// Majority liefert die nötige Stimmenzahl
func (t *Tracker) Majority() int {
	return t.majority
}

// Len liefert die Zahl aktiver Slots
func (t *Tracker) Len() int {
	return len(t.slots)
}

// Update ordnet die Detections eines Frames den Slots zu und liefert je Detection eine Zuordnung
func (t *Tracker) Update(now time.Time, detections []Detection) []Assignment {
	t.expire(now)

	matched := t.associate(detections)
	assignments := make([]Assignment, len(detections))
	for i, det := range detections {
		s := matched[i]
		if s == nil {
			s = &slot{id: t.nextID, state: SlotEmpty}
			t.nextID++
			t.slots = append(t.slots, s)
		}
		s.box = det.Box
		s.lastSeen = now
		assignments[i] = t.vote(s, det.Vote, now)
	}
	return assignments
}

// expire entfernt Slots, die länger als Expire nicht gesehen wurden
func (t *Tracker) expire(now time.Time) {
	kept := t.slots[:0]
	for _, s := range t.slots {
		if t.opts.Expire > 0 && now.Sub(s.lastSeen) > t.opts.Expire {
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(t.slots); i++ {
		t.slots[i] = nil
	}
	t.slots = kept
}

// associate verbindet Detections gierig nach absteigender IoU mit bestehenden Slots
func (t *Tracker) associate(detections []Detection) []*slot {
	type pair struct {
		det, slot int
		iou       float64
	}
	var pairs []pair
	for di, det := range detections {
		for si, s := range t.slots {
			if iou := vision.IoU(det.Box, s.box); iou >= t.opts.MatchIoU {
				pairs = append(pairs, pair{di, si, iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	matched := make([]*slot, len(detections))
	used := make(map[int]bool)
	for _, p := range pairs {
		if matched[p.det] != nil || used[p.slot] {
			continue
		}
		matched[p.det] = t.slots[p.slot]
		used[p.slot] = true
	}
	return matched
}

// vote nimmt eine Stimme auf und wendet die Zustandsübergänge an
func (t *Tracker) vote(s *slot, v Vote, now time.Time) Assignment {
	s.votes = append(s.votes, v)
	if len(s.votes) > t.opts.Window {
		s.votes = s.votes[len(s.votes)-t.opts.Window:]
	}

	winner, count, conf, name := t.tally(s.votes)
	switched := false

	switch {
	case winner != recognition.Unknown && count >= t.majority:
		if s.state != SlotConfirmed || s.confirmed != winner {
			s.confirmed = winner
			s.confirmedName = name
			s.state = SlotConfirmed
			s.lastForwarded = time.Time{}
			switched = true
		}
	case s.state != SlotConfirmed:
		// Unknown verdrängt nie eine bestätigte Identität
		s.state = SlotSeen
	}
	s.candidate, s.count = winner, count

	a := Assignment{
		SlotID:    s.id,
		Box:       s.box,
		State:     s.state,
		Candidate: s.candidate,
		Count:     s.count,
		Switched:  switched,
	}
	if s.state != SlotConfirmed {
		return a
	}

	a.PersonID = s.confirmed
	a.Name = s.confirmedName
	a.Confidence = meanConfidence(s.votes, s.confirmed)
	if a.Confidence == 0 {
		a.Confidence = conf
	}
	if switched || s.lastForwarded.IsZero() ||
		(t.opts.ObserveInterval > 0 && now.Sub(s.lastForwarded) >= t.opts.ObserveInterval) {
		// die aktuelle Stimme muss die bestätigte Identität tragen
		if v.PersonID == s.confirmed {
			a.Forward = true
			s.lastForwarded = now
		}
	}
	return a
}

// tally liefert die häufigste Identität im Fenster; bei Gleichstand gewinnt die jüngere Stimme
func (t *Tracker) tally(votes []Vote) (winner uint, count int, conf float64, name string) {
	counts := make(map[uint]int)
	lastIdx := make(map[uint]int)
	names := make(map[uint]string)
	for i, v := range votes {
		counts[v.PersonID]++
		lastIdx[v.PersonID] = i
		names[v.PersonID] = v.Name
	}
	best := -1
	for id, c := range counts {
		if c > count || (c == count && lastIdx[id] > best) {
			winner, count, best = id, c, lastIdx[id]
		}
	}
	return winner, count, meanConfidence(votes, winner), names[winner]
}

// meanConfidence mittelt die Konfidenz aller Stimmen für eine Person
func meanConfidence(votes []Vote, personID uint) float64 {
	var sum float64
	var n int
	for _, v := range votes {
		if v.PersonID == personID {
			sum += v.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
