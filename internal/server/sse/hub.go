package sse

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"face-attendance-go/internal/core/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Message ist ein einzelnes Server-Sent-Event
type Message struct {
	Event string
	Data  []byte
}

// Client repräsentiert einen einzelnen verbundenen SSE-Client
type Client chan Message

// Hub verwaltet die Menge der aktiven Clients und sendet Broadcasts an sie
type Hub struct {
	// Registrierte Clients
	clients map[Client]bool

	// Eingehende Nachrichten von der Anwendung
	broadcast chan Message

	register   chan Client
	unregister chan Client

	// done wird geschlossen, wenn Run endet
	done chan struct{}

	// Mutex zum Schutz des simultanen Zugriffs auf die Clients-Map
	mu sync.Mutex

	loc *time.Location
}

// AttendanceData ist die Nutzlast eines attendance-Events
type AttendanceData struct {
	ID         uint             `json:"id"`
	PersonID   uint             `json:"person_id"`
	Name       string           `json:"name"`
	Kind       models.EventKind `json:"kind"`
	Timestamp  time.Time        `json:"timestamp"`
	Confidence float64          `json:"confidence"`
}

// NewHub erstellt eine neue Hub-Instanz; Zeitstempel werden in loc gesendet
func NewHub(loc *time.Location) *Hub {
	if loc == nil {
		loc = time.Local
	}
	return &Hub{
		broadcast:  make(chan Message, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		clients:    make(map[Client]bool),
		loc:        loc,
	}
}

// Run startet die Verarbeitungsschleife des Hubs, bis ctx endet.
// Dies sollte in einer separaten Goroutine ausgeführt werden.
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE hub started")
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client)
		}
		h.mu.Unlock()
		close(h.done)
		log.Info("SSE hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount liefert die Zahl verbundener Clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Register registriert einen neuen Client am Hub; false, wenn der Hub schon beendet ist
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister meldet einen Client vom Hub ab
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sendet ein Event an alle registrierten Clients, ohne zu blockieren
func (h *Hub) Broadcast(event string, data []byte) {
	select {
	case h.broadcast <- Message{Event: event, Data: data}:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// NotifyAttendance implementiert attendance.Notifier
func (h *Hub) NotifyAttendance(event models.AttendanceEvent, personName string) {
	data, err := json.Marshal(AttendanceData{
		ID:         event.ID,
		PersonID:   event.PersonID,
		Name:       personName,
		Kind:       event.Kind,
		Timestamp:  event.Timestamp.In(h.loc),
		Confidence: event.Confidence,
	})
	if err != nil {
		log.Errorf("Failed to marshal attendance event for SSE: %v", err)
		return
	}
	h.Broadcast("attendance", data)
}

// Handler liefert den gin-Handler für den Event-Stream
func (h *Hub) Handler(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(Client, 10)
	if !h.Register(client) {
		c.Status(503)
		return
	}
	defer h.Unregister(client)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, string(msg.Data))
			return true
		}
	})
}
