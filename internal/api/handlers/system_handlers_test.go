package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/processor"

	"github.com/gin-gonic/gin"
)

type fakePipeline struct{}

func (fakePipeline) Stats() processor.Stats {
	return processor.Stats{State: "running", FramesRead: 42, Observations: 3}
}

type fakeWriter struct{}

func (fakeWriter) Stats() processor.WriterStats {
	return processor.WriterStats{Enqueued: 3, Written: 2, Dropped: 1}
}

func TestGetStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		ping   error
		want   int
		wantDB string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &StatusHandler{
				DataDir:   t.TempDir(),
				Pipeline:  fakePipeline{},
				Writer:    fakeWriter{},
				SSEClient: func() int { return 2 },
				Ping:      func(context.Context) error { return tt.ping },
				Today: func(context.Context) (models.Statistics, error) {
					return models.Statistics{Persons: 4, CheckInsToday: 1}, nil
				},
			}
			r := gin.New()
			r.GET("/api/status", h.GetStatus)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			var resp struct {
				Store  string `json:"store"`
				System struct {
					Pipeline processor.Stats       `json:"pipeline"`
					Writer   processor.WriterStats `json:"writer"`
				} `json:"system"`
				Today      models.Statistics `json:"today"`
				SSEClients int               `json:"sse_clients"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Store != tt.wantDB {
				t.Errorf("store = %q", resp.Store)
			}
			if resp.System.Pipeline.FramesRead != 42 || resp.System.Writer.Dropped != 1 {
				t.Errorf("counters missing: %+v", resp.System)
			}
			if resp.Today.Persons != 4 || resp.SSEClients != 2 {
				t.Errorf("unexpected extras: %+v clients=%d", resp.Today, resp.SSEClients)
			}
		})
	}
}
