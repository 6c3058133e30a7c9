package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"forgescan/scan-engine/internal/broadcast"
	"forgescan/scan-engine/internal/model"
)

const keepAliveInterval = 15 * time.Second

// EventsHandler streams the scan topic as server-sent events. The stream
// opens with the current status and ends after a terminal status.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "streaming unsupported"})
		return
	}

	topic := broadcast.ScanTopic(scanID)
	// Subscribe before reading the snapshot so no transition is missed.
	sub := s.events.Subscribe(topic, broadcast.DefaultBuffer)
	defer sub.Close()

	scan, _, err := s.svc.Scan(r.Context(), scanID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := broadcast.Event{Topic: topic, Status: string(scan.Status), Timestamp: time.Now().UTC()}
	if !s.writeEvent(w, snapshot) || scan.Status.Terminal() {
		flusher.Flush()
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open || !s.writeEvent(w, ev) {
				return
			}
			flusher.Flush()
			if ev.Status != "" && model.ScanState(ev.Status).Terminal() {
				return
			}
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, ev broadcast.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode event", "topic", ev.Topic, "err", err)
		return true
	}
	name := "status"
	if ev.Progress != nil {
		name = "progress"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err == nil
}
