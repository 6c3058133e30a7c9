package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/orchestrator"
	"forgescan/scan-engine/internal/store"
)

type scanRequest struct {
	Target   string `json:"target"`
	ScanType string `json:"scanType"`
	ScanMode string `json:"scanMode,omitempty"`
	Options  struct {
		// Timeout is in seconds.
		Timeout    int      `json:"timeout,omitempty"`
		ExtraArgs  []string `json:"extraArgs,omitempty"`
		Sequential bool     `json:"sequential,omitempty"`
	} `json:"options"`
}

func (s *Server) CreateScanHandler(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "invalid json"})
		return
	}
	if req.Options.Timeout < 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "timeout must not be negative"})
		return
	}

	opts := model.Options{
		Timeout:   time.Duration(req.Options.Timeout) * time.Second,
		ExtraArgs: req.Options.ExtraArgs,
	}
	if req.Options.Sequential {
		opts.ExecMode = model.ExecSequential
	}

	created, err := s.svc.CreateScan(r.Context(), orchestrator.Request{
		Target:   req.Target,
		ScanType: req.ScanType,
		ScanMode: req.ScanMode,
		Options:  opts,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, created)
}

type scanResponse struct {
	Scan            model.Scan            `json:"scan"`
	Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
	Summary         model.Summary         `json:"summary"`
}

func (s *Server) GetScanHandler(w http.ResponseWriter, r *http.Request) {
	scan, vulns, err := s.svc.Scan(r.Context(), chi.URLParam(r, "scanID"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if vulns == nil {
		vulns = []model.Vulnerability{}
	}
	render.JSON(w, r, scanResponse{
		Scan:            scan,
		Vulnerabilities: vulns,
		Summary:         model.Summarize(vulns),
	})
}

func (s *Server) CancelScanHandler(w http.ResponseWriter, r *http.Request) {
	ok := s.svc.CancelScan(r.Context(), chi.URLParam(r, "scanID"))
	if !ok {
		render.Status(r, http.StatusBadRequest)
	}
	render.JSON(w, r, map[string]bool{"cancelled": ok})
}

// CountScansHandler counts scans by optional status, target and since
// (RFC 3339) query parameters.
func (s *Server) CountScansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Status: model.ScanState(strings.ToUpper(q.Get("status"))),
		Target: q.Get("target"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "since must be RFC 3339"})
			return
		}
		f.Since = t
	}

	n, err := s.svc.CountScans(r.Context(), f)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	render.JSON(w, r, map[string]int{"count": n})
}
