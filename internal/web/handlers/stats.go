package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/recognizer"
)

// StatsHandler handles statistics and index maintenance endpoints
type StatsHandler struct {
	recognizer *recognizer.Recognizer
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(rec *recognizer.Recognizer) *StatsHandler {
	return &StatsHandler{recognizer: rec}
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	Identities int     `json:"identities"`
	Dim        int     `json:"dim"`
	Threshold  float64 `json:"threshold"`
	Index      string  `json:"index"`
	Persistent bool    `json:"persistent"`
}

// Get returns registry statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	m := h.recognizer.Matcher()
	index := config.IndexLinear
	if m.Index() != nil {
		index = config.IndexHNSW
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Identities: m.Registry().Len(),
		Dim:        m.Registry().Dim(),
		Threshold:  m.Threshold(),
		Index:      index,
		Persistent: h.recognizer.Persistent(),
	})
}

// RebuildIndexResponse represents the result of an index rebuild
type RebuildIndexResponse struct {
	Count      int   `json:"count"`
	DurationMs int64 `json:"duration_ms"`
	Saved      bool  `json:"saved"`
}

// RebuildIndex rebuilds the HNSW index from the registry and persists it
func (h *StatsHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	m := h.recognizer.Matcher()
	index := m.Index()
	if index == nil {
		respondError(w, http.StatusConflict, "index mode is linear, nothing to rebuild")
		return
	}

	start := time.Now()
	if err := index.Build(m.Registry().Snapshot()); err != nil {
		log.Printf("HNSW rebuild failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to rebuild index")
		return
	}
	duration := time.Since(start)

	saved := false
	if index.Path() != "" {
		if err := index.Save(); err != nil {
			log.Printf("Warning: failed to save HNSW index: %v", err)
		} else {
			saved = true
		}
	}

	log.Printf("HNSW index rebuilt: %d faces in %v", index.Count(), duration)
	respondJSON(w, http.StatusOK, RebuildIndexResponse{
		Count:      index.Count(),
		DurationMs: duration.Milliseconds(),
		Saved:      saved,
	})
}
