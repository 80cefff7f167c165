package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/matcher"
	"github.com/kozaktomas/face-matcher/internal/recognizer"
)

func TestStatsHandler_Get(t *testing.T) {
	handler := NewStatsHandler(newTestRecognizer(t, &fakeDetector{}, knownFaces()...))

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusOK)

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)
	if stats.Identities != 2 || stats.Dim != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Threshold != 0.6 || stats.Index != "linear" || stats.Persistent {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestStatsHandler_RebuildIndexLinear(t *testing.T) {
	handler := NewStatsHandler(newTestRecognizer(t, &fakeDetector{}, knownFaces()...))

	recorder := httptest.NewRecorder()
	handler.RebuildIndex(recorder, httptest.NewRequest("POST", "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestStatsHandler_RebuildIndexHNSW(t *testing.T) {
	reg := matcher.NewRegistry(2)
	for _, face := range knownFaces() {
		if err := reg.Add(face); err != nil {
			t.Fatalf("failed to add face: %v", err)
		}
	}
	index := matcher.NewHNSWIndex()
	index.SetPath(filepath.Join(t.TempDir(), "faces.hnsw"))
	rec := recognizer.New(&fakeDetector{}, matcher.NewMatcher(reg, 0.6, matcher.WithHNSW(index)))
	handler := NewStatsHandler(rec)

	recorder := httptest.NewRecorder()
	handler.RebuildIndex(recorder, httptest.NewRequest("POST", "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)

	var resp RebuildIndexResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 2 || !resp.Saved {
		t.Errorf("unexpected response %+v", resp)
	}

	recorder = httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/stats", nil))
	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)
	if stats.Index != "hnsw" {
		t.Errorf("expected index 'hnsw', got '%s'", stats.Index)
	}
}
