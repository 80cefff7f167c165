package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-matcher/internal/faceclient"
	"github.com/kozaktomas/face-matcher/internal/matcher"
	"github.com/kozaktomas/face-matcher/internal/recognizer"
)

// fakeDetector returns canned faces instead of calling the face service
type fakeDetector struct {
	embeddings [][]float32
	err        error
}

func (f *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) ([]faceclient.Face, error) {
	if f.err != nil {
		return nil, f.err
	}
	faces := make([]faceclient.Face, len(f.embeddings))
	for i, emb := range f.embeddings {
		faces[i] = faceclient.Face{FaceIndex: i, Dim: len(emb), Embedding: emb, DetScore: 0.99}
	}
	return faces, nil
}

// newTestRecognizer creates a recognizer over a 2-dimensional registry holding known
func newTestRecognizer(t *testing.T, detector recognizer.FaceDetector, known ...matcher.KnownFace) *recognizer.Recognizer {
	t.Helper()
	reg := matcher.NewRegistry(2)
	for _, face := range known {
		if err := reg.Add(face); err != nil {
			t.Fatalf("failed to add %s: %v", face.ID, err)
		}
	}
	return recognizer.New(detector, matcher.NewMatcher(reg, 0.6))
}

// testImageBase64 returns a small base64-encoded PNG
func testImageBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var reader *strings.Reader
	switch b := body.(type) {
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// assertFailure checks a recognition failure body
func assertFailure(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result FailureResponse
	parseJSONResponse(t, recorder, &result)
	if result.Status != "failed" {
		t.Errorf("expected status 'failed', got '%s'", result.Status)
	}
	if result.Message != expectedMessage {
		t.Errorf("expected message '%s', got '%s'", expectedMessage, result.Message)
	}
}
