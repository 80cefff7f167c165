package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/mock"
	"github.com/kozaktomas/face-matcher/internal/faceclient"
	"github.com/kozaktomas/face-matcher/internal/matcher"
)

// fakeDetector returns canned faces and records the calls it receives
type fakeDetector struct {
	faces []faceclient.Face
	err   error
	calls int
}

func (f *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) ([]faceclient.Face, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.faces, nil
}

func faces(embeddings ...[]float32) []faceclient.Face {
	result := make([]faceclient.Face, len(embeddings))
	for i, emb := range embeddings {
		result[i] = faceclient.Face{FaceIndex: i, Dim: len(emb), Embedding: emb, DetScore: 0.99}
	}
	return result
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestRecognizer(t *testing.T, detector FaceDetector, known ...matcher.KnownFace) *Recognizer {
	t.Helper()
	reg := matcher.NewRegistry(2)
	for _, face := range known {
		if err := reg.Add(face); err != nil {
			t.Fatalf("Add(%s) error = %v", face.ID, err)
		}
	}
	return New(detector, matcher.NewMatcher(reg, 0.6))
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{0xFB, 0xFF, 0xBF, 0x01, 0x02}
	tests := []struct {
		name  string
		input string
	}{
		{"standard", base64.StdEncoding.EncodeToString(raw)},
		{"standard unpadded", base64.RawStdEncoding.EncodeToString(raw)},
		{"url safe", base64.URLEncoding.EncodeToString(raw)},
		{"url safe unpadded", base64.RawURLEncoding.EncodeToString(raw)},
		{"data url", "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)},
		{"line breaks", "+/+/\nAQI="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64(tt.input)
			if err != nil {
				t.Fatalf("DecodeBase64() error = %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Errorf("DecodeBase64() = %v, want %v", got, raw)
			}
		})
	}
}

func TestDecodeBase64_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"illegal characters", "not*base64!"},
		{"data url without base64", "data:image/png,abcd"},
		{"data url without comma", "data:image/png;base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBase64(tt.input); !errors.Is(err, ErrInvalidBase64) {
				t.Errorf("error = %v, want ErrInvalidBase64", err)
			}
		})
	}
}

func TestRecognize_ReturnsAcceptedMatches(t *testing.T) {
	detector := &fakeDetector{faces: faces(
		[]float32{0, 0},   // alice
		[]float32{50, 50}, // stranger
		[]float32{1, 1.1}, // bob
	)}
	rec := newTestRecognizer(t, detector,
		matcher.KnownFace{ID: "alice", Embedding: []float32{0, 0}},
		matcher.KnownFace{ID: "bob", Embedding: []float32{1, 1}},
	)

	matches, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString(testImage(t)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].ID != "alice" || matches[0].Confidence != 1 {
		t.Errorf("matches[0] = %+v, want alice with confidence 1", matches[0])
	}
	if matches[1].ID != "bob" {
		t.Errorf("matches[1] = %+v, want bob", matches[1])
	}
}

func TestRecognize_NoFace(t *testing.T) {
	rec := newTestRecognizer(t, &fakeDetector{},
		matcher.KnownFace{ID: "alice", Embedding: []float32{0, 0}},
	)
	_, err := rec.RecognizeImage(context.Background(), testImage(t))
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("error = %v, want ErrNoFace", err)
	}
}

func TestRecognize_EmptyRegistry(t *testing.T) {
	rec := newTestRecognizer(t, &fakeDetector{faces: faces([]float32{0, 0})})
	_, err := rec.RecognizeImage(context.Background(), testImage(t))
	if !errors.Is(err, matcher.ErrEmptyRegistry) {
		t.Errorf("error = %v, want ErrEmptyRegistry", err)
	}
}

func TestRecognize_InvalidInput(t *testing.T) {
	detector := &fakeDetector{faces: faces([]float32{0, 0})}
	rec := newTestRecognizer(t, detector, matcher.KnownFace{ID: "alice", Embedding: []float32{0, 0}})

	_, err := rec.Recognize(context.Background(), "%%%")
	if !errors.Is(err, ErrInvalidBase64) {
		t.Errorf("error = %v, want ErrInvalidBase64", err)
	}
	_, err = rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString([]byte("plain text")))
	if !errors.Is(err, faceclient.ErrUndecodableImage) {
		t.Errorf("error = %v, want ErrUndecodableImage", err)
	}
	if detector.calls != 0 {
		t.Errorf("detector called %d times for invalid input", detector.calls)
	}
}

func TestRecognize_RejectsImageOverPixelLimit(t *testing.T) {
	detector := &fakeDetector{faces: faces([]float32{0, 0})}
	reg := matcher.NewRegistry(2)
	if err := reg.Add(matcher.KnownFace{ID: "alice", Embedding: []float32{0, 0}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	rec := New(detector, matcher.NewMatcher(reg, 0.6), WithMaxPixels(63))

	// testImage is 8x8 = 64 pixels.
	_, err := rec.RecognizeImage(context.Background(), testImage(t))
	if !errors.Is(err, faceclient.ErrUndecodableImage) {
		t.Errorf("error = %v, want ErrUndecodableImage", err)
	}
	if detector.calls != 0 {
		t.Errorf("detector called %d times for oversized image", detector.calls)
	}
}

func TestRecognize_DetectorFailure(t *testing.T) {
	detector := &fakeDetector{err: faceclient.ErrServiceUnavailable}
	rec := newTestRecognizer(t, detector, matcher.KnownFace{ID: "alice", Embedding: []float32{0, 0}})

	_, err := rec.RecognizeImage(context.Background(), testImage(t))
	if !errors.Is(err, faceclient.ErrServiceUnavailable) {
		t.Errorf("error = %v, want ErrServiceUnavailable", err)
	}
}

func TestRecognize_DimensionMismatch(t *testing.T) {
	detector := &fakeDetector{faces: faces([]float32{0, 0, 0})}
	rec := newTestRecognizer(t, detector, matcher.KnownFace{ID: "alice", Embedding: []float32{0, 0}})

	_, err := rec.RecognizeImage(context.Background(), testImage(t))
	if !errors.Is(err, matcher.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestEnroll(t *testing.T) {
	tests := []struct {
		name    string
		faces   []faceclient.Face
		wantErr error
	}{
		{"single face", faces([]float32{0.5, 0.5}), nil},
		{"no face", nil, ErrNoFace},
		{"two faces", faces([]float32{0, 0}, []float32{1, 1}), ErrMultipleFaces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newTestRecognizer(t, &fakeDetector{faces: tt.faces})
			face, err := rec.Enroll(context.Background(), "s-1", "Jan", testImage(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Enroll() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if rec.Matcher().Registry().Len() != 0 {
					t.Error("failed enrollment should not touch the registry")
				}
				return
			}
			if face.ID != "s-1" || face.Name != "Jan" {
				t.Errorf("face = %+v", face)
			}
			if face.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}
		})
	}
}

func TestEnrollEmbedding_GeneratesID(t *testing.T) {
	rec := newTestRecognizer(t, &fakeDetector{})
	face, err := rec.EnrollEmbedding(context.Background(), "", "", []float32{1, 2})
	if err != nil {
		t.Fatalf("EnrollEmbedding() error = %v", err)
	}
	if len(face.ID) != 36 {
		t.Errorf("ID = %q, want generated uuid", face.ID)
	}
}

func TestEnrollEmbedding_WritesThroughStore(t *testing.T) {
	store := mock.NewMockIdentityStore()
	reg := matcher.NewRegistry(2)
	rec := New(&fakeDetector{}, matcher.NewMatcher(reg, 0), WithStore(store))

	if !rec.Persistent() {
		t.Error("Persistent() = false with store")
	}
	if _, err := rec.EnrollEmbedding(context.Background(), "alice", "Alice", []float32{1, 2}); err != nil {
		t.Fatalf("EnrollEmbedding() error = %v", err)
	}

	stored, err := store.Get(context.Background(), "alice")
	if err != nil || stored == nil {
		t.Fatalf("stored identity = %v, %v", stored, err)
	}
	if stored.Dim != 2 || stored.Name != "Alice" {
		t.Errorf("stored = %+v", stored)
	}
	if reg.Len() != 1 {
		t.Errorf("registry Len() = %d, want 1", reg.Len())
	}
}

func TestEnrollEmbedding_StoreFailureLeavesRegistryUntouched(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.SaveError = errors.New("connection refused")
	reg := matcher.NewRegistry(2)
	rec := New(&fakeDetector{}, matcher.NewMatcher(reg, 0), WithStore(store))

	if _, err := rec.EnrollEmbedding(context.Background(), "alice", "", []float32{1, 2}); err == nil {
		t.Fatal("expected error")
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0", reg.Len())
	}
}

func TestEnrollEmbedding_Rejects(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity(database.StoredIdentity{ID: "stored-only", Embedding: []float32{0, 0}, Dim: 2})
	reg := matcher.NewRegistry(2)
	rec := New(&fakeDetector{}, matcher.NewMatcher(reg, 0), WithStore(store))
	if _, err := rec.EnrollEmbedding(context.Background(), "alice", "", []float32{1, 2}); err != nil {
		t.Fatalf("EnrollEmbedding() error = %v", err)
	}

	tests := []struct {
		name      string
		id        string
		embedding []float32
		wantErr   error
	}{
		{"duplicate in registry", "alice", []float32{1, 2}, matcher.ErrDuplicateID},
		{"duplicate in store", "stored-only", []float32{1, 2}, matcher.ErrDuplicateID},
		{"wrong dimension", "bob", []float32{1, 2, 3}, matcher.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.EnrollEmbedding(context.Background(), tt.id, "", tt.embedding)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n, _ := store.Count(context.Background()); n != 2 {
		t.Errorf("store Count() = %d, want 2", n)
	}
}

func TestLoadRegistry(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity(database.StoredIdentity{ID: "a", Name: "A", Embedding: []float32{0, 0}, Dim: 2})
	store.AddIdentity(database.StoredIdentity{ID: "b", Embedding: []float32{1, 1}, Dim: 2})
	store.AddIdentity(database.StoredIdentity{ID: "c", Embedding: []float32{1, 1, 1}, Dim: 3})

	reg := matcher.NewRegistry(2)
	added, err := LoadRegistry(context.Background(), store, reg)
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if !errors.Is(err, matcher.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch for c", err)
	}
	if face, ok := reg.Get("a"); !ok || face.Name != "A" {
		t.Errorf("Get(a) = %+v, %v", face, ok)
	}
}

func TestLoadRegistry_ListError(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.ListError = errors.New("boom")

	if _, err := LoadRegistry(context.Background(), store, matcher.NewRegistry(2)); err == nil {
		t.Error("expected error")
	}
}
