// Package recognizer turns uploaded images into identity matches: it decodes
// the image, asks the face service for embeddings and matches every detected
// face against the registry of known faces.
package recognizer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/faceclient"
	"github.com/kozaktomas/face-matcher/internal/matcher"
)

var (
	// ErrInvalidBase64 is returned when the image payload is not valid base64.
	ErrInvalidBase64 = errors.New("invalid base64 image")
	// ErrNoFace is returned when the face service finds no face in the image.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces is returned when enrolling from an image with more than one face.
	ErrMultipleFaces = errors.New("multiple faces detected")
)

// FaceDetector extracts face embeddings from encoded image bytes.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]faceclient.Face, error)
}

// Recognizer runs the recognition and enrollment pipelines.
type Recognizer struct {
	detector     FaceDetector
	matcher      *matcher.Matcher
	store        database.IdentityWriter
	maxImageSize int
	maxPixels    int
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithStore writes every enrollment through to store before it reaches the registry.
func WithStore(store database.IdentityWriter) Option {
	return func(r *Recognizer) {
		r.store = store
	}
}

// WithMaxImageSize downscales images whose longer side exceeds size pixels
// before they are sent to the face service. Zero disables resizing.
func WithMaxImageSize(size int) Option {
	return func(r *Recognizer) {
		r.maxImageSize = size
	}
}

// WithMaxPixels rejects images whose width*height exceeds pixels before
// they are decoded. Zero uses faceclient.DefaultMaxPixels.
func WithMaxPixels(pixels int) Option {
	return func(r *Recognizer) {
		r.maxPixels = pixels
	}
}

// New creates a recognizer.
func New(detector FaceDetector, m *matcher.Matcher, opts ...Option) *Recognizer {
	r := &Recognizer{detector: detector, matcher: m}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Matcher returns the matcher used for recognition.
func (r *Recognizer) Matcher() *matcher.Matcher {
	return r.matcher
}

// Persistent reports whether enrollments are written to a store.
func (r *Recognizer) Persistent() bool {
	return r.store != nil
}

// DecodeBase64 decodes an image payload. Standard and URL-safe alphabets are
// accepted, padding is optional and a data URL prefix is stripped.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidBase64)
		}
		s = s[comma+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidBase64)
	}

	s = strings.TrimRight(s, "=")
	encoding := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		encoding = base64.RawURLEncoding
	}
	data, err := encoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return data, nil
}

// Recognize decodes a base64 image and matches every face in it.
func (r *Recognizer) Recognize(ctx context.Context, imageB64 string) ([]matcher.Result, error) {
	data, err := DecodeBase64(imageB64)
	if err != nil {
		return nil, err
	}
	return r.RecognizeImage(ctx, data)
}

// RecognizeImage matches every face found in the encoded image independently.
// Only accepted matches are returned, in detection order.
func (r *Recognizer) RecognizeImage(ctx context.Context, data []byte) ([]matcher.Result, error) {
	probes, err := r.detect(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(probes) == 0 {
		return nil, ErrNoFace
	}

	results, err := r.matcher.MatchAll(probes)
	if err != nil {
		return nil, err
	}

	matches := make([]matcher.Result, 0, len(results))
	for _, res := range results {
		if res.Matched {
			matches = append(matches, res)
		}
	}
	return matches, nil
}

func (r *Recognizer) detect(ctx context.Context, data []byte) ([][]float32, error) {
	prepared, err := faceclient.PrepareImage(data, r.maxImageSize, r.maxPixels)
	if err != nil {
		return nil, err
	}

	faces, err := r.detector.DetectFaces(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	probes := make([][]float32, 0, len(faces))
	for _, face := range faces {
		probes = append(probes, face.Embedding)
	}
	return probes, nil
}

// Enroll registers the single face found in the encoded image under id.
// An empty id gets a generated one.
func (r *Recognizer) Enroll(ctx context.Context, id, name string, data []byte) (matcher.KnownFace, error) {
	probes, err := r.detect(ctx, data)
	if err != nil {
		return matcher.KnownFace{}, err
	}
	switch len(probes) {
	case 0:
		return matcher.KnownFace{}, ErrNoFace
	case 1:
	default:
		return matcher.KnownFace{}, fmt.Errorf("%w: found %d", ErrMultipleFaces, len(probes))
	}
	return r.EnrollEmbedding(ctx, id, name, probes[0])
}

// EnrollEmbedding registers a known embedding under id. With a store
// configured the identity is persisted first, so a failed write never
// leaves an unpersisted face in the registry.
func (r *Recognizer) EnrollEmbedding(
	ctx context.Context, id, name string, embedding []float32,
) (matcher.KnownFace, error) {
	if id == "" {
		id = uuid.NewString()
	}
	reg := r.matcher.Registry()
	if _, ok := reg.Get(id); ok {
		return matcher.KnownFace{}, fmt.Errorf("%w: %s", matcher.ErrDuplicateID, id)
	}
	if dim := reg.Dim(); dim != 0 && len(embedding) != dim {
		return matcher.KnownFace{}, fmt.Errorf("%w: got %d, registry uses %d",
			matcher.ErrDimensionMismatch, len(embedding), dim)
	}

	face := matcher.KnownFace{ID: id, Name: name, Embedding: embedding}

	if r.store != nil {
		stored := ToStored(face)
		if err := r.store.Save(ctx, stored); err != nil {
			if errors.Is(err, database.ErrIdentityExists) {
				return matcher.KnownFace{}, fmt.Errorf("%w: %s", matcher.ErrDuplicateID, id)
			}
			return matcher.KnownFace{}, fmt.Errorf("persist identity: %w", err)
		}
	}

	if err := reg.Add(face); err != nil {
		if r.store != nil {
			if _, delErr := r.store.Delete(ctx, id); delErr != nil {
				log.Printf("Warning: failed to roll back identity %s: %v", id, delErr)
			}
		}
		return matcher.KnownFace{}, err
	}

	added, _ := reg.Get(id)
	return added, nil
}

// LoadRegistry adds every stored identity to reg in enrollment order and
// returns how many were added. Identities that do not fit the registry are
// skipped and reported in the returned error.
func LoadRegistry(ctx context.Context, store database.IdentityReader, reg *matcher.Registry) (int, error) {
	identities, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}

	faces := make([]matcher.KnownFace, 0, len(identities))
	for _, identity := range identities {
		faces = append(faces, FromStored(identity))
	}
	return reg.AddAll(faces)
}

// ToStored converts a known face to its stored form.
func ToStored(face matcher.KnownFace) database.StoredIdentity {
	return database.StoredIdentity{
		ID:        face.ID,
		Name:      face.Name,
		Embedding: face.Embedding,
		Dim:       len(face.Embedding),
		CreatedAt: face.CreatedAt,
	}
}

// FromStored converts a stored identity to a known face.
func FromStored(identity database.StoredIdentity) matcher.KnownFace {
	return matcher.KnownFace{
		ID:        identity.ID,
		Name:      identity.Name,
		Embedding: identity.Embedding,
		CreatedAt: identity.CreatedAt,
	}
}
