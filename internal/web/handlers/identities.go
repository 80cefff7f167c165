package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-matcher/internal/faceclient"
	"github.com/kozaktomas/face-matcher/internal/matcher"
	"github.com/kozaktomas/face-matcher/internal/recognizer"
)

// IdentitiesHandler handles enrollment and lookup of known faces
type IdentitiesHandler struct {
	recognizer   *recognizer.Recognizer
	maxBodyBytes int64
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(rec *recognizer.Recognizer, maxBodyBytes int64) *IdentitiesHandler {
	return &IdentitiesHandler{
		recognizer:   rec,
		maxBodyBytes: maxBodyBytes,
	}
}

// CreateIdentityRequest enrolls a face from an embedding or a base64 image
type CreateIdentityRequest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
	Image     string    `json:"image"`
}

// IdentityResponse represents a known face without its embedding
type IdentityResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityListResponse represents a list of known faces
type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Count      int                `json:"count"`
}

func toIdentityResponse(face matcher.KnownFace) IdentityResponse {
	return IdentityResponse{
		ID:        face.ID,
		Name:      face.Name,
		Dim:       len(face.Embedding),
		CreatedAt: face.CreatedAt,
	}
}

// Create enrolls a new known face
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIdentityRequest
	if status, msg, ok := decodeJSONBody(w, r, h.maxBodyBytes, &req); !ok {
		respondError(w, status, msg)
		return
	}

	hasEmbedding := len(req.Embedding) > 0
	hasImage := req.Image != ""
	if hasEmbedding == hasImage {
		respondError(w, http.StatusBadRequest, "exactly one of embedding or image is required")
		return
	}

	var face matcher.KnownFace
	var err error
	if hasEmbedding {
		face, err = h.recognizer.EnrollEmbedding(r.Context(), req.ID, req.Name, req.Embedding)
	} else {
		var data []byte
		data, err = recognizer.DecodeBase64(req.Image)
		if err == nil {
			face, err = h.recognizer.Enroll(r.Context(), req.ID, req.Name, data)
		}
	}
	if err != nil {
		status, msg := enrollErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Printf("Enrollment of %s failed: %s", sanitizeForLog(req.ID), sanitizeForLog(err.Error()))
		}
		respondError(w, status, msg)
		return
	}

	log.Printf("Enrolled identity %s", sanitizeForLog(face.ID))
	respondJSON(w, http.StatusCreated, toIdentityResponse(face))
}

// List returns known faces, optionally filtered by name
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	faces := h.recognizer.Matcher().Registry().Search(r.URL.Query().Get("name"))

	identities := make([]IdentityResponse, 0, len(faces))
	for _, face := range faces {
		identities = append(identities, toIdentityResponse(face))
	}
	respondJSON(w, http.StatusOK, IdentityListResponse{Identities: identities, Count: len(identities)})
}

// Get returns a single known face
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	face, ok := h.recognizer.Matcher().Registry().Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	respondJSON(w, http.StatusOK, toIdentityResponse(face))
}

// enrollErrorStatus maps enrollment errors to the HTTP status and message reported to clients.
func enrollErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, recognizer.ErrInvalidBase64):
		return http.StatusBadRequest, "invalid base64 image"
	case errors.Is(err, faceclient.ErrUndecodableImage):
		return http.StatusBadRequest, "invalid image data"
	case errors.Is(err, matcher.ErrDimensionMismatch):
		return http.StatusBadRequest, "embedding dimension does not match known faces"
	case errors.Is(err, recognizer.ErrNoFace):
		return http.StatusUnprocessableEntity, "No face detected"
	case errors.Is(err, recognizer.ErrMultipleFaces):
		return http.StatusUnprocessableEntity, "image must contain exactly one face"
	case errors.Is(err, matcher.ErrDuplicateID):
		return http.StatusConflict, "identity already exists"
	case errors.Is(err, faceclient.ErrServiceUnavailable):
		return http.StatusBadGateway, "face service unavailable"
	default:
		return http.StatusInternalServerError, "enrollment failed"
	}
}
