package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/kozaktomas/face-matcher/internal/faceclient"
	"github.com/kozaktomas/face-matcher/internal/matcher"
	"github.com/kozaktomas/face-matcher/internal/recognizer"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// RecognizeHandler serves the recognition endpoint used by the attendance front-end.
type RecognizeHandler struct {
	recognizer   *recognizer.Recognizer
	maxBodyBytes int64
}

// NewRecognizeHandler creates a new recognize handler
func NewRecognizeHandler(rec *recognizer.Recognizer, maxBodyBytes int64) *RecognizeHandler {
	return &RecognizeHandler{
		recognizer:   rec,
		maxBodyBytes: maxBodyBytes,
	}
}

// RecognizeRequest represents a recognition request
type RecognizeRequest struct {
	Image string `json:"image"`
}

// MatchResponse is a single accepted match
type MatchResponse struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// RecognizeResponse represents a successful recognition
type RecognizeResponse struct {
	Status  string          `json:"status"`
	Matches []MatchResponse `json:"matches"`
}

// FailureResponse is the error body of the recognition endpoint
type FailureResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, FailureResponse{Status: statusFailed, Message: message})
}

// Recognize matches every face in the posted base64 image against the known faces.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if status, msg, ok := decodeJSONBody(w, r, h.maxBodyBytes, &req); !ok {
		respondFailure(w, status, msg)
		return
	}
	if req.Image == "" {
		respondFailure(w, http.StatusBadRequest, "image is required")
		return
	}

	results, err := h.recognizer.Recognize(r.Context(), req.Image)
	if err != nil {
		status, msg := recognizeErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Printf("Recognition failed: %s", sanitizeForLog(err.Error()))
		}
		respondFailure(w, status, msg)
		return
	}

	respondJSON(w, http.StatusOK, NewRecognizeResponse(results))
}

// NewRecognizeResponse builds the success body for the accepted matches.
func NewRecognizeResponse(results []matcher.Result) RecognizeResponse {
	matches := make([]MatchResponse, 0, len(results))
	for _, res := range results {
		matches = append(matches, MatchResponse{ID: res.ID, Confidence: res.Confidence})
	}
	return RecognizeResponse{Status: statusSuccess, Matches: matches}
}

// recognizeErrorStatus maps pipeline errors to the HTTP status and message reported to clients.
func recognizeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, recognizer.ErrInvalidBase64):
		return http.StatusBadRequest, "invalid base64 image"
	case errors.Is(err, faceclient.ErrUndecodableImage):
		return http.StatusBadRequest, "invalid image data"
	case errors.Is(err, recognizer.ErrNoFace):
		return http.StatusBadRequest, "No face detected"
	case errors.Is(err, matcher.ErrEmptyRegistry):
		return http.StatusBadRequest, "No known faces registered"
	case errors.Is(err, faceclient.ErrServiceUnavailable):
		return http.StatusBadGateway, "face service unavailable"
	case errors.Is(err, matcher.ErrDimensionMismatch), errors.Is(err, matcher.ErrEmptyProbe):
		return http.StatusBadGateway, "face service returned incompatible embedding"
	default:
		return http.StatusInternalServerError, "recognition failed"
	}
}
