package clicks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AddisonGoolsbee/thebutton/internal/identity"
	"github.com/AddisonGoolsbee/thebutton/internal/verify"
)

// Service is the public HTTP surface: GET /count and POST /click.
type Service struct {
	app         *App
	cacheMaxAge time.Duration
}

func NewService(app *App, cacheMaxAge time.Duration) *Service {
	return &Service{app: app, cacheMaxAge: cacheMaxAge}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/count", s.handleCount)
	mux.HandleFunc("/click", s.handleClick)
}

type clickRequest struct {
	Count int    `json:"count"`
	Token string `json:"token"`
}

func (s *Service) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	total, err := s.app.Total(r.Context(), r.Header.Get("Origin"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read total")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	// Short shared-cache window; accepted writes invalidate server-side
	// state but edge caches ride out the full max-age.
	maxAge := int(s.cacheMaxAge.Seconds())
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, s-maxage=%d", maxAge, maxAge))
	writeJSON(w, http.StatusOK, map[string]uint64{"total": total})
}

func (s *Service) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	total, err := s.app.Submit(r.Context(), SubmitInput{
		Count:      req.Count,
		Token:      req.Token,
		RemoteAddr: identity.ClientIP(r),
		Origin:     r.Header.Get("Origin"),
		Region:     regionFromRequest(r),
	})
	if err != nil {
		status, msg := statusForError(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Msg("Click submission failed")
		}
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "total": total})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidCount):
		return http.StatusBadRequest, "invalid count"
	case errors.Is(err, verify.ErrNotVerified):
		return http.StatusForbidden, "verification required"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func regionFromRequest(r *http.Request) *string {
	cc := strings.TrimSpace(r.Header.Get("CF-IPCountry"))
	if cc == "" || cc == "XX" {
		return nil
	}
	return &cc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
