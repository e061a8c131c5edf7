package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/gateway"
	"github.com/MikeSquared-Agency/catalogqa/internal/processor"
)

const maxBodyBytes = 64 << 10

// envelope wraps every /api/v1 response. Errno 0 means success.
type envelope struct {
	Errno  int    `json:"errno"`
	Errmsg string `json:"errmsg"`
	Data   any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Errno: 0, Errmsg: "success", Data: data})
}

// writeError renders err without its cause. Retry hints become a
// Retry-After header.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, e.HTTPStatus(), envelope{Errno: e.Code(), Errmsg: e.PublicMessage()})
}

func writeNotFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, envelope{Errno: http.StatusNotFound, Errmsg: what + " not found"})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req processor.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apperr.Validation("body", "request body too large"))
			return
		}
		writeError(w, apperr.Validation("body", "malformed JSON"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Session-Id")
	}

	ans, err := s.asker.Ask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, ans)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sessions.Snapshot(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "session")
		return
	}
	writeOK(w, snap)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.Destroy(id) {
		writeNotFound(w, "session")
		return
	}
	writeOK(w, map[string]any{"sessionId": id, "deleted": true})
}

func (s *Server) catalogStats(w http.ResponseWriter, r *http.Request) {
	sum, err := s.catalog.Summary(r.Context())
	if err != nil {
		s.logger.Error("catalog summary failed", "error", err)
		writeError(w, apperr.Internal("catalog summary failed", err))
		return
	}
	writeOK(w, sum)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	provider := s.asker.Provider()
	writeOK(w, map[string]any{
		"service":  "catalogqa",
		"provider": provider,
		"mock":     provider == gateway.Mock{}.Name(),
		"sessions": s.sessions.Stats(),
	})
}
