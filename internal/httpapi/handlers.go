package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/gateway/internal/blob"
	"github.com/dyluth/gateway/internal/bridge"
)

// Response headers.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderExpires       = "Expires"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) wait(r *http.Request) bridge.Wait {
	q := r.URL.Query()
	_, present := q[s.opts.WaitParam]
	return bridge.ParseWait(q.Get(s.opts.WaitParam), present)
}

// handleSubmit publishes the captured request and answers with the reply
// or a polling location.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	content, err := s.capture(w, r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	s.writeResult(w, s.bridge.Submit(r.Context(), content, s.wait(r)))
}

// handleFetch answers GET {prefix}/{correlation_id}.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("correlation_id")
	s.writeResult(w, s.bridge.Fetch(r.Context(), id, s.wait(r)))
}

// handleFile streams a stored upload. The name only labels the download;
// the hash alone locates the bytes and the bytes decide the Content-Type.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	name := r.PathValue("name")

	if !blob.ValidHash(hash) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	f, err := s.blobs.Open(hash)
	if err != nil {
		if !blob.IsNotFound(err) {
			s.logger.Errorw("Failed to open blob", "hash", hash, "error", err)
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Errorw("Failed to stat blob", "hash", hash, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// The type comes from the stored bytes; the name is caller-chosen.
	var head [512]byte
	n, err := io.ReadFull(f, head[:])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		s.logger.Errorw("Failed to read blob", "hash", hash, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.logger.Errorw("Failed to rewind blob", "hash", hash, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(head[:n]))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if r.URL.Query().Has("download") {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}

	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleHealth handles GET /healthz.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy"}
	if s.pinger == nil {
		writeJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.Redis = "connected"
	writeJSON(w, http.StatusOK, response)
}

// writeResult renders a bridge result.
func (s *Server) writeResult(w http.ResponseWriter, res bridge.Result) {
	h := w.Header()
	if res.CorrelationID != "" {
		h.Set(HeaderCorrelationID, res.CorrelationID)
	}

	switch res.Kind {
	case bridge.NotFound:
		w.WriteHeader(http.StatusNotFound)
		return
	case bridge.Error:
		s.logger.Errorw("Request failed", "correlation_id", res.CorrelationID, "detail", res.Detail)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: res.Detail})
		return
	}

	if res.Expires > 0 {
		h.Set(HeaderExpires, strconv.Itoa(int(math.Ceil(res.Expires.Seconds()))))
	}
	if res.Kind == bridge.Accepted && res.Location != "" {
		h.Set("Location", res.Location)
	}

	if len(res.Body) == 0 || !bodyAllowed(res.Status) {
		w.WriteHeader(res.Status)
		return
	}

	h.Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
