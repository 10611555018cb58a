package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/excerpt/internal/batch"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/types"
	"github.com/conneroisu/excerpt/internal/version"
)

const (
	readHeaderTimeout = 10 * time.Second

	// Request bodies larger than this are rejected
	maxBodyBytes = 4 << 20

	// maxBatchIDs bounds one batch request
	maxBatchIDs = 500
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error  batch.ItemError                `json:"error"`
	Fields []*errors.FieldValidationError `json:"fields,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "method", r.Method, "path", r.URL.Path)
	}
	s.writeJSON(w, r, status, body)
}

func errorResponse(err error) (int, errorBody) {
	var vec *errors.ValidationErrorCollection
	if errors.As(err, &vec) {
		return http.StatusBadRequest, errorBody{
			Error:  batch.ItemError{Type: errors.ErrorTypeValidation, Code: errors.ErrCodeValidationFailed, Message: vec.Error()},
			Fields: vec.Errors,
		}
	}
	var fve *errors.FieldValidationError
	if errors.As(err, &fve) {
		return http.StatusBadRequest, errorBody{
			Error:  batch.ItemError{Type: errors.ErrorTypeValidation, Code: errors.ErrCodeValidationFailed, Message: fve.Error()},
			Fields: []*errors.FieldValidationError{fve},
		}
	}

	var ee *errors.ExcerptError
	if !errors.As(err, &ee) {
		ee = errors.NewInternalError(errors.ErrCodeInternalError, err.Error(), nil)
	}
	body := errorBody{Error: batch.ItemError{Type: ee.Type, Code: ee.Code, Message: ee.Error()}}
	switch ee.Type {
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound, body
	case errors.ErrorTypeOrphan:
		return http.StatusGone, body
	case errors.ErrorTypeConflict:
		return http.StatusConflict, body
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest, body
	case errors.ErrorTypeTransport:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, errors.NewFieldValidationError("body", nil, "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.Get().Short(),
		"checks": map[string]interface{}{
			"cache":     s.cache.Hot().Stats(),
			"websocket": map[string]interface{}{"clients": s.hub.Clients()},
			"writer":    map[string]interface{}{"pending": s.writer.Pending()},
		},
	}
	s.writeJSON(w, r, http.StatusOK, health)
}

// handleRender returns the cached render of one Include. The ETag is the
// fingerprint of the rendered tree; ?format=html renders it to HTML.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.cache.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if entry.ContentHash != "" {
		etag := `"` + entry.ContentHash + `"`
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if r.URL.Query().Get("format") == "html" {
		html, err := doctree.HTMLString(entry.Content)
		if err != nil {
			s.writeError(w, r, errors.NewInternalError(errors.ErrCodeInternalError, "rendering html", err).WithID(id))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(html)); err != nil {
			s.logger.Warn(r.Context(), err, "Failed to write render", "local_id", id)
		}
		return
	}
	s.writeJSON(w, r, http.StatusOK, entry)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// handleBatch serves the batch coordinator's fetches.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, r, errors.NewFieldValidationError("ids", req.IDs, "at least one id is required"))
		return
	}
	if len(req.IDs) > maxBatchIDs {
		s.writeError(w, r, errors.NewFieldValidationError("ids", len(req.IDs), "too many ids in one batch"))
		return
	}

	results, err := s.cache.GetMany(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, batch.NewResponse(results))
}

// handleSettings schedules a debounced settings write.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inc, err := s.repo.GetInclude(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var settings types.Settings
	if !s.decode(w, r, &settings) {
		return
	}
	inc.Settings = settings
	if vec := inc.Validate(); vec.HasErrors() {
		s.writeError(w, r, vec)
		return
	}

	if err := s.writer.Schedule(id, settings); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{"localId": id, "scheduled": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.tracker.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, st)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := s.tracker.Diff(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, diff)
}

// handleUpdate accepts the latest Source content for an Include.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	inc, err := s.tracker.Update(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, inc)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.repo.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, src)
}

// handlePutSource records an author edit. The path id wins over the body.
func (s *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	var src types.Source
	if !s.decode(w, r, &src) {
		return
	}
	src.ID = r.PathValue("id")

	saved, err := s.repo.PutSource(r.Context(), &src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, saved)
}

func (s *Server) handleOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.tracker.Orphans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orphans == nil {
		orphans = []string{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"orphans": orphans})
}
