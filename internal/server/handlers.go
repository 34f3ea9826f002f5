package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
)

// errorBody is the envelope of every error response.
type errorBody struct {
	Error models.ErrorInfo `json:"error"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind ragerrors.Kind) int {
	switch kind {
	case ragerrors.KindValidation:
		return http.StatusBadRequest
	case ragerrors.KindTransient, ragerrors.KindRetryExhausted:
		return http.StatusServiceUnavailable
	case ragerrors.KindPermanent:
		return http.StatusBadGateway
	case ragerrors.KindQueryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.services.Queries.ProcessQuery(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.services.Batches.Run(r.Context(), req.Queries, req.MaxResults)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.services.Queries.Stats(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit")
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.services.Queries.History(limit))
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.services.Queries.ClearHistory()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var in models.DocumentInput
	if !s.decode(w, r, &in) {
		return
	}
	res, err := s.services.Documents.IngestText(r.Context(), in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Room for the multipart envelope around the file itself.
	limit := s.maxUploadBytes + 64<<10
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > limit {
			s.uploadTooLarge(w)
			return
		}
		s.fail(w, ragerrors.NewValidationError("file", "invalid multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, ragerrors.NewValidationError("file", "multipart field \"file\" is required"))
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		s.uploadTooLarge(w)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, err)
		return
	}

	in := models.DocumentInput{
		ID:    strings.TrimSpace(r.FormValue("id")),
		Title: strings.TrimSpace(r.FormValue("title")),
	}
	s.logger.Debug("upload received", zap.String("name", header.Filename), zap.Int("bytes", len(data)))
	res, err := s.services.Documents.IngestBytes(r.Context(), header.Filename, data, in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) uploadTooLarge(w http.ResponseWriter) {
	s.respondError(w, http.StatusRequestEntityTooLarge, string(ragerrors.KindValidation),
		"file exceeds the upload limit of "+strconv.FormatInt(s.maxUploadBytes, 10)+" bytes")
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit")
	if !ok {
		return
	}
	docs, total, err := s.services.Catalog.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total": total})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.services.Documents.DeleteDocument(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document_id": id, "fragments_deleted": removed})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, ragerrors.NewValidationError("body", "invalid request body"))
		return false
	}
	return true
}

// intParam reads an optional non-negative integer query parameter.
func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.fail(w, ragerrors.NewValidationError(name, name+" must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

// fail writes err as an error envelope. Internal detail is logged, not returned.
func (s *Server) fail(w http.ResponseWriter, err error) {
	kind := ragerrors.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.respondError(w, status, string(kind), ragerrors.PublicMessage(err))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind, message string) {
	s.respondJSON(w, status, errorBody{Error: models.ErrorInfo{Kind: kind, Message: message}})
}
