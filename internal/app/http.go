package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"kycdesk/api/internal/metrics"
	"kycdesk/api/internal/search"
	"kycdesk/api/internal/store"
)

const maxBodyBytes = 32 << 20

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	metricsHandler http.Handler
}

// NewHTTPServer wires the case API. metricsHandler, when non-nil, is served at /metrics.
func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger, m *metrics.Metrics, metricsHandler http.Handler) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		logger:         logger,
		metrics:        m,
		metricsHandler: metricsHandler,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Route("/api/cases", func(r chi.Router) {
		r.Get("/", s.handleListCases)
		r.Post("/", s.handleCreateCase)
		r.Get("/search", s.handleSearchCases)

		r.Route("/{caseID}", func(r chi.Router) {
			r.Get("/", s.handleGetCase)
			r.Patch("/", s.handleUpdateCase)
			r.Delete("/", s.handleDeleteCase)
			r.Post("/extract", s.handleExtractAll)
			r.Post("/export", s.handleExport)
			r.Get("/summary.pdf", s.handleSummaryPDF)

			r.Route("/directors/{index}", func(r chi.Router) {
				r.Patch("/", s.handleUpdateDirector)
				r.Put("/pan", s.handleCorrectPan)
				r.Put("/aadhaar", s.handleCorrectAadhaar)
				r.Post("/approve", s.handleApprove)
				r.Post("/documents", s.handleAttachDocument)
				r.Delete("/documents/{type}", s.handleDetachDocument)
				r.Post("/documents/{type}/extract", s.handleExtract)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database":  map[string]any{"status": "ok"},
		"inference": map[string]any{"status": "ok"},
		"lease":     map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// Extraction failures are reported per slot, so an unhealthy model only degrades.
	if err := s.service.InferenceHealth(ctx); err != nil {
		if status == "ready" {
			status = "degraded"
		}
		checks["inference"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if err := s.service.LeaseHealth(ctx); err != nil {
		if status == "ready" {
			status = "degraded"
		}
		checks["lease"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.service.ListCases(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list cases failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list cases", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *HTTPServer) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var body CreateCaseInput
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.service.CreateCase(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *HTTPServer) handleSearchCases(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:   strings.TrimSpace(r.URL.Query().Get("q")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if q.Status != "" && !store.CaseStatus(q.Status).Valid() {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "status must be one of draft, extracting, reviewing, complete", nil)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "limit must be a non-negative integer", nil)
			return
		}
		q.Limit = parsed
	}
	writeJSON(w, http.StatusOK, s.service.SearchCases(r.Context(), q))
}

func (s *HTTPServer) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	var body CasePatch
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.service.UpdateCase(r.Context(), chi.URLParam(r, "caseID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCase(r.Context(), chi.URLParam(r, "caseID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleExtractAll(w http.ResponseWriter, r *http.Request) {
	var body ExtractAllInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.ExtractAll(r.Context(), chi.URLParam(r, "caseID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExport returns the checklist as JSON, or as the raw spreadsheet when
// ?download=true is set.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportChecklist(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		data, err := base64.StdEncoding.DecodeString(result.File.ContentBase64)
		if err != nil {
			writeError(w, http.StatusBadGateway, CodeExportFailed, "Checklist export failed", nil)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.File.Name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSummaryPDF(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.CaseSummaryPDF(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleUpdateDirector(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	var body DirectorPatch
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.service.UpdateDirector(r.Context(), chi.URLParam(r, "caseID"), index, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleCorrectPan(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	var body store.PanData
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.service.CorrectPanData(r.Context(), chi.URLParam(r, "caseID"), index, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleCorrectAadhaar(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	var body store.AadhaarData
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.service.CorrectAadhaarData(r.Context(), chi.URLParam(r, "caseID"), index, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	c, err := s.service.ApproveDirector(r.Context(), chi.URLParam(r, "caseID"), index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	var body AttachDocumentInput
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.service.AttachDocument(r.Context(), chi.URLParam(r, "caseID"), index, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleDetachDocument(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	docType := store.DocumentType(chi.URLParam(r, "type"))
	c, err := s.service.DetachDocument(r.Context(), chi.URLParam(r, "caseID"), index, docType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	index, ok := directorIndexParam(w, r)
	if !ok {
		return
	}
	var body ExtractInput
	if !s.decode(w, r, &body) {
		return
	}
	docType := store.DocumentType(chi.URLParam(r, "type"))
	result, err := s.service.Extract(r.Context(), chi.URLParam(r, "caseID"), index, docType, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", requestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func directorIndexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "director index must be an integer", map[string]any{"index": raw})
		return 0, false
	}
	return index, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.metrics.IncrementRequest(r.Method, strconv.Itoa(writer.status))
		s.logger.InfoContext(ctx, "request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// requestID returns the id assigned to the request by the middleware.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeCaseNotFound, "Case not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
