package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-ir/internal/audit"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

const defaultComplianceDays = 30

// AuditAdmin is the audit surface exposed over HTTP.
type AuditAdmin interface {
	Export(ctx context.Context, criteria models.AuditCriteria, format audit.Format, w io.Writer) error
	Verify(ctx context.Context, policyID string) (audit.VerifyResult, error)
	ComplianceReport(ctx context.Context, framework string, start, end time.Time) (models.ComplianceReport, error)
	Archive(ctx context.Context, policyID string, w io.Writer) (audit.ArchiveResult, error)
}

// AdminServer serves metrics, health and audit endpoints.
type AdminServer struct {
	r      *chi.Mux
	admin  AuditAdmin
	ready  func() bool
	clock  utils.Clock
	logger *slog.Logger
}

// NewAdminServer builds the HTTP admin router. ready reports readiness for /healthz and may
// be nil.
func NewAdminServer(admin AuditAdmin, ready func() bool, clock utils.Clock, logger *slog.Logger) *AdminServer {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	s := &AdminServer{r: chi.NewRouter(), admin: admin, ready: ready, clock: clock, logger: logger}
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *AdminServer) routes() {
	s.r.Handle("/metrics", promhttp.Handler())
	s.r.Get("/healthz", s.getHealth)

	s.r.Get("/v1/audit/export", s.getExport)
	s.r.Get("/v1/audit/verify/{policy}", s.getVerify)
	s.r.Get("/v1/audit/archive/{policy}", s.getArchive)
	s.r.Get("/v1/compliance/{framework}", s.getCompliance)
}

// Handler exposes the router.
func (s *AdminServer) Handler() http.Handler { return s.r }

func (s *AdminServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *AdminServer) getExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := audit.ParseFormat(q.Get("format"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	criteria := models.AuditCriteria{
		RetentionPolicyID: q.Get("policy"),
		Text:              q.Get("q"),
		Sort:              models.SortTimestampAsc,
	}
	if v := q.Get("event_type"); v != "" {
		criteria.EventTypes = []string{v}
	}
	if v := q.Get("start"); v != "" {
		if criteria.Start, err = utils.ParseRFC3339(v); err != nil {
			s.writeError(w, utils.Validation("api.Export", "invalid start: %v", err))
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if criteria.End, err = utils.ParseRFC3339(v); err != nil {
			s.writeError(w, utils.Validation("api.Export", "invalid end: %v", err))
			return
		}
	}

	// Buffered so a failed export still reports an error status.
	var buf bytes.Buffer
	if err := s.admin.Export(r.Context(), criteria, format, &buf); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, _ = buf.WriteTo(w)
}

func (s *AdminServer) getVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.admin.Verify(r.Context(), chi.URLParam(r, "policy"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (s *AdminServer) getArchive(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	res, err := s.admin.Archive(r.Context(), chi.URLParam(r, "policy"), &buf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Compressed {
		w.Header().Set("Content-Type", "application/zstd")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.Header().Set("X-Archived-Records", strconv.Itoa(res.Archived))
	w.Header().Set("X-Past-Retention", strconv.Itoa(res.PastRetention))
	_, _ = buf.WriteTo(w)
}

func (s *AdminServer) getCompliance(w http.ResponseWriter, r *http.Request) {
	days := defaultComplianceDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, utils.Validation("api.ComplianceReport", "days must be a positive integer"))
			return
		}
		days = n
	}
	end := s.clock().UTC()
	start := end.AddDate(0, 0, -days)
	report, err := s.admin.ComplianceReport(r.Context(), chi.URLParam(r, "framework"), start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *AdminServer) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("admin request failed", slog.Any("error", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(utils.KindOf(err))})
}

// HTTPStatus maps an engine error onto an HTTP status code.
func HTTPStatus(err error) int {
	switch utils.KindOf(err) {
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindValidationFailed:
		return http.StatusBadRequest
	case utils.KindInvalidTransition, utils.KindDependencyUnmet, utils.KindIncidentFrozen:
		return http.StatusConflict
	case utils.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
