package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/audit"
	"github.com/miradorstack/mirador-ir/internal/incident"
	"github.com/miradorstack/mirador-ir/internal/investigation"
	"github.com/miradorstack/mirador-ir/internal/playbook"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Components groups the engine components the facade dispatches to.
type Components struct {
	Incidents      *incident.Manager
	Playbooks      *playbook.Registry
	Executions     *playbook.Executor
	Investigations *investigation.Tracker
	Audit          *audit.Sink
	Clock          utils.Clock
}

// IRService implements the gRPC IncidentEngine service.
type IRService struct {
	logger         *slog.Logger
	c              Components
	requestTimeout time.Duration
	latencies      *utils.LatencyTracker
}

// NewIRService constructs the incident engine facade. A positive requestTimeout bounds every
// call, lock acquisition included.
func NewIRService(logger *slog.Logger, c Components, requestTimeout time.Duration) *IRService {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = utils.SystemClock
	}
	return &IRService{
		logger:         logger,
		c:              c,
		requestTimeout: requestTimeout,
		latencies:      utils.NewLatencyTracker(1024),
	}
}

// Methods lists every unary method of the service.
func (s *IRService) Methods() []api.Method {
	return []api.Method{
		// incidents
		{Name: "CreateIncident", Handler: unary(s, "CreateIncident", s.createIncident)},
		{Name: "GetIncident", Handler: unary(s, "GetIncident", s.getIncident)},
		{Name: "ListIncidents", Handler: unary(s, "ListIncidents", s.listIncidents)},
		{Name: "UpdateIncident", Handler: unary(s, "UpdateIncident", s.updateIncident)},
		{Name: "AssignIncident", Handler: unary(s, "AssignIncident", s.assignIncident)},
		{Name: "EscalateIncident", Handler: unary(s, "EscalateIncident", s.escalateIncident)},
		{Name: "AddEvidence", Handler: unary(s, "AddEvidence", s.addEvidence)},
		{Name: "AddTask", Handler: unary(s, "AddTask", s.addTask)},
		{Name: "AddCommunication", Handler: unary(s, "AddCommunication", s.addCommunication)},
		{Name: "RecordAction", Handler: unary(s, "RecordAction", s.recordAction)},
		{Name: "AddLessonLearned", Handler: unary(s, "AddLessonLearned", s.addLessonLearned)},
		{Name: "RecordNotification", Handler: unary(s, "RecordNotification", s.recordNotification)},
		{Name: "TransitionIncident", Handler: unary(s, "TransitionIncident", s.transitionIncident)},
		{Name: "CloseIncident", Handler: unary(s, "CloseIncident", s.closeIncident)},
		{Name: "ReopenIncident", Handler: unary(s, "ReopenIncident", s.reopenIncident)},
		{Name: "GetTimeline", Handler: unary(s, "GetTimeline", s.getTimeline)},
		{Name: "GetReport", Handler: unary(s, "GetReport", s.getReport)},
		{Name: "GetStatistics", Handler: unary(s, "GetStatistics", s.getStatistics)},

		// playbooks
		{Name: "CreatePlaybook", Handler: unary(s, "CreatePlaybook", s.createPlaybook)},
		{Name: "NewPlaybookVersion", Handler: unary(s, "NewPlaybookVersion", s.newPlaybookVersion)},
		{Name: "GetPlaybook", Handler: unary(s, "GetPlaybook", s.getPlaybook)},
		{Name: "ListPlaybooks", Handler: unary(s, "ListPlaybooks", s.listPlaybooks)},
		{Name: "DeactivatePlaybook", Handler: unary(s, "DeactivatePlaybook", s.deactivatePlaybook)},
		{Name: "StartPlaybook", Handler: unary(s, "StartPlaybook", s.startPlaybook)},
		{Name: "BeginStep", Handler: unary(s, "BeginStep", s.beginStep)},
		{Name: "CompleteStep", Handler: unary(s, "CompleteStep", s.completeStep)},
		{Name: "PausePlaybook", Handler: unary(s, "PausePlaybook", s.pausePlaybook)},
		{Name: "ResumePlaybook", Handler: unary(s, "ResumePlaybook", s.resumePlaybook)},
		{Name: "GetExecution", Handler: unary(s, "GetExecution", s.getExecution)},
		{Name: "ListExecutions", Handler: unary(s, "ListExecutions", s.listExecutions)},
		{Name: "ReadySteps", Handler: unary(s, "ReadySteps", s.readySteps)},

		// investigations
		{Name: "OpenInvestigation", Handler: unary(s, "OpenInvestigation", s.openInvestigation)},
		{Name: "UpdateInvestigation", Handler: unary(s, "UpdateInvestigation", s.updateInvestigation)},
		{Name: "CloseInvestigation", Handler: unary(s, "CloseInvestigation", s.closeInvestigation)},
		{Name: "GetInvestigation", Handler: unary(s, "GetInvestigation", s.getInvestigation)},
		{Name: "ListInvestigations", Handler: unary(s, "ListInvestigations", s.listInvestigations)},

		// audit
		{Name: "SearchAudit", Handler: unary(s, "SearchAudit", s.searchAudit)},
		{Name: "ComplianceReport", Handler: unary(s, "ComplianceReport", s.complianceReport)},
		{Name: "VerifyAudit", Handler: unary(s, "VerifyAudit", s.verifyAudit)},

		{Name: "HealthCheck", Handler: unary(s, "HealthCheck", s.healthCheck)},
	}
}

// unary adapts a typed handler to the Struct-in, Struct-out wire shape.
func unary[Req, Resp any](s *IRService, method string, fn func(context.Context, Req) (Resp, error)) api.UnaryFunc {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		var req Req
		if err := api.DecodeStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := fn(ctx, req)
		s.latencies.Observe(time.Since(start))
		if count := s.latencies.Count(); count >= 100 && count%100 == 0 {
			s.logger.Info("request latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
		}
		if err != nil {
			return nil, s.toStatus(method, err)
		}
		out, err := api.EncodeStruct(resp)
		if err != nil {
			s.logger.Error("encode response failed", slog.String("method", method), slog.Any("error", err))
			return nil, status.Error(codes.Internal, "failed to encode response")
		}
		return out, nil
	}
}

// ToStatus maps an engine error onto a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch utils.KindOf(err) {
	case utils.KindNotFound:
		code = codes.NotFound
	case utils.KindValidationFailed:
		code = codes.InvalidArgument
	case utils.KindInvalidTransition, utils.KindDependencyUnmet, utils.KindIncidentFrozen:
		code = codes.FailedPrecondition
	case utils.KindTimeout:
		code = codes.DeadlineExceeded
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		} else if errors.Is(err, context.Canceled) {
			code = codes.Canceled
		} else {
			code = codes.Internal
		}
	}
	return status.Error(code, err.Error())
}

func (s *IRService) toStatus(method string, err error) error {
	st := ToStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.Error("request failed", slog.String("method", method), slog.Any("error", err))
	} else {
		s.logger.Debug("request rejected", slog.String("method", method), slog.Any("error", err))
	}
	return st
}

func (s *IRService) now() time.Time { return s.c.Clock().UTC() }

// LatencyP95 returns the current p95 request latency.
func (s *IRService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *IRService) healthCheck(context.Context, struct{}) (healthResponse, error) {
	return healthResponse{Status: "SERVING"}, nil
}

func parseOptional[T ~string](op, field, v string, parse func(string) (T, bool)) (T, error) {
	var zero T
	if v == "" {
		return zero, nil
	}
	out, ok := parse(v)
	if !ok {
		return zero, utils.Validation(op, "unknown %s %q", field, v)
	}
	return out, nil
}

func parseRequired[T ~string](op, field, v string, parse func(string) (T, bool)) (T, error) {
	if v == "" {
		var zero T
		return zero, utils.Validation(op, "%s is required", field)
	}
	return parseOptional(op, field, v, parse)
}

func validation(op string, err error) error {
	return utils.Validation(op, "%v", err)
}
