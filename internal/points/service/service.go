// Package service orchestrates weekly point distributions: submission,
// amendment, finalization and the read paths over provisional and archived
// points. Validation and evaluation are delegated to the validation and
// finalize packages; the service owns transactions, logging and metrics.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	memberModels "pointdist/internal/member/models"
	"pointdist/internal/points/events"
	"pointdist/internal/points/metrics"
	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/requestcontext"
	"pointdist/pkg/week"
)

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrCreate(ctx context.Context, d *models.Distribution) (*models.Distribution, error)
	FindByWeek(ctx context.Context, group string, wk week.Key) (*models.Distribution, error)
	ListFinal(ctx context.Context, group string) ([]*models.Distribution, error)
	MarkFinal(ctx context.Context, id models.DistributionID, at time.Time) error
	UpsertAllocation(ctx context.Context, a *models.Allocation) error
	FindAllocation(ctx context.Context, id models.DistributionID, from, to identity.Identifier) (*models.Allocation, error)
	ListAllocations(ctx context.Context, id models.DistributionID) ([]models.Allocation, error)
	DeleteAllocations(ctx context.Context, id models.DistributionID) error
	Archive(ctx context.Context, a *models.ArchivedAllocation) error
	ListArchivedByDistribution(ctx context.Context, id models.DistributionID) ([]models.ArchivedAllocation, error)
	ListArchivedByRecipient(ctx context.Context, group string, to identity.Identifier) ([]models.ArchivedAllocation, error)
}

type MemberReader interface {
	ListByGroup(ctx context.Context, group string) ([]*memberModels.Member, error)
	FindByEmail(ctx context.Context, group, address string) (*memberModels.Member, error)
}

// EventPublisher announces committed state changes.
type EventPublisher interface {
	DistributionFinalized(ctx context.Context, ev events.DistributionFinalized) error
}

// Service runs the distribution workflow for every group.
type Service struct {
	store                 Store
	members               MemberReader
	events                EventPublisher
	logger                *slog.Logger
	metrics               *metrics.Metrics
	tracer                trace.Tracer
	allowPastFinalization bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithEvents publishes a message after every successful finalization.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithPastFinalization lets Finalize lock weeks that have already ended.
func WithPastFinalization(allow bool) Option {
	return func(s *Service) {
		s.allowPastFinalization = allow
	}
}

func New(store Store, members MemberReader, opts ...Option) *Service {
	s := &Service{
		store:   store,
		members: members,
		tracer:  otel.Tracer("pointdist/internal/points/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// roster is the group's membership resolved once per operation.
type roster struct {
	emails []string
	ids    []identity.Identifier
	byMail map[string]identity.Identifier
	byID   map[identity.Identifier]string
}

func (s *Service) loadRoster(ctx context.Context, group string) (*roster, error) {
	members, err := s.members.ListByGroup(ctx, group)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list members")
	}
	r := &roster{
		byMail: make(map[string]identity.Identifier, len(members)),
		byID:   make(map[identity.Identifier]string, len(members)),
	}
	for _, m := range members {
		r.emails = append(r.emails, m.Email)
		r.ids = append(r.ids, m.Identifier)
		r.byMail[m.Email] = m.Identifier
		r.byID[m.Identifier] = m.Email
	}
	return r, nil
}

func normalizeGroup(group string) (string, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return "", dErrors.New(dErrors.CodeValidation, "group_id is required")
	}
	return group, nil
}

func (s *Service) startSpan(ctx context.Context, name, group string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("pointdist.group_id", group)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// translateStoreErr maps store facts onto domain errors.
func translateStoreErr(err error, notFound, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeAlreadyFinal, msgAlreadyFinal)
	default:
		if _, ok := dErrors.As(err); ok {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}
