package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"pointdist/internal/directory"
	"pointdist/internal/member/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/email"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, m *models.Member) error
	FindByIdentifier(ctx context.Context, group string, id identity.Identifier) (*models.Member, error)
	FindByEmail(ctx context.Context, group, address string) (*models.Member, error)
	ListByGroup(ctx context.Context, group string) ([]*models.Member, error)
}

type Directory interface {
	ListAccounts(ctx context.Context, group string) ([]directory.Entry, error)
	Lookup(ctx context.Context, group, accountID string) (directory.Entry, error)
}

// Service manages the members of each group.
type Service struct {
	members     Store
	directory   Directory
	concurrency int
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDirectory enables Sync. Lookups run at most concurrency at a time.
func WithDirectory(d Directory, concurrency int) Option {
	return func(s *Service) {
		s.directory = d
		if concurrency > 0 {
			s.concurrency = concurrency
		}
	}
}

func New(members Store, opts ...Option) *Service {
	s := &Service{members: members, concurrency: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncResult reports what a directory sync did.
type SyncResult struct {
	Created  []*models.Member `json:"created"`
	Existing int             `json:"existing"`
}

// Register adds a member to group.
func (s *Service) Register(ctx context.Context, group, name, address string) (*models.Member, error) {
	m, err := models.NewMember(group, name, address, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	if err := s.members.Create(ctx, m); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "member email already registered in group")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create member")
	}
	s.logAudit(ctx, "member_registered", "group_id", m.GroupID, "member", m.Identifier)
	return m, nil
}

// List returns the members of group ordered by email.
func (s *Service) List(ctx context.Context, group string) ([]*models.Member, error) {
	if group == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "group_id is required")
	}
	members, err := s.members.ListByGroup(ctx, group)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list members")
	}
	return members, nil
}

// GetByEmail resolves a member of group by email.
func (s *Service) GetByEmail(ctx context.Context, group, address string) (*models.Member, error) {
	m, err := s.members.FindByEmail(ctx, group, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found: "+email.Normalize(address))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	return m, nil
}

// Sync creates every directory account of group that is not a member yet.
// Existing members are left untouched.
func (s *Service) Sync(ctx context.Context, group string) (*SyncResult, error) {
	if s.directory == nil {
		return nil, dErrors.New(dErrors.CodeDirectoryUnavailable, "member directory is not configured")
	}
	if group == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "group_id is required")
	}

	accounts, err := s.directory.ListAccounts(ctx, group)
	if err != nil {
		return nil, directoryFailure(err)
	}

	entries := make([]directory.Entry, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, account := range accounts {
		g.Go(func() error {
			entry, err := s.directory.Lookup(gctx, group, account.AccountID)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, directoryFailure(err)
	}

	existing, err := s.members.ListByGroup(ctx, group)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list members")
	}
	known := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		known[m.Email] = struct{}{}
	}

	now := requestcontext.Now(ctx)
	result := &SyncResult{Created: []*models.Member{}}
	for _, entry := range entries {
		address := email.Normalize(entry.Email)
		if _, ok := known[address]; ok {
			result.Existing++
			continue
		}
		m, err := models.NewMember(group, entry.Name, address, now)
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "skipping directory account", "account_id", entry.AccountID, "error", err)
			}
			continue
		}
		if err := s.members.Create(ctx, m); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				result.Existing++
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create member")
		}
		known[address] = struct{}{}
		result.Created = append(result.Created, m)
		s.logAudit(ctx, "member_registered", "group_id", group, "member", m.Identifier, "source", "directory")
	}
	sort.Slice(result.Created, func(i, j int) bool { return result.Created[i].Email < result.Created[j].Email })
	return result, nil
}

func directoryFailure(err error) error {
	switch directory.GetCategory(err) {
	case directory.ErrorNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, "group not found in member directory")
	case directory.ErrorTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "member directory timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeDirectoryUnavailable, "member directory unavailable")
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
