package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pointdist/internal/directory"
	"pointdist/internal/member/models"
	"pointdist/internal/member/service/mocks"
	"pointdist/internal/member/store"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Directory

const testGroup = "group-1"

type MemberServiceSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	mockStore *mocks.MockStore
	mockDir   *mocks.MockDirectory
	logger    *slog.Logger
}

func TestMemberServiceSuite(t *testing.T) {
	suite.Run(t, new(MemberServiceSuite))
}

func (s *MemberServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockDir = mocks.NewMockDirectory(s.ctrl)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)
}

func (s *MemberServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *MemberServiceSuite) TestRegister() {
	s.Run("creates normalized member", func() {
		svc := New(store.NewInMemory(), WithLogger(s.logger))

		m, err := svc.Register(s.ctx, testGroup, "", " Jane.Doe@Example.com ")
		s.Require().NoError(err)
		s.Equal("jane.doe@example.com", m.Email)
		s.Equal("Jane Doe", m.Name)
		s.Equal(requestcontext.Now(s.ctx), m.CreatedAt)
	})

	s.Run("invalid email is a validation error", func() {
		svc := New(s.mockStore)

		_, err := svc.Register(s.ctx, testGroup, "Jane", "not-an-email")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("duplicate email is a conflict", func() {
		svc := New(s.mockStore)
		s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrAlreadyUsed)

		_, err := svc.Register(s.ctx, testGroup, "Jane", "jane@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("store failure is internal", func() {
		svc := New(s.mockStore)
		s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		_, err := svc.Register(s.ctx, testGroup, "Jane", "jane@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *MemberServiceSuite) TestGetByEmail() {
	s.Run("unknown email is not found", func() {
		svc := New(s.mockStore)
		s.mockStore.EXPECT().FindByEmail(gomock.Any(), testGroup, "ghost@example.com").Return(nil, sentinel.ErrNotFound)

		_, err := svc.GetByEmail(s.ctx, testGroup, "ghost@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("returns the stored member", func() {
		svc := New(s.mockStore)
		want := &models.Member{GroupID: testGroup, Email: "jane@example.com"}
		s.mockStore.EXPECT().FindByEmail(gomock.Any(), testGroup, "jane@example.com").Return(want, nil)

		got, err := svc.GetByEmail(s.ctx, testGroup, "jane@example.com")
		s.Require().NoError(err)
		s.Same(want, got)
	})
}

func (s *MemberServiceSuite) TestList() {
	svc := New(s.mockStore)

	_, err := svc.List(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *MemberServiceSuite) TestSync() {
	s.Run("without directory", func() {
		svc := New(store.NewInMemory())

		_, err := svc.Sync(s.ctx, testGroup)
		s.True(dErrors.HasCode(err, dErrors.CodeDirectoryUnavailable))
	})

	s.Run("creates unseen accounts only", func() {
		members := store.NewInMemory()
		svc := New(members, WithDirectory(s.mockDir, 2), WithLogger(s.logger))
		_, err := svc.Register(s.ctx, testGroup, "Existing", "existing@example.com")
		s.Require().NoError(err)

		s.mockDir.EXPECT().ListAccounts(gomock.Any(), testGroup).Return([]directory.Entry{
			{AccountID: "a1"}, {AccountID: "a2"}, {AccountID: "a3"},
		}, nil)
		entries := map[string]directory.Entry{
			"a1": {AccountID: "a1", Name: "Existing", Email: "existing@example.com"},
			"a2": {AccountID: "a2", Name: "Bob", Email: "Bob@Example.com"},
			"a3": {AccountID: "a3", Name: "Alice", Email: "alice@example.com"},
		}
		s.mockDir.EXPECT().Lookup(gomock.Any(), testGroup, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, id string) (directory.Entry, error) {
				return entries[id], nil
			}).Times(3)

		result, err := svc.Sync(s.ctx, testGroup)
		s.Require().NoError(err)
		s.Equal(1, result.Existing)
		s.Require().Len(result.Created, 2)
		s.Equal("alice@example.com", result.Created[0].Email)
		s.Equal("bob@example.com", result.Created[1].Email)

		all, err := svc.List(s.ctx, testGroup)
		s.Require().NoError(err)
		s.Len(all, 3)
	})

	s.Run("bounds concurrent lookups", func() {
		svc := New(store.NewInMemory(), WithDirectory(s.mockDir, 2))
		accounts := make([]directory.Entry, 8)
		for i := range accounts {
			accounts[i] = directory.Entry{AccountID: string(rune('a' + i))}
		}
		s.mockDir.EXPECT().ListAccounts(gomock.Any(), testGroup).Return(accounts, nil)

		var inFlight, peak atomic.Int32
		s.mockDir.EXPECT().Lookup(gomock.Any(), testGroup, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, id string) (directory.Entry, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return directory.Entry{AccountID: id, Email: id + "@example.com"}, nil
			}).Times(len(accounts))

		result, err := svc.Sync(s.ctx, testGroup)
		s.Require().NoError(err)
		s.Len(result.Created, len(accounts))
		s.LessOrEqual(peak.Load(), int32(2))
	})

	s.Run("lookup outage aborts without writes", func() {
		members := store.NewInMemory()
		svc := New(members, WithDirectory(s.mockDir, 1))
		s.mockDir.EXPECT().ListAccounts(gomock.Any(), testGroup).Return([]directory.Entry{{AccountID: "a1"}}, nil)
		s.mockDir.EXPECT().Lookup(gomock.Any(), testGroup, "a1").
			Return(directory.Entry{}, directory.NewError(directory.ErrorOutage, "lookup", "status 503", nil))

		_, err := svc.Sync(s.ctx, testGroup)
		s.True(dErrors.HasCode(err, dErrors.CodeDirectoryUnavailable))

		all, err := members.ListByGroup(s.ctx, testGroup)
		s.Require().NoError(err)
		s.Empty(all)
	})

	s.Run("unknown group and timeouts keep their meaning", func() {
		svc := New(store.NewInMemory(), WithDirectory(s.mockDir, 1))
		s.mockDir.EXPECT().ListAccounts(gomock.Any(), "nope").
			Return(nil, directory.NewError(directory.ErrorNotFound, "list_accounts", "account not found", nil))
		s.mockDir.EXPECT().ListAccounts(gomock.Any(), "slow").
			Return(nil, directory.NewError(directory.ErrorTimeout, "list_accounts", "request timed out", context.DeadlineExceeded))

		_, err := svc.Sync(s.ctx, "nope")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = svc.Sync(s.ctx, "slow")
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}
