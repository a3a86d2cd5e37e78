package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	memberModels "pointdist/internal/member/models"
	memberstore "pointdist/internal/member/store"
	"pointdist/internal/points/service"
	pointsstore "pointdist/internal/points/store"
	"pointdist/pkg/testutil"
)

const (
	testGroup = "group-1"
	member1   = "member1@example.com"
	member2   = "member2@example.com"
)

var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type PointsHandlerSuite struct {
	suite.Suite
	router http.Handler
}

func TestPointsHandlerSuite(t *testing.T) {
	suite.Run(t, new(PointsHandlerSuite))
}

func (s *PointsHandlerSuite) SetupTest() {
	members := memberstore.NewInMemory()
	for _, address := range []string{member1, member2} {
		m, err := memberModels.NewMember(testGroup, "", address, testNow)
		s.Require().NoError(err)
		s.Require().NoError(members.Create(context.Background(), m))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(pointsstore.NewInMemory(), members, service.WithLogger(logger))

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

func (s *PointsHandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.AtTime(req, testNow))
}

func (s *PointsHandlerSuite) send(method, body string) *httptest.ResponseRecorder {
	return s.do(testutil.NewRawJSONRequest(method, "/v1/points/distribution/send", body))
}

func (s *PointsHandlerSuite) submitConsistent() {
	rr := s.send(http.MethodPost, `{"group_id":"group-1","date":"2026-10-14","given_points":[
		{"from_member":"member1@example.com","to_member":"member1@example.com","points":51},
		{"from_member":"member1@example.com","to_member":"member2@example.com","points":49}]}`)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	rr = s.send(http.MethodPost, `{"group_id":"group-1","date":"2026-10-14","given_points":[
		{"from_member":"member2@example.com","to_member":"member1@example.com","points":51},
		{"from_member":"member2@example.com","to_member":"member2@example.com","points":49}]}`)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
}

func (s *PointsHandlerSuite) TestSubmitAndFetch() {
	s.submitConsistent()

	rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/points/distribution/2026-10-16?group_id=group-1"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[distributionResponse](s.T(), rr)

	s.Equal("2026-10-12", resp.Week.String())
	s.Equal("provisional", resp.Status)
	s.False(resp.IsFinal)
	s.Require().Len(resp.GivenPoints, 4)
	for _, gp := range resp.GivenPoints {
		s.Contains([]string{member1, member2}, gp.FromMember)
		s.Contains([]string{member1, member2}, gp.ToMember)
	}
}

func (s *PointsHandlerSuite) TestSubmitRejections() {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"group_id":`, http.StatusBadRequest, "bad_request"},
		{"bad date", `{"group_id":"group-1","date":"14/10/2026","given_points":[]}`, http.StatusBadRequest, "bad_request"},
		{"fractional points", `{"group_id":"group-1","date":"2026-10-14","given_points":[
			{"from_member":"member1@example.com","to_member":"member1@example.com","points":50.5}]}`, http.StatusBadRequest, "invalid_value"},
		{"points not a number", `{"group_id":"group-1","date":"2026-10-14","given_points":[
			{"from_member":"member1@example.com","to_member":"member1@example.com","points":"fifty"}]}`, http.StatusBadRequest, "bad_request"},
		{"quoted numeric points", `{"group_id":"group-1","date":"2026-10-14","given_points":[
			{"from_member":"member1@example.com","to_member":"member1@example.com","points":"50"},
			{"from_member":"member1@example.com","to_member":"member2@example.com","points":50}]}`, http.StatusBadRequest, "bad_request"},
		{"stale week", `{"group_id":"group-1","date":"2026-10-05","given_points":[
			{"from_member":"member1@example.com","to_member":"member1@example.com","points":50},
			{"from_member":"member1@example.com","to_member":"member2@example.com","points":50}]}`, http.StatusBadRequest, "stale_week"},
		{"ungraded member", `{"group_id":"group-1","date":"2026-10-14","given_points":[
			{"from_member":"member1@example.com","to_member":"member1@example.com","points":100}]}`, http.StatusBadRequest, "missing_submitter"},
		{"unknown member", `{"group_id":"group-1","date":"2026-10-14","given_points":[
			{"from_member":"member1@example.com","to_member":"ghost@example.com","points":50},
			{"from_member":"member1@example.com","to_member":"member2@example.com","points":50}]}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rr := s.send(http.MethodPost, tt.body)
			testutil.AssertStatusAndError(s.T(), rr, tt.status, tt.code)
		})
	}
}

func (s *PointsHandlerSuite) TestAmend() {
	s.submitConsistent()

	rr := s.send(http.MethodPut, `{"group_id":"group-1","date":"2026-10-14","given_points":[
		{"from_member":"member1@example.com","to_member":"member2@example.com","points":40}]}`)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[distributionResponse](s.T(), rr)
	found := false
	for _, gp := range resp.GivenPoints {
		if gp.FromMember == member1 && gp.ToMember == member2 {
			s.Equal(40, gp.Points)
			found = true
		}
	}
	s.True(found)
}

func (s *PointsHandlerSuite) TestFinalizeFlow() {
	s.submitConsistent()

	finalize := func() *httptest.ResponseRecorder {
		return s.do(testutil.NewRawJSONRequest(http.MethodPut, "/v1/points/distribution/validate",
			`{"group_id":"group-1","week":"2026-10-14"}`))
	}

	rr := finalize()
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	final := testutil.UnmarshalResponse[distributionResponse](s.T(), rr)
	s.True(final.IsFinal)
	s.Equal("final", final.Status)
	s.Require().Len(final.GivenPoints, 4)
	for _, gp := range final.GivenPoints {
		s.Empty(gp.FromMember, "archived points carry no submitter")
	}
	s.Require().Len(final.Ranking, 2)
	s.Equal(member1, final.Ranking[0].Member)
	s.Equal(102, final.Ranking[0].Total)
	s.NotContains(rr.Body.String(), "from_member")

	s.Run("re-fetch is identical", func() {
		again := s.do(testutil.NewRequest(http.MethodGet, "/v1/points/distribution/2026-10-12?group_id=group-1"))
		testutil.AssertStatus(s.T(), again, http.StatusOK)
		s.Equal(final, testutil.UnmarshalResponse[distributionResponse](s.T(), again))
	})

	s.Run("second finalize conflicts", func() {
		testutil.AssertStatusAndError(s.T(), finalize(), http.StatusConflict, "already_final")
	})

	s.Run("history lists the week", func() {
		rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/points/distribution/history?group_id=group-1"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[historyResponse](s.T(), rr)
		require.Len(s.T(), resp.Distributions, 1)
		s.Equal("final", resp.Distributions[0].Status)
	})

	s.Run("member history", func() {
		rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/members/member2@example.com/history?group_id=group-1"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[memberHistoryResponse](s.T(), rr)
		s.Equal(member2, resp.Email)
		require.Len(s.T(), resp.Weeks, 1)
		s.Equal(98, resp.Weeks[0].Points)
	})
}

func (s *PointsHandlerSuite) TestFinalizeRejectsConflict() {
	s.send(http.MethodPost, `{"group_id":"group-1","date":"2026-10-14","given_points":[
		{"from_member":"member1@example.com","to_member":"member1@example.com","points":60},
		{"from_member":"member1@example.com","to_member":"member2@example.com","points":40}]}`)
	s.send(http.MethodPost, `{"group_id":"group-1","date":"2026-10-14","given_points":[
		{"from_member":"member2@example.com","to_member":"member1@example.com","points":50},
		{"from_member":"member2@example.com","to_member":"member2@example.com","points":50}]}`)

	rr := s.do(testutil.NewRawJSONRequest(http.MethodPut, "/v1/points/distribution/validate",
		`{"group_id":"group-1","week":"2026-10-12"}`))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "point_conflict")
	errResp := testutil.UnmarshalResponse[map[string]string](s.T(), rr)
	assert.Equal(s.T(), "There is a conflict of points with at least one member in the group", (*errResp)["error_description"])
}

func (s *PointsHandlerSuite) TestLookups() {
	s.Run("unknown week", func() {
		rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/points/distribution/2026-10-12?group_id=group-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
	s.Run("malformed week", func() {
		rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/points/distribution/last-week?group_id=group-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
	s.Run("missing group", func() {
		rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/points/distribution/history"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
	s.Run("unknown member history", func() {
		rr := s.do(testutil.NewRequest(http.MethodGet, "/v1/members/ghost@example.com/history?group_id=group-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}
