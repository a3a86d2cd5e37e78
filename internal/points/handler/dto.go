package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pointdist/internal/points/models"
	"pointdist/internal/points/service"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/platform/httputil"
	"pointdist/pkg/week"
)

// pointsValue is a JSON number token. Unlike json.Number it refuses quoted
// numbers, so "50" is a malformed body rather than fifty points.
type pointsValue json.Number

func (p *pointsValue) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] == '"' {
		return errors.New("points must be a JSON number")
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = pointsValue(n)
	return nil
}

type givenPoints struct {
	FromMember string      `json:"from_member"`
	ToMember   string      `json:"to_member"`
	Points     pointsValue `json:"points"`
}

type submitRequest struct {
	GivenPoints []givenPoints `json:"given_points"`
	Date        string        `json:"date"`
	GroupID     string        `json:"group_id"`
}

type finalizeRequest struct {
	Week    string `json:"week"`
	GroupID string `json:"group_id"`
}

func decodeSubmission(r *http.Request) (models.Submission, error) {
	var req submitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return models.Submission{}, err
	}
	date, err := week.ParseDate(req.Date)
	if err != nil {
		return models.Submission{}, dErrors.New(dErrors.CodeBadRequest, "date must be formatted "+week.DatePattern)
	}
	grants := make([]models.Grant, 0, len(req.GivenPoints))
	for _, g := range req.GivenPoints {
		points, err := json.Number(g.Points).Int64()
		if err != nil || points < 0 || points > models.PointsPerMember {
			return models.Submission{}, dErrors.New(dErrors.CodeInvalidValue,
				fmt.Sprintf("points for %s must be an integer between 0 and %d", g.ToMember, models.PointsPerMember))
		}
		grants = append(grants, models.Grant{FromEmail: g.FromMember, ToEmail: g.ToMember, Points: int(points)})
	}
	return models.Submission{GroupID: req.GroupID, Date: date, Grants: grants}, nil
}

type allocationResponse struct {
	FromMember string `json:"from_member,omitempty"`
	ToMember   string `json:"to_member"`
	Points     int    `json:"points"`
}

type scoreResponse struct {
	Member string `json:"member"`
	Total  int    `json:"total"`
	Rank   int    `json:"rank"`
}

type distributionResponse struct {
	GroupID     string               `json:"group_id"`
	Week        week.Key             `json:"week"`
	Status      string               `json:"status"`
	IsFinal     bool                 `json:"is_final"`
	FinalizedAt *time.Time           `json:"finalized_at,omitempty"`
	GivenPoints []allocationResponse `json:"given_points"`
	Ranking     []scoreResponse      `json:"ranking,omitempty"`
}

type historyEntry struct {
	GroupID     string     `json:"group_id"`
	Week        week.Key   `json:"week"`
	Status      string     `json:"status"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

type historyResponse struct {
	Distributions []historyEntry `json:"distributions"`
}

type memberHistoryResponse struct {
	Email string              `json:"email"`
	Weeks []service.WeekTotal `json:"weeks"`
}

// toDistributionResponse renders members by email. Archived rows have no
// submitter, so final weeks carry recipients only.
func toDistributionResponse(v *service.WeekView) distributionResponse {
	d := v.Distribution
	resp := distributionResponse{
		GroupID:     d.GroupID,
		Week:        d.Week,
		Status:      d.Status(),
		IsFinal:     d.Final,
		FinalizedAt: d.FinalizedAt,
		GivenPoints: []allocationResponse{},
	}
	for _, a := range v.Allocations {
		resp.GivenPoints = append(resp.GivenPoints, allocationResponse{
			FromMember: v.EmailOf(a.From),
			ToMember:   v.EmailOf(a.To),
			Points:     a.Points,
		})
	}
	for _, a := range v.Archived {
		resp.GivenPoints = append(resp.GivenPoints, allocationResponse{
			ToMember: v.EmailOf(a.To),
			Points:   a.Points,
		})
	}
	for _, sc := range v.Ranking {
		resp.Ranking = append(resp.Ranking, scoreResponse{
			Member: v.EmailOf(sc.Member),
			Total:  sc.Total,
			Rank:   sc.Rank,
		})
	}
	return resp
}
