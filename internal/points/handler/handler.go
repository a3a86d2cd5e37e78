package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"pointdist/internal/points/models"
	"pointdist/internal/points/service"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/email"
	"pointdist/pkg/platform/httputil"
	"pointdist/pkg/requestcontext"
	"pointdist/pkg/week"
)

// Service defines the distribution operations the handler needs.
type Service interface {
	Submit(ctx context.Context, sub models.Submission) (*service.WeekView, error)
	Amend(ctx context.Context, sub models.Submission) (*service.WeekView, error)
	Get(ctx context.Context, group string, wk week.Key) (*service.WeekView, error)
	Finalize(ctx context.Context, group string, wk week.Key) (*service.WeekView, error)
	History(ctx context.Context, group string) ([]*models.Distribution, error)
	MemberHistory(ctx context.Context, group, address string) ([]service.WeekTotal, error)
}

// Handler serves the point distribution endpoints.
type Handler struct {
	points Service
	logger *slog.Logger
}

func New(points Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{points: points, logger: logger}
}

// Register registers the distribution routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/points/distribution", func(r chi.Router) {
		r.Post("/send", h.handleSubmit)
		r.Put("/send", h.handleAmend)
		r.Put("/validate", h.handleFinalize)
		r.Get("/history", h.handleHistory)
		r.Get("/{week}", h.handleGetWeek)
	})
	r.Get("/v1/members/{email}/history", h.handleMemberHistory)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(r)
	if err != nil {
		h.fail(w, r, "invalid submission", err)
		return
	}
	view, err := h.points.Submit(r.Context(), sub)
	if err != nil {
		h.fail(w, r, "submission rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toDistributionResponse(view))
}

func (h *Handler) handleAmend(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(r)
	if err != nil {
		h.fail(w, r, "invalid amendment", err)
		return
	}
	view, err := h.points.Amend(r.Context(), sub)
	if err != nil {
		h.fail(w, r, "amendment rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDistributionResponse(view))
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid finalize request", err)
		return
	}
	wk, err := parseWeek(req.Week)
	if err != nil {
		h.fail(w, r, "invalid finalize request", err)
		return
	}
	view, err := h.points.Finalize(r.Context(), req.GroupID, wk)
	if err != nil {
		h.fail(w, r, "finalization rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDistributionResponse(view))
}

func (h *Handler) handleGetWeek(w http.ResponseWriter, r *http.Request) {
	wk, err := parseWeek(chi.URLParam(r, "week"))
	if err != nil {
		h.fail(w, r, "invalid week", err)
		return
	}
	view, err := h.points.Get(r.Context(), r.URL.Query().Get("group_id"), wk)
	if err != nil {
		h.fail(w, r, "failed to load distribution", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDistributionResponse(view))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	dists, err := h.points.History(r.Context(), r.URL.Query().Get("group_id"))
	if err != nil {
		h.fail(w, r, "failed to list history", err)
		return
	}
	out := make([]historyEntry, 0, len(dists))
	for _, d := range dists {
		out = append(out, historyEntry{
			GroupID:     d.GroupID,
			Week:        d.Week,
			Status:      d.Status(),
			FinalizedAt: d.FinalizedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Distributions: out})
}

func (h *Handler) handleMemberHistory(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, "invalid member", dErrors.New(dErrors.CodeBadRequest, "invalid email in path"))
		return
	}
	totals, err := h.points.MemberHistory(r.Context(), r.URL.Query().Get("group_id"), address)
	if err != nil {
		h.fail(w, r, "failed to load member history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, memberHistoryResponse{
		Email: email.Normalize(address),
		Weeks: totals,
	})
}

func parseWeek(raw string) (week.Key, error) {
	wk, err := week.Parse(raw)
	if err != nil {
		return week.Key{}, dErrors.New(dErrors.CodeBadRequest, "week must be a date formatted "+week.DatePattern)
	}
	return wk, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if de, ok := dErrors.As(err); !ok || de.Code == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}
