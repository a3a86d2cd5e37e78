package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pointdist/internal/member/models"
	"pointdist/internal/member/service"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/platform/httputil"
	"pointdist/pkg/requestcontext"
)

// Service defines the member operations the handler needs.
type Service interface {
	Register(ctx context.Context, group, name, address string) (*models.Member, error)
	List(ctx context.Context, group string) ([]*models.Member, error)
	Sync(ctx context.Context, group string) (*service.SyncResult, error)
}

// Handler serves the member endpoints.
type Handler struct {
	members Service
	logger  *slog.Logger
}

func New(members Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{members: members, logger: logger}
}

// Register registers the member routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/members", h.handleList)
	r.Post("/v1/members", h.handleCreate)
	r.Post("/v1/members/sync", h.handleSync)
}

type createMemberRequest struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

type syncRequest struct {
	GroupID string `json:"group_id"`
}

type memberResponse struct {
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type syncResponse struct {
	Created  []memberResponse `json:"created"`
	Existing int              `json:"existing"`
}

func toResponse(m *models.Member) memberResponse {
	return memberResponse{GroupID: m.GroupID, Name: m.Name, Email: m.Email, CreatedAt: m.CreatedAt}
}

func toResponses(members []*models.Member) []memberResponse {
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toResponse(m))
	}
	return out
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.URL.Query().Get("group_id"))
	members, err := h.members.List(r.Context(), group)
	if err != nil {
		h.fail(w, r, "failed to list members", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"members": toResponses(members)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid create member request", err)
		return
	}
	m, err := h.members.Register(r.Context(), req.GroupID, req.Name, req.Email)
	if err != nil {
		h.fail(w, r, "failed to register member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(m))
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid sync request", err)
		return
	}
	result, err := h.members.Sync(r.Context(), strings.TrimSpace(req.GroupID))
	if err != nil {
		h.fail(w, r, "failed to sync members", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, syncResponse{
		Created:  toResponses(result.Created),
		Existing: result.Existing,
	})
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
