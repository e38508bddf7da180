package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dairybooth/dairyledger/internal/platform/httpx"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// Replayer is the dispatcher surface used by the handler.
type Replayer interface {
	Replay(ctx context.Context, id uuid.UUID) (bool, error)
}

// Handler exposes notification inspection and manual replay.
type Handler struct {
	logger   *slog.Logger
	store    Store
	replayer Replayer
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, store Store, replayer Replayer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store, replayer: replayer}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/replay", h.handleReplay)
	})
}

type eventView struct {
	Event
	Transitions []Transition `json:"transitions"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	state := State(strings.ToUpper(r.URL.Query().Get("state")))
	if state == "" {
		state = StateFailed
	}
	if _, known := transitions[state]; !known && state != StateDelivered {
		httpx.RespondError(w, shared.Invalid("state", "unknown state %q", state))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			httpx.RespondError(w, shared.Invalid("limit", "must be between 1 and 1000"))
			return
		}
		limit = n
	}
	events, err := h.store.ListByState(r.Context(), state, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if events == nil {
		events = []Event{}
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("id", "must be a UUID"))
		return
	}
	ev, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	log, err := h.store.Transitions(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load transitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, eventView{Event: ev, Transitions: log})
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("id", "must be a UUID"))
		return
	}
	replayed, err := h.replayer.Replay(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "replayed": replayed})
}
