package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/dairybooth/dairyledger/internal/ledger"
	"github.com/dairybooth/dairyledger/internal/notify"
	"github.com/dairybooth/dairyledger/internal/platform/httpx"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// Handler wires report endpoints.
type Handler struct {
	logger     *slog.Logger
	aggregator *Aggregator
	rateLimit  func(http.Handler) http.Handler
	language   string
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithLanguage sets the default language of rendered supplier summaries.
func WithLanguage(tag string) HandlerOption {
	return func(h *Handler) { h.language = tag }
}

// NewHandler constructs the report handler. Exports are limited per client IP.
func NewHandler(logger *slog.Logger, aggregator *Aggregator, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	h := &Handler{logger: logger, aggregator: aggregator, rateLimit: limiter, language: "en"}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/daily", h.serve(h.daily, false))
		r.Get("/monthly", h.serve(h.monthly, false))
		r.Get("/parties/{id}", h.serve(h.party, false))
		r.Get("/parties/{id}/cycles", h.handleCycles)
		r.Get("/parties/{id}/summary", h.handleSummary)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Get("/daily/export.csv", h.serve(h.daily, true))
			r.Get("/monthly/export.csv", h.serve(h.monthly, true))
			r.Get("/parties/{id}/export.csv", h.serve(h.party, true))
		})
	})
}

type buildFunc func(ctx context.Context, r *http.Request) (Report, string, error)

func (h *Handler) serve(build buildFunc, asCSV bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, name, err := build(r.Context(), r)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if !asCSV {
			httpx.JSON(w, http.StatusOK, rep)
			return
		}
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.WriteAll(Rows(rep)); err != nil {
			h.respondError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", name))
		_, _ = w.Write(buf.Bytes())
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "report request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) daily(ctx context.Context, r *http.Request) (Report, string, error) {
	raw := r.URL.Query().Get("date")
	var date time.Time
	if raw == "" {
		date = h.aggregator.Calendar().Today(time.Now())
	} else {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return Report{}, "", err
		}
		date = d
	}
	rep, err := h.aggregator.DailyReport(ctx, date)
	return rep, "daily_" + shared.FormatDate(date), err
}

func (h *Handler) monthly(ctx context.Context, r *http.Request) (Report, string, error) {
	raw := r.URL.Query().Get("month")
	var ym shared.YearMonth
	if raw == "" {
		cal := h.aggregator.Calendar()
		ym = cal.MonthOf(cal.Today(time.Now()))
	} else {
		parsed, err := shared.ParseYearMonth(raw)
		if err != nil {
			return Report{}, "", err
		}
		ym = parsed
	}
	rep, err := h.aggregator.MonthlyReport(ctx, ym)
	return rep, "monthly_" + ym.String(), err
}

func (h *Handler) party(ctx context.Context, r *http.Request) (Report, string, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return Report{}, "", shared.Invalid("id", "must be a UUID")
	}
	rng, err := ledger.ParseRange(r)
	if err != nil {
		return Report{}, "", err
	}
	rep, err := h.aggregator.PartyReport(ctx, id, rng)
	return rep, "party_" + id.String(), err
}

func (h *Handler) handleCycles(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, shared.Invalid("id", "must be a UUID"))
		return
	}
	ym, err := shared.ParseYearMonth(r.URL.Query().Get("month"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rep, err := h.aggregator.PaymentCycles(r.Context(), id, ym)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

// handleSummary renders the supplier summary message as plain text. scope is daily (the
// default) or monthly, date defaults to today and lang to the configured language.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, shared.Invalid("id", "must be a UUID"))
		return
	}
	q := r.URL.Query()
	scope := notify.SummaryDaily
	switch strings.ToLower(q.Get("scope")) {
	case "", "daily":
	case "monthly":
		scope = notify.SummaryMonthly
	default:
		h.respondError(w, r, shared.Invalid("scope", "must be daily or monthly"))
		return
	}
	date := h.aggregator.Calendar().Today(time.Now())
	if raw := q.Get("date"); raw != "" {
		if date, err = shared.ParseDate(raw); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	lang := h.language
	if raw := q.Get("lang"); raw != "" {
		lang = raw
	}

	summary, err := h.aggregator.SupplierSummary(r.Context(), id, scope, date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(notify.NewRenderer(lang).Summary(summary)))
}
