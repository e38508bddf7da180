package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dairybooth/dairyledger/internal/platform/httpx"
	"github.com/dairybooth/dairyledger/internal/shared"
)

// Handler exposes the ledger over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

// MountRoutes registers party and ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/parties", func(r chi.Router) {
		r.Post("/", h.handleCreateParty)
		r.Get("/", h.handleListParties)
		r.Get("/{id}", h.handleGetParty)
		r.Get("/{id}/records", h.handlePartyRecords)
	})
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/collections", h.handleMilkRecord(RecordCollection))
		r.Post("/sales", h.handleMilkRecord(RecordSale))
		r.Post("/payments", h.handlePayment)
		r.Get("/records", h.handleRecords)
	})
}

func (h *Handler) validate(v any) error {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return shared.Invalid(fe.Field(), "failed %s", fe.Tag())
	}
	return shared.Invalid("", "%s", err.Error())
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	var req CreatePartyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	if err := h.validate(req); err != nil {
		h.respond(w, r, err)
		return
	}
	party, err := h.service.CreateParty(r.Context(), req.input())
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, party)
}

func (h *Handler) handleListParties(w http.ResponseWriter, r *http.Request) {
	kind := PartyKind(strings.ToUpper(r.URL.Query().Get("kind")))
	parties, err := h.service.ListParties(r.Context(), kind)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if parties == nil {
		parties = []Party{}
	}
	httpx.JSON(w, http.StatusOK, parties)
}

func (h *Handler) handleGetParty(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respond(w, r, shared.Invalid("id", "must be a UUID"))
		return
	}
	party, err := h.service.GetParty(r.Context(), id)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, party)
}

func (h *Handler) handlePartyRecords(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respond(w, r, shared.Invalid("id", "must be a UUID"))
		return
	}
	rng, err := ParseRange(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	records, err := h.service.PartyRecords(r.Context(), id, rng)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseRange(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	kind := RecordKind(strings.ToUpper(r.URL.Query().Get("kind")))
	records, err := h.service.Records(r.Context(), rng, kind)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) handleMilkRecord(kind RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MilkRecordRequest
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			h.respond(w, r, err)
			return
		}
		if err := h.validate(req); err != nil {
			h.respond(w, r, err)
			return
		}
		in, err := req.input()
		if err != nil {
			h.respond(w, r, err)
			return
		}
		var res AppendResult
		if kind == RecordCollection {
			res, err = h.service.RecordCollection(r.Context(), in)
		} else {
			res, err = h.service.RecordSale(r.Context(), in)
		}
		if err != nil {
			h.respond(w, r, err)
			return
		}
		writeAppend(w, res)
	}
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	if err := h.validate(req); err != nil {
		h.respond(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.respond(w, r, err)
		return
	}
	res, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	writeAppend(w, res)
}

func writeAppend(w http.ResponseWriter, res AppendResult) {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

// ParseRange reads ?from=YYYY-MM-DD&to=YYYY-MM-DD where to is inclusive, and returns the
// equivalent half-open range.
func ParseRange(r *http.Request) (shared.DateRange, error) {
	q := r.URL.Query()
	from, err := shared.ParseDate(q.Get("from"))
	if err != nil {
		return shared.DateRange{}, shared.Invalid("from", "expected YYYY-MM-DD")
	}
	to, err := shared.ParseDate(q.Get("to"))
	if err != nil {
		return shared.DateRange{}, shared.Invalid("to", "expected YYYY-MM-DD")
	}
	rng := shared.DateRange{From: from, To: to.AddDate(0, 0, 1)}
	return rng, rng.Validate()
}
