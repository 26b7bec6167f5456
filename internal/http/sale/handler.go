package sale

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/aggregate"
	"github.com/MrJamesThe3rd/immotrack/internal/http/respond"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type Handler struct {
	sales   *sale.Service
	ledgers *ledger.Service
}

func NewHandler(sales *sale.Service, ledgers *ledger.Service) *Handler {
	return &Handler{sales: sales, ledgers: ledgers}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/notary", h.assignNotary)
	r.Post("/{id}/notary-processing", h.startNotaryProcessing)
	r.Post("/{id}/documents", h.addDocument)
	r.Post("/{id}/formalities", h.completeFormalities)
	r.Post("/{id}/signature-round", h.openSignatures)
	r.Post("/{id}/signatures", h.sign)
	r.Post("/{id}/finalize", h.finalize)
	r.Post("/{id}/cancel", h.cancel)
}

type planItemRequest struct {
	DueDate respond.Date `json:"due_date"`
	Amount  int64        `json:"amount" validate:"gt=0"`
	Notes   string       `json:"notes"`
}

type createSaleRequest struct {
	UnitID    uuid.UUID         `json:"unit_id" validate:"uuid_required"`
	ClientID  uuid.UUID         `json:"client_id" validate:"uuid_required"`
	AgencyID  uuid.UUID         `json:"agency_id" validate:"uuid_required"`
	SalePrice int64             `json:"sale_price" validate:"gt=0"`
	Plan      []planItemRequest `json:"plan,omitempty" validate:"dive"`
}

// create opens the sale and, when a plan is sent along, its installment
// schedule with the sale price as total.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	plan := toPlan(req.Plan)
	if len(plan) > 0 {
		if err := ledger.ValidatePlan(req.SalePrice, plan); err != nil {
			respond.Error(w, err)
			return
		}
	}

	a, _ := actor.FromContext(r.Context())

	sl, err := h.sales.Create(r.Context(), a, sale.CreateParams{
		UnitID:    req.UnitID,
		ClientID:  req.ClientID,
		AgencyID:  req.AgencyID,
		SalePrice: req.SalePrice,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}

	resp := toResponse(sl)

	if len(plan) > 0 {
		sched, err := h.ledgers.CreateSchedule(r.Context(), a, sl.ID, sl.SalePrice, plan)
		if err != nil {
			h.abandon(r.Context(), a, sl, err)
			respond.Error(w, err)

			return
		}

		resp.Schedule = &scheduleReference{ID: sched.ID, TotalAmount: sched.TotalAmount}
	}

	respond.Versioned(w, http.StatusCreated, sl.Version, resp)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := sale.ListFilter{}

	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		filter.Status = new(sale.Status(s))
	}

	if s := q.Get("agency_id"); s != "" {
		id, err := respond.ParseID(s, "agency_id")
		if err != nil {
			respond.Error(w, err)
			return
		}

		filter.AgencyID = &id
	}

	if s := q.Get("client_id"); s != "" {
		id, err := respond.ParseID(s, "client_id")
		if err != nil {
			respond.Error(w, err)
			return
		}

		filter.ClientID = &id
	}

	sales, err := h.sales.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(sales))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "sale id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	sl, err := h.sales.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.Versioned(w, http.StatusOK, sl.Version, toResponse(sl))
}

type assignNotaryRequest struct {
	NotaryID uuid.UUID `json:"notary_id" validate:"uuid_required"`
}

func (h *Handler) assignNotary(w http.ResponseWriter, r *http.Request) {
	var req assignNotaryRequest

	h.mutate(w, r, &req, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.AssignNotary(r.Context(), a, id, req.NotaryID)
	})
}

func (h *Handler) startNotaryProcessing(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.StartNotaryProcessing(r.Context(), a, id)
	})
}

type addDocumentRequest struct {
	Name       string            `json:"name" validate:"required"`
	Kind       sale.DocumentKind `json:"kind" validate:"required"`
	StorageRef string            `json:"storage_ref" validate:"required"`
}

func (h *Handler) addDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest

	h.mutate(w, r, &req, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.AddDocument(r.Context(), a, id, sale.DocumentParams{
			Name:       req.Name,
			Kind:       req.Kind,
			StorageRef: req.StorageRef,
		})
	})
}

func (h *Handler) completeFormalities(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.CompleteFormalities(r.Context(), a, id)
	})
}

func (h *Handler) openSignatures(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.OpenSignatures(r.Context(), a, id)
	})
}

type signRequest struct {
	Party actor.Role `json:"party" validate:"required,oneof=commercial client agency"`
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest

	h.mutate(w, r, &req, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.RequestSignature(r.Context(), a, id, req.Party)
	})
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.Finalize(r.Context(), a, id)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest

	h.mutate(w, r, &req, func(a actor.Actor, id uuid.UUID) (*sale.Sale, error) {
		return h.sales.Cancel(r.Context(), a, id, req.Reason)
	})
}

// mutate parses the sale id and the optional body, then runs op for the
// request actor and writes the updated sale.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, body any, op func(actor.Actor, uuid.UUID) (*sale.Sale, error)) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "sale id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	if body != nil {
		if err := respond.Decode(r, body); err != nil {
			respond.Error(w, err)
			return
		}
	}

	a, _ := actor.FromContext(r.Context())

	sl, err := op(a, id)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.Versioned(w, http.StatusOK, sl.Version, toResponse(sl))
}

// abandon cancels a sale whose schedule could not be created, so the unit is
// not left reserved by a sale the caller never received.
func (h *Handler) abandon(ctx context.Context, a actor.Actor, sl *sale.Sale, cause error) {
	ctx = aggregate.WithExpectedVersion(context.WithoutCancel(ctx), sl.Version)

	if _, err := h.sales.Cancel(ctx, a, sl.ID, "installment schedule could not be created"); err != nil {
		slog.Error("failed to cancel sale after schedule failure",
			"sale_id", sl.ID, "unit_id", sl.UnitID, "cause", cause, "error", err)
	}
}

func toPlan(items []planItemRequest) []ledger.PlanItem {
	plan := make([]ledger.PlanItem, 0, len(items))
	for _, it := range items {
		plan = append(plan, ledger.PlanItem{DueDate: it.DueDate.Time, Amount: it.Amount, Notes: it.Notes})
	}

	return plan
}
