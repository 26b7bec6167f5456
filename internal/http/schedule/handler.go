package schedule

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/export"
	"github.com/MrJamesThe3rd/immotrack/internal/http/respond"
	"github.com/MrJamesThe3rd/immotrack/internal/importer"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
)

type Handler struct {
	svc       *ledger.Service
	importSvc *importer.Service
	exportSvc *export.Service
}

func NewHandler(svc *ledger.Service, importSvc *importer.Service, exportSvc *export.Service) *Handler {
	return &Handler{svc: svc, importSvc: importSvc, exportSvc: exportSvc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/late", h.late)
	r.Get("/{id}", h.get)
	r.Get("/{id}/statement", h.statement)
	r.Put("/{id}", h.bulkUpdate)
	r.Patch("/{id}/installments/{installmentID}", h.updateInstallment)
	r.Post("/{id}/payments", h.recordPayment)
	r.Post("/{id}/refund", h.refund)
}

// SaleRoutes serves the schedule of one sale, mounted under /sales/{id}/schedule.
func (h *Handler) SaleRoutes(r chi.Router) {
	r.Get("/", h.getBySale)
	r.Post("/", h.create)
	r.Post("/import", h.importPlan)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ledger.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = new(ledger.Status(s))
	}

	scheds, err := h.svc.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(scheds, h.svc.Now()))
}

func (h *Handler) late(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.LateReport(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, toLateResponse(report, h.svc.Now()))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "schedule id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	sched, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusOK, sched)
}

// statement exports the schedule as a CSV échéancier, or as a plain-text
// recap with ?format=text.
func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "schedule id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	st, err := h.exportSvc.Statement(r.Context(), id)
	if err != nil {
		respond.Error(w, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if _, err := w.Write([]byte(export.Summary(st))); err != nil {
			slog.Error("failed to write statement", "error", err)
		}

		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="echeancier-%s.csv"`, st.Schedule.ID))

	if err := export.WriteCSV(w, st); err != nil {
		slog.Error("failed to write statement", "error", err)
	}
}

func (h *Handler) getBySale(w http.ResponseWriter, r *http.Request) {
	saleID, err := respond.ParseID(chi.URLParam(r, "id"), "sale id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	sched, err := h.svc.GetBySale(r.Context(), saleID)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusOK, sched)
}

type planItemRequest struct {
	DueDate respond.Date `json:"due_date"`
	Amount  int64        `json:"amount"`
	Notes   string       `json:"notes"`
}

type createScheduleRequest struct {
	TotalAmount int64             `json:"total_amount" validate:"gt=0"`
	Plan        []planItemRequest `json:"plan" validate:"required,min=1"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	saleID, err := respond.ParseID(chi.URLParam(r, "id"), "sale id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	var req createScheduleRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	plan := make([]ledger.PlanItem, 0, len(req.Plan))
	for _, it := range req.Plan {
		plan = append(plan, ledger.PlanItem{DueDate: it.DueDate.Time, Amount: it.Amount, Notes: it.Notes})
	}

	a, _ := actor.FromContext(r.Context())

	sched, err := h.svc.CreateSchedule(r.Context(), a, saleID, req.TotalAmount, plan)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusCreated, sched)
}

// importPlan builds the schedule from an uploaded plan file; its total is the
// sum of the imported amounts.
func (h *Handler) importPlan(w http.ResponseWriter, r *http.Request) {
	saleID, err := respond.ParseID(chi.URLParam(r, "id"), "sale id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respond.Error(w, apperr.New(apperr.CodeValidation, "failed to parse form: %v", err))
		return
	}

	format := importer.Format(r.FormValue("format"))
	if format == "" {
		format = importer.FormatCSV
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respond.Error(w, apperr.New(apperr.CodeValidation, "file field is required"))
		return
	}
	defer file.Close()

	plan, total, err := h.importSvc.Import(format, file)
	if err != nil {
		respond.Error(w, apperr.New(apperr.CodeValidation, "invalid plan file: %v", err))
		return
	}

	a, _ := actor.FromContext(r.Context())

	sched, err := h.svc.CreateSchedule(r.Context(), a, saleID, total, plan)
	if err != nil {
		respond.Error(w, err)
		return
	}

	respond.Versioned(w, http.StatusCreated, sched.Version, importResponse{
		Imported: len(plan),
		Schedule: toResponse(sched, h.svc.Now()),
	})
}

type installmentRequest struct {
	ID                uuid.UUID                `json:"id" validate:"uuid_required"`
	DueDate           respond.Date             `json:"due_date"`
	Amount            int64                    `json:"amount"`
	Status            ledger.InstallmentStatus `json:"status" validate:"required,oneof=upcoming late paid cancelled"`
	ActualPaymentDate *respond.Date            `json:"actual_payment_date"`
	Notes             string                   `json:"notes"`
}

type bulkUpdateRequest struct {
	Installments []installmentRequest `json:"installments" validate:"required,dive"`
}

// bulkUpdate accepts the whole installment list back and applies only the
// fields that differ, as one atomic batch.
func (h *Handler) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "schedule id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	var req bulkUpdateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	incoming := make([]ledger.InstallmentInput, 0, len(req.Installments))
	for _, in := range req.Installments {
		input := ledger.InstallmentInput{
			ID:      in.ID,
			DueDate: in.DueDate.Time,
			Amount:  in.Amount,
			Status:  in.Status,
			Notes:   in.Notes,
		}

		if in.ActualPaymentDate != nil && !in.ActualPaymentDate.IsZero() {
			input.ActualPaymentDate = new(in.ActualPaymentDate.Time)
		}

		incoming = append(incoming, input)
	}

	a, _ := actor.FromContext(r.Context())

	sched, err := h.svc.BulkUpdate(r.Context(), a, id, incoming)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusOK, sched)
}

type updateInstallmentRequest struct {
	DueDate *respond.Date `json:"due_date,omitempty"`
	Amount  *int64        `json:"amount,omitempty"`
	Notes   *string       `json:"notes,omitempty"`
}

func (h *Handler) updateInstallment(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "schedule id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	installmentID, err := respond.ParseID(chi.URLParam(r, "installmentID"), "installment id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	var req updateInstallmentRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	var edits []ledger.Edit

	if req.DueDate != nil {
		edits = append(edits, ledger.Edit{InstallmentID: installmentID, Kind: ledger.EditDueDate, DueDate: req.DueDate.Time})
	}

	if req.Amount != nil {
		edits = append(edits, ledger.Edit{InstallmentID: installmentID, Kind: ledger.EditAmount, Amount: *req.Amount})
	}

	if req.Notes != nil {
		edits = append(edits, ledger.Edit{InstallmentID: installmentID, Kind: ledger.EditNotes, Notes: *req.Notes})
	}

	if len(edits) == 0 {
		respond.Error(w, apperr.New(apperr.CodeValidation, "nothing to update"))
		return
	}

	a, _ := actor.FromContext(r.Context())

	sched, err := h.svc.ApplyEdits(r.Context(), a, id, edits)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusOK, sched)
}

type recordPaymentRequest struct {
	InstallmentID uuid.UUID    `json:"installment_id" validate:"uuid_required"`
	PaidOn        respond.Date `json:"paid_on"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "schedule id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	var req recordPaymentRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	a, _ := actor.FromContext(r.Context())

	sched, err := h.svc.RecordPayment(r.Context(), a, id, req.InstallmentID, req.PaidOn.Time)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusOK, sched)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, err := respond.ParseID(chi.URLParam(r, "id"), "schedule id")
	if err != nil {
		respond.Error(w, err)
		return
	}

	a, _ := actor.FromContext(r.Context())

	sched, err := h.svc.RefundAndRelist(r.Context(), a, id)
	if err != nil {
		respond.Error(w, err)
		return
	}

	h.write(w, http.StatusOK, sched)
}

func (h *Handler) write(w http.ResponseWriter, status int, sched *ledger.Schedule) {
	respond.Versioned(w, status, sched.Version, toResponse(sched, h.svc.Now()))
}
