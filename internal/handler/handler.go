package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/middleware"
	"github.com/Dan9191/loan-servicing/internal/models"
	"github.com/Dan9191/loan-servicing/internal/service"
)

// Engine is the servicing API the handlers call. *service.Service implements it.
type Engine interface {
	ScoreApplicant(ctx context.Context, input models.ScoringInput) (models.ScoreResult, error)
	RegisterDeal(ctx context.Context, app service.DealApplication) (models.Deal, error)
	SaveContact(ctx context.Context, contact models.Contact) error
	GenerateSchedule(ctx context.Context, in service.PaymentScheduleInput) (service.PaymentScheduleResult, error)
	ActivateSchedule(ctx context.Context, in service.PaymentScheduleInput) (service.PaymentScheduleResult, error)
	DealDebtSummary(ctx context.Context, dealAid string) (models.DebtSummary, error)
	RecordPayment(ctx context.Context, financeFaid string, amount decimal.Decimal, source models.StatusSource) (models.Installment, error)
	WaivePenalty(ctx context.Context, financeFaid, reason string) (models.Installment, error)
	EvaluateOverdue(ctx context.Context, asOf time.Time) (service.EvaluationResult, error)
	ScheduleReminders(ctx context.Context, asOf time.Time) (int, error)
	DeliverQueued(ctx context.Context, limit int) (service.DeliveryResult, error)
	DispatchNotice(ctx context.Context, t service.Trigger) (service.DispatchResult, error)
	CloseCollectionGoal(ctx context.Context, dealAid, financeFaid, reason string) (models.CollectionGoal, error)
}

type Handler struct {
	svc       Engine
	log       *logrus.Logger
	batchSize int
}

func NewHandler(svc Engine, log *logrus.Logger, batchSize int) *Handler {
	return &Handler{svc: svc, log: log, batchSize: batchSize}
}

// Routes registers the protected API on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/scoring", h.Score).Methods("POST")
	r.HandleFunc("/deals", h.RegisterDeal).Methods("POST")
	r.HandleFunc("/clients/{clientAid}/contact", h.SaveContact).Methods("PUT")
	r.HandleFunc("/schedules/preview", h.PreviewSchedule).Methods("POST")
	r.HandleFunc("/deals/{dealAid}/schedule", h.ActivateSchedule).Methods("POST")
	r.HandleFunc("/deals/{dealAid}/debt", h.DebtSummary).Methods("GET")
	r.HandleFunc("/finances/{faid}/payments", h.RecordPayment).Methods("POST")
	r.HandleFunc("/finances/{faid}/waiver", h.WaivePenalty).Methods("POST")
	r.HandleFunc("/deals/{dealAid}/finances/{faid}/collection/close", h.CloseCollection).Methods("POST")
	r.HandleFunc("/notices", h.DispatchNotice).Methods("POST")
	r.HandleFunc("/sweeps/overdue", h.SweepOverdue).Methods("POST")
	r.HandleFunc("/sweeps/reminders", h.SweepReminders).Methods("POST")
	r.HandleFunc("/sweeps/delivery", h.SweepDelivery).Methods("POST")
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Score handles applicant scoring
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var input models.ScoringInput
	if !h.decode(w, r, &input) {
		return
	}
	res, err := h.svc.ScoreApplicant(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// RegisterDeal handles deal registration
func (h *Handler) RegisterDeal(w http.ResponseWriter, r *http.Request) {
	var app service.DealApplication
	if !h.decode(w, r, &app) {
		return
	}
	deal, err := h.svc.RegisterDeal(r.Context(), app)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, deal)
}

// SaveContact stores the channels a client can be reached on
func (h *Handler) SaveContact(w http.ResponseWriter, r *http.Request) {
	var contact models.Contact
	if !h.decode(w, r, &contact) {
		return
	}
	contact.ClientAid = mux.Vars(r)["clientAid"]
	if err := h.svc.SaveContact(r.Context(), contact); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewSchedule generates a schedule without storing it
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var in service.PaymentScheduleInput
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.svc.GenerateSchedule(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// ActivateSchedule generates and stores the schedule of a deal
func (h *Handler) ActivateSchedule(w http.ResponseWriter, r *http.Request) {
	var in service.PaymentScheduleInput
	if !h.decode(w, r, &in) {
		return
	}
	in.DealAid = mux.Vars(r)["dealAid"]
	res, err := h.svc.ActivateSchedule(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, res)
}

// DebtSummary returns the outstanding debt of a deal
func (h *Handler) DebtSummary(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DealDebtSummary(r.Context(), mux.Vars(r)["dealAid"])
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

type paymentRequest struct {
	Amount decimal.Decimal     `json:"amount"`
	Source models.StatusSource `json:"source,omitempty"`
}

// RecordPayment settles an installment
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = models.SourceUser
	}
	inst, err := h.svc.RecordPayment(r.Context(), mux.Vars(r)["faid"], req.Amount, req.Source)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, inst)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// attributed appends the authenticated caller to an operator reason so the
// history shows who made the change.
func attributed(ctx context.Context, reason string) string {
	subject := middleware.Subject(ctx)
	if reason == "" || subject == "" {
		return reason
	}
	return reason + " (by " + subject + ")"
}

// WaivePenalty waives the accrued penalty of an installment
func (h *Handler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	inst, err := h.svc.WaivePenalty(r.Context(), mux.Vars(r)["faid"], attributed(r.Context(), req.Reason))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, inst)
}

// CloseCollection closes the open collection goal of an installment
func (h *Handler) CloseCollection(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	goal, err := h.svc.CloseCollectionGoal(r.Context(), vars["dealAid"], vars["faid"], attributed(r.Context(), req.Reason))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, goal)
}

type noticeRequest struct {
	Channel            models.Channel          `json:"channel,omitempty"`
	TemplateKey        string                  `json:"template_key"`
	Variables          []models.NoticeVariable `json:"variables"`
	RecipientAid       string                  `json:"recipient_aid"`
	RelatedDealAid     string                  `json:"related_deal_aid,omitempty"`
	RelatedFinanceFaid string                  `json:"related_finance_faid,omitempty"`
	TriggerReason      models.TriggerReason    `json:"trigger_reason"`
	SendAfter          *time.Time              `json:"send_after,omitempty"`
}

// DispatchNotice queues a manual notice
func (h *Handler) DispatchNotice(w http.ResponseWriter, r *http.Request) {
	var req noticeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.DispatchNotice(r.Context(), service.Trigger{
		Channel:            req.Channel,
		TemplateKey:        req.TemplateKey,
		Variables:          req.Variables,
		RecipientAid:       req.RecipientAid,
		RelatedDealAid:     req.RelatedDealAid,
		RelatedFinanceFaid: req.RelatedFinanceFaid,
		TriggeredBy:        models.SourceUser,
		TriggerReason:      req.TriggerReason,
		SendAfter:          req.SendAfter,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == service.OutcomeQueued {
		status = http.StatusAccepted
	}
	h.respond(w, status, res)
}

type sweepRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// asOf reads the optional sweep date (YYYY-MM-DD or RFC 3339). An empty body means now.
func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var req sweepRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return time.Time{}, false
		}
	}
	if req.AsOf == "" {
		return time.Now().UTC(), true
	}
	if t, err := time.Parse(models.DateLayout, req.AsOf); err == nil {
		return t, true
	}
	t, err := time.Parse(time.RFC3339, req.AsOf)
	if err != nil {
		h.fail(w, models.ValidationError("invalid as_of %q", req.AsOf))
		return time.Time{}, false
	}
	return t, true
}

// SweepOverdue runs the overdue evaluation on demand
func (h *Handler) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	res, err := h.svc.EvaluateOverdue(r.Context(), asOf)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// SweepReminders queues the upcoming payment reminders on demand
func (h *Handler) SweepReminders(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	queued, err := h.svc.ScheduleReminders(r.Context(), asOf)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"queued": queued})
}

// SweepDelivery delivers one batch of queued notices on demand
func (h *Handler) SweepDelivery(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeliverQueued(r.Context(), h.batchSize)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Errorf("Failed to write response: %v", err)
	}
}

// fail maps engine errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConcurrencyConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrConfiguration):
		h.log.Errorf("Engine is misconfigured: %v", err)
	default:
		h.log.Errorf("Request failed: %v", err)
	}
	h.respond(w, status, map[string]string{"error": err.Error()})
}
