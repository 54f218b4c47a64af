/**
 * @description
 * This file contains the HTTP handlers for the disbursement service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/sirupsen/logrus: Structured logging.
 * - internal/app, internal/domain: For service logic, models, and error shapes.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/FilPassOps/FilPass-sub000/internal/app"
	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	log     *logrus.Entry
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *app.Service, log *logrus.Entry) *Handlers {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Handlers{service: service, log: log.WithField("component", "api")}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Errors validation.Errors `json:"errors,omitempty"`
}

type reviewResultsResponse struct {
	Results []app.ReviewResult `json:"results"`
}

type markPaidRequest struct {
	EventID         string `json:"event_id"`
	ActorRoleID     int64  `json:"actor_role_id"`
	TransactionHash string `json:"transaction_hash"`
}

// CreateTransferRequestHandler files a new transfer request for the caller.
func (h *Handlers) CreateTransferRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form domain.TransferRequestForm
	if !h.decode(w, r, "create_transfer_request", &form, false) {
		return
	}

	view, err := h.service.CreateTransferRequest(r.Context(), actor, form)
	if err != nil {
		h.fail(w, "create_transfer_request", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

func (h *Handlers) GetTransferRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetTransferRequest(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get_transfer_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// UpdateTransferRequestHandler edits a request in an editable status.
func (h *Handlers) UpdateTransferRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form domain.TransferRequestForm
	if !h.decode(w, r, "update_transfer_request", &form, false) {
		return
	}

	view, err := h.service.UpdateTransferRequestByID(r.Context(), actor, chi.URLParam(r, "id"), form)
	if err != nil {
		h.fail(w, "update_transfer_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) VoidTransferRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	view, err := h.service.VoidTransferRequest(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "void_transfer_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListTransferRequestHistory(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// CreateReviewHandler applies the review named by the body's status to every listed request.
func (h *Handlers) CreateReviewHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.CreateReviewInput
	if !h.decode(w, r, "create_review", &input, false) {
		return
	}

	results, err := h.service.CreateTransferRequestReview(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "create_review", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reviewResultsResponse{Results: results})
}

func (h *Handlers) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.ReviewInput
	if !h.decode(w, r, "approve", &input, true) {
		return
	}
	input.ID = chi.URLParam(r, "id")

	result, err := h.service.ApproveTransferRequest(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "approve", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) BatchApproveHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.BatchApproveInput
	if !h.decode(w, r, "batch_approve", &input, false) {
		return
	}

	results, err := h.service.BatchApproveTransferRequest(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "batch_approve", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reviewResultsResponse{Results: results})
}

func (h *Handlers) RejectHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.NotedReviewInput
	if !h.decode(w, r, "reject", &input, false) {
		return
	}
	input.ID = chi.URLParam(r, "id")

	result, err := h.service.RejectTransferRequest(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "reject", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) BatchRejectHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.BatchRejectInput
	if !h.decode(w, r, "batch_reject", &input, false) {
		return
	}

	results, err := h.service.BatchRejectTransferRequest(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "batch_reject", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reviewResultsResponse{Results: results})
}

func (h *Handlers) RequireChangesHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.NotedReviewInput
	if !h.decode(w, r, "require_changes", &input, false) {
		return
	}
	input.ID = chi.URLParam(r, "id")

	result, err := h.service.RequireChangeTransferRequest(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "require_changes", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SubmittedHandler re-opens a rejected request for review.
func (h *Handlers) SubmittedHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input domain.ReviewInput
	if !h.decode(w, r, "submitted", &input, true) {
		return
	}
	input.ID = chi.URLParam(r, "id")

	result, err := h.service.SubmittedTransferRequest(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "submitted", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) UpdateApproverGroupsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	programID, ok := h.programID(w, r)
	if !ok {
		return
	}
	var input domain.UpdateApproverGroupsInput
	if !h.decode(w, r, "update_approver_groups", &input, false) {
		return
	}
	input.ProgramID = programID

	result, err := h.service.UpdateProgramApproverGroups(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "update_approver_groups", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) UpdateProgramCurrencyHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	programID, ok := h.programID(w, r)
	if !ok {
		return
	}
	var input domain.UpdateProgramCurrencyInput
	if !h.decode(w, r, "update_program_currency", &input, false) {
		return
	}
	input.ProgramID = programID

	if err := h.service.UpdateProgramCurrency(r.Context(), actor, input); err != nil {
		h.fail(w, "update_program_currency", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkPaidHandler lets the payout service settle a request synchronously
// when the event bus is unavailable.
func (h *Handlers) MarkPaidHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Transfer request not found")
		return
	}
	var body markPaidRequest
	if !h.decode(w, r, "mark_paid", &body, true) {
		return
	}

	err = h.service.MarkTransferRequestPaid(r.Context(), domain.PaymentSettledEvent{
		EventID:           body.EventID,
		TransferRequestID: id,
		ActorRoleID:       body.ActorRoleID,
		TransactionHash:   body.TransactionHash,
	})
	if err != nil {
		h.fail(w, "mark_paid", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user from context")
		return domain.Actor{}, false
	}
	return actor, true
}

func (h *Handlers) programID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	programID, err := strconv.ParseInt(chi.URLParam(r, "programID"), 10, 64)
	if err != nil || programID <= 0 {
		h.writeError(w, http.StatusNotFound, "Program not found")
		return 0, false
	}
	return programID, true
}

// decode reads the JSON body into dst. An empty body is accepted only when
// allowEmpty is set.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	h.log.WithError(err).WithFields(logrus.Fields{"endpoint": endpoint, "outcome": "reject"}).Warn("invalid request body")
	h.writeError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

// fail writes err in the service's error shape. Dependency failures are
// logged with their cause; the client only sees the generic message.
func (h *Handlers) fail(w http.ResponseWriter, endpoint string, err error) {
	appErr := app.AsError(err)
	entry := h.log.WithFields(logrus.Fields{"endpoint": endpoint, "status": appErr.Status})
	if appErr.Status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	message := appErr.Message
	if message == "" && len(appErr.Errors) > 0 {
		message = "Validation failed"
	}
	h.writeJSON(w, appErr.Status, errorResponse{Error: message, Errors: appErr.Errors})
}

// writeJSON is a helper function for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

// writeError is a helper function for writing JSON error messages.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
