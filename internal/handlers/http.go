package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/filing"
	"github.com/wealth-ops/filing-engine/internal/scheduler"
	"github.com/wealth-ops/filing-engine/internal/workflow"
)

// FilingLister is the read-side listing contract, satisfied by
// database.FilingRepository.
type FilingLister interface {
	ListByTenant(ctx context.Context, tenantID, status, formType string, limit int) ([]*database.Filing, error)
	ListAmendments(ctx context.Context, originalFilingID string) ([]*database.Filing, error)
}

// ExecutionLister lists workflow executions, satisfied by
// database.ExecutionRepository.
type ExecutionLister interface {
	ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]*database.WorkflowExecution, error)
}

// ReminderLister lists the reminders scheduled for an execution, satisfied
// by database.ReminderRepository.
type ReminderLister interface {
	ListByExecution(ctx context.Context, executionID string) ([]*database.FilingReminder, error)
}

// Handler contains all HTTP handlers. It is a thin JSON adapter: every
// business rule lives in the engine components it delegates to.
type Handler struct {
	filings         *filing.Lifecycle
	filingLister    FilingLister
	registry        *workflow.Registry
	orchestrator    *workflow.Orchestrator
	executionLister ExecutionLister
	reminders       *scheduler.ReminderScheduler
	reminderLister  ReminderLister
	logger          *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	filings *filing.Lifecycle,
	filingLister FilingLister,
	registry *workflow.Registry,
	orchestrator *workflow.Orchestrator,
	executionLister ExecutionLister,
	reminders *scheduler.ReminderScheduler,
	reminderLister ReminderLister,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		filings:         filings,
		filingLister:    filingLister,
		registry:        registry,
		orchestrator:    orchestrator,
		executionLister: executionLister,
		reminders:       reminders,
		reminderLister:  reminderLister,
		logger:          logger,
	}
}

// SetupRoutes configures HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	filings := router.PathPrefix("/api/v1/filings").Subrouter()
	filings.HandleFunc("", h.PrepareFiling).Methods("POST")
	filings.HandleFunc("", h.ListFilings).Methods("GET")
	filings.HandleFunc("/{filingId}", h.GetFiling).Methods("GET")
	filings.HandleFunc("/{filingId}/validate", h.ValidateFiling).Methods("POST")
	filings.HandleFunc("/{filingId}/submit", h.SubmitFiling).Methods("POST")
	filings.HandleFunc("/{filingId}/amendments", h.AmendFiling).Methods("POST")
	filings.HandleFunc("/{filingId}/amendments", h.ListAmendments).Methods("GET")

	workflows := router.PathPrefix("/api/v1/workflows").Subrouter()
	workflows.HandleFunc("", h.RegisterWorkflow).Methods("POST")
	workflows.HandleFunc("", h.ListWorkflows).Methods("GET")
	workflows.HandleFunc("/{workflowId}", h.GetWorkflow).Methods("GET")
	workflows.HandleFunc("/{workflowId}/deactivate", h.DeactivateWorkflow).Methods("POST")
	workflows.HandleFunc("/{workflowId}/executions", h.InitiateExecution).Methods("POST")

	executions := router.PathPrefix("/api/v1/executions").Subrouter()
	executions.HandleFunc("", h.ListExecutions).Methods("GET")
	executions.HandleFunc("/{executionId}", h.GetExecution).Methods("GET")
	executions.HandleFunc("/{executionId}/steps/{stepId}", h.ProcessStep).Methods("POST")
	executions.HandleFunc("/{executionId}/reminders", h.ListExecutionReminders).Methods("GET")

	router.HandleFunc("/api/v1/reminders/dispatch", h.DispatchReminders).Methods("POST")

	return router
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "filing-engine",
	})
}

// Filing handlers

func (h *Handler) PrepareFiling(w http.ResponseWriter, r *http.Request) {
	var input filing.PrepareInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prepared, err := h.filings.Prepare(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, prepared)
}

func (h *Handler) GetFiling(w http.ResponseWriter, r *http.Request) {
	record, err := h.filings.Get(r.Context(), mux.Vars(r)["filingId"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, record)
}

func (h *Handler) ListFilings(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "tenant_id is required", nil)
		return
	}
	status := r.URL.Query().Get("status")
	formType := r.URL.Query().Get("form_type")
	limit := h.getIntParam(r, "limit", 50)

	filings, err := h.filingLister.ListByTenant(r.Context(), tenantID, status, formType, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"filings": filings,
		"count":   len(filings),
	})
}

func (h *Handler) ValidateFiling(w http.ResponseWriter, r *http.Request) {
	result, err := h.filings.Validate(r.Context(), mux.Vars(r)["filingId"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}

func (h *Handler) SubmitFiling(w http.ResponseWriter, r *http.Request) {
	var request struct {
		SubmittedBy         string `json:"submitted_by"`
		TestFiling          bool   `json:"test_filing"`
		ExpeditedProcessing bool   `json:"expedited_processing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	submitted, err := h.filings.Submit(r.Context(), mux.Vars(r)["filingId"], request.SubmittedBy, filing.SubmitOptions{
		TestFiling:          request.TestFiling,
		ExpeditedProcessing: request.ExpeditedProcessing,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, submitted)
}

func (h *Handler) AmendFiling(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Changes   map[string]interface{} `json:"changes"`
		Reason    string                 `json:"reason"`
		AmendedBy string                 `json:"amended_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amendment, err := h.filings.Amend(r.Context(), mux.Vars(r)["filingId"], request.Changes, request.Reason, request.AmendedBy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, amendment)
}

func (h *Handler) ListAmendments(w http.ResponseWriter, r *http.Request) {
	amendments, err := h.filingLister.ListAmendments(r.Context(), mux.Vars(r)["filingId"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"amendments": amendments,
		"count":      len(amendments),
	})
}

// Workflow handlers

func (h *Handler) RegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	var tpl database.WorkflowTemplate
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.registry.Register(r.Context(), &tpl); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, tpl)
}

func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.registry.Get(r.Context(), mux.Vars(r)["workflowId"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, tpl)
}

func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "tenant_id is required", nil)
		return
	}

	templates, err := h.registry.ListActive(r.Context(), tenantID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"workflows": templates,
		"count":     len(templates),
	})
}

func (h *Handler) DeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deactivate(r.Context(), mux.Vars(r)["workflowId"]); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"deactivated": true})
}

func (h *Handler) InitiateExecution(w http.ResponseWriter, r *http.Request) {
	var request struct {
		FilingID           string    `json:"filing_id"`
		ReportingPeriodEnd time.Time `json:"reporting_period_end"`
		InitiatedBy        string    `json:"initiated_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	exec, err := h.orchestrator.Initiate(r.Context(), mux.Vars(r)["workflowId"],
		request.FilingID, request.ReportingPeriodEnd, request.InitiatedBy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, exec)
}

func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.orchestrator.Get(r.Context(), mux.Vars(r)["executionId"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, exec)
}

func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "tenant_id is required", nil)
		return
	}
	status := r.URL.Query().Get("status")
	limit := h.getIntParam(r, "limit", 50)

	executions, err := h.executionLister.ListByTenant(r.Context(), tenantID, status, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

func (h *Handler) ListExecutionReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.reminderLister.ListByExecution(r.Context(), mux.Vars(r)["executionId"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"count":     len(reminders),
	})
}

func (h *Handler) ProcessStep(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Action    string   `json:"action"`
		Actor     string   `json:"actor"`
		Notes     string   `json:"notes,omitempty"`
		Artifacts []string `json:"artifacts,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	vars := mux.Vars(r)
	exec, err := h.orchestrator.ProcessStep(r.Context(), vars["executionId"], vars["stepId"],
		request.Action, request.Actor, request.Notes, request.Artifacts)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, exec)
}

// DispatchReminders triggers a manual reminder sweep, in addition to the
// cron-driven one.
func (h *Handler) DispatchReminders(w http.ResponseWriter, r *http.Request) {
	dispatched, err := h.reminders.DispatchDue(r.Context(), time.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"dispatched": dispatched,
		"timestamp":  time.Now().UTC(),
	})
}

// writeDomainError maps engine error types onto HTTP statuses: missing
// entities are 404, refused transitions 409, invalid form data 422.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var notFound *filing.NotFoundError
	var precondition *filing.PreconditionError
	var invalid *filing.ValidationError

	switch {
	case errors.As(err, &notFound):
		h.writeErrorResponse(w, http.StatusNotFound, notFound.Error(), nil)
	case errors.As(err, &precondition):
		h.writeErrorResponse(w, http.StatusConflict, precondition.Error(), nil)
	case errors.As(err, &invalid):
		h.writeJSONResponse(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":             "filing failed validation",
			"validation_result": invalid.Result,
			"timestamp":         time.Now().UTC(),
		})
	default:
		h.writeErrorResponse(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func (h *Handler) writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}

	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	}
	if err != nil {
		response["details"] = err.Error()
	}

	h.writeJSONResponse(w, status, response)
}

func (h *Handler) getIntParam(r *http.Request, param string, defaultValue int) int {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}
