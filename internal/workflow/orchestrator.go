package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/events"
	"github.com/wealth-ops/filing-engine/internal/filing"
	"github.com/wealth-ops/filing-engine/internal/metrics"
)

// Step actions accepted by ProcessStep.
const (
	StepActionStart    = "start"
	StepActionComplete = "complete"
	StepActionApprove  = "approve"
	StepActionReject   = "reject"
)

// ExecutionStore is the persistence contract for workflow executions.
type ExecutionStore interface {
	Create(ctx context.Context, exec *database.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*database.WorkflowExecution, error)
	Update(ctx context.Context, exec *database.WorkflowExecution) error
	GetActiveByFiling(ctx context.Context, filingID string) (*database.WorkflowExecution, error)
}

// ReminderScheduler schedules due-date-relative reminders for a new
// execution. Implemented by scheduler.ReminderScheduler.
type ReminderScheduler interface {
	Schedule(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution) error
}

// Orchestrator drives workflow executions over a template's step graph:
// manual and approval steps wait for ProcessStep calls, automated steps run
// through the executor registry, and completion chains eligible automated
// successors. All mutations of one execution are serialized on a per-id
// lock; distinct executions proceed independently.
type Orchestrator struct {
	config     *config.Config
	logger     *zap.Logger
	registry   *Registry
	executions ExecutionStore
	executors  *ExecutorRegistry
	reminders  ReminderScheduler
	publisher  events.Publisher
	metrics    *metrics.Collector
	locks      filing.KeyedMutex
}

// NewOrchestrator creates a workflow orchestrator.
func NewOrchestrator(
	cfg *config.Config,
	logger *zap.Logger,
	registry *Registry,
	executions ExecutionStore,
	executors *ExecutorRegistry,
	reminders ReminderScheduler,
	publisher events.Publisher,
	collector *metrics.Collector,
) *Orchestrator {
	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		executions: executions,
		executors:  executors,
		reminders:  reminders,
		publisher:  publisher,
		metrics:    collector,
	}
}

// Initiate instantiates a template into a new execution against a filing.
// The due date comes from the template's schedule rule; the scheduled
// completion date walks backward from it by the cumulative estimated step
// durations plus a fixed buffer. If the first eligible step is automated it
// runs synchronously before Initiate returns.
func (o *Orchestrator) Initiate(ctx context.Context, workflowID, filingID string, periodEnd time.Time, initiatedBy string) (*database.WorkflowExecution, error) {
	tpl, err := o.registry.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, filing.NewPrecondition("workflow template %s is inactive", workflowID)
	}

	active, err := o.executions.GetActiveByFiling(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, filing.NewPrecondition(
			"filing %s already has active execution %s", filingID, active.ID)
	}

	dueDate := periodEnd.AddDate(0, 0, tpl.Schedule.DueDateOffsetDays)

	totalEstimatedHours := 0
	stepStatus := make(database.StepStatusMap, len(tpl.Steps))
	for _, step := range tpl.Steps {
		totalEstimatedHours += step.EstimatedDurationHours
		stepStatus[step.StepID] = &database.StepState{Status: database.StepStatusPending}
	}
	scheduledCompletion := dueDate.
		Add(-time.Duration(totalEstimatedHours) * time.Hour).
		AddDate(0, 0, -o.config.Workflow.CompletionBufferDays)

	now := time.Now()
	exec := &database.WorkflowExecution{
		ID:                      uuid.NewString(),
		WorkflowID:              tpl.ID,
		TenantID:                tpl.TenantID,
		FilingID:                filingID,
		Status:                  database.ExecutionStatusPending,
		InitiatedBy:             initiatedBy,
		InitiatedAt:             now,
		DueDate:                 dueDate,
		ScheduledCompletionDate: scheduledCompletion,
		StepStatus:              stepStatus,
		Issues:                  database.IssueList{},
		Metrics: database.ExecutionMetrics{
			StepDurationsMinutes: map[string]float64{},
			AutomationEfficiency: automationEfficiency(tpl.Steps),
		},
	}

	if err := o.executions.Create(ctx, exec); err != nil {
		return nil, err
	}
	o.metrics.ExecutionTransition(exec.Status)
	o.publisher.Publish(events.EventWorkflowInitiated, executionEventPayload(exec))

	if err := o.reminders.Schedule(ctx, tpl, exec); err != nil {
		// Reminders are advisory; a scheduling failure must not unwind an
		// already-created execution.
		o.logger.Warn("Failed to schedule reminders",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}

	unlock := o.locks.Lock(exec.ID)
	defer unlock()
	if err := o.advance(ctx, tpl, exec, initiatedBy); err != nil {
		return nil, err
	}
	if err := o.executions.Update(ctx, exec); err != nil {
		return nil, err
	}

	o.logger.Info("Workflow execution initiated",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", tpl.ID),
		zap.String("filing_id", filingID),
		zap.Time("due_date", dueDate),
		zap.Time("scheduled_completion", scheduledCompletion))
	return exec, nil
}

// Get retrieves an execution by id.
func (o *Orchestrator) Get(ctx context.Context, executionID string) (*database.WorkflowExecution, error) {
	exec, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, filing.NewNotFound("workflow execution", executionID)
	}
	return exec, nil
}

// ProcessStep applies a manual action to one step. Ordering is enforced, not
// assumed: acting on a step whose dependencies are not all terminal is
// refused with a PreconditionError rather than silently allowed.
func (o *Orchestrator) ProcessStep(ctx context.Context, executionID, stepID, action, actor, notes string, artifacts []string) (*database.WorkflowExecution, error) {
	unlock := o.locks.Lock(executionID)
	defer unlock()

	exec, err := o.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.IsTerminal() {
		return nil, filing.NewPrecondition("execution %s is %s", executionID, exec.Status)
	}

	tpl, err := o.registry.Get(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	step := tpl.Step(stepID)
	if step == nil {
		return nil, filing.NewNotFound("workflow step", stepID)
	}
	state, exists := exec.StepStatus[stepID]
	if !exists {
		return nil, filing.NewNotFound("workflow step", stepID)
	}

	switch action {
	case StepActionStart:
		err = o.startStep(exec, step, state, actor)
	case StepActionComplete:
		err = o.completeStep(ctx, tpl, exec, step, state, actor, notes, artifacts)
	case StepActionApprove:
		err = o.approveStep(ctx, tpl, exec, step, state, actor, notes)
	case StepActionReject:
		err = o.rejectStep(exec, step, state, actor, notes)
	default:
		err = filing.NewPrecondition("unknown step action %q", action)
	}

	o.metrics.StepProcessed(action, err == nil)
	if err != nil {
		return nil, err
	}

	if err := o.executions.Update(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// startStep moves a step to in_progress once its dependencies are satisfied.
// A failed step may be restarted, which is the manual re-drive path after an
// executor failure.
func (o *Orchestrator) startStep(exec *database.WorkflowExecution, step *database.WorkflowStep, state *database.StepState, actor string) error {
	if state.Status != database.StepStatusPending && state.Status != database.StepStatusFailed {
		return filing.NewPrecondition("step %s is %s and cannot be started", step.StepID, state.Status)
	}
	if unmet := unmetDependencies(step, exec.StepStatus); len(unmet) > 0 {
		return filing.NewPrecondition(
			"step %s has incomplete dependencies: %s", step.StepID, strings.Join(unmet, ", "))
	}

	now := time.Now()
	state.Status = database.StepStatusInProgress
	state.AssignedTo = actor
	state.StartedAt = &now
	state.CompletedAt = nil
	exec.CurrentStep = step.StepID
	if exec.Status == database.ExecutionStatusPending {
		exec.Status = database.ExecutionStatusInProgress
		o.metrics.ExecutionTransition(exec.Status)
	}

	o.publisher.Publish(events.EventStepStarted, stepEventPayload(exec, step.StepID))
	return nil
}

func (o *Orchestrator) completeStep(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution, step *database.WorkflowStep, state *database.StepState, actor, notes string, artifacts []string) error {
	if state.Status != database.StepStatusInProgress {
		return filing.NewPrecondition("step %s is %s and cannot be completed", step.StepID, state.Status)
	}
	if step.StepType == database.StepTypeApproval {
		return filing.NewPrecondition("approval step %s requires approve or reject", step.StepID)
	}

	o.finishStep(exec, step.StepID, state, notes, artifacts)
	o.publisher.Publish(events.EventStepCompleted, stepEventPayload(exec, step.StepID))

	return o.advance(ctx, tpl, exec, actor)
}

func (o *Orchestrator) approveStep(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution, step *database.WorkflowStep, state *database.StepState, actor, notes string) error {
	if step.StepType != database.StepTypeApproval {
		return filing.NewPrecondition("step %s is not an approval step", step.StepID)
	}
	if state.Status != database.StepStatusInProgress {
		return filing.NewPrecondition("step %s is %s and cannot be approved", step.StepID, state.Status)
	}

	approvalNotes := fmt.Sprintf("approved by %s", actor)
	if notes != "" {
		approvalNotes += ": " + notes
	}
	o.finishStep(exec, step.StepID, state, approvalNotes, nil)
	o.publisher.Publish(events.EventStepCompleted, stepEventPayload(exec, step.StepID))

	return o.advance(ctx, tpl, exec, actor)
}

// rejectStep fails the step and the whole execution. There is no automatic
// retry at this layer: a rejected approval is a human decision that the
// workflow product must not paper over.
func (o *Orchestrator) rejectStep(exec *database.WorkflowExecution, step *database.WorkflowStep, state *database.StepState, actor, notes string) error {
	if step.StepType != database.StepTypeApproval {
		return filing.NewPrecondition("step %s is not an approval step", step.StepID)
	}
	if state.Status != database.StepStatusInProgress {
		return filing.NewPrecondition("step %s is %s and cannot be rejected", step.StepID, state.Status)
	}

	now := time.Now()
	state.Status = database.StepStatusFailed
	state.CompletedAt = &now
	state.Notes = fmt.Sprintf("rejected by %s", actor)
	if notes != "" {
		state.Notes += ": " + notes
	}

	exec.Status = database.ExecutionStatusFailed
	exec.ActualCompletionDate = &now
	exec.Issues = append(exec.Issues, database.ExecutionIssue{
		StepID:   step.StepID,
		Severity: "error",
		Message:  state.Notes,
		RaisedAt: now,
	})
	o.computeFinalMetrics(exec, now)

	o.metrics.ExecutionTransition(exec.Status)
	o.publisher.Publish(events.EventStepFailed, stepEventPayload(exec, step.StepID))
	o.publisher.Publish(events.EventWorkflowFailed, executionEventPayload(exec))

	o.logger.Warn("Workflow execution failed on rejection",
		zap.String("execution_id", exec.ID),
		zap.String("step_id", step.StepID),
		zap.String("actor", actor))
	return nil
}

// advance moves the execution forward after a step reached a terminal state:
// chains through eligible automated steps, parks on the next manual or
// approval step, and finalizes the execution once every step is terminal.
// Callers hold the execution lock and persist the execution afterward.
func (o *Orchestrator) advance(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution, actor string) error {
	for {
		next := nextEligibleStep(tpl, exec.StepStatus)
		if next == nil {
			o.maybeFinalize(exec)
			return nil
		}

		exec.CurrentStep = next.StepID
		if exec.Status == database.ExecutionStatusPending {
			exec.Status = database.ExecutionStatusInProgress
			o.metrics.ExecutionTransition(exec.Status)
		}

		if next.StepType != database.StepTypeAutomated {
			// Manual and approval steps wait for a ProcessStep call.
			return nil
		}
		if err := o.runAutomatedStep(ctx, tpl, exec, next, actor); err != nil {
			return err
		}
	}
}

// runAutomatedStep resolves and invokes the step's executor. Executor
// failure marks only this step failed and records an issue; the rest of the
// graph keeps going where dependencies allow, and a human can restart the
// failed step.
func (o *Orchestrator) runAutomatedStep(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution, step *database.WorkflowStep, actor string) error {
	state := exec.StepStatus[step.StepID]
	now := time.Now()
	state.Status = database.StepStatusInProgress
	state.AssignedTo = "automation"
	state.StartedAt = &now
	state.CompletedAt = nil
	o.publisher.Publish(events.EventStepStarted, stepEventPayload(exec, step.StepID))

	result, err := o.executeAction(ctx, tpl, exec, step, actor)
	if err != nil || !result.Success {
		completed := time.Now()
		state.Status = database.StepStatusFailed
		state.CompletedAt = &completed
		if err != nil {
			state.Notes = fmt.Sprintf("executor error: %v", err)
		} else {
			state.Notes = result.Notes
		}
		exec.Issues = append(exec.Issues, database.ExecutionIssue{
			StepID:   step.StepID,
			Severity: "error",
			Message:  state.Notes,
			RaisedAt: completed,
		})

		o.publisher.Publish(events.EventStepFailed, stepEventPayload(exec, step.StepID))
		o.logger.Warn("Automated step failed",
			zap.String("execution_id", exec.ID),
			zap.String("step_id", step.StepID),
			zap.String("notes", state.Notes))
		return nil
	}

	o.finishStep(exec, step.StepID, state, result.Notes, result.Artifacts)
	o.publisher.Publish(events.EventStepCompleted, stepEventPayload(exec, step.StepID))
	return nil
}

func (o *Orchestrator) executeAction(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution, step *database.WorkflowStep, actor string) (*ActionResult, error) {
	action := step.AutomatedAction
	if action == nil {
		return nil, fmt.Errorf("automated step %s has no action", step.StepID)
	}
	executor, err := o.executors.Resolve(action.ActionType)
	if err != nil {
		return nil, err
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.config.Workflow.StepTimeout)
	defer cancel()

	result, err := executor.Execute(stepCtx, ActionRequest{
		TenantID:   exec.TenantID,
		FilingID:   exec.FilingID,
		Actor:      actor,
		Template:   tpl,
		Step:       step,
		Parameters: action.Parameters,
	})
	if err != nil {
		return nil, &filing.ExecutorError{ActionType: action.ActionType, Err: err}
	}
	return result, nil
}

// finishStep marks a step completed and records its duration.
func (o *Orchestrator) finishStep(exec *database.WorkflowExecution, stepID string, state *database.StepState, notes string, artifacts []string) {
	now := time.Now()
	state.Status = database.StepStatusCompleted
	state.CompletedAt = &now
	if notes != "" {
		state.Notes = notes
	}
	if len(artifacts) > 0 {
		state.Artifacts = append(state.Artifacts, artifacts...)
	}

	if state.StartedAt != nil {
		duration := now.Sub(*state.StartedAt)
		if exec.Metrics.StepDurationsMinutes == nil {
			exec.Metrics.StepDurationsMinutes = map[string]float64{}
		}
		exec.Metrics.StepDurationsMinutes[stepID] = duration.Minutes()
		o.metrics.StepCompleted(duration)
	}
}

// maybeFinalize transitions the execution to its terminal status once every
// step is terminal: completed when nothing failed, failed otherwise.
func (o *Orchestrator) maybeFinalize(exec *database.WorkflowExecution) {
	anyFailed := false
	for _, state := range exec.StepStatus {
		if !state.IsTerminal() {
			return
		}
		if state.Status == database.StepStatusFailed {
			anyFailed = true
		}
	}

	now := time.Now()
	exec.ActualCompletionDate = &now
	exec.CurrentStep = ""
	o.computeFinalMetrics(exec, now)

	if anyFailed {
		exec.Status = database.ExecutionStatusFailed
		o.publisher.Publish(events.EventWorkflowFailed, executionEventPayload(exec))
	} else {
		exec.Status = database.ExecutionStatusCompleted
		o.publisher.Publish(events.EventWorkflowCompleted, executionEventPayload(exec))
	}
	o.metrics.ExecutionTransition(exec.Status)

	o.logger.Info("Workflow execution finished",
		zap.String("execution_id", exec.ID),
		zap.String("status", exec.Status),
		zap.Float64("quality_score", exec.Metrics.QualityScore))
}

func (o *Orchestrator) computeFinalMetrics(exec *database.WorkflowExecution, now time.Time) {
	total := len(exec.StepStatus)
	if total == 0 {
		return
	}
	completed, failed := 0, 0
	for _, state := range exec.StepStatus {
		switch state.Status {
		case database.StepStatusCompleted:
			completed++
		case database.StepStatusFailed:
			failed++
		}
	}

	duration := now.Sub(exec.InitiatedAt).Minutes()
	exec.Metrics.TotalDurationMinutes = &duration
	exec.Metrics.QualityScore = qualityScore(completed, failed, total)
}

// automationEfficiency is the share of template steps that run without a
// human, as a percentage.
func automationEfficiency(steps database.StepList) float64 {
	if len(steps) == 0 {
		return 0
	}
	automated := 0
	for _, step := range steps {
		if step.StepType == database.StepTypeAutomated {
			automated++
		}
	}
	return float64(automated) / float64(len(steps)) * 100
}

// qualityScore weighs completions against failures: 0.7 per completed share,
// -0.3 per failed share, clamped at zero.
func qualityScore(completed, failed, total int) float64 {
	if total == 0 {
		return 0
	}
	score := (float64(completed)/float64(total)*0.7 - float64(failed)/float64(total)*0.3) * 100
	if score < 0 {
		return 0
	}
	return score
}

func executionEventPayload(exec *database.WorkflowExecution) map[string]interface{} {
	return map[string]interface{}{
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"tenant_id":    exec.TenantID,
		"filing_id":    exec.FilingID,
		"status":       exec.Status,
	}
}

func stepEventPayload(exec *database.WorkflowExecution, stepID string) map[string]interface{} {
	payload := executionEventPayload(exec)
	payload["step_id"] = stepID
	payload["step_status"] = exec.StepStatus[stepID].Status
	return payload
}
