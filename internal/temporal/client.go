// Package temporal wires the harvest service into Temporal: a client
// wrapper for starting and signalling harvest workflows, and a worker
// manager hosting the workflow and activity implementations.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Signal names for external interaction with harvest workflows. Defined
// here rather than in the workflows package so the server layer and the
// kafka command listener can reference them without importing workflow
// code.
const (
	// SignalResetTarget asks a running harvest workflow to reset a
	// stalled target and harvest it again.
	SignalResetTarget = "reset_target"
)

// Default timeout constants.
const (
	// DefaultWorkflowExecutionTimeout is the maximum time a harvest
	// workflow is allowed to run.
	DefaultWorkflowExecutionTimeout = 12 * time.Hour

	// DefaultHealthCheckTimeout is the timeout for Temporal server health
	// checks.
	DefaultHealthCheckTimeout = 5 * time.Second
)

var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a workflow with the same ID is
	// already running.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrSignalFailed indicates the workflow signal failed.
	ErrSignalFailed = errors.New("signal failed")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates a connection failure to the Temporal
	// server.
	ErrConnectionFailed = errors.New("connection failed")
)

// TemporalError wraps a Temporal error with operation context.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	Err        error
}

// Error returns the error message.
func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s]", e.WorkflowID)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError converts a Temporal SDK error to a TemporalError.
func wrapTemporalError(op string, err error, workflowID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{Op: op, WorkflowID: workflowID, Err: err}

	var notFoundErr *serviceerror.NotFound
	var alreadyStartedErr *serviceerror.WorkflowExecutionAlreadyStarted

	switch {
	case errors.As(err, &notFoundErr):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStartedErr):
		te.Kind = ErrWorkflowAlreadyStarted
	default:
		te.Kind = ErrConnectionFailed
	}

	return te
}

// ClientConfig contains configuration for the Temporal client.
type ClientConfig struct {
	// HostPort is the Temporal server address (e.g., "localhost:7233").
	HostPort string

	// Namespace is the Temporal namespace to use.
	Namespace string

	// TaskQueue is the default task queue for starting workflows.
	TaskQueue string

	// HealthCheckTimeout is the timeout for health check operations.
	HealthCheckTimeout time.Duration
}

// NewClient creates a new Temporal client with the given configuration.
func NewClient(cfg ClientConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// HarvestScope is one (year range, expected count) unit of work inside a
// harvest workflow input.
type HarvestScope struct {
	YearLow  int `json:"year_low"`
	YearHigh int `json:"year_high"`
	Expected int `json:"expected"`
}

// HarvestWorkflowInput contains the parameters for starting a harvest
// workflow. Defined here so the server and the kafka listener can build
// inputs without importing the workflows package.
type HarvestWorkflowInput struct {
	// EditionID is the edition whose citations are harvested.
	EditionID uuid.UUID `json:"edition_id"`

	// Scopes are the year-range units to schedule and harvest.
	Scopes []HarvestScope `json:"scopes"`

	// RunRepair controls whether a merge/orphan repair pass follows the
	// harvest.
	RunRepair bool `json:"run_repair"`

	// RunAuthorshipFilter controls whether the post-ingestion authorship
	// filter runs after the harvest.
	RunAuthorshipFilter bool `json:"run_authorship_filter"`
}

// ResetSignal carries an operator's request to reset one stalled target.
type ResetSignal struct {
	TargetID    uuid.UUID `json:"target_id"`
	RequestedBy string    `json:"requested_by"`
}

// HarvestWorkflowClient provides methods for starting and signalling
// harvest workflows.
type HarvestWorkflowClient struct {
	mu                 sync.RWMutex
	client             client.Client
	taskQueue          string
	healthCheckTimeout time.Duration
	closed             bool
}

// NewHarvestWorkflowClient creates a new HarvestWorkflowClient.
func NewHarvestWorkflowClient(c client.Client, cfg ClientConfig) *HarvestWorkflowClient {
	healthTimeout := cfg.HealthCheckTimeout
	if healthTimeout == 0 {
		healthTimeout = DefaultHealthCheckTimeout
	}

	return &HarvestWorkflowClient{
		client:             c,
		taskQueue:          cfg.TaskQueue,
		healthCheckTimeout: healthTimeout,
	}
}

// Close closes the underlying Temporal client connection.
func (c *HarvestWorkflowClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && !c.closed {
		c.client.Close()
		c.closed = true
	}
}

func (c *HarvestWorkflowClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health checks the connection health to the Temporal server.
func (c *HarvestWorkflowClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.healthCheckTimeout)
	defer cancel()

	if _, err := c.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "")
	}
	return nil
}

// WorkflowIDForEdition returns the deterministic workflow ID for an
// edition's harvest. One edition has at most one running harvest.
func WorkflowIDForEdition(editionID uuid.UUID) string {
	return fmt.Sprintf("harvest-%s", editionID)
}

// StartHarvestWorkflow starts a harvest workflow for an edition. The
// workflow function must be registered with the worker separately.
func (c *HarvestWorkflowClient) StartHarvestWorkflow(ctx context.Context, workflowFunc interface{}, input HarvestWorkflowInput) (workflowID, runID string, err error) {
	if c.isClosed() {
		return "", "", &TemporalError{Op: "StartHarvestWorkflow", Kind: ErrClientClosed}
	}

	workflowID = WorkflowIDForEdition(input.EditionID)
	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: DefaultWorkflowExecutionTimeout,
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, workflowFunc, input)
	if err != nil {
		return "", "", wrapTemporalError("StartHarvestWorkflow", err, workflowID)
	}
	return workflowID, run.GetRunID(), nil
}

// SignalReset delivers an operator reset request to the edition's running
// harvest workflow.
func (c *HarvestWorkflowClient) SignalReset(ctx context.Context, editionID uuid.UUID, signal ResetSignal) error {
	if c.isClosed() {
		return &TemporalError{Op: "SignalReset", Kind: ErrClientClosed}
	}

	workflowID := WorkflowIDForEdition(editionID)
	if err := c.client.SignalWorkflow(ctx, workflowID, "", SignalResetTarget, signal); err != nil {
		return wrapTemporalError("SignalReset", err, workflowID)
	}
	return nil
}
