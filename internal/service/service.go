// Package service is the submission surface in front of the pipeline
// workflow: it normalizes raw entity references, derives the deterministic
// workflow ID that makes concurrent submissions collapse into one run, and
// starts or attaches to the Temporal execution.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/metrics"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/normalize"
	"github.com/prosemill/orchestrator/internal/workflows"
)

// Service submits pipeline runs.
type Service struct {
	temporal client.Client
	cfg      *config.Config
	logger   *zap.Logger
}

// New wires a submission service.
func New(temporalClient client.Client, cfg *config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{temporal: temporalClient, cfg: cfg, logger: logger}
}

// RunRequest submits one raw entity reference.
type RunRequest struct {
	// Input is the raw entity reference (name or URL).
	Input string `json:"input"`
	// Hints are optional category keywords forwarded to scoring.
	Hints []string `json:"hints,omitempty"`
	// ForceRefresh re-runs the pipeline even for an already-persisted entity.
	ForceRefresh bool `json:"force_refresh,omitempty"`
	// Wait blocks until the run finishes and returns its result.
	Wait bool `json:"wait,omitempty"`
}

// RunResponse identifies the run and, when waited for or already finished,
// carries its result.
type RunResponse struct {
	NaturalKey string `json:"natural_key"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
	// AlreadyRunning is set when an execution for this natural key was in
	// flight and this submission attached to it instead of starting a new one.
	AlreadyRunning bool                      `json:"already_running,omitempty"`
	Result         *workflows.PipelineResult `json:"result,omitempty"`
}

// Run normalizes the input and starts the pipeline workflow under the
// deterministic ID for its natural key. A concurrent submission for the same
// key attaches to the in-flight execution; exactly one run does the work.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunResponse, error) {
	key, err := normalize.NaturalKey(req.Input)
	if err != nil {
		return RunResponse{}, fmt.Errorf("normalize input: %w", err)
	}
	workflowID := normalize.WorkflowID(key)
	input := workflows.PipelineInput{
		Input:        req.Input,
		NaturalKey:   key,
		Hints:        req.Hints,
		ForceRefresh: req.ForceRefresh,
		RunID:        uuid.New().String(),
	}

	metrics.RunsStarted.WithLabelValues(strconv.FormatBool(req.ForceRefresh)).Inc()

	// The workflow enforces the run budget itself and returns a structured
	// degraded or failed result when it is spent. The execution timeout sits
	// a grace interval above the budget as a backstop for a stuck worker, so
	// the structured path always fires first.
	we, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                s.cfg.Temporal.TaskQueue,
		WorkflowExecutionTimeout:                 s.cfg.Run.OverallTimeout + time.Minute,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.PipelineWorkflow, input)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if !errors.As(err, &already) {
			return RunResponse{}, fmt.Errorf("start pipeline for %s: %w", key, err)
		}
		s.logger.Info("Attaching to in-flight pipeline run",
			zap.String("natural_key", key),
			zap.String("workflow_id", workflowID),
		)
		resp := RunResponse{NaturalKey: key, WorkflowID: workflowID, AlreadyRunning: true}
		if req.Wait {
			var result workflows.PipelineResult
			if err := s.temporal.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
				return resp, fmt.Errorf("wait for in-flight run %s: %w", workflowID, err)
			}
			// The attaching caller did not cause the write; from its point of
			// view the entity already exists. Degraded and failed outcomes
			// pass through untouched.
			if result.Status == models.StatusCreated || result.Status == models.StatusUpdated {
				result.Status = models.StatusExists
			}
			resp.Result = &result
		}
		return resp, nil
	}

	s.logger.Info("Started pipeline run",
		zap.String("natural_key", key),
		zap.String("workflow_id", workflowID),
		zap.String("run_id", we.GetRunID()),
		zap.Bool("force_refresh", req.ForceRefresh),
	)
	resp := RunResponse{NaturalKey: key, WorkflowID: workflowID, RunID: we.GetRunID()}
	if req.Wait {
		var result workflows.PipelineResult
		if err := we.Get(ctx, &result); err != nil {
			return resp, fmt.Errorf("wait for run %s: %w", workflowID, err)
		}
		resp.Result = &result
	}
	return resp, nil
}

// Describe fetches the result of a finished run by natural key, without
// starting anything.
func (s *Service) Describe(ctx context.Context, rawInput string) (RunResponse, error) {
	key, err := normalize.NaturalKey(rawInput)
	if err != nil {
		return RunResponse{}, fmt.Errorf("normalize input: %w", err)
	}
	workflowID := normalize.WorkflowID(key)

	var result workflows.PipelineResult
	if err := s.temporal.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return RunResponse{}, fmt.Errorf("describe run %s: %w", workflowID, err)
	}
	return RunResponse{NaturalKey: key, WorkflowID: workflowID, Result: &result}, nil
}
