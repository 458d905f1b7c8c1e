package etlhelper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loghub/etl-core/pkg/catalog"
	"github.com/loghub/etl-core/pkg/ledger"
	"github.com/loghub/etl-core/pkg/timefmt"
)

// TokenSignaler reports a command outcome back to a waiting orchestrator.
// Implementations wrap the workflow engine's task-token completion call.
type TokenSignaler interface {
	CompleteTask(ctx context.Context, token string, result any) error
	FailTask(ctx context.Context, token string, reason error) error
}

// Dispatcher runs one command through Validate, Execute, RecordResult and an
// optional token callback. It never retries; retries belong to the caller.
type Dispatcher struct {
	ledger   ledger.Store
	executor catalog.QueryExecutor
	signaler TokenSignaler
	logger   *logrus.Logger

	// PollInterval paces query-state polling for BatchUpdatePartition.
	PollInterval time.Duration

	now func() time.Time
}

// NewDispatcher wires a dispatcher. executor and signaler may be nil when the
// deployment has no catalog engine or no waiting orchestrator; commands that
// need them then fail at execution time, not at construction.
func NewDispatcher(ledgerStore ledger.Store, executor catalog.QueryExecutor, signaler TokenSignaler, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:       ledgerStore,
		executor:     executor,
		signaler:     signaler,
		logger:       logger,
		PollInterval: 2 * time.Second,
		now:          time.Now,
	}
}

// Dispatch executes cmd and returns its result map. Validation failures abort
// before any side effect. Execution failures are recorded to the ledger as
// Failed with the offending input preserved, reported through the task token
// when present, and returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) (map[string]any, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result, execErr := d.execute(ctx, cmd)
	if recordErr := d.recordResult(ctx, cmd, result, execErr); recordErr != nil {
		d.logger.WithError(recordErr).WithFields(logrus.Fields{
			"executionName": cmd.ExecutionName,
			"taskId":        cmd.TaskID,
		}).Error("failed to record command outcome")
		if execErr == nil {
			execErr = recordErr
		}
	}

	if cmd.TaskToken != "" && d.signaler != nil {
		var signalErr error
		if execErr != nil {
			signalErr = d.signaler.FailTask(ctx, cmd.TaskToken, execErr)
		} else {
			signalErr = d.signaler.CompleteTask(ctx, cmd.TaskToken, result)
		}
		if signalErr != nil {
			d.logger.WithError(signalErr).Warn("task token callback failed")
		}
	}

	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, cmd *Command) (map[string]any, error) {
	switch cmd.API {
	case APIStartQueryExecution:
		return d.startQuery(ctx, cmd)
	case APIGetQueryExecution:
		return d.queryState(ctx, cmd)
	case APIBatchUpdatePartition:
		return d.batchUpdatePartition(ctx, cmd)
	case APIExecutionInputFormatter:
		input := FormatExecutionInput(cmd.mapParam("input"), cmd.ExecutionName, cmd.stringParam("archivePath"))
		return map[string]any{"input": input}, nil
	case APIDateTransform:
		return dateTransform(cmd)
	case APIPutLedgerItem:
		// Pass-through: the write itself happens in RecordResult. The status
		// is checked here so an unknown value fails instead of recording the
		// row as Succeeded.
		status, err := parseStatus(cmd.stringParam("status"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": string(status)}, nil
	}
	return nil, fmt.Errorf("unsupported API %q", cmd.API)
}

func (d *Dispatcher) startQuery(ctx context.Context, cmd *Command) (map[string]any, error) {
	if d.executor == nil {
		return nil, fmt.Errorf("no query executor configured")
	}
	queryID, err := d.executor.StartQuery(ctx, cmd.stringParam("queryString"))
	if err != nil {
		return nil, fmt.Errorf("failed to start query: %w", err)
	}
	return map[string]any{"queryExecutionId": queryID}, nil
}

func (d *Dispatcher) queryState(ctx context.Context, cmd *Command) (map[string]any, error) {
	if d.executor == nil {
		return nil, fmt.Errorf("no query executor configured")
	}
	state, err := d.executor.QueryState(ctx, cmd.stringParam("queryExecutionId"))
	if err != nil {
		return nil, fmt.Errorf("failed to poll query: %w", err)
	}
	return map[string]any{"queryState": string(state)}, nil
}

// batchUpdatePartition generates idempotent partition DDL and executes each
// statement to completion, in order. The first failing statement aborts the
// remainder.
func (d *Dispatcher) batchUpdatePartition(ctx context.Context, cmd *Command) (map[string]any, error) {
	if d.executor == nil {
		return nil, fmt.Errorf("no query executor configured")
	}
	statements, err := catalog.GenerateAlterPartition(
		cmd.stringParam("database"),
		cmd.stringParam("tableName"),
		cmd.stringSliceParam("partitions"),
		catalog.Action(cmd.stringParam("action")),
		cmd.intParam("batchSize", 20),
	)
	if err != nil {
		return nil, err
	}
	for _, stmt := range statements {
		if err := d.runToCompletion(ctx, stmt); err != nil {
			return nil, err
		}
	}
	return map[string]any{"statements": len(statements)}, nil
}

func (d *Dispatcher) runToCompletion(ctx context.Context, stmt string) error {
	queryID, err := d.executor.StartQuery(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to start %q: %w", stmt, err)
	}
	for {
		state, err := d.executor.QueryState(ctx, queryID)
		if err != nil {
			return fmt.Errorf("failed to poll query %s: %w", queryID, err)
		}
		if state.Terminal() {
			if state != catalog.StateSucceeded {
				return fmt.Errorf("query %s finished %s for %q", queryID, state, stmt)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.PollInterval):
		}
	}
}

func dateTransform(cmd *Command) (map[string]any, error) {
	parsed, err := timefmt.Parse(cmd.stringParam("format"), cmd.stringParam("dateString"))
	if err != nil {
		return nil, err
	}
	shifted := parsed.AddDate(0, 0, cmd.intParam("intervalDays", 0))
	return map[string]any{"date": shifted.Format("20060102")}, nil
}

// recordResult upserts the command's ledger row. PutLedgerItem rows take the
// status supplied in the command; every other command records Succeeded or
// Failed from the execution outcome.
func (d *Dispatcher) recordResult(ctx context.Context, cmd *Command, result map[string]any, execErr error) error {
	status := ledger.StatusSucceeded
	var data string
	switch {
	case execErr != nil:
		status = ledger.StatusFailed
		payload, _ := json.Marshal(map[string]any{
			"error": execErr.Error(),
			"input": cmd.Parameters,
		})
		data = string(payload)
	case cmd.API == APIPutLedgerItem:
		if s, err := parseStatus(cmd.stringParam("status")); err == nil {
			status = s
		}
		data = cmd.stringParam("data")
	default:
		payload, _ := json.Marshal(result)
		data = string(payload)
	}

	endTime := ""
	if status != ledger.StatusRunning {
		endTime = d.now().UTC().Format(ledger.TimeLayout)
	}
	return d.ledger.Put(ctx, &ledger.Entry{
		ExecutionName:    cmd.ExecutionName,
		TaskID:           cmd.TaskID,
		ParentTaskID:     cmd.Extra.ParentTaskID,
		PipelineID:       cmd.Extra.PipelineID,
		StateMachineName: cmd.Extra.StateMachineName,
		StateName:        cmd.Extra.StateName,
		FunctionName:     cmd.Extra.FunctionName,
		API:              string(cmd.API),
		Data:             data,
		Status:           status,
		EndTime:          endTime,
	})
}

func parseStatus(raw string) (ledger.Status, error) {
	switch s := ledger.Status(raw); s {
	case ledger.StatusRunning, ledger.StatusSucceeded, ledger.StatusFailed, ledger.StatusAborted, ledger.StatusTimedOut:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}
