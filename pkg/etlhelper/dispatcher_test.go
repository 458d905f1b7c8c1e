package etlhelper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loghub/etl-core/pkg/catalog"
	"github.com/loghub/etl-core/pkg/ledger"
	"github.com/loghub/etl-core/pkg/timefmt"
)

type fakeExecutor struct {
	queries  []string
	startErr error
	state    catalog.QueryState
}

func (f *fakeExecutor) StartQuery(ctx context.Context, q string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.queries = append(f.queries, q)
	return fmt.Sprintf("q-%d", len(f.queries)), nil
}

func (f *fakeExecutor) QueryState(ctx context.Context, id string) (catalog.QueryState, error) {
	if f.state == "" {
		return catalog.StateSucceeded, nil
	}
	return f.state, nil
}

type fakeSignaler struct {
	completed []string
	failed    []string
}

func (f *fakeSignaler) CompleteTask(ctx context.Context, token string, result any) error {
	f.completed = append(f.completed, token)
	return nil
}

func (f *fakeSignaler) FailTask(ctx context.Context, token string, reason error) error {
	f.failed = append(f.failed, token)
	return nil
}

func newTestDispatcher() (*Dispatcher, *ledger.MemoryStore, *fakeExecutor, *fakeSignaler) {
	ledgerStore := ledger.NewMemoryStore(0)
	executor := &fakeExecutor{}
	signaler := &fakeSignaler{}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	d := NewDispatcher(ledgerStore, executor, signaler, logger)
	d.PollInterval = time.Millisecond
	return d, ledgerStore, executor, signaler
}

func TestDispatchValidationFailsBeforeSideEffects(t *testing.T) {
	d, ledgerStore, _, signaler := newTestDispatcher()
	cmd := &Command{
		API:           APIStartQueryExecution,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		TaskToken:     "tok",
	}
	_, err := d.Dispatch(context.Background(), cmd)
	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingParameterError", err)
	}
	if missing.Path != "parameters.queryString" {
		t.Fatalf("path = %q", missing.Path)
	}
	if _, err := ledgerStore.Get(context.Background(), "exec-1", "task-1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatal("validation failure wrote a ledger row")
	}
	if len(signaler.failed) != 0 {
		t.Fatal("validation failure signalled the token")
	}
}

func TestDispatchStartQueryExecution(t *testing.T) {
	d, ledgerStore, executor, signaler := newTestDispatcher()
	cmd := &Command{
		API:           APIStartQueryExecution,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters:    map[string]any{"queryString": "SELECT 1"},
		TaskToken:     "tok",
	}
	result, err := d.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result["queryExecutionId"] != "q-1" {
		t.Fatalf("result = %v", result)
	}
	if len(executor.queries) != 1 || executor.queries[0] != "SELECT 1" {
		t.Fatalf("executor saw %v", executor.queries)
	}

	row, err := ledgerStore.Get(context.Background(), "exec-1", "task-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.Status != ledger.StatusSucceeded || row.API != "StartQueryExecution" {
		t.Fatalf("row = %+v", row)
	}
	if row.EndTime == "" {
		t.Fatal("terminal row missing endTime")
	}
	if len(signaler.completed) != 1 || signaler.completed[0] != "tok" {
		t.Fatalf("token not completed: %+v", signaler)
	}
}

func TestDispatchBatchUpdatePartition(t *testing.T) {
	d, ledgerStore, executor, _ := newTestDispatcher()
	cmd := &Command{
		API:           APIBatchUpdatePartition,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"database":  "centralized",
			"tableName": "waf_logs",
			"action":    "ADD",
			"partitions": []any{
				"__ds__=2023-01-01-05-00",
				"__ds__=2023-01-01-06-00",
				"__ds__=2023-01-01-07-00",
			},
			"batchSize": 2,
		},
	}
	result, err := d.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result["statements"] != 2 {
		t.Fatalf("result = %v", result)
	}
	if len(executor.queries) != 2 {
		t.Fatalf("executed %d statements, want 2", len(executor.queries))
	}
	for _, stmt := range executor.queries {
		if !strings.Contains(stmt, "ADD IF NOT EXISTS") {
			t.Fatalf("statement not idempotent: %s", stmt)
		}
	}
	row, _ := ledgerStore.Get(context.Background(), "exec-1", "task-1")
	if row.Status != ledger.StatusSucceeded {
		t.Fatalf("status = %s", row.Status)
	}
}

func TestDispatchFailureRecordsAndSignals(t *testing.T) {
	d, ledgerStore, executor, signaler := newTestDispatcher()
	executor.state = catalog.StateFailed
	cmd := &Command{
		API:           APIBatchUpdatePartition,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"database":   "db",
			"tableName":  "t",
			"action":     "ADD",
			"partitions": []any{"__ds__=2023-01-01-05-00"},
		},
		TaskToken: "tok",
	}
	if _, err := d.Dispatch(context.Background(), cmd); err == nil {
		t.Fatal("failed query reported success")
	}

	row, err := ledgerStore.Get(context.Background(), "exec-1", "task-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.Status != ledger.StatusFailed {
		t.Fatalf("status = %s", row.Status)
	}
	var recorded map[string]any
	if err := json.Unmarshal([]byte(row.Data), &recorded); err != nil {
		t.Fatalf("data %q: %v", row.Data, err)
	}
	// The failing input is preserved for the operator.
	if _, ok := recorded["input"]; !ok {
		t.Fatalf("failure data lost the input: %v", recorded)
	}
	if len(signaler.failed) != 1 {
		t.Fatalf("token not failed: %+v", signaler)
	}
}

func TestDispatchDateTransform(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	cmd := &Command{
		API:           APIDateTransform,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"dateString":   "2023-01-01",
			"format":       "%Y-%m-%d",
			"intervalDays": -3,
		},
	}
	result, err := d.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result["date"] != "20221229" {
		t.Fatalf("date = %v, want 20221229", result["date"])
	}
}

func TestDispatchDateTransformRejectsMismatchedFormat(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	cmd := &Command{
		API:           APIDateTransform,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"dateString":   "01/02/2023",
			"format":       "%Y-%m-%d",
			"intervalDays": 1,
		},
	}
	_, err := d.Dispatch(context.Background(), cmd)
	var parseErr *timefmt.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
}

func TestDispatchExecutionInputFormatter(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	cmd := &Command{
		API:           APIExecutionInputFormatter,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"input": map[string]any{
				"create": "CREATE TABLE tmp_{}",
				"insert": "INSERT INTO tmp_{1} SELECT * FROM src",
				"drop":   "DROP TABLE tmp_{1, 3}",
				"aggregate": []any{
					"LOAD DATA FROM '{2}'",
				},
			},
			"archivePath": "s3://archive/logs",
		},
	}
	result, err := d.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	formatted := result["input"].(map[string]any)
	if formatted["create"] != "CREATE TABLE tmp_exec-1" {
		t.Fatalf("create = %v", formatted["create"])
	}
	if formatted["insert"] != "INSERT INTO tmp_exec-1 SELECT * FROM src" {
		t.Fatalf("insert = %v", formatted["insert"])
	}
	// Malformed placeholders pass through untouched.
	if formatted["drop"] != "DROP TABLE tmp_{1, 3}" {
		t.Fatalf("drop = %v", formatted["drop"])
	}
	aggregate := formatted["aggregate"].([]any)
	if aggregate[0] != "LOAD DATA FROM 's3://archive/logs'" {
		t.Fatalf("aggregate = %v", aggregate)
	}
}

func TestDispatchPutLedgerItem(t *testing.T) {
	d, ledgerStore, _, _ := newTestDispatcher()
	cmd := &Command{
		API:           APIPutLedgerItem,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"status": "Timed_out",
			"data":   `{"reason":"copy stalled"}`,
		},
		Extra: Extra{PipelineID: "pipe-1", StateMachineName: "LogMerger"},
	}
	if _, err := d.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	row, err := ledgerStore.Get(context.Background(), "exec-1", "task-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.Status != ledger.StatusTimedOut {
		t.Fatalf("status = %s", row.Status)
	}
	if row.Data != `{"reason":"copy stalled"}` {
		t.Fatalf("data = %q", row.Data)
	}
	if row.PipelineIndexKey != ledger.IndexKey("pipe-1", "LogMerger", "task-1") {
		t.Fatalf("index key = %q", row.PipelineIndexKey)
	}
}

func TestDispatchPutLedgerItemRejectsUnknownStatus(t *testing.T) {
	d, ledgerStore, _, signaler := newTestDispatcher()
	cmd := &Command{
		API:           APIPutLedgerItem,
		ExecutionName: "exec-1",
		TaskID:        "task-1",
		Parameters: map[string]any{
			"status": "Done",
		},
		TaskToken: "tok",
	}
	if _, err := d.Dispatch(context.Background(), cmd); err == nil {
		t.Fatal("unknown status accepted")
	}

	row, err := ledgerStore.Get(context.Background(), "exec-1", "task-1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want Failed", row.Status)
	}
	if !strings.Contains(row.Data, "Done") {
		t.Fatalf("failure data lost the offending status: %q", row.Data)
	}
	if len(signaler.failed) != 1 {
		t.Fatalf("token not failed: %+v", signaler)
	}
}

func TestValidateRequiredParameterTable(t *testing.T) {
	cases := map[API]string{
		APIStartQueryExecution:     "parameters.queryString",
		APIGetQueryExecution:       "parameters.queryExecutionId",
		APIBatchUpdatePartition:    "parameters.database",
		APIExecutionInputFormatter: "parameters.input",
		APIDateTransform:           "parameters.dateString",
		APIPutLedgerItem:           "parameters.status",
	}
	for api, wantPath := range cases {
		cmd := &Command{API: api, ExecutionName: "e", TaskID: "t"}
		err := cmd.Validate()
		var missing *MissingParameterError
		if !errors.As(err, &missing) {
			t.Errorf("%s: err = %v", api, err)
			continue
		}
		if missing.Path != wantPath {
			t.Errorf("%s: path = %q, want %q", api, missing.Path, wantPath)
		}
	}

	cmd := &Command{API: APIDateTransform, TaskID: "t", Parameters: map[string]any{}}
	err := cmd.Validate()
	var missing *MissingParameterError
	if !errors.As(err, &missing) || missing.Path != "executionName" {
		t.Errorf("envelope validation: %v", err)
	}

	if err := (&Command{API: "Bogus", ExecutionName: "e", TaskID: "t"}).Validate(); err == nil {
		t.Error("unknown API accepted")
	}
}
