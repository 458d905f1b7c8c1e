// Package ledger records task provenance and status for ETL workflow runs.
//
// One row exists per (executionName, taskId). A workflow's top-level step uses
// the RootTaskID sentinel; batches fan out as child rows linked through
// parentTaskId. Rows carry a TTL and are purged after their expiration time.
package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RootTaskID is the sentinel task id for a workflow's top-level step.
const RootTaskID = "00000000-0000-0000-0000-000000000000"

// DefaultRetention is the default window before a row becomes eligible for
// garbage collection.
const DefaultRetention = 90 * 24 * time.Hour

// TimeLayout is the wire format for StartTime/EndTime.
const TimeLayout = time.RFC3339

// Status is the lifecycle state of a task row. Terminal once non-Running
// except by explicit retry.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusAborted   Status = "Aborted"
	StatusTimedOut  Status = "Timed_out"
)

// ErrNotFound is returned by Get and UpdateStatus when no row exists for the
// (executionName, taskId) pair. Queries that legitimately match zero rows
// return empty collections instead.
var ErrNotFound = errors.New("ledger: entry not found")

// Entry is one unit of work in an execution.
type Entry struct {
	ExecutionName    string `json:"executionName"`
	TaskID           string `json:"taskId"`
	ParentTaskID     string `json:"parentTaskId"`
	PipelineID       string `json:"pipelineId"`
	StateMachineName string `json:"stateMachineName"`
	StateName        string `json:"stateName"`
	FunctionName     string `json:"functionName"`
	API              string `json:"API"`
	Data             string `json:"data"`
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	Status           Status `json:"status"`
	PipelineIndexKey string `json:"pipelineIndexKey"`
	ExpirationTime   int64  `json:"expirationTime"`
}

// IndexKey derives the secondary-index partition key. Sibling rows of the
// same pipeline step across executions share it, which is what the execution
// history listing groups by.
func IndexKey(pipelineID, stateMachineName, taskID string) string {
	return strings.Join([]string{pipelineID, stateMachineName, taskID}, ":")
}

// TimeRangeQuery selects rows of one pipelineIndexKey within an optional
// startTime window, newest first.
type TimeRangeQuery struct {
	PipelineIndexKey string
	// StartTime / EndTime bound the row's startTime; empty means open-ended.
	StartTime string
	EndTime   string
	// Status filters to a single status when non-empty.
	Status Status
	// Limit caps returned items; <=0 means no limit.
	Limit int
	// Cursor resumes a previous page.
	Cursor string
}

// TimeRangePage is one page of time-range results.
type TimeRangePage struct {
	Items      []*Entry
	NextCursor string
}

// Store is the durable ledger interface.
type Store interface {
	// Put upserts an entry keyed by (ExecutionName, TaskID). StartTime is
	// set exactly once, at creation; ExpirationTime is always recomputed
	// from the retention window.
	Put(ctx context.Context, entry *Entry) error
	// UpdateStatus partially updates status/endTime (and data when
	// non-empty) of an existing row. Returns ErrNotFound when the row does
	// not exist.
	UpdateStatus(ctx context.Context, executionName, taskID string, status Status, endTime, data string) error
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, executionName, taskID string) (*Entry, error)
	// ListChildren returns the child rows of a parent task, unordered.
	ListChildren(ctx context.Context, executionName, parentTaskID string) ([]*Entry, error)
	// QueryByPipelineTimeRange lists rows newest-first with pagination.
	QueryByPipelineTimeRange(ctx context.Context, q TimeRangeQuery) (*TimeRangePage, error)
	// PurgeExpired deletes rows whose ExpirationTime has passed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func encodeCursor(startTime, taskID string) string {
	return base64.StdEncoding.EncodeToString([]byte(startTime + "|" + taskID))
}

func decodeCursor(cursor string) (startTime, taskID string, err error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("invalid cursor: %w", err)
	}
	start, task, found := strings.Cut(string(raw), "|")
	if !found {
		return "", "", fmt.Errorf("invalid cursor: missing separator")
	}
	return start, task, nil
}

// after reports whether row (st, tid) sorts strictly after the cursor
// position in descending (startTime, taskId) order, i.e. it belongs to a
// later page.
func afterCursor(st, tid, curStart, curTask string) bool {
	if st != curStart {
		return st < curStart
	}
	return tid < curTask
}
