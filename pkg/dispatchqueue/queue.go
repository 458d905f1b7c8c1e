// Package dispatchqueue hands generated copy-task batches to downstream
// workers with at-least-once delivery.
package dispatchqueue

import "context"

// ObjectRef locates one object.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// CopyPair is one (source, destination) copy instruction.
type CopyPair struct {
	Source      ObjectRef `json:"source"`
	Destination ObjectRef `json:"destination"`
}

// TaskMessage is the wire schema of one dispatched batch. Every field is
// correlated back to the ledger through (ExecutionName, TaskID).
type TaskMessage struct {
	ExecutionName     string     `json:"executionName"`
	TaskID            string     `json:"taskId"`
	ParentTaskID      string     `json:"parentTaskId"`
	FunctionName      string     `json:"functionName"`
	TaskToken         string     `json:"taskToken"`
	DeleteOnSuccess   bool       `json:"deleteOnSuccess"`
	Merge             bool       `json:"merge"`
	SourceType        string     `json:"sourceType"`
	EnrichmentPlugins []string   `json:"enrichmentPlugins"`
	Data              []CopyPair `json:"data"`
}

// Queue is an at-least-once message handoff. Send is fire-and-forget with no
// ordering guarantee; Receive drains up to max available messages without
// blocking (empty slice when none are ready). Retried scans may re-enqueue
// duplicates, so downstream copy must be idempotent per (source, destination).
type Queue interface {
	Send(ctx context.Context, msg *TaskMessage) error
	Receive(ctx context.Context, max int) ([]*TaskMessage, error)
}
