// Package etlhelper dispatches typed ETL maintenance commands: query
// start/poll, batched partition updates, execution-input templating, date
// arithmetic and direct ledger writes. Every command outcome is recorded to
// the execution ledger and optionally signalled back through a task token.
package etlhelper

import (
	"fmt"
	"strconv"
	"strings"
)

// API discriminates the command kinds the dispatcher understands.
type API string

const (
	APIStartQueryExecution     API = "StartQueryExecution"
	APIGetQueryExecution       API = "GetQueryExecution"
	APIBatchUpdatePartition    API = "BatchUpdatePartition"
	APIExecutionInputFormatter API = "ExecutionInputFormatter"
	APIDateTransform           API = "DateTransform"
	APIPutLedgerItem           API = "PutLedgerItem"
)

// Extra carries orchestrator provenance through a command.
type Extra struct {
	ParentTaskID     string `json:"parentTaskId,omitempty"`
	StateName        string `json:"stateName,omitempty"`
	StateMachineName string `json:"stateMachineName,omitempty"`
	PipelineID       string `json:"pipelineId,omitempty"`
	FunctionName     string `json:"functionName,omitempty"`
}

// Command is the dispatcher's input envelope.
type Command struct {
	API           API            `json:"API"`
	ExecutionName string         `json:"executionName"`
	TaskID        string         `json:"taskId"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Extra         Extra          `json:"extra,omitempty"`
	TaskToken     string         `json:"taskToken,omitempty"`
}

// MissingParameterError names the dotted path of an absent required field.
type MissingParameterError struct {
	Path string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %s", e.Path)
}

// requiredParameters lists each command's mandatory parameters keys.
var requiredParameters = map[API][]string{
	APIStartQueryExecution:     {"queryString"},
	APIGetQueryExecution:       {"queryExecutionId"},
	APIBatchUpdatePartition:    {"database", "tableName", "action", "partitions"},
	APIExecutionInputFormatter: {"input"},
	APIDateTransform:           {"dateString", "format", "intervalDays"},
	APIPutLedgerItem:           {"status"},
}

// Validate checks the envelope and the command's required parameters. It has
// no side effects; a failing command never reaches the ledger.
func (c *Command) Validate() error {
	if c.ExecutionName == "" {
		return &MissingParameterError{Path: "executionName"}
	}
	if c.TaskID == "" {
		return &MissingParameterError{Path: "taskId"}
	}
	required, ok := requiredParameters[c.API]
	if !ok {
		return fmt.Errorf("unsupported API %q", c.API)
	}
	for _, key := range required {
		value, present := c.Parameters[key]
		if !present || value == nil {
			return &MissingParameterError{Path: "parameters." + key}
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			return &MissingParameterError{Path: "parameters." + key}
		}
	}
	return nil
}

func (c *Command) stringParam(key string) string {
	if s, ok := c.Parameters[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (c *Command) intParam(key string, defaultVal int) int {
	switch t := c.Parameters[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i
		}
	}
	return defaultVal
}

func (c *Command) stringSliceParam(key string) []string {
	switch t := c.Parameters[key].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (c *Command) mapParam(key string) map[string]any {
	if m, ok := c.Parameters[key].(map[string]any); ok {
		return m
	}
	return nil
}
