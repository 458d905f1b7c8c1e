// Package scan turns a staging prefix listing into bounded copy-task batches
// and dispatches them to the downstream copier.
package scan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/loghub/etl-core/pkg/ledger"
	"github.com/loghub/etl-core/pkg/partition"
)

const (
	// DefaultMaxObjectFilesNumPerCopyTask caps the object count per batch.
	DefaultMaxObjectFilesNumPerCopyTask = 1000
	// DefaultMaxObjectFilesSizePerCopyTask caps cumulative source bytes per
	// batch (10 GiB).
	DefaultMaxObjectFilesSizePerCopyTask = int64(10737418240)
)

// Provenance carries the orchestrator context a scan invocation runs under.
type Provenance struct {
	ParentTaskID     string
	StateName        string
	StateMachineName string
	PipelineID       string
}

// ScanConfig is a validated scan invocation input.
type ScanConfig struct {
	SrcBucket string
	SrcPrefix string
	DstBucket string
	DstPrefix string

	QueueName     string
	ExecutionName string
	TaskID        string
	FunctionName  string

	// MergeTargetSize is the target output object size governing whether a
	// destination-partition group may merge; 0 means no size-based degrade.
	MergeTargetSize int64
	// MaxRecords truncates the listing; -1 means unbounded.
	MaxRecords                    int64
	MaxObjectFilesNumPerCopyTask  int
	MaxObjectFilesSizePerCopyTask int64

	Merge           bool
	KeepPrefix      partition.Policy
	DeleteOnSuccess bool

	EnrichmentPlugins []string
	SourceType        string
	Extra             Provenance
	TaskToken         string
}

// ParseScanConfig builds a ScanConfig from loose invocation options.
// Optional fields with unrecognized or malformed values fall back to their
// documented defaults; required fields (sqsName, executionName, srcPath,
// dstPath) are hard errors when absent.
func ParseScanConfig(options map[string]any) (*ScanConfig, error) {
	cfg := &ScanConfig{
		QueueName:                     firstString(options, "sqsName", "queueName"),
		ExecutionName:                 firstString(options, "executionName"),
		TaskID:                        firstString(options, "taskId"),
		FunctionName:                  firstString(options, "functionName"),
		SourceType:                    firstString(options, "sourceType"),
		TaskToken:                     firstString(options, "taskToken"),
		MergeTargetSize:               coerceSize(options["size"], 0),
		MaxRecords:                    coerceInt64(options["maxRecords"], -1),
		MaxObjectFilesNumPerCopyTask:  int(coerceInt64(options["maxObjectFilesNumPerCopyTask"], DefaultMaxObjectFilesNumPerCopyTask)),
		MaxObjectFilesSizePerCopyTask: coerceSize(options["maxObjectFilesSizePerCopyTask"], DefaultMaxObjectFilesSizePerCopyTask),
		Merge:                         coerceBool(options["merge"], true),
		DeleteOnSuccess:               coerceBool(options["deleteOnSuccess"], false),
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("sqsName is required")
	}
	if cfg.ExecutionName == "" {
		return nil, fmt.Errorf("executionName is required")
	}
	if cfg.TaskID == "" {
		cfg.TaskID = ledger.RootTaskID
	}

	var err error
	cfg.SrcBucket, cfg.SrcPrefix, err = parseObjectPath(firstString(options, "srcPath"))
	if err != nil {
		return nil, fmt.Errorf("srcPath: %w", err)
	}
	cfg.DstBucket, cfg.DstPrefix, err = parseObjectPath(firstString(options, "dstPath"))
	if err != nil {
		return nil, fmt.Errorf("dstPath: %w", err)
	}

	cfg.KeepPrefix, err = partition.PolicyFromValue(options["keepPrefix"])
	if err != nil {
		return nil, err
	}

	if raw, ok := options["enrichmentPlugins"]; ok {
		cfg.EnrichmentPlugins = coerceStringSlice(raw)
	}
	if raw, ok := options["extra"].(map[string]any); ok {
		cfg.Extra = Provenance{
			ParentTaskID:     firstString(raw, "parentTaskId"),
			StateName:        firstString(raw, "stateName"),
			StateMachineName: firstString(raw, "stateMachineName"),
			PipelineID:       firstString(raw, "pipelineId"),
		}
	}

	return cfg, nil
}

// parseObjectPath splits "s3://bucket/prefix", "minio://bucket/prefix" or
// "bucket/prefix" into bucket and prefix.
func parseObjectPath(p string) (bucket, prefix string, err error) {
	if p == "" {
		return "", "", fmt.Errorf("path is required")
	}
	if _, rest, found := strings.Cut(p, "://"); found {
		p = rest
	}
	p = strings.TrimPrefix(p, "/")
	bucket, prefix, _ = strings.Cut(p, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid object path %q", p)
	}
	return bucket, prefix, nil
}

func firstString(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			switch t := v.(type) {
			case string:
				return strings.TrimSpace(t)
			case fmt.Stringer:
				return strings.TrimSpace(t.String())
			}
		}
	}
	return ""
}

// coerceBool accepts bool, "true"/"false" (any case), numeric 0/1 and
// "0"/"1". Anything else falls back to the field's documented default; a
// cosmetic type mismatch on an optional field never hard-fails a scan.
func coerceBool(v any, defaultVal bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true
		case "false", "0":
			return false
		}
	case int:
		if t == 0 || t == 1 {
			return t == 1
		}
	case int64:
		if t == 0 || t == 1 {
			return t == 1
		}
	case float64:
		if t == 0 || t == 1 {
			return t == 1
		}
	}
	return defaultVal
}

func coerceInt64(v any, defaultVal int64) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// coerceSize accepts raw byte counts or human-readable strings ("100MiB").
func coerceSize(v any, defaultVal int64) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		if n, err := humanize.ParseBytes(strings.TrimSpace(t)); err == nil {
			return int64(n)
		}
	}
	return defaultVal
}

func coerceStringSlice(v any) []string {
	switch t := v.(type) {
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
