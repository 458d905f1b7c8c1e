package scan

import (
	"testing"

	"github.com/loghub/etl-core/pkg/ledger"
	"github.com/loghub/etl-core/pkg/partition"
)

func minimalOptions() map[string]any {
	return map[string]any{
		"srcPath":       "s3://staging/raw/svc",
		"dstPath":       "s3://archive/logs/svc",
		"sqsName":       "copy-tasks",
		"executionName": "exec-1",
	}
}

func TestParseScanConfigDefaults(t *testing.T) {
	cfg, err := ParseScanConfig(minimalOptions())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.SrcBucket != "staging" || cfg.SrcPrefix != "raw/svc" {
		t.Fatalf("src parsed as %s/%s", cfg.SrcBucket, cfg.SrcPrefix)
	}
	if cfg.DstBucket != "archive" || cfg.DstPrefix != "logs/svc" {
		t.Fatalf("dst parsed as %s/%s", cfg.DstBucket, cfg.DstPrefix)
	}
	if cfg.TaskID != ledger.RootTaskID {
		t.Fatalf("taskId default = %q", cfg.TaskID)
	}
	if !cfg.Merge || cfg.DeleteOnSuccess {
		t.Fatalf("boolean defaults wrong: merge=%v deleteOnSuccess=%v", cfg.Merge, cfg.DeleteOnSuccess)
	}
	if cfg.MaxObjectFilesNumPerCopyTask != 1000 {
		t.Fatalf("count cap default = %d", cfg.MaxObjectFilesNumPerCopyTask)
	}
	if cfg.MaxObjectFilesSizePerCopyTask != 10737418240 {
		t.Fatalf("byte cap default = %d", cfg.MaxObjectFilesSizePerCopyTask)
	}
	if cfg.MaxRecords != -1 {
		t.Fatalf("maxRecords default = %d", cfg.MaxRecords)
	}
	if cfg.MergeTargetSize != 0 {
		t.Fatalf("size default = %d", cfg.MergeTargetSize)
	}
	if cfg.KeepPrefix.Mode != partition.ModeKeepAll {
		t.Fatalf("keepPrefix default mode = %v", cfg.KeepPrefix.Mode)
	}
}

func TestParseScanConfigRequiredFields(t *testing.T) {
	for _, missing := range []string{"sqsName", "executionName", "srcPath", "dstPath"} {
		options := minimalOptions()
		delete(options, missing)
		if _, err := ParseScanConfig(options); err == nil {
			t.Errorf("missing %s accepted", missing)
		}
	}
}

func TestParseScanConfigHumanReadableSize(t *testing.T) {
	options := minimalOptions()
	options["size"] = "100MiB"
	cfg, err := ParseScanConfig(options)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MergeTargetSize != 100*1024*1024 {
		t.Fatalf("size = %d, want 100MiB", cfg.MergeTargetSize)
	}

	options["size"] = 2048
	cfg, err = ParseScanConfig(options)
	if err != nil {
		t.Fatalf("parse numeric: %v", err)
	}
	if cfg.MergeTargetSize != 2048 {
		t.Fatalf("numeric size = %d", cfg.MergeTargetSize)
	}
}

// Boolean options coerce from a fixed truth table; free-form strings fall
// back to the documented default rather than erroring.
func TestCoerceBoolTruthTable(t *testing.T) {
	cases := []struct {
		value any
		def   bool
		want  bool
	}{
		{true, false, true},
		{false, true, false},
		{"true", false, true},
		{"False", true, false},
		{"1", false, true},
		{"0", true, false},
		{1, false, true},
		{0, true, false},
		{float64(1), false, true},
		{"test", true, true},
		{"test", false, false},
		{"yes", false, false},
		{42, true, true},
		{nil, true, true},
	}
	for _, c := range cases {
		if got := coerceBool(c.value, c.def); got != c.want {
			t.Errorf("coerceBool(%v, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseScanConfigExtraAndPlugins(t *testing.T) {
	options := minimalOptions()
	options["enrichmentPlugins"] = []any{"geoip", "user_agent"}
	options["extra"] = map[string]any{
		"parentTaskId":     "parent-1",
		"stateMachineName": "LogMerger",
		"stateName":        "Step1",
		"pipelineId":       "pipe-1",
	}
	options["taskToken"] = "token-xyz"

	cfg, err := ParseScanConfig(options)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.EnrichmentPlugins) != 2 || cfg.EnrichmentPlugins[0] != "geoip" {
		t.Fatalf("plugins = %v", cfg.EnrichmentPlugins)
	}
	if cfg.Extra.PipelineID != "pipe-1" || cfg.Extra.StateMachineName != "LogMerger" {
		t.Fatalf("extra = %+v", cfg.Extra)
	}
	if cfg.TaskToken != "token-xyz" {
		t.Fatalf("taskToken = %q", cfg.TaskToken)
	}
}

func TestParseScanConfigKeepPrefixMap(t *testing.T) {
	options := minimalOptions()
	options["keepPrefix"] = map[string]any{
		"__ds__": map[string]any{"type": "time", "from": "%Y-%m-%d-%H-%M", "to": "%Y-%m-%d-%H-00"},
	}
	cfg, err := ParseScanConfig(options)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.KeepPrefix.Mode != partition.ModeRewrite {
		t.Fatalf("mode = %v", cfg.KeepPrefix.Mode)
	}

	options["keepPrefix"] = false
	cfg, err = ParseScanConfig(options)
	if err != nil {
		t.Fatalf("parse bool: %v", err)
	}
	if cfg.KeepPrefix.Mode != partition.ModeFilenameOnly {
		t.Fatalf("bool mode = %v", cfg.KeepPrefix.Mode)
	}
}
