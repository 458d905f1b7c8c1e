// Package activities exposes the scan and ETL dispatch steps as Temporal
// activities.
package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/loghub/etl-core/pkg/etlhelper"
	"github.com/loghub/etl-core/pkg/scan"
)

// ScanResult is the ScanObjects activity output.
type ScanResult struct {
	ExecutionName string `json:"executionName"`
	Batches       int    `json:"batches"`
}

// Activities bundles the worker's registered activities.
type Activities struct {
	scanner    *scan.Scanner
	dispatcher *etlhelper.Dispatcher
}

// New wires the activity set.
func New(scanner *scan.Scanner, dispatcher *etlhelper.Dispatcher) *Activities {
	return &Activities{scanner: scanner, dispatcher: dispatcher}
}

// ScanObjects runs one scan invocation from loose workflow options.
func (a *Activities) ScanObjects(ctx context.Context, options map[string]any) (*ScanResult, error) {
	logger := activity.GetLogger(ctx)

	cfg, err := scan.ParseScanConfig(options)
	if err != nil {
		return nil, err
	}
	logger.Info("scanning staging prefix",
		"executionName", cfg.ExecutionName,
		"srcBucket", cfg.SrcBucket,
		"srcPrefix", cfg.SrcPrefix)

	batches, err := a.scanner.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ScanResult{ExecutionName: cfg.ExecutionName, Batches: batches}, nil
}

// DispatchETLCommand runs one ETL maintenance command.
func (a *Activities) DispatchETLCommand(ctx context.Context, cmd etlhelper.Command) (map[string]any, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("dispatching ETL command", "api", string(cmd.API), "executionName", cmd.ExecutionName)
	return a.dispatcher.Dispatch(ctx, &cmd)
}
