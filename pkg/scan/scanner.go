package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/loghub/etl-core/internal/objectstore"
	"github.com/loghub/etl-core/pkg/dispatchqueue"
	"github.com/loghub/etl-core/pkg/ledger"
)

// Scanner runs one scan step: enumerate the staging prefix, plan batches,
// record each batch in the ledger and hand it to the dispatch queue.
type Scanner struct {
	store  objectstore.ObjectStore
	ledger ledger.Store
	queue  dispatchqueue.Queue
	logger *logrus.Logger

	newTaskID func() string
	now       func() time.Time
}

// NewScanner wires a scanner from its collaborators.
func NewScanner(store objectstore.ObjectStore, ledgerStore ledger.Store, queue dispatchqueue.Queue, logger *logrus.Logger) *Scanner {
	return &Scanner{
		store:     store,
		ledger:    ledgerStore,
		queue:     queue,
		logger:    logger,
		newTaskID: uuid.NewString,
		now:       time.Now,
	}
}

// Run executes one scan invocation and returns the number of dispatched
// batches. An empty source listing is a normal empty-success path: the
// parent row records {"totalSubTask": 0} and nothing is dispatched.
//
// Re-invocation after a timeout is safe: the parent row upserts in place and
// duplicate batches are tolerated by the copier's per-pair idempotency.
func (s *Scanner) Run(ctx context.Context, cfg *ScanConfig) (int, error) {
	exists, err := s.store.BucketExists(ctx, cfg.SrcBucket)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("source bucket %q not found", cfg.SrcBucket)
	}

	parent := &ledger.Entry{
		ExecutionName:    cfg.ExecutionName,
		TaskID:           cfg.TaskID,
		ParentTaskID:     cfg.Extra.ParentTaskID,
		PipelineID:       cfg.Extra.PipelineID,
		StateMachineName: cfg.Extra.StateMachineName,
		StateName:        cfg.Extra.StateName,
		FunctionName:     cfg.FunctionName,
		API:              "ScanObjects",
		Status:           ledger.StatusRunning,
	}
	if err := s.ledger.Put(ctx, parent); err != nil {
		return 0, fmt.Errorf("failed to record scan task: %w", err)
	}

	objects, err := s.listObjects(ctx, cfg)
	if err != nil {
		s.failParent(ctx, cfg, err)
		return 0, err
	}

	batches, err := PlanBatches(objects, BatchOptions{
		SrcBucket:       cfg.SrcBucket,
		SrcPrefix:       cfg.SrcPrefix,
		DstBucket:       cfg.DstBucket,
		DstPrefix:       cfg.DstPrefix,
		Policy:          cfg.KeepPrefix,
		Merge:           cfg.Merge,
		MergeTargetSize: cfg.MergeTargetSize,
		MaxCount:        cfg.MaxObjectFilesNumPerCopyTask,
		MaxBytes:        cfg.MaxObjectFilesSizePerCopyTask,
	})
	if err != nil {
		s.failParent(ctx, cfg, err)
		return 0, err
	}

	for _, batch := range batches {
		if err := s.dispatchBatch(ctx, cfg, batch); err != nil {
			s.failParent(ctx, cfg, err)
			return 0, err
		}
	}

	progress, _ := json.Marshal(map[string]int{"totalSubTask": len(batches)})
	if err := s.ledger.UpdateStatus(ctx, cfg.ExecutionName, cfg.TaskID, ledger.StatusRunning, "", string(progress)); err != nil {
		return 0, fmt.Errorf("failed to record subtask count: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"executionName": cfg.ExecutionName,
		"objects":       len(objects),
		"batches":       len(batches),
	}).Info("scan complete")
	return len(batches), nil
}

// listObjects drains the store listing up to MaxRecords. The listing context
// is cancelled on return so a truncated read releases the producer goroutine
// instead of leaving it blocked on its send.
func (s *Scanner) listObjects(ctx context.Context, cfg *ScanConfig) ([]Object, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []Object
	for entry := range s.store.ListObjects(listCtx, cfg.SrcBucket, cfg.SrcPrefix) {
		if entry.Err != nil {
			return nil, entry.Err
		}
		objects = append(objects, Object{Key: entry.Key, Size: entry.Size})
		if cfg.MaxRecords >= 0 && int64(len(objects)) >= cfg.MaxRecords {
			break
		}
	}
	return objects, nil
}

// dispatchBatch records the child ledger row before enqueueing, so a
// consumer never sees a task with no provenance row.
func (s *Scanner) dispatchBatch(ctx context.Context, cfg *ScanConfig, batch Batch) error {
	taskID := s.newTaskID()
	summary, _ := json.Marshal(map[string]int64{
		"totalFiles": int64(len(batch.Pairs)),
		"totalBytes": batch.Bytes,
	})
	child := &ledger.Entry{
		ExecutionName:    cfg.ExecutionName,
		TaskID:           taskID,
		ParentTaskID:     cfg.TaskID,
		PipelineID:       cfg.Extra.PipelineID,
		StateMachineName: cfg.Extra.StateMachineName,
		StateName:        cfg.Extra.StateName,
		FunctionName:     cfg.FunctionName,
		API:              "CopyObjects",
		Data:             string(summary),
		Status:           ledger.StatusRunning,
	}
	if err := s.ledger.Put(ctx, child); err != nil {
		return fmt.Errorf("failed to record copy task: %w", err)
	}

	msg := &dispatchqueue.TaskMessage{
		ExecutionName:     cfg.ExecutionName,
		TaskID:            taskID,
		ParentTaskID:      cfg.TaskID,
		FunctionName:      cfg.FunctionName,
		TaskToken:         cfg.TaskToken,
		DeleteOnSuccess:   cfg.DeleteOnSuccess,
		Merge:             batch.Merge,
		SourceType:        cfg.SourceType,
		EnrichmentPlugins: cfg.EnrichmentPlugins,
		Data:              batch.Pairs,
	}
	if err := s.queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue copy task %s: %w", taskID, err)
	}
	return nil
}

func (s *Scanner) failParent(ctx context.Context, cfg *ScanConfig, cause error) {
	endTime := s.now().UTC().Format(ledger.TimeLayout)
	if err := s.ledger.UpdateStatus(ctx, cfg.ExecutionName, cfg.TaskID, ledger.StatusFailed, endTime, ""); err != nil {
		s.logger.WithError(err).Warn("failed to mark scan task failed")
	}
	s.logger.WithError(cause).WithField("executionName", cfg.ExecutionName).Error("scan failed")
}
