// Package copier consumes dispatched copy-task batches: it copies objects
// 1:1 or merges a batch into a single destination object, applies enrichment
// plugins, and reports the outcome back through the ETL command dispatcher.
package copier

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loghub/etl-core/internal/objectstore"
	"github.com/loghub/etl-core/pkg/dispatchqueue"
	"github.com/loghub/etl-core/pkg/etlhelper"
	"github.com/loghub/etl-core/pkg/ledger"
)

// Result summarizes one processed batch.
type Result struct {
	Files       int
	Bytes       int64
	Destination string
}

// Copier processes TaskMessages. Processing is idempotent per (source,
// destination) pair, so redelivered or duplicate batches are safe.
type Copier struct {
	store      objectstore.ObjectStore
	dispatcher *etlhelper.Dispatcher
	registry   *Registry
	logger     *logrus.Logger

	// ReceiveBatch bounds how many messages one poll drains.
	ReceiveBatch int
	// PollInterval paces the Run loop when the queue is empty.
	PollInterval time.Duration

	schemas map[string]*Schema
}

// NewCopier wires a copier. dispatcher may be nil, in which case outcomes are
// only logged, not recorded.
func NewCopier(store objectstore.ObjectStore, dispatcher *etlhelper.Dispatcher, registry *Registry, logger *logrus.Logger) *Copier {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Copier{
		store:        store,
		dispatcher:   dispatcher,
		registry:     registry,
		logger:       logger,
		ReceiveBatch: 10,
		PollInterval: 5 * time.Second,
		schemas:      make(map[string]*Schema),
	}
}

// RegisterSchema enables parquet output for merged batches of sourceType.
func (c *Copier) RegisterSchema(sourceType string, schema *Schema) {
	c.schemas[sourceType] = schema
}

// Run polls the queue until ctx is cancelled, handling each received message.
func (c *Copier) Run(ctx context.Context, queue dispatchqueue.Queue) error {
	for {
		messages, err := queue.Receive(ctx, c.ReceiveBatch)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			c.Handle(ctx, msg)
		}
		if len(messages) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// Handle processes one message and records the outcome. Processing errors are
// reported, not returned: a poisoned batch must not stall the consume loop.
func (c *Copier) Handle(ctx context.Context, msg *dispatchqueue.TaskMessage) {
	result, err := c.Process(ctx, msg)
	c.report(ctx, msg, result, err)
}

// Process executes one batch and returns its summary.
func (c *Copier) Process(ctx context.Context, msg *dispatchqueue.TaskMessage) (*Result, error) {
	if len(msg.Data) == 0 {
		return &Result{}, nil
	}
	plugins, err := c.registry.Resolve(msg.EnrichmentPlugins)
	if err != nil {
		return nil, err
	}

	var result *Result
	if msg.Merge {
		result, err = c.merge(ctx, msg, plugins)
	} else {
		result, err = c.copyPairs(ctx, msg, plugins)
	}
	if err != nil {
		return nil, err
	}

	if msg.DeleteOnSuccess {
		for _, pair := range msg.Data {
			if err := c.store.RemoveObject(ctx, pair.Source.Bucket, pair.Source.Key); err != nil {
				return result, fmt.Errorf("failed to remove %s/%s: %w", pair.Source.Bucket, pair.Source.Key, err)
			}
		}
	}
	return result, nil
}

// merge concatenates every source payload into the batch's single destination
// object, the first pair's destination. When the sourceType has a registered
// schema the combined JSONL payload is rewritten as parquet.
func (c *Copier) merge(ctx context.Context, msg *dispatchqueue.TaskMessage, plugins []EnrichmentPlugin) (*Result, error) {
	var combined bytes.Buffer
	for _, pair := range msg.Data {
		data, err := c.store.GetObject(ctx, pair.Source.Bucket, pair.Source.Key)
		if err != nil {
			return nil, err
		}
		data, err = applyPlugins(data, plugins)
		if err != nil {
			return nil, err
		}
		combined.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			combined.WriteByte('\n')
		}
	}

	dest := msg.Data[0].Destination
	payload := combined.Bytes()
	if schema, ok := c.schemas[msg.SourceType]; ok {
		encoded, rows, err := encodeParquet(payload, schema)
		if err != nil {
			return nil, err
		}
		dest.Key = parquetKey(dest.Key)
		c.logger.WithFields(logrus.Fields{
			"taskId": msg.TaskID,
			"rows":   rows,
			"key":    dest.Key,
		}).Debug("merged batch as parquet")
		payload = encoded
	}

	if err := c.store.PutObject(ctx, dest.Bucket, dest.Key, payload); err != nil {
		return nil, err
	}
	return &Result{
		Files:       len(msg.Data),
		Bytes:       int64(len(payload)),
		Destination: dest.Bucket + "/" + dest.Key,
	}, nil
}

func (c *Copier) copyPairs(ctx context.Context, msg *dispatchqueue.TaskMessage, plugins []EnrichmentPlugin) (*Result, error) {
	var total int64
	for _, pair := range msg.Data {
		if len(plugins) == 0 {
			if err := c.store.CopyObject(ctx, pair.Source.Bucket, pair.Source.Key, pair.Destination.Bucket, pair.Destination.Key); err != nil {
				return nil, err
			}
			continue
		}
		data, err := c.store.GetObject(ctx, pair.Source.Bucket, pair.Source.Key)
		if err != nil {
			return nil, err
		}
		data, err = applyPlugins(data, plugins)
		if err != nil {
			return nil, err
		}
		if err := c.store.PutObject(ctx, pair.Destination.Bucket, pair.Destination.Key, data); err != nil {
			return nil, err
		}
		total += int64(len(data))
	}
	return &Result{Files: len(msg.Data), Bytes: total}, nil
}

// report closes the batch's ledger row via a PutLedgerItem command so the
// dispatcher also handles the task-token callback.
func (c *Copier) report(ctx context.Context, msg *dispatchqueue.TaskMessage, result *Result, processErr error) {
	if c.dispatcher == nil {
		if processErr != nil {
			c.logger.WithError(processErr).WithField("taskId", msg.TaskID).Error("copy task failed")
		}
		return
	}

	status := ledger.StatusSucceeded
	var data string
	switch {
	case processErr != nil:
		status = ledger.StatusFailed
		data = fmt.Sprintf(`{"error":%q}`, processErr.Error())
	case result != nil:
		data = fmt.Sprintf(`{"totalFiles":%d,"totalBytes":%d}`, result.Files, result.Bytes)
	}

	cmd := &etlhelper.Command{
		API:           etlhelper.APIPutLedgerItem,
		ExecutionName: msg.ExecutionName,
		TaskID:        msg.TaskID,
		Parameters: map[string]any{
			"status": string(status),
			"data":   data,
		},
		Extra:     etlhelper.Extra{ParentTaskID: msg.ParentTaskID, FunctionName: msg.FunctionName},
		TaskToken: msg.TaskToken,
	}
	if _, err := c.dispatcher.Dispatch(ctx, cmd); err != nil {
		c.logger.WithError(err).WithField("taskId", msg.TaskID).Error("failed to record copy outcome")
	}
}

func parquetKey(key string) string {
	for _, suffix := range []string{".jsonl.gz", ".jsonl", ".json.gz", ".json", ".gz", ".log"} {
		if strings.HasSuffix(key, suffix) {
			return strings.TrimSuffix(key, suffix) + ".parquet"
		}
	}
	return key + ".parquet"
}
