package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loghub/etl-core/internal/objectstore"
	"github.com/loghub/etl-core/pkg/dispatchqueue"
	"github.com/loghub/etl-core/pkg/ledger"
)

func newTestScanner(t *testing.T) (*Scanner, *objectstore.LocalStore, *ledger.MemoryStore, *dispatchqueue.MemoryQueue) {
	t.Helper()
	store := objectstore.NewLocalStore(t.TempDir())
	ledgerStore := ledger.NewMemoryStore(0)
	queue := dispatchqueue.NewMemoryQueue()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	scanner := NewScanner(store, ledgerStore, queue, logger)
	seq := 0
	scanner.newTaskID = func() string {
		seq++
		return fmt.Sprintf("task-%04d", seq)
	}
	return scanner, store, ledgerStore, queue
}

func scanOptions(extra map[string]any) map[string]any {
	options := map[string]any{
		"srcPath":       "s3://staging/raw/svc",
		"dstPath":       "s3://archive/logs/svc",
		"sqsName":       "copy-tasks",
		"executionName": "exec-1",
	}
	for k, v := range extra {
		options[k] = v
	}
	return options
}

func TestScanEmptySource(t *testing.T) {
	scanner, store, ledgerStore, queue := newTestScanner(t)
	ctx := context.Background()
	if err := store.EnsureBucket(ctx, "staging"); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}

	cfg, err := ParseScanConfig(scanOptions(nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dispatched, err := scanner.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if dispatched != 0 {
		t.Fatalf("dispatched %d batches, want 0", dispatched)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue has %d messages, want 0", queue.Len())
	}

	parent, err := ledgerStore.Get(ctx, "exec-1", ledger.RootTaskID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	var progress map[string]int
	if err := json.Unmarshal([]byte(parent.Data), &progress); err != nil {
		t.Fatalf("parent data %q: %v", parent.Data, err)
	}
	if progress["totalSubTask"] != 0 {
		t.Fatalf("totalSubTask = %d, want 0", progress["totalSubTask"])
	}
}

func TestScanTwoPartitionsWithMerge(t *testing.T) {
	scanner, store, ledgerStore, queue := newTestScanner(t)
	ctx := context.Background()

	objects := map[string]int{
		"raw/svc/part=x/f1.gz": 4 * 1024,
		"raw/svc/part=x/f2.gz": 4 * 1024,
		"raw/svc/part=y/f3.gz": 4 * 1024,
	}
	for key, size := range objects {
		if err := store.PutObject(ctx, "staging", key, make([]byte, size)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	cfg, err := ParseScanConfig(scanOptions(map[string]any{
		"size":  "100MiB",
		"merge": true,
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dispatched, err := scanner.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if dispatched != 2 {
		t.Fatalf("dispatched %d batches, want 2 (one per partition)", dispatched)
	}

	messages, err := queue.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d queue messages, want 2", len(messages))
	}
	for _, msg := range messages {
		if !msg.Merge {
			t.Fatalf("message %s not flagged merge", msg.TaskID)
		}
		if msg.ParentTaskID != ledger.RootTaskID {
			t.Fatalf("message %s parent = %q", msg.TaskID, msg.ParentTaskID)
		}
		// Each child has a provenance row written before the send.
		if _, err := ledgerStore.Get(ctx, "exec-1", msg.TaskID); err != nil {
			t.Fatalf("missing ledger row for %s: %v", msg.TaskID, err)
		}
	}

	children, err := ledgerStore.ListChildren(ctx, "exec-1", ledger.RootTaskID)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d child rows, want 2", len(children))
	}

	parent, _ := ledgerStore.Get(ctx, "exec-1", ledger.RootTaskID)
	var progress map[string]int
	if err := json.Unmarshal([]byte(parent.Data), &progress); err != nil {
		t.Fatalf("parent data %q: %v", parent.Data, err)
	}
	if progress["totalSubTask"] != 2 {
		t.Fatalf("totalSubTask = %d, want 2", progress["totalSubTask"])
	}
}

func TestScanSizeThresholdForcesNonMerge(t *testing.T) {
	scanner, store, _, queue := newTestScanner(t)
	ctx := context.Background()

	// Partition X totals 20KiB against a 15KiB target; partition Y stays
	// small enough to merge.
	sizes := map[string]int{
		"raw/svc/part=x/f1.gz": 10 * 1024,
		"raw/svc/part=x/f2.gz": 10 * 1024,
		"raw/svc/part=y/f3.gz": 1024,
	}
	for key, size := range sizes {
		if err := store.PutObject(ctx, "staging", key, make([]byte, size)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	cfg, err := ParseScanConfig(scanOptions(map[string]any{"size": "15KiB"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := scanner.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	messages, _ := queue.Receive(ctx, 10)
	for _, msg := range messages {
		for _, pair := range msg.Data {
			inX := dirOf(pair.Source.Key) == "raw/svc/part=x"
			if inX && msg.Merge {
				t.Fatalf("partition x dispatched with merge=true")
			}
			if !inX && !msg.Merge {
				t.Fatalf("partition y lost its merge flag")
			}
		}
	}
}

func TestScanMissingBucketFails(t *testing.T) {
	scanner, _, _, _ := newTestScanner(t)
	cfg, err := ParseScanConfig(scanOptions(nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := scanner.Run(context.Background(), cfg); err == nil {
		t.Fatal("scan of missing bucket succeeded")
	}
}

func TestScanMaxRecordsTruncatesListing(t *testing.T) {
	scanner, store, _, queue := newTestScanner(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("raw/svc/part=a/f%d.gz", i)
		if err := store.PutObject(ctx, "staging", key, []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	cfg, err := ParseScanConfig(scanOptions(map[string]any{"maxRecords": 2, "merge": false}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := scanner.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	messages, _ := queue.Receive(ctx, 10)
	total := 0
	for _, msg := range messages {
		total += len(msg.Data)
	}
	if total != 2 {
		t.Fatalf("dispatched %d pairs, want 2", total)
	}
}

func TestScanTruncatedListingReleasesLister(t *testing.T) {
	scanner, store, _, _ := newTestScanner(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("raw/svc/part=a/f%d.gz", i)
		if err := store.PutObject(ctx, "staging", key, []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	cfg, err := ParseScanConfig(scanOptions(map[string]any{"maxRecords": 1, "merge": false}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		if _, err := scanner.Run(ctx, cfg); err != nil {
			t.Fatalf("run #%d: %v", i+1, err)
		}
	}

	// Cancelled listers need a moment to observe ctx.Done and exit.
	deadline := time.Now().Add(2 * time.Second)
	after := runtime.NumGoroutine()
	for time.Now().Before(deadline) && after > before+2 {
		time.Sleep(10 * time.Millisecond)
		after = runtime.NumGoroutine()
	}
	if after > before+2 {
		t.Fatalf("lister goroutines leaked across truncated scans: before=%d after=%d", before, after)
	}
}
