package scan

import (
	"path"
	"strings"

	"github.com/loghub/etl-core/pkg/dispatchqueue"
	"github.com/loghub/etl-core/pkg/partition"
)

// Object is one listed source object.
type Object struct {
	Key  string
	Size int64
}

// Batch is one planned copy task.
type Batch struct {
	// Merge indicates the batch's objects concatenate into one destination
	// object instead of copying 1:1.
	Merge bool
	// DestPrefix is the rewritten destination partition all pairs share.
	// Empty for non-merge batches, which may span partitions.
	DestPrefix string
	Pairs      []dispatchqueue.CopyPair
	Bytes      int64
}

// BatchOptions bound the packing.
type BatchOptions struct {
	SrcBucket string
	SrcPrefix string
	DstBucket string
	DstPrefix string

	Policy partition.Policy
	Merge  bool
	// MergeTargetSize degrades a partition group to non-merge copies when
	// the group's total size exceeds it; 0 disables the degrade.
	MergeTargetSize int64

	MaxCount int
	MaxBytes int64
}

// relativeKey strips the source prefix at a `/` segment boundary only, so a
// sibling prefix sharing the same leading characters (raw/svc vs raw/svc2)
// keeps its full path instead of collapsing into a mangled partition.
func relativeKey(key, srcPrefix string) string {
	key = strings.TrimPrefix(key, "/")
	prefix := strings.TrimSuffix(srcPrefix, "/")
	if prefix != "" && strings.HasPrefix(key, prefix+"/") {
		return key[len(prefix)+1:]
	}
	return key
}

type destObject struct {
	src     Object
	destKey string
	group   string
}

// PlanBatches partitions the listed objects into copy-task batches under
// three simultaneous constraints: destination-partition equality (merge mode
// only), the per-batch object count cap and the per-batch cumulative byte
// cap. A single object larger than the byte cap occupies its own batch,
// never dropped.
func PlanBatches(objects []Object, opts BatchOptions) ([]Batch, error) {
	resolved := make([]destObject, 0, len(objects))
	for _, obj := range objects {
		rel := relativeKey(obj.Key, opts.SrcPrefix)
		rewritten, err := partition.RewritePrefix(rel, opts.Policy)
		if err != nil {
			return nil, err
		}
		destKey := path.Join(opts.DstPrefix, rewritten)
		resolved = append(resolved, destObject{
			src:     obj,
			destKey: destKey,
			group:   path.Dir(destKey),
		})
	}

	if !opts.Merge {
		return packGreedy(resolved, opts, false, ""), nil
	}

	// Bucket by rewritten destination partition, preserving first-seen
	// order so batches are stable across runs of the same listing.
	groupIndex := map[string]int{}
	var groups [][]destObject
	for _, obj := range resolved {
		idx, ok := groupIndex[obj.group]
		if !ok {
			idx = len(groups)
			groupIndex[obj.group] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], obj)
	}

	var batches []Batch
	for _, group := range groups {
		var total int64
		for _, obj := range group {
			total += obj.src.Size
		}
		if opts.MergeTargetSize > 0 && total > opts.MergeTargetSize {
			// The merged output would exceed the target object size, so
			// this group degrades to copy-without-merge.
			batches = append(batches, packGreedy(group, opts, false, "")...)
			continue
		}
		batches = append(batches, packGreedy(group, opts, true, group[0].group)...)
	}
	return batches, nil
}

// packGreedy packs objects in order, starting a new batch whenever adding
// the next object would exceed the count or byte cap.
func packGreedy(objects []destObject, opts BatchOptions, merge bool, destPrefix string) []Batch {
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = DefaultMaxObjectFilesNumPerCopyTask
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectFilesSizePerCopyTask
	}

	var batches []Batch
	current := Batch{Merge: merge, DestPrefix: destPrefix}
	for _, obj := range objects {
		if len(current.Pairs) > 0 &&
			(len(current.Pairs)+1 > maxCount || current.Bytes+obj.src.Size > maxBytes) {
			batches = append(batches, current)
			current = Batch{Merge: merge, DestPrefix: destPrefix}
		}
		current.Pairs = append(current.Pairs, dispatchqueue.CopyPair{
			Source:      dispatchqueue.ObjectRef{Bucket: opts.SrcBucket, Key: obj.src.Key},
			Destination: dispatchqueue.ObjectRef{Bucket: opts.DstBucket, Key: obj.destKey},
		})
		current.Bytes += obj.src.Size
	}
	if len(current.Pairs) > 0 {
		batches = append(batches, current)
	}
	return batches
}
