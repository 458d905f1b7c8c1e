// Package catalog generates idempotent partition DDL for the analytics
// table catalog and defines the query-execution surface used to apply it.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Action selects the partition operation a generated statement performs.
type Action string

const (
	ActionAdd  Action = "ADD"
	ActionDrop Action = "DROP"
)

// QueryState is the lifecycle of a submitted catalog query.
type QueryState string

const (
	StateQueued    QueryState = "QUEUED"
	StateRunning   QueryState = "RUNNING"
	StateSucceeded QueryState = "SUCCEEDED"
	StateFailed    QueryState = "FAILED"
	StateCancelled QueryState = "CANCELLED"
)

// Terminal reports whether the state will not change again.
func (s QueryState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// QueryExecutor submits DDL/DML strings to the catalog engine. Execution is
// asynchronous: StartQuery returns a query id, QueryState polls it.
type QueryExecutor interface {
	StartQuery(ctx context.Context, queryString string) (string, error)
	QueryState(ctx context.Context, queryID string) (QueryState, error)
}

// PartitionTuple is one partition's ordered key/value pairs, already
// URL-decoded.
type PartitionTuple []PartitionValue

// PartitionValue is a single decoded partition key/value pair.
type PartitionValue struct {
	Key   string
	Value string
}

// ParsePartitionTuple parses a raw "key=value/key=value" path substring as
// extracted from an object key. Values are URL-decoded here; quoting happens
// at statement-generation time. Segments without "=" are rejected.
func ParsePartitionTuple(raw string) (PartitionTuple, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil, fmt.Errorf("empty partition tuple")
	}
	var tuple PartitionTuple
	for _, segment := range strings.Split(raw, "/") {
		key, value, found := strings.Cut(segment, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("segment %q is not a key=value pair", segment)
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode partition value %q: %w", value, err)
		}
		tuple = append(tuple, PartitionValue{Key: key, Value: decoded})
	}
	return tuple, nil
}

// GenerateAlterPartition turns raw partition tuples into batched ALTER TABLE
// statements. Each statement covers at most batchSize partitions; batchSize
// <= 0 emits one statement for all tuples. Statements are idempotent (ADD IF
// NOT EXISTS, DROP IF EXISTS) so replaying generator output is safe. Zero
// tuples yields zero statements.
func GenerateAlterPartition(database, table string, rawTuples []string, action Action, batchSize int) ([]string, error) {
	if database == "" || table == "" {
		return nil, fmt.Errorf("database and table are required")
	}
	if action != ActionAdd && action != ActionDrop {
		return nil, fmt.Errorf("unsupported partition action %q", action)
	}

	clauses := make([]string, 0, len(rawTuples))
	for _, raw := range rawTuples {
		tuple, err := ParsePartitionTuple(raw)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, partitionClause(tuple))
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(clauses)
	}

	var statements []string
	for start := 0; start < len(clauses); start += batchSize {
		end := start + batchSize
		if end > len(clauses) {
			end = len(clauses)
		}
		statements = append(statements, alterStatement(database, table, clauses[start:end], action))
	}
	return statements, nil
}

func alterStatement(database, table string, clauses []string, action Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE `%s`.`%s` ", database, table)
	switch action {
	case ActionAdd:
		b.WriteString("ADD IF NOT EXISTS ")
		b.WriteString(strings.Join(clauses, " "))
	case ActionDrop:
		b.WriteString("DROP IF EXISTS ")
		b.WriteString(strings.Join(clauses, ", "))
	}
	b.WriteString(";")
	return b.String()
}

// partitionClause renders one PARTITION (...) clause with back-ticked keys
// and single-quote-doubled values.
func partitionClause(tuple PartitionTuple) string {
	parts := make([]string, 0, len(tuple))
	for _, pv := range tuple {
		parts = append(parts, fmt.Sprintf("`%s`='%s'", pv.Key, strings.ReplaceAll(pv.Value, "'", "''")))
	}
	return "PARTITION (" + strings.Join(parts, ", ") + ")"
}
