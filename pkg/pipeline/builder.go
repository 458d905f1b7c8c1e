package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// CatalogClient manages the destination table in the analytics catalog.
type CatalogClient interface {
	CreateTable(ctx context.Context, database, table string) error
	DeleteTable(ctx context.Context, database, table string) error
}

// SchedulerClient manages the scan trigger schedule.
type SchedulerClient interface {
	CreateSchedule(ctx context.Context, name, expression string) error
	DeleteSchedule(ctx context.Context, name string) error
}

// PolicyClient manages read access to the staging bucket prefix.
type PolicyClient interface {
	GrantRead(ctx context.Context, bucket, prefix string) error
	RevokeRead(ctx context.Context, bucket, prefix string) error
}

// DuplicateConstraintError reports a create against a staging prefix that an
// active pipeline already claims.
type DuplicateConstraintError struct {
	PipelineID string
	Prefix     string
}

func (e *DuplicateConstraintError) Error() string {
	return fmt.Sprintf("prefix %q already claimed by active pipeline %s", e.Prefix, e.PipelineID)
}

// ResourceBuilder creates and deletes the resources surrounding a pipeline.
// It tracks active pipelines by notification prefix so two pipelines never
// watch the same staging prefix.
type ResourceBuilder struct {
	catalog   CatalogClient
	scheduler SchedulerClient
	policy    PolicyClient
	logger    *logrus.Logger

	mu     sync.Mutex
	active map[string]string
}

// NewResourceBuilder wires a builder from its external clients.
func NewResourceBuilder(catalog CatalogClient, scheduler SchedulerClient, policy PolicyClient, logger *logrus.Logger) *ResourceBuilder {
	return &ResourceBuilder{
		catalog:   catalog,
		scheduler: scheduler,
		policy:    policy,
		logger:    logger,
		active:    make(map[string]string),
	}
}

// Create provisions policy, catalog table and schedule for the pipeline, in
// that order. Fails without side effects when the notification prefix is
// already claimed; a partial failure rolls back the steps already applied.
func (b *ResourceBuilder) Create(ctx context.Context, pctx *Context) error {
	claim := pctx.Source.Bucket + "/" + pctx.NotificationPrefix

	b.mu.Lock()
	if owner, exists := b.active[claim]; exists {
		b.mu.Unlock()
		return &DuplicateConstraintError{PipelineID: owner, Prefix: claim}
	}
	b.active[claim] = pctx.ID
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		delete(b.active, claim)
		b.mu.Unlock()
	}

	if err := b.policy.GrantRead(ctx, pctx.Source.Bucket, pctx.NotificationPrefix); err != nil {
		release()
		return fmt.Errorf("failed to grant staging access: %w", err)
	}
	if err := b.catalog.CreateTable(ctx, pctx.Destination.Database, pctx.Destination.Table); err != nil {
		if revokeErr := b.policy.RevokeRead(ctx, pctx.Source.Bucket, pctx.NotificationPrefix); revokeErr != nil {
			b.logger.WithError(revokeErr).Warn("rollback of staging access failed")
		}
		release()
		return fmt.Errorf("failed to create catalog table: %w", err)
	}
	if err := b.scheduler.CreateSchedule(ctx, scheduleName(pctx), pctx.CronExpression); err != nil {
		if dropErr := b.catalog.DeleteTable(ctx, pctx.Destination.Database, pctx.Destination.Table); dropErr != nil {
			b.logger.WithError(dropErr).Warn("rollback of catalog table failed")
		}
		if revokeErr := b.policy.RevokeRead(ctx, pctx.Source.Bucket, pctx.NotificationPrefix); revokeErr != nil {
			b.logger.WithError(revokeErr).Warn("rollback of staging access failed")
		}
		release()
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"pipelineId": pctx.ID,
		"prefix":     claim,
		"schedule":   pctx.CronExpression,
	}).Info("pipeline resources created")
	return nil
}

// Delete tears the resources down in reverse creation order and releases the
// prefix claim. Each step's failure is reported but does not stop the rest of
// the teardown.
func (b *ResourceBuilder) Delete(ctx context.Context, pctx *Context) error {
	var firstErr error
	if err := b.scheduler.DeleteSchedule(ctx, scheduleName(pctx)); err != nil {
		firstErr = fmt.Errorf("failed to delete schedule: %w", err)
	}
	if err := b.catalog.DeleteTable(ctx, pctx.Destination.Database, pctx.Destination.Table); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to delete catalog table: %w", err)
	}
	if err := b.policy.RevokeRead(ctx, pctx.Source.Bucket, pctx.NotificationPrefix); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to revoke staging access: %w", err)
	}

	b.mu.Lock()
	delete(b.active, pctx.Source.Bucket+"/"+pctx.NotificationPrefix)
	b.mu.Unlock()
	return firstErr
}

func scheduleName(pctx *Context) string {
	return "scan-" + pctx.ID
}
