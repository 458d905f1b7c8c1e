package activities

import (
	"context"

	"go.temporal.io/sdk/client"
)

// TemporalSignaler completes a waiting activity identified by its task token.
// It backs the dispatcher's token callback.
type TemporalSignaler struct {
	client client.Client
}

// NewTemporalSignaler wraps a Temporal client.
func NewTemporalSignaler(c client.Client) *TemporalSignaler {
	return &TemporalSignaler{client: c}
}

func (s *TemporalSignaler) CompleteTask(ctx context.Context, token string, result any) error {
	return s.client.CompleteActivity(ctx, []byte(token), result, nil)
}

func (s *TemporalSignaler) FailTask(ctx context.Context, token string, reason error) error {
	return s.client.CompleteActivity(ctx, []byte(token), nil, reason)
}
