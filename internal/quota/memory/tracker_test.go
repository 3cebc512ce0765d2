package memory

import (
	"context"
	"testing"

	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/trackertest"
	"github.com/stretchr/testify/assert"
)

func TestMemoryTrackerContract(t *testing.T) {
	trackertest.Run(t, func(t *testing.T) quotadomain.Tracker { return NewTracker() })
}

func TestMemoryTrackerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTracker().CheckAndIncrement(ctx, "anon:x", 3)
	assert.ErrorIs(t, err, context.Canceled)
}
