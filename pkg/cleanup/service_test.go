package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/repo"
)

func TestPruneIdleBefore(t *testing.T) {
	sessions := repo.NewMemorySessionRepository()
	ctx := context.Background()

	stale := models.NewSession("alice@example.com")
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	_, err := sessions.Create(ctx, stale)
	require.NoError(t, err)

	fresh := models.NewSession("bob@example.com")
	_, err = sessions.Create(ctx, fresh)
	require.NoError(t, err)

	count, err := sessions.PruneIdleBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := sessions.Exists(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = sessions.Exists(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

type countingPruner struct {
	calls chan time.Time
}

func (p *countingPruner) PruneIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	p.calls <- cutoff
	return 0, nil
}

func TestServiceRunsImmediatelyAndStops(t *testing.T) {
	pruner := &countingPruner{calls: make(chan time.Time, 4)}
	svc := NewService(pruner, time.Hour, time.Hour)

	svc.Start(context.Background())

	select {
	case cutoff := <-pruner.calls:
		assert.WithinDuration(t, time.Now().Add(-time.Hour), cutoff, 10*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("initial prune never ran")
	}

	svc.Stop()
	assert.Empty(t, pruner.calls)
}
