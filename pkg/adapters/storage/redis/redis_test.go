package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewSnapshotStore(client, time.Minute, zap.NewNop())
	ctx := context.Background()

	_, err := store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)

	require.NoError(t, store.SaveLatest(ctx, json.RawMessage(`{"stage":"collecting"}`)))
	got, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"collecting"}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, err = store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)
}
