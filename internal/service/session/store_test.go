package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

func newStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestSessionRoundTripAcrossClients(t *testing.T) {
	store, mr := newStore(t, 0)
	ctx := context.Background()

	in := chat.VisitorSession{VisitorID: "vis_1", WidgetID: "wgt_1", ConversationID: "cnv_x", Joins: 2}
	require.NoError(t, store.SetSession(ctx, "vis_1", in))
	require.Equal(t, DefaultTTL, mr.TTL("session:vis_1"))

	// a second instance sees the same visitor context
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()

	var out chat.VisitorSession
	found, err := NewStore(other, 0).GetSession(ctx, "vis_1", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

func TestGetSessionMissing(t *testing.T) {
	store, _ := newStore(t, time.Minute)

	var out map[string]any
	found, err := store.GetSession(context.Background(), "nobody", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSessionExpires(t *testing.T) {
	store, mr := newStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetSessionTTL(ctx, "vis_1", map[string]string{"k": "v"}, 10*time.Second))
	mr.FastForward(11 * time.Second)

	var out map[string]string
	found, err := store.GetSession(ctx, "vis_1", &out)
	require.NoError(t, err)
	require.False(t, found)
}
