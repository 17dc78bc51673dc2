package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/broker"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

type fakeClient struct {
	id   string
	full bool

	mu   sync.Mutex
	envs []models.Envelope
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Deliver(env models.Envelope) error {
	if c.full {
		return errors.New("buffer full")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *fakeClient) received() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.envs...)
}

func startHub(t *testing.T) (*Hub, *broker.Broker) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts := &redis.Options{Addr: mr.Addr()}
	client := redis.NewClient(opts)
	b := broker.New(client, opts, zerolog.Nop())

	h := NewHub(b, zerolog.Nop(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	select {
	case <-h.Ready():
	case err := <-errCh:
		t.Fatalf("hub run: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub not ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
		_ = client.Close()
	})
	return h, b
}

func TestHubFansOutToAllClients(t *testing.T) {
	ctx := context.Background()
	h, b := startHub(t)

	c1, c2 := &fakeClient{id: "c1"}, &fakeClient{id: "c2"}
	h.Attach(c1)
	h.Attach(c2)
	assert.Equal(t, 2, h.Len())

	member := models.Member{Socket: "c3", Username: "Ada Lovelace", Avatar: "a.png"}
	payload, err := json.Marshal(member)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, models.EventMemberAdd, payload))

	for _, c := range []*fakeClient{c1, c2} {
		require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
		env := c.received()[0]
		assert.Equal(t, models.EventMemberAdd, env.Event)

		var got models.Member
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, member, got)
	}
}

func TestHubDeliversEachTopic(t *testing.T) {
	ctx := context.Background()
	h, b := startHub(t)

	c := &fakeClient{id: "c1"}
	h.Attach(c)

	require.NoError(t, b.Publish(ctx, models.EventMessages,
		[]byte(`{"date":1000,"username":"Ada Lovelace","avatar":"a.png","message":"hello"}`)))
	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Publish(ctx, models.EventMemberDelete, []byte(`"c9"`)))
	require.Eventually(t, func() bool { return len(c.received()) == 2 }, 2*time.Second, 10*time.Millisecond)

	got := c.received()
	assert.Equal(t, models.EventMessages, got[0].Event)
	assert.JSONEq(t, `{"date":1000,"username":"Ada Lovelace","avatar":"a.png","message":"hello"}`, string(got[0].Data))
	assert.Equal(t, models.EventMemberDelete, got[1].Event)
	assert.JSONEq(t, `"c9"`, string(got[1].Data))
}

func TestHubDropsMalformedEvents(t *testing.T) {
	ctx := context.Background()
	h, b := startHub(t)

	c := &fakeClient{id: "c1"}
	h.Attach(c)

	require.NoError(t, b.Publish(ctx, models.EventMessages, []byte(`{"date":`)))
	require.NoError(t, b.Publish(ctx, models.EventMemberDelete, []byte(`"c1"`)))

	require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.EventMemberDelete, c.received()[0].Event)
}

func TestHubDetachedClientReceivesNothing(t *testing.T) {
	ctx := context.Background()
	h, b := startHub(t)

	gone, stays := &fakeClient{id: "gone"}, &fakeClient{id: "stays"}
	h.Attach(gone)
	h.Attach(stays)
	h.Detach("gone")

	require.NoError(t, b.Publish(ctx, models.EventMemberDelete, []byte(`"gone"`)))

	require.Eventually(t, func() bool { return len(stays.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, gone.received())
}

func TestHubSlowClientDoesNotBlockOthers(t *testing.T) {
	h, _ := startHub(t)

	slow, fast := &fakeClient{id: "slow", full: true}, &fakeClient{id: "fast"}
	h.Attach(slow)
	h.Attach(fast)

	env, err := models.NewEnvelope(models.EventMemberDelete, "x")
	require.NoError(t, err)
	h.Broadcast(env)

	assert.Len(t, fast.received(), 1)
	assert.Empty(t, slow.received())
}

func TestRegistryRejectsUnknownAndDuplicateTopics(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := &redis.Options{Addr: mr.Addr()}
	client := redis.NewClient(opts)
	defer client.Close()
	b := broker.New(client, opts, zerolog.Nop())
	defer b.Close()

	r := NewSubscriptionRegistry(models.EventMessages)
	assert.True(t, r.Known(models.EventMessages))
	assert.False(t, r.Known("other"))

	ctx := context.Background()
	first, err := b.Subscribe(ctx, models.EventMessages, func([]byte) {})
	require.NoError(t, err)
	second, err := b.Subscribe(ctx, models.EventMessages, func([]byte) {})
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "other", func([]byte) {})
	require.NoError(t, err)

	assert.True(t, r.Add(first))
	assert.False(t, r.Add(second))
	assert.False(t, r.Add(other))
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.CloseAll())
	assert.Equal(t, 0, r.Len())
}
