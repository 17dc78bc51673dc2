package session

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
	"github.com/eldtechnologies/chatrelay/internal/history"
	"github.com/eldtechnologies/chatrelay/internal/hub"
	"github.com/eldtechnologies/chatrelay/internal/identity"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/presence"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

const avatarBase = "//api.adorable.io/avatars/30/"

type fakeConn struct {
	id string

	mu   sync.Mutex
	envs []models.Envelope
	fail bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	c.envs = append(c.envs, env)
	return nil
}

func (c *fakeConn) received() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.envs...)
}

// waitFor blocks until conn has an envelope for event and returns its data.
func (c *fakeConn) waitFor(t *testing.T, event string) json.RawMessage {
	t.Helper()
	var data json.RawMessage
	require.Eventually(t, func() bool {
		for _, env := range c.received() {
			if env.Event == event {
				data = env.Data
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "waiting for %s on %s", event, c.id)
	return data
}

type relay struct {
	coord    *Coordinator
	presence *presence.Manager
	history  *history.Manager
	hub      *hub.Hub
	mr       *miniredis.Miniredis
}

func newRelay(t *testing.T, opts ...Option) *relay {
	t.Helper()
	mr := miniredis.RunT(t)
	redisOpts := &redis.Options{Addr: mr.Addr()}
	client := redis.NewClient(redisOpts)
	st := store.NewRedisStoreFromClient(client)
	b := broker.New(client, redisOpts, zerolog.Nop())

	h := hub.NewHub(b, zerolog.Nop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	select {
	case <-h.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub not ready")
	}
	t.Cleanup(func() {
		cancel()
		<-done
		_ = client.Close()
	})

	p := presence.NewManager(st, zerolog.Nop())
	hist := history.NewManager(st, zerolog.Nop())
	gen := identity.NewStatic(avatarBase, "Ada Lovelace", "Alan Turing")

	return &relay{
		coord:    NewCoordinator(p, hist, b, h, gen, zerolog.Nop(), opts...),
		presence: p,
		history:  hist,
		hub:      h,
		mr:       mr,
	}
}

func TestConnectDeliversSnapshotThenAnnounces(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)
	c1 := &fakeConn{id: "c1"}

	s, err := r.coord.Connect(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, Active, s.State())

	want := models.Member{Socket: "c1", Username: "Ada Lovelace", Avatar: avatarBase + "Ada Lovelace.png"}
	assert.Equal(t, want, s.Member())

	added := c1.waitFor(t, models.EventMemberAdd)
	var got models.Member
	require.NoError(t, json.Unmarshal(added, &got))
	assert.Equal(t, want, got)

	envs := c1.received()
	require.Len(t, envs, 3)
	assert.Equal(t, models.EventMemberHistory, envs[0].Event)
	assert.JSONEq(t, `{}`, string(envs[0].Data))
	assert.Equal(t, models.EventMessageHistory, envs[1].Event)
	assert.JSONEq(t, `[]`, string(envs[1].Data))
	assert.Equal(t, models.EventMemberAdd, envs[2].Event)
}

func TestSecondConnectionSeesFirstInSnapshot(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)
	c1, c2 := &fakeConn{id: "c1"}, &fakeConn{id: "c2"}

	_, err := r.coord.Connect(ctx, c1)
	require.NoError(t, err)
	_, err = r.coord.Connect(ctx, c2)
	require.NoError(t, err)

	var members map[string]models.Member
	require.NoError(t, json.Unmarshal(c2.received()[0].Data, &members))
	assert.Contains(t, members, "c1")

	// c1 hears about c2 through the hub.
	require.Eventually(t, func() bool {
		for _, env := range c1.received() {
			if env.Event == models.EventMemberAdd && string(env.Data) != "" {
				var m models.Member
				if json.Unmarshal(env.Data, &m) == nil && m.Socket == "c2" {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendAppendsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t, WithClock(func() int64 { return 1000 }))
	c1, c2 := &fakeConn{id: "c1"}, &fakeConn{id: "c2"}

	s1, err := r.coord.Connect(ctx, c1)
	require.NoError(t, err)
	_, err = r.coord.Connect(ctx, c2)
	require.NoError(t, err)

	require.NoError(t, s1.Send(ctx, "hello"))

	want := models.Message{
		Date:     1000,
		Username: "Ada Lovelace",
		Avatar:   avatarBase + "Ada Lovelace.png",
		Body:     "hello",
	}

	stored, err := r.history.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.Message{want}, stored)

	for _, c := range []*fakeConn{c1, c2} {
		var got models.Message
		require.NoError(t, json.Unmarshal(c.waitFor(t, models.EventMessages), &got))
		assert.Equal(t, want, got)
	}
}

func TestSendRejectsOversized(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t, WithMaxMessageBytes(5))

	s, err := r.coord.Connect(ctx, &fakeConn{id: "c1"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Send(ctx, "too long"), ErrMessageTooLong)
	assert.Equal(t, Active, s.State())

	stored, err := r.history.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSendRelaysEmptyBody(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)
	c1 := &fakeConn{id: "c1"}

	s, err := r.coord.Connect(ctx, c1)
	require.NoError(t, err)
	require.NoError(t, s.Send(ctx, ""))

	stored, err := r.history.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "", stored[0].Body)

	var got models.Message
	require.NoError(t, json.Unmarshal(c1.waitFor(t, models.EventMessages), &got))
	assert.Equal(t, stored[0], got)
}

func TestJoinerReceivesRecentHistory(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	s, err := r.coord.Connect(ctx, &fakeConn{id: "c1"})
	require.NoError(t, err)
	for _, body := range []string{"one", "two", "three"} {
		require.NoError(t, s.Send(ctx, body))
	}

	c2 := &fakeConn{id: "c2"}
	_, err = r.coord.Connect(ctx, c2)
	require.NoError(t, err)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal(c2.received()[1].Data, &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "three", msgs[2].Body)
	assert.Less(t, msgs[0].Date, msgs[1].Date)
	assert.Less(t, msgs[1].Date, msgs[2].Date)
}

func TestCloseRemovesAndAnnounces(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)
	c1, c2 := &fakeConn{id: "c1"}, &fakeConn{id: "c2"}

	s1, err := r.coord.Connect(ctx, c1)
	require.NoError(t, err)
	_, err = r.coord.Connect(ctx, c2)
	require.NoError(t, err)

	s1.Close(ctx)
	s1.Close(ctx)
	assert.Equal(t, Terminated, s1.State())

	members, err := r.presence.GetAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, members, "c1")

	assert.JSONEq(t, `"c1"`, string(c2.waitFor(t, models.EventMemberDelete)))
	assert.ErrorIs(t, s1.Send(ctx, "late"), ErrSessionClosed)
	assert.Equal(t, 1, r.hub.Len())
}

func TestConnectAbortsWhenStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)
	r.mr.SetError("ERR store down")

	c1 := &fakeConn{id: "c1"}
	s, err := r.coord.Connect(ctx, c1)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Empty(t, c1.received())
	assert.Equal(t, 0, r.hub.Len())
}

func TestConnectAbortsWhenSnapshotUndeliverable(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	_, err := r.coord.Connect(ctx, &fakeConn{id: "c1", fail: true})
	require.Error(t, err)

	members, err := r.presence.GetAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, members, "c1")
	assert.Equal(t, 0, r.hub.Len())
}

// Failure-injecting collaborators for the Active-state error policy.

type stubPresence struct{}

func (stubPresence) GetAll(context.Context) (map[string]models.Member, error) {
	return map[string]models.Member{}, nil
}

func (stubPresence) GetOrCreate(_ context.Context, id string, gen identity.Generator) (models.Member, bool, error) {
	i := gen.Generate()
	return models.Member{Socket: id, Username: i.Name, Avatar: i.Avatar}, true, nil
}

func (stubPresence) Remove(context.Context, string) error {
	return store.ErrStoreUnavailable
}

type stubHistory struct {
	appendErr error
	appended  []models.Message
}

func (h *stubHistory) Append(_ context.Context, m models.Message) error {
	if h.appendErr != nil {
		return h.appendErr
	}
	h.appended = append(h.appended, m)
	return nil
}

func (h *stubHistory) Recent(context.Context, int) ([]models.Message, error) {
	return []models.Message{}, nil
}

type stubPublisher struct {
	err    error
	topics []string
}

func (p *stubPublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.topics = append(p.topics, topic)
	return p.err
}

type stubFanout struct{}

func (stubFanout) Attach(hub.Client) {}
func (stubFanout) Detach(string)     {}

func TestSendFailuresKeepSessionActive(t *testing.T) {
	ctx := context.Background()
	hist := &stubHistory{}
	pub := &stubPublisher{}
	coord := NewCoordinator(stubPresence{}, hist, pub, stubFanout{}, identity.NewStatic(avatarBase), zerolog.Nop())

	s, err := coord.Connect(ctx, &fakeConn{id: "c1"})
	require.NoError(t, err)

	hist.appendErr = store.ErrStoreUnavailable
	assert.ErrorIs(t, s.Send(ctx, "lost"), store.ErrStoreUnavailable)
	assert.Equal(t, Active, s.State())

	hist.appendErr = nil
	pub.err = store.ErrPublish
	assert.ErrorIs(t, s.Send(ctx, "stored but not published"), store.ErrPublish)
	assert.Equal(t, Active, s.State())
	assert.Len(t, hist.appended, 1)

	// Close logs the remove and publish failures but still terminates.
	s.Close(ctx)
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, []string{models.EventMemberAdd, models.EventMessages, models.EventMemberDelete}, pub.topics)
}

func TestMemberAddPublishFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(stubPresence{}, &stubHistory{}, &stubPublisher{err: store.ErrPublish},
		stubFanout{}, identity.NewStatic(avatarBase), zerolog.Nop())

	s, err := coord.Connect(ctx, &fakeConn{id: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Active, s.State())
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(5000)
	c := NewClock(func() time.Time { return fixed })

	assert.Equal(t, int64(5000), c.Now())
	assert.Equal(t, int64(5001), c.Now())

	fixed = time.UnixMilli(4000)
	assert.Equal(t, int64(5002), c.Now())

	fixed = time.UnixMilli(9000)
	assert.Equal(t, int64(9000), c.Now())
	assert.Equal(t, "active", Active.String())
}
