package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PChat/module/chat/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// harness 同一组用例分别跑在 Redis(miniredis) 和内存实现上
type harness struct {
	store   Store
	advance func(time.Duration)
}

func backends(t *testing.T) map[string]func(t *testing.T) harness {
	return map[string]func(t *testing.T) harness{
		"redis": func(t *testing.T) harness {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			clk := newFakeClock()
			s := NewRedisStore(rdb, Options{KeyPrefix: "test:", Clock: clk.Now})
			return harness{store: s, advance: func(d time.Duration) {
				clk.Advance(d)
				mr.FastForward(d)
			}}
		},
		"memory": func(t *testing.T) harness {
			clk := newFakeClock()
			return harness{store: NewMemStore(Options{Clock: clk.Now}), advance: clk.Advance}
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, h harness)) {
	for name, mk := range backends(t) {
		mk := mk
		t.Run(name, func(t *testing.T) { fn(t, mk(t)) })
	}
}

func TestPresenceMultiDevice(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetOnline(ctx, "u", "c1", "ios"))
		require.NoError(t, h.store.SetOnline(ctx, "u", "c2", "web"))

		offline, err := h.store.SetOffline(ctx, "u", "c1")
		require.NoError(t, err)
		assert.False(t, offline)

		p, err := h.store.OnlineStatus(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "c2", p.ConnectionID)

		offline, err = h.store.SetOffline(ctx, "u", "c2")
		require.NoError(t, err)
		assert.True(t, offline)

		p, err = h.store.OnlineStatus(ctx, "u")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestPresenceExpiresWithoutHeartbeat(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetOnline(ctx, "u", "c1", "ios"))

		h.advance(200 * time.Second)
		require.NoError(t, h.store.SetOnline(ctx, "u", "c1", "ios")) // heartbeat

		h.advance(200 * time.Second)
		p, err := h.store.OnlineStatus(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "ios", p.Device)

		h.advance(101 * time.Second)
		p, err = h.store.OnlineStatus(ctx, "u")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestSetOfflineUnknownConnIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		offline, err := h.store.SetOffline(ctx, "ghost", "c1")
		require.NoError(t, err)
		assert.True(t, offline)
	})
}

func TestTypingSelfExpires(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.AddTyping(ctx, "conv", "a"))
		h.advance(6 * time.Second)
		require.NoError(t, h.store.AddTyping(ctx, "conv", "b"))

		users, err := h.store.ListTyping(ctx, "conv")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, users)

		h.advance(5 * time.Second)
		users, err = h.store.ListTyping(ctx, "conv")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, users)

		require.NoError(t, h.store.RemoveTyping(ctx, "conv", "b"))
		users, err = h.store.ListTyping(ctx, "conv")
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}

func TestUnreadDecrementClampsAtZero(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for _, tc := range []struct{ start, dec, want int64 }{
			{0, 1, 0}, {3, 1, 2}, {3, 3, 0}, {3, 10, 0}, {5, 0, 5},
		} {
			user := fmt.Sprintf("u-%d-%d", tc.start, tc.dec)
			require.NoError(t, h.store.SetUnread(ctx, user, 0))
			for i := int64(0); i < tc.start; i++ {
				_, found, err := h.store.IncrementUnread(ctx, user)
				require.NoError(t, err)
				require.True(t, found)
			}
			got, found, err := h.store.DecrementUnread(ctx, user, tc.dec)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, tc.want, got, "start=%d dec=%d", tc.start, tc.dec)

			n, _, err := h.store.GetUnread(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		}
	})
}

func TestUnreadMissAndReset(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		_, found, err := h.store.GetUnread(ctx, "cold")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, h.store.SetUnread(ctx, "cold", 7))
		n, found, err := h.store.GetUnread(ctx, "cold")
		require.NoError(t, err)
		assert.True(t, found)
		assert.EqualValues(t, 7, n)

		require.NoError(t, h.store.ResetUnread(ctx, "cold"))
		n, _, err = h.store.GetUnread(ctx, "cold")
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})
}

func TestUnreadCounterMissStaysMiss(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		n, found, err := h.store.IncrementUnread(ctx, "cold")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Zero(t, n)

		_, found, err = h.store.DecrementUnread(ctx, "cold", 2)
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = h.store.GetUnread(ctx, "cold")
		require.NoError(t, err)
		assert.False(t, found, "a cold counter must not be created by incr/decr")

		require.NoError(t, h.store.SetUnread(ctx, "cold", 3))
		n, found, err = h.store.IncrementUnread(ctx, "cold")
		require.NoError(t, err)
		assert.True(t, found)
		assert.EqualValues(t, 4, n)
	})
}

func TestUnreadIncrementIsAtomic(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetUnread(ctx, "hot", 0))
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := h.store.IncrementUnread(ctx, "hot")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		n, _, err := h.store.GetUnread(ctx, "hot")
		require.NoError(t, err)
		assert.EqualValues(t, 50, n)
	})
}

func TestQueueFIFOPerPartition(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			require.NoError(t, h.store.Enqueue(ctx, PartitionNormal, &model.QueuedMessage{ID: fmt.Sprintf("n%d", i)}))
		}
		require.NoError(t, h.store.Enqueue(ctx, PartitionHigh, &model.QueuedMessage{ID: "h1", Priority: model.PriorityHigh}))

		n, err := h.store.QueueLen(ctx, PartitionNormal)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		for _, want := range []string{"n1", "n2", "n3"} {
			m, err := h.store.Dequeue(ctx, PartitionNormal)
			require.NoError(t, err)
			require.NotNil(t, m)
			assert.Equal(t, want, m.ID)
		}
		m, err := h.store.Dequeue(ctx, PartitionNormal)
		require.NoError(t, err)
		assert.Nil(t, m)

		m, err = h.store.Dequeue(ctx, PartitionHigh)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, model.PriorityHigh, m.Priority)
	})
}

func TestDeadLetterPeekKeepsOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 1; i <= 3; i++ {
			require.NoError(t, h.store.Enqueue(ctx, PartitionDead, &model.QueuedMessage{
				ID: fmt.Sprintf("d%d", i), RetryCount: 3, CreatedAt: created,
			}))
		}
		dl, err := h.store.PeekDeadLetters(ctx, 2)
		require.NoError(t, err)
		require.Len(t, dl, 2)
		assert.Equal(t, "d1", dl[0].ID)
		assert.Equal(t, "d2", dl[1].ID)
		assert.Equal(t, 3, dl[0].RetryCount)
		assert.True(t, created.Equal(dl[0].CreatedAt))

		n, err := h.store.QueueLen(ctx, PartitionDead)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})
}

func TestDedupWindow(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		hash := DedupHash("a", "conv", "hello")

		ok, err := h.store.ClaimDedup(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, h.store.MarkSent(ctx, hash, "m1"))

		h.advance(4 * time.Minute)
		ok, err = h.store.ClaimDedup(ctx, hash)
		require.NoError(t, err)
		assert.False(t, ok)
		dup, err := h.store.IsDuplicate(ctx, hash)
		require.NoError(t, err)
		assert.True(t, dup)

		h.advance(61 * time.Second)
		dup, err = h.store.IsDuplicate(ctx, hash)
		require.NoError(t, err)
		assert.False(t, dup)
		ok, err = h.store.ClaimDedup(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, h.store.ReleaseDedup(ctx, hash))
		ok, err = h.store.ClaimDedup(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestDedupClaimIsExclusive(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		hash := DedupHash("a", "conv", "race")
		var won int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := h.store.ClaimDedup(ctx, hash)
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&won, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, won)
	})
}

func TestDedupHashDistinguishesFields(t *testing.T) {
	assert.Equal(t, DedupHash("a", "c", "x"), DedupHash("a", "c", "x"))
	assert.NotEqual(t, DedupHash("a", "c", "x"), DedupHash("b", "c", "x"))
	assert.NotEqual(t, DedupHash("a:c", "", "x"), DedupHash("a", "c:", "x"))
}

func TestRateLimitFixedWindow(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			ok, err := h.store.CheckRateLimit(ctx, "u", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "call %d", i)
		}
		h.advance(30 * time.Second)
		ok, err := h.store.CheckRateLimit(ctx, "u", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		// 窗口从首次计数开始算，不因后续计数顺延
		h.advance(31 * time.Second)
		ok, err = h.store.CheckRateLimit(ctx, "u", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMembershipCache(t *testing.T) {
	eachBackend(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		users, err := h.store.Members(ctx, "conv")
		require.NoError(t, err)
		assert.Empty(t, users)

		require.NoError(t, h.store.AddMembers(ctx, "conv", "b", "a"))
		require.NoError(t, h.store.AddMembers(ctx, "conv"))
		users, err = h.store.Members(ctx, "conv")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, users)

		require.NoError(t, h.store.RemoveMember(ctx, "conv", "a"))
		users, err = h.store.Members(ctx, "conv")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, users)

		h.advance(time.Hour + time.Second)
		users, err = h.store.Members(ctx, "conv")
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}
