//go:build integration

package redislock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type LockerSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
}

func TestLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LockerSuite))
}

func (s *LockerSuite) SetupSuite() {
	ctx := context.Background()
	c, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = c

	url, err := c.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(url)
	s.Require().NoError(err)
	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())
}

func (s *LockerSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *LockerSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *LockerSuite) TestMutualExclusion() {
	l := New(s.client, 5*time.Second, WithRetryInterval(time.Millisecond))

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "request:r1")
			s.Require().NoError(err)
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	s.Equal(int32(1), maxSeen.Load())
}

func (s *LockerSuite) TestLockWaitHonoursContext() {
	l := New(s.client, 5*time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	s.Require().NoError(err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *LockerSuite) TestReleaseKeepsForeignLease() {
	ctx := context.Background()
	l := New(s.client, 50*time.Millisecond)
	unlock, err := l.Lock(ctx, "k")
	s.Require().NoError(err)

	// lease expires and another holder takes the key
	time.Sleep(100 * time.Millisecond)
	s.Require().NoError(s.client.Set(ctx, "patient-access:lock:k", "other", time.Minute).Err())

	unlock()
	got, err := s.client.Get(ctx, "patient-access:lock:k").Result()
	s.Require().NoError(err)
	s.Equal("other", got)
}

func (s *LockerSuite) TestPrefixNamespacesKeys() {
	ctx := context.Background()
	a := New(s.client, 5*time.Second, WithPrefix("tenant-a:"))
	b := New(s.client, 5*time.Second, WithPrefix("tenant-b:"))

	unlockA, err := a.Lock(ctx, "request:1")
	s.Require().NoError(err)
	defer unlockA()

	// same key under another prefix is a different lease
	lockCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := b.Lock(lockCtx, "request:1")
	s.Require().NoError(err)
	unlockB()

	n, err := s.client.Exists(ctx, "tenant-a:request:1").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}
