//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/hitoshi/tokengate/internal/model"
)

type RedisSessionStoreSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	store     *RedisSessionStore
}

func TestRedisSessionStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSessionStoreSuite))
}

func (s *RedisSessionStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	addr, err := container.ConnectionString(ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(addr)
	s.Require().NoError(err)

	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())
	s.store = NewRedisSessionStore(s.client)
}

func (s *RedisSessionStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisSessionStoreSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisSessionStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	sess := testSession("sess-1", time.Hour)
	s.Require().NoError(s.store.Create(ctx, sess))

	found, err := s.store.FindByID(ctx, "sess-1")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(sess.Snapshot.SubjectID, found.Snapshot.SubjectID)
	s.Equal(sess.Snapshot.AccessToken, found.Snapshot.AccessToken)
	s.True(sess.Snapshot.AccessTokenExpiresAt.Equal(found.Snapshot.AccessTokenExpiresAt))

	ttl, err := s.client.TTL(ctx, sessionKeyPrefix+"sess-1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 50*time.Minute)
}

func (s *RedisSessionStoreSuite) TestFindMissing_ReturnsNil() {
	found, err := s.store.FindByID(context.Background(), "missing")
	s.Require().NoError(err)
	s.Nil(found)
}

func (s *RedisSessionStoreSuite) TestReplace_KeepsTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, testSession("sess-1", time.Hour)))

	before, err := s.client.TTL(ctx, sessionKeyPrefix+"sess-1").Result()
	s.Require().NoError(err)

	snapshot := testSession("sess-1", time.Hour).Snapshot
	snapshot.AccessToken = "at-refreshed"
	s.Require().NoError(s.store.Replace(ctx, "sess-1", snapshot))

	after, err := s.client.TTL(ctx, sessionKeyPrefix+"sess-1").Result()
	s.Require().NoError(err)
	s.LessOrEqual(after, before)
	s.Greater(after, time.Duration(0))

	found, err := s.store.FindByID(ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal("at-refreshed", found.Snapshot.AccessToken)
}

func (s *RedisSessionStoreSuite) TestReplace_MissingSession_DoesNotCreate() {
	ctx := context.Background()
	s.Require().NoError(s.store.Replace(ctx, "missing", model.SessionSnapshot{SubjectID: "sub-1"}))

	exists, err := s.client.Exists(ctx, sessionKeyPrefix+"missing").Result()
	s.Require().NoError(err)
	s.Equal(int64(0), exists)
}

func (s *RedisSessionStoreSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, testSession("sess-1", time.Hour)))
	s.Require().NoError(s.store.DeleteByID(ctx, "sess-1"))

	found, err := s.store.FindByID(ctx, "sess-1")
	s.Require().NoError(err)
	s.Nil(found)
}
