//go:build integration

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tunnus/internal/platform/redis"
	"tunnus/internal/session"
	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	container *containers.RedisContainer
	store     *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.container = containers.NewRedisContainer(s.T())
	s.store = session.NewRedisStore(&redis.Client{Client: s.container.Client})
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Client.Close()
		_ = s.container.Container.Terminate(context.Background())
	}
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.container.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	entry := session.Entry{
		SID:          "sid-abc",
		UserID:       uuid.New(),
		Organization: "city",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	s.Require().NoError(s.store.Put(ctx, entry, time.Minute))

	got, err := s.store.Get(ctx, "sid-abc")
	s.Require().NoError(err)
	s.Equal(entry.UserID, got.UserID)
	s.Equal(entry.Organization, got.Organization)
	s.True(entry.CreatedAt.Equal(got.CreatedAt))

	s.Require().NoError(s.store.Delete(ctx, "sid-abc"))

	_, err = s.store.Get(ctx, "sid-abc")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *RedisStoreSuite) TestExpiry() {
	ctx := context.Background()
	entry := session.Entry{SID: "sid-short", UserID: uuid.New(), Organization: "city"}

	s.Require().NoError(s.store.Put(ctx, entry, 500*time.Millisecond))

	_, err := s.store.Get(ctx, "sid-short")
	s.Require().NoError(err)

	time.Sleep(time.Second)

	_, err = s.store.Get(ctx, "sid-short")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *RedisStoreSuite) TestDeleteByUser() {
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	for _, sid := range []string{"sid-1", "sid-2"} {
		s.Require().NoError(s.store.Put(ctx, session.Entry{SID: sid, UserID: userID, Organization: "city"}, time.Minute))
	}
	s.Require().NoError(s.store.Put(ctx, session.Entry{SID: "sid-3", UserID: other, Organization: "city"}, time.Minute))

	removed, err := s.store.DeleteByUser(ctx, userID)
	s.Require().NoError(err)
	s.Equal(2, removed)

	_, err = s.store.Get(ctx, "sid-1")
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.Get(ctx, "sid-3")
	s.NoError(err)
}

func (s *RedisStoreSuite) TestMissingKey() {
	_, err := s.store.Get(context.Background(), "never-stored")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
