//go:build integration

package identity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tunnus/internal/identity"
	"tunnus/internal/verification"
	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres       *containers.PostgresContainer
	users          *identity.PostgresUserStore
	identities     *identity.PostgresIdentityStore
	authorizations *identity.PostgresAuthorizationStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), identity.Schema)
	s.users = identity.NewPostgresUserStore(s.postgres.DB)
	s.identities = identity.NewPostgresIdentityStore(s.postgres.DB)
	s.authorizations = identity.NewPostgresAuthorizationStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "authorizations", "identities", "users")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) createUser(email string) identity.User {
	now := time.Now().UTC()
	user := identity.User{
		ID:           uuid.New(),
		Organization: "city",
		Email:        email,
		Name:         "Test User",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Require().NoError(s.users.Save(context.Background(), user))
	return user
}

func (s *PostgresStoreSuite) TestUserRoundTrip() {
	ctx := context.Background()
	user := s.createUser("user@example.org")

	found, err := s.users.FindByID(ctx, "city", user.ID)
	s.Require().NoError(err)
	s.Equal(user.Email, found.Email)
	s.Nil(found.DeletedAt)

	s.Run("email lookup is case insensitive", func() {
		found, err := s.users.FindByEmail(ctx, "city", "USER@Example.org")
		s.Require().NoError(err)
		s.Equal(user.ID, found.ID)
	})

	s.Run("soft delete round trips", func() {
		deleted := time.Now().UTC()
		user.DeletedAt = &deleted
		user.UpdatedAt = deleted
		s.Require().NoError(s.users.Save(ctx, user))

		found, err := s.users.FindByID(ctx, "city", user.ID)
		s.Require().NoError(err)
		s.Require().NotNil(found.DeletedAt)
		s.WithinDuration(deleted, *found.DeletedAt, time.Second)
	})

	s.Run("duplicate email conflicts", func() {
		dup := identity.User{
			ID:           uuid.New(),
			Organization: "city",
			Email:        "USER@EXAMPLE.ORG",
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		}
		s.ErrorIs(s.users.Save(ctx, dup), sentinel.ErrConflict)
	})
}

func (s *PostgresStoreSuite) TestIdentityConstraints() {
	ctx := context.Background()
	user := s.createUser("owner@example.org")

	first := identity.Identity{
		ID:           uuid.New(),
		UserID:       user.ID,
		Organization: "city",
		Provider:     "suomi_fi",
		UID:          "provider-sub-123",
		CreatedAt:    time.Now().UTC(),
	}
	s.Require().NoError(s.identities.Create(ctx, first))

	duplicate := first
	duplicate.ID = uuid.New()
	s.ErrorIs(s.identities.Create(ctx, duplicate), sentinel.ErrConflict)

	found, err := s.identities.Find(ctx, "city", "suomi_fi", "provider-sub-123")
	s.Require().NoError(err)
	s.Equal(user.ID, found.UserID)

	s.Require().NoError(s.identities.DeleteByUser(ctx, user.ID))
	_, err = s.identities.Find(ctx, "city", "suomi_fi", "provider-sub-123")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestAuthorizationRoundTrip() {
	ctx := context.Background()
	user := s.createUser("person@example.org")

	granted := time.Now().UTC()
	authorization := identity.Authorization{
		ID:       uuid.New(),
		UserID:   user.ID,
		Name:     "external_idp",
		UniqueID: "digest-aaa",
		Metadata: verification.PersonMetadata{
			Municipality:           "Helsinki",
			PostalCode:             "00100",
			PersonIdentifierDigest: "digest-aaa",
		},
		GrantedAt: granted,
		CreatedAt: granted,
		UpdatedAt: granted,
	}
	s.Require().NoError(s.authorizations.Create(ctx, authorization))

	found, err := s.authorizations.FindByUniqueID(ctx, "external_idp", "digest-aaa")
	s.Require().NoError(err)
	s.Equal("Helsinki", found.Metadata.Municipality)
	s.Empty(found.PseudonymizedPIN)

	s.Run("pin digest persists through update", func() {
		authorization.PseudonymizedPIN = "pin-digest"
		authorization.GrantedAt = granted.Add(time.Hour)
		authorization.UpdatedAt = granted.Add(time.Hour)
		s.Require().NoError(s.authorizations.Update(ctx, authorization))

		found, err := s.authorizations.FindByUser(ctx, user.ID, "external_idp")
		s.Require().NoError(err)
		s.Equal("pin-digest", found.PseudonymizedPIN)
		s.WithinDuration(granted.Add(time.Hour), found.GrantedAt, time.Second)
	})

	s.Run("second grant of same name for user conflicts", func() {
		dup := authorization
		dup.ID = uuid.New()
		dup.UniqueID = "digest-bbb"
		s.ErrorIs(s.authorizations.Create(ctx, dup), sentinel.ErrConflict)
	})

	s.Run("delete by user removes the authorization", func() {
		s.Require().NoError(s.authorizations.DeleteByUser(ctx, user.ID))
		_, err := s.authorizations.FindByUser(ctx, user.ID, "external_idp")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentUniqueIDViolation verifies that concurrent grant attempts
// with the same unique ID result in exactly one success.
func (s *PostgresStoreSuite) TestConcurrentUniqueIDViolation() {
	ctx := context.Background()
	const goroutines = 20

	users := make([]identity.User, goroutines)
	for i := range users {
		users[i] = s.createUser(uuid.NewString() + "@example.org")
	}

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(user identity.User) {
			defer wg.Done()

			now := time.Now().UTC()
			err := s.authorizations.Create(ctx, identity.Authorization{
				ID:        uuid.New(),
				UserID:    user.ID,
				Name:      "external_idp",
				UniqueID:  "contested-digest",
				GrantedAt: now,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}(users[i])
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one grant should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load())
}
