package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tunnus/internal/identity"
	"tunnus/internal/verification"
	"tunnus/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx            context.Context
	users          *identity.InMemoryUserStore
	identities     *identity.InMemoryIdentityStore
	authorizations *identity.InMemoryAuthorizationStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.users = identity.NewInMemoryUserStore()
	s.identities = identity.NewInMemoryIdentityStore()
	s.authorizations = identity.NewInMemoryAuthorizationStore()
}

func newTestUser(organization, email string) identity.User {
	now := time.Now()
	return identity.User{
		ID:           uuid.New(),
		Organization: organization,
		Email:        email,
		Name:         "Test User",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *MemoryStoreSuite) TestUserSaveAndFind() {
	user := newTestUser("city", "user@example.org")
	s.Require().NoError(s.users.Save(s.ctx, user))

	found, err := s.users.FindByID(s.ctx, "city", user.ID)
	s.Require().NoError(err)
	s.Equal(user.Email, found.Email)

	s.Run("email lookup is case insensitive", func() {
		found, err := s.users.FindByEmail(s.ctx, "city", "USER@example.org")
		s.Require().NoError(err)
		s.Equal(user.ID, found.ID)
	})

	s.Run("lookups are organization scoped", func() {
		_, err := s.users.FindByID(s.ctx, "other-city", user.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)

		_, err = s.users.FindByEmail(s.ctx, "other-city", user.Email)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("save updates in place", func() {
		user.Name = "Renamed User"
		s.Require().NoError(s.users.Save(s.ctx, user))

		found, err := s.users.FindByID(s.ctx, "city", user.ID)
		s.Require().NoError(err)
		s.Equal("Renamed User", found.Name)
	})
}

func (s *MemoryStoreSuite) TestUserEmailUniqueness() {
	first := newTestUser("city", "taken@example.org")
	s.Require().NoError(s.users.Save(s.ctx, first))

	s.Run("another user with the same email conflicts", func() {
		other := newTestUser("city", "taken@example.org")
		s.ErrorIs(s.users.Save(s.ctx, other), sentinel.ErrConflict)
	})

	s.Run("email comparison is case insensitive", func() {
		other := newTestUser("city", "TAKEN@example.org")
		s.ErrorIs(s.users.Save(s.ctx, other), sentinel.ErrConflict)
	})

	s.Run("same email in another organization is fine", func() {
		other := newTestUser("other-city", "taken@example.org")
		s.NoError(s.users.Save(s.ctx, other))
	})

	s.Run("several users without an email are fine", func() {
		s.NoError(s.users.Save(s.ctx, newTestUser("city", "")))
		s.NoError(s.users.Save(s.ctx, newTestUser("city", "")))
	})

	s.Run("re-saving the owner keeps its email", func() {
		first.Name = "Still Me"
		s.NoError(s.users.Save(s.ctx, first))
	})
}

func (s *MemoryStoreSuite) TestIdentityUniqueness() {
	first := identity.Identity{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Organization: "city",
		Provider:     "suomi_fi",
		UID:          "provider-sub-123",
		CreatedAt:    time.Now(),
	}
	s.Require().NoError(s.identities.Create(s.ctx, first))

	s.Run("same triple conflicts", func() {
		duplicate := first
		duplicate.ID = uuid.New()
		duplicate.UserID = uuid.New()
		s.ErrorIs(s.identities.Create(s.ctx, duplicate), sentinel.ErrConflict)
	})

	s.Run("same uid under another provider is fine", func() {
		other := first
		other.ID = uuid.New()
		other.Provider = "helsinki_tunnistus"
		s.NoError(s.identities.Create(s.ctx, other))
	})

	s.Run("find returns the owning user", func() {
		found, err := s.identities.Find(s.ctx, "city", "suomi_fi", "provider-sub-123")
		s.Require().NoError(err)
		s.Equal(first.UserID, found.UserID)
	})

	s.Run("delete by user removes all identities", func() {
		s.Require().NoError(s.identities.DeleteByUser(s.ctx, first.UserID))
		_, err := s.identities.Find(s.ctx, "city", "suomi_fi", "provider-sub-123")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestAuthorizationUniqueness() {
	granted := time.Now()
	first := identity.Authorization{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Name:      "external_idp",
		UniqueID:  "digest-aaa",
		Metadata:  verification.PersonMetadata{Municipality: "Helsinki"},
		GrantedAt: granted,
		CreatedAt: granted,
		UpdatedAt: granted,
	}
	s.Require().NoError(s.authorizations.Create(s.ctx, first))

	s.Run("same unique id conflicts", func() {
		duplicate := first
		duplicate.ID = uuid.New()
		duplicate.UserID = uuid.New()
		s.ErrorIs(s.authorizations.Create(s.ctx, duplicate), sentinel.ErrConflict)
	})

	s.Run("second authorization of same name for same user conflicts", func() {
		duplicate := first
		duplicate.ID = uuid.New()
		duplicate.UniqueID = "digest-bbb"
		s.ErrorIs(s.authorizations.Create(s.ctx, duplicate), sentinel.ErrConflict)
	})

	s.Run("different name for same user is fine", func() {
		other := first
		other.ID = uuid.New()
		other.Name = "another_method"
		s.NoError(s.authorizations.Create(s.ctx, other))
	})

	s.Run("update rewrites mutable fields", func() {
		first.PseudonymizedPIN = "pin-digest"
		first.GrantedAt = granted.Add(time.Hour)
		s.Require().NoError(s.authorizations.Update(s.ctx, first))

		found, err := s.authorizations.FindByUniqueID(s.ctx, "external_idp", "digest-aaa")
		s.Require().NoError(err)
		s.Equal("pin-digest", found.PseudonymizedPIN)
		s.WithinDuration(granted.Add(time.Hour), found.GrantedAt, time.Second)
	})

	s.Run("update of unknown authorization is not found", func() {
		unknown := first
		unknown.ID = uuid.New()
		s.ErrorIs(s.authorizations.Update(s.ctx, unknown), sentinel.ErrNotFound)
	})

	s.Run("find by user", func() {
		found, err := s.authorizations.FindByUser(s.ctx, first.UserID, "external_idp")
		s.Require().NoError(err)
		s.Equal(first.ID, found.ID)
	})
}
