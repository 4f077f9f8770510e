package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tunnus/pkg/platform/sentinel"
)

// In-memory stores back unit tests and single-node development setups. They
// enforce the same uniqueness rules as the PostgreSQL implementations.

type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[uuid.UUID]User)}
}

func (s *InMemoryUserStore) Save(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.Email != "" {
		for _, existing := range s.users {
			if existing.ID != user.ID && existing.Organization == user.Organization &&
				strings.EqualFold(existing.Email, user.Email) {
				return sentinel.ErrConflict
			}
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, organization string, id uuid.UUID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[id]; ok && user.Organization == organization {
		return user, nil
	}
	return User{}, sentinel.ErrNotFound
}

func (s *InMemoryUserStore) FindByEmail(_ context.Context, organization, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Organization == organization && strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, sentinel.ErrNotFound
}

type InMemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

func NewInMemoryIdentityStore() *InMemoryIdentityStore {
	return &InMemoryIdentityStore{identities: make(map[string]Identity)}
}

func identityKey(organization, provider, uid string) string {
	return organization + "\x00" + provider + "\x00" + uid
}

func (s *InMemoryIdentityStore) Create(_ context.Context, identity Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey(identity.Organization, identity.Provider, identity.UID)
	if _, ok := s.identities[key]; ok {
		return sentinel.ErrConflict
	}
	s.identities[key] = identity
	return nil
}

func (s *InMemoryIdentityStore) Find(_ context.Context, organization, provider, uid string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if identity, ok := s.identities[identityKey(organization, provider, uid)]; ok {
		return identity, nil
	}
	return Identity{}, sentinel.ErrNotFound
}

func (s *InMemoryIdentityStore) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, identity := range s.identities {
		if identity.UserID == userID {
			delete(s.identities, key)
		}
	}
	return nil
}

type InMemoryAuthorizationStore struct {
	mu             sync.RWMutex
	authorizations map[uuid.UUID]Authorization
}

func NewInMemoryAuthorizationStore() *InMemoryAuthorizationStore {
	return &InMemoryAuthorizationStore{authorizations: make(map[uuid.UUID]Authorization)}
}

func (s *InMemoryAuthorizationStore) Create(_ context.Context, authorization Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.authorizations {
		if existing.Name != authorization.Name {
			continue
		}
		if existing.UniqueID == authorization.UniqueID || existing.UserID == authorization.UserID {
			return sentinel.ErrConflict
		}
	}
	s.authorizations[authorization.ID] = authorization
	return nil
}

func (s *InMemoryAuthorizationStore) Update(_ context.Context, authorization Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorizations[authorization.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.authorizations[authorization.ID] = authorization
	return nil
}

func (s *InMemoryAuthorizationStore) FindByUniqueID(_ context.Context, name, uniqueID string) (Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, authorization := range s.authorizations {
		if authorization.Name == name && authorization.UniqueID == uniqueID {
			return authorization, nil
		}
	}
	return Authorization{}, sentinel.ErrNotFound
}

func (s *InMemoryAuthorizationStore) FindByUser(_ context.Context, userID uuid.UUID, name string) (Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, authorization := range s.authorizations {
		if authorization.Name == name && authorization.UserID == userID {
			return authorization, nil
		}
	}
	return Authorization{}, sentinel.ErrNotFound
}

func (s *InMemoryAuthorizationStore) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, authorization := range s.authorizations {
		if authorization.UserID == userID {
			delete(s.authorizations, id)
		}
	}
	return nil
}
