package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/platform/tx"
)

// PostgreSQL-backed stores. Uniqueness is enforced by the schema's unique
// indexes; violations surface as sentinel.ErrConflict so callers do not
// depend on driver error types.

// querier is the subset of sql.DB and sql.Tx the stores run against.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn joins a transaction carried in the context, falling back to the
// pool. Multi-store operations like account erasure run atomically this
// way without the stores knowing about each other.
func conn(ctx context.Context, db *sql.DB) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return db
}

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Save(ctx context.Context, user User) error {
	query := `
		INSERT INTO users (id, organization, email, name, nickname, locale, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			nickname = EXCLUDED.nickname,
			locale = EXCLUDED.locale,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := conn(ctx, s.db).ExecContext(ctx, query,
		user.ID, user.Organization, user.Email, user.Name, user.Nickname, user.Locale,
		user.DeletedAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, organization string, id uuid.UUID) (User, error) {
	query := `
		SELECT id, organization, email, name, nickname, locale, deleted_at, created_at, updated_at
		FROM users
		WHERE id = $1 AND organization = $2
	`
	return s.scanUser(conn(ctx, s.db).QueryRowContext(ctx, query, id, organization))
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, organization, email string) (User, error) {
	query := `
		SELECT id, organization, email, name, nickname, locale, deleted_at, created_at, updated_at
		FROM users
		WHERE organization = $1 AND lower(email) = lower($2)
	`
	return s.scanUser(conn(ctx, s.db).QueryRowContext(ctx, query, organization, email))
}

func (s *PostgresUserStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Organization, &user.Email, &user.Name, &user.Nickname, &user.Locale,
		&user.DeletedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, sentinel.ErrNotFound
		}
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

type PostgresIdentityStore struct {
	db *sql.DB
}

func NewPostgresIdentityStore(db *sql.DB) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

func (s *PostgresIdentityStore) Create(ctx context.Context, identity Identity) error {
	query := `
		INSERT INTO identities (id, user_id, organization, provider, uid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := conn(ctx, s.db).ExecContext(ctx, query,
		identity.ID, identity.UserID, identity.Organization, identity.Provider, identity.UID, identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *PostgresIdentityStore) Find(ctx context.Context, organization, provider, uid string) (Identity, error) {
	query := `
		SELECT id, user_id, organization, provider, uid, created_at
		FROM identities
		WHERE organization = $1 AND provider = $2 AND uid = $3
	`
	var identity Identity
	err := conn(ctx, s.db).QueryRowContext(ctx, query, organization, provider, uid).Scan(
		&identity.ID, &identity.UserID, &identity.Organization, &identity.Provider, &identity.UID, &identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, sentinel.ErrNotFound
		}
		return Identity{}, fmt.Errorf("find identity: %w", err)
	}
	return identity, nil
}

func (s *PostgresIdentityStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := conn(ctx, s.db).ExecContext(ctx, `DELETE FROM identities WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete identities: %w", err)
	}
	return nil
}

type PostgresAuthorizationStore struct {
	db *sql.DB
}

func NewPostgresAuthorizationStore(db *sql.DB) *PostgresAuthorizationStore {
	return &PostgresAuthorizationStore{db: db}
}

func (s *PostgresAuthorizationStore) Create(ctx context.Context, authorization Authorization) error {
	metadata, err := json.Marshal(authorization.Metadata)
	if err != nil {
		return fmt.Errorf("encode authorization metadata: %w", err)
	}
	query := `
		INSERT INTO authorizations (id, user_id, name, unique_id, pseudonymized_pin, metadata, granted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = conn(ctx, s.db).ExecContext(ctx, query,
		authorization.ID, authorization.UserID, authorization.Name, authorization.UniqueID,
		nullableString(authorization.PseudonymizedPIN), metadata,
		authorization.GrantedAt, authorization.CreatedAt, authorization.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create authorization: %w", err)
	}
	return nil
}

func (s *PostgresAuthorizationStore) Update(ctx context.Context, authorization Authorization) error {
	metadata, err := json.Marshal(authorization.Metadata)
	if err != nil {
		return fmt.Errorf("encode authorization metadata: %w", err)
	}
	query := `
		UPDATE authorizations SET
			unique_id = $2,
			pseudonymized_pin = $3,
			metadata = $4,
			granted_at = $5,
			updated_at = $6
		WHERE id = $1
	`
	result, err := conn(ctx, s.db).ExecContext(ctx, query,
		authorization.ID, authorization.UniqueID,
		nullableString(authorization.PseudonymizedPIN), metadata,
		authorization.GrantedAt, authorization.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update authorization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update authorization: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresAuthorizationStore) FindByUniqueID(ctx context.Context, name, uniqueID string) (Authorization, error) {
	query := selectAuthorization + ` WHERE name = $1 AND unique_id = $2`
	return s.scanAuthorization(conn(ctx, s.db).QueryRowContext(ctx, query, name, uniqueID))
}

func (s *PostgresAuthorizationStore) FindByUser(ctx context.Context, userID uuid.UUID, name string) (Authorization, error) {
	query := selectAuthorization + ` WHERE user_id = $1 AND name = $2`
	return s.scanAuthorization(conn(ctx, s.db).QueryRowContext(ctx, query, userID, name))
}

func (s *PostgresAuthorizationStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := conn(ctx, s.db).ExecContext(ctx, `DELETE FROM authorizations WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete authorizations: %w", err)
	}
	return nil
}

const selectAuthorization = `
	SELECT id, user_id, name, unique_id, pseudonymized_pin, metadata, granted_at, created_at, updated_at
	FROM authorizations
`

func (s *PostgresAuthorizationStore) scanAuthorization(row *sql.Row) (Authorization, error) {
	var (
		authorization Authorization
		pin           sql.NullString
		metadata      []byte
	)
	err := row.Scan(
		&authorization.ID, &authorization.UserID, &authorization.Name, &authorization.UniqueID,
		&pin, &metadata,
		&authorization.GrantedAt, &authorization.CreatedAt, &authorization.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Authorization{}, sentinel.ErrNotFound
		}
		return Authorization{}, fmt.Errorf("find authorization: %w", err)
	}
	authorization.PseudonymizedPIN = pin.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &authorization.Metadata); err != nil {
			return Authorization{}, fmt.Errorf("decode authorization metadata: %w", err)
		}
	}
	return authorization, nil
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
