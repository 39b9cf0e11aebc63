// account_repository.go implements AccountRepository, the Postgres backend of the
// identity service: accounts, their API keys, and key rotation.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// pqUniqueViolation is the SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

const accountColumns = `id, email, name, password_hash, created_at, updated_at`

const apiKeyColumns = `id, account_id, key_hash, key_sealed, display_prefix, revoked_at, last_used_at, created_at`

// AccountRepository handles account and API key database operations
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// CreateAccount inserts the account and its first key in one transaction.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account, key *models.APIKey) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Email, account.Name, account.PasswordHash, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("email %s is already registered", account.Email)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	if key != nil {
		if err := insertAPIKey(ctx, tx, key); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAccountByID retrieves an account by ID. Returns (nil, nil) when absent.
func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetAccountByEmail retrieves an account by its normalized email. Returns (nil, nil) when absent.
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *AccountRepository) getAccount(ctx context.Context, query string, arg string) (*models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetActiveKey returns the account's unrevoked key, or (nil, nil).
func (r *AccountRepository) GetActiveKey(ctx context.Context, accountID string) (*models.APIKey, error) {
	return r.getKey(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE account_id = $1 AND revoked_at IS NULL`, accountID)
}

// GetKeyByHash retrieves a key, revoked or not, by its digest (for authentication).
func (r *AccountRepository) GetKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	return r.getKey(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
}

func (r *AccountRepository) getKey(ctx context.Context, query string, arg string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.GetContext(ctx, &key, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ReplaceKey revokes the active key and inserts next (if non-nil) atomically.
// The account row is locked so concurrent rotations serialize.
func (r *AccountRepository) ReplaceKey(ctx context.Context, accountID string, next *models.APIKey, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked string
	err = tx.GetContext(ctx, &locked, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("account %s not found", accountID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL`,
		accountID, at,
	); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	if next != nil {
		if err := insertAPIKey(ctx, tx, next); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SwapKey installs next unless another key became active since the caller read
// expectedID ("" for none). In that case the current key is returned unchanged.
func (r *AccountRepository) SwapKey(ctx context.Context, accountID, expectedID string, next *models.APIKey, at time.Time) (*models.APIKey, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked string
	err = tx.GetContext(ctx, &locked, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account %s not found", accountID)
	}
	if err != nil {
		return nil, err
	}

	var current models.APIKey
	err = tx.GetContext(ctx, &current,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE account_id = $1 AND revoked_at IS NULL`, accountID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case current.ID != expectedID:
		return &current, tx.Commit()
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE api_keys SET revoked_at = $2 WHERE id = $1`, current.ID, at,
		); err != nil {
			return nil, fmt.Errorf("failed to revoke api key: %w", err)
		}
	}

	if err := insertAPIKey(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// TouchKey records when a key was last used.
func (r *AccountRepository) TouchKey(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, keyID, at)
	return err
}

func insertAPIKey(ctx context.Context, tx *sqlx.Tx, key *models.APIKey) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, key_sealed, display_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.AccountID, key.KeyHash, key.KeySealed, key.DisplayPrefix, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
