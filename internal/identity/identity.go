// Package identity owns accounts and their API keys: registration, password
// login that hands back the account's stable key, and per-request key
// authentication.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/auth"
	"github.com/PoyrazK/Mini-AWS/internal/crypto"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/events"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// touchInterval throttles last-used bookkeeping so authentication stays a read.
const touchInterval = time.Minute

// Repository persists accounts and keys. Lookups return (nil, nil) when the
// record does not exist. CreateAccount must fail with apperr.ErrConflict for a
// duplicate email.
type Repository interface {
	CreateAccount(ctx context.Context, account *models.Account, key *models.APIKey) error
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetActiveKey(ctx context.Context, accountID string) (*models.APIKey, error)
	GetKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	// ReplaceKey revokes the account's active key, if any, and stores next.
	// A nil next only revokes.
	ReplaceKey(ctx context.Context, accountID string, next *models.APIKey, at time.Time) error
	// SwapKey stores next as the active key when the active key is absent or
	// still has id expectedID, revoking the latter. Otherwise nothing changes.
	// It returns the active key after the call.
	SwapKey(ctx context.Context, accountID, expectedID string, next *models.APIKey, at time.Time) (*models.APIKey, error)
	TouchKey(ctx context.Context, keyID string, at time.Time) error
}

// Session is what register and login hand back to the caller.
type Session struct {
	Account *models.Account `json:"account"`
	APIKey  string          `json:"api_key"`
}

// Options configures a Service.
type Options struct {
	KeyPrefix  string
	BcryptCost int
}

// Service implements the identity operations.
type Service struct {
	repo   Repository
	sealer *crypto.Sealer
	events events.Publisher
	opts   Options
	now    func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository, sealer *crypto.Sealer, pub events.Publisher, opts Options) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Service{repo: repo, sealer: sealer, events: pub, opts: opts, now: time.Now}
}

// Register creates an account and issues its API key.
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = models.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperr.Validation("password is required")
	}
	if name == "" {
		return nil, apperr.Validation("name is required")
	}

	hash, err := auth.HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	key, plaintext, err := s.issueKey(account.ID, now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateAccount(ctx, account, key); err != nil {
		return nil, err
	}

	slog.Info("account registered", "account_id", account.ID)
	s.events.Publish(events.New(account.ID, models.EventAccountRegistered, "account", account.ID,
		fmt.Sprintf("account %s registered", account.Email)))
	return &Session{Account: account, APIKey: plaintext}, nil
}

// Login verifies the password and returns the account's current key. If the
// key was revoked a fresh one is issued.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	account, err := s.repo.GetAccountByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if account == nil || !auth.CheckPassword(account.PasswordHash, password) {
		telemetry.AuthFailuresTotal.WithLabelValues("bad_password").Inc()
		return nil, apperr.Unauthorized("invalid email or password")
	}

	key, err := s.repo.GetActiveKey(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	var stale string
	if key != nil {
		plaintext, err := s.sealer.Open(key.KeySealed)
		if err == nil && plaintext != "" {
			return &Session{Account: account, APIKey: plaintext}, nil
		}
		// The sealing key changed since the key was issued; the stored key can
		// no longer be handed out, so replace it.
		slog.Warn("stored api key cannot be unsealed, issuing a new one", "account_id", account.ID, "error", err)
		stale = key.ID
	}

	now := s.now().UTC()
	next, plaintext, err := s.issueKey(account.ID, now)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.SwapKey(ctx, account.ID, stale, next, now)
	if err != nil {
		return nil, err
	}
	if active.ID != next.ID {
		// A concurrent login issued the replacement first; hand out that one.
		plaintext, err = s.sealer.Open(active.KeySealed)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal api key: %w", err)
		}
	}
	return &Session{Account: account, APIKey: plaintext}, nil
}

// Authenticate maps an API key to its account.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Account, error) {
	if apiKey == "" {
		telemetry.AuthFailuresTotal.WithLabelValues("missing_key").Inc()
		return nil, apperr.Unauthorized("missing API key")
	}
	key, err := s.repo.GetKeyByHash(ctx, auth.DigestAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if !key.IsActive() {
		telemetry.AuthFailuresTotal.WithLabelValues("invalid_key").Inc()
		return nil, apperr.Unauthorized("invalid API key")
	}

	account, err := s.repo.GetAccountByID(ctx, key.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		telemetry.AuthFailuresTotal.WithLabelValues("invalid_key").Inc()
		return nil, apperr.Unauthorized("invalid API key")
	}

	now := s.now()
	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) > touchInterval {
		if err := s.repo.TouchKey(ctx, key.ID, now); err != nil {
			slog.Warn("failed to record api key usage", "account_id", account.ID, "error", err)
		}
	}
	return account, nil
}

// Account returns the account with the given id.
func (s *Service) Account(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.repo.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperr.NotFound("account %s not found", id)
	}
	return account, nil
}

// RotateKey revokes the current key and returns a new one.
func (s *Service) RotateKey(ctx context.Context, accountID string) (string, error) {
	plaintext, err := s.replaceKey(ctx, accountID)
	if err != nil {
		return "", err
	}
	slog.Info("api key rotated", "account_id", accountID)
	s.events.Publish(events.New(accountID, models.EventAPIKeyRotated, "account", accountID, "api key rotated"))
	return plaintext, nil
}

// RevokeKey revokes the current key without issuing a replacement.
func (s *Service) RevokeKey(ctx context.Context, accountID string) error {
	if err := s.repo.ReplaceKey(ctx, accountID, nil, s.now().UTC()); err != nil {
		return err
	}
	slog.Info("api key revoked", "account_id", accountID)
	s.events.Publish(events.New(accountID, models.EventAPIKeyRevoked, "account", accountID, "api key revoked"))
	return nil
}

func (s *Service) replaceKey(ctx context.Context, accountID string) (string, error) {
	now := s.now().UTC()
	key, plaintext, err := s.issueKey(accountID, now)
	if err != nil {
		return "", err
	}
	if err := s.repo.ReplaceKey(ctx, accountID, key, now); err != nil {
		return "", err
	}
	return plaintext, nil
}

func (s *Service) issueKey(accountID string, now time.Time) (*models.APIKey, string, error) {
	plaintext, digest, display, err := auth.GenerateAPIKey(s.opts.KeyPrefix)
	if err != nil {
		return nil, "", err
	}
	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("failed to seal api key: %w", err)
	}
	return &models.APIKey{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		KeyHash:       digest,
		KeySealed:     sealed,
		DisplayPrefix: display,
		CreatedAt:     now,
	}, plaintext, nil
}

func validateEmail(email string) error {
	if email == "" {
		return apperr.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return apperr.Validation("invalid email address %q", email)
	}
	return nil
}
