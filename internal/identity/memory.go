package identity

import (
	"context"
	"sync"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// MemoryRepository keeps accounts and keys in maps. It is the default backend
// when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account // by id
	byEmail  map[string]string          // normalized email -> account id
	keys     map[string]*models.APIKey  // by key hash
	keyIDs   map[string]string          // key id -> key hash
	active   map[string]string          // account id -> active key hash
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]*models.Account),
		byEmail:  make(map[string]string),
		keys:     make(map[string]*models.APIKey),
		keyIDs:   make(map[string]string),
		active:   make(map[string]string),
	}
}

func (r *MemoryRepository) CreateAccount(_ context.Context, account *models.Account, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[account.Email]; taken {
		return apperr.Conflict("email %s is already registered", account.Email)
	}
	a := *account
	r.accounts[a.ID] = &a
	r.byEmail[a.Email] = a.ID
	if key != nil {
		r.storeKey(key)
	}
	return nil
}

func (r *MemoryRepository) GetAccountByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *r.accounts[id]
	return &cp, nil
}

func (r *MemoryRepository) GetActiveKey(_ context.Context, accountID string) (*models.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash, ok := r.active[accountID]
	if !ok {
		return nil, nil
	}
	cp := *r.keys[hash]
	return &cp, nil
}

func (r *MemoryRepository) GetKeyByHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[keyHash]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (r *MemoryRepository) ReplaceKey(_ context.Context, accountID string, next *models.APIKey, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[accountID]; !ok {
		return apperr.NotFound("account %s not found", accountID)
	}
	if hash, ok := r.active[accountID]; ok {
		revoked := at
		r.keys[hash].RevokedAt = &revoked
		delete(r.active, accountID)
	}
	if next != nil {
		r.storeKey(next)
	}
	return nil
}

func (r *MemoryRepository) SwapKey(_ context.Context, accountID, expectedID string, next *models.APIKey, at time.Time) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[accountID]; !ok {
		return nil, apperr.NotFound("account %s not found", accountID)
	}
	if hash, ok := r.active[accountID]; ok {
		current := r.keys[hash]
		if current.ID != expectedID {
			cp := *current
			return &cp, nil
		}
		revoked := at
		current.RevokedAt = &revoked
		delete(r.active, accountID)
	}
	r.storeKey(next)
	cp := *next
	return &cp, nil
}

func (r *MemoryRepository) TouchKey(_ context.Context, keyID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hash, ok := r.keyIDs[keyID]; ok {
		used := at
		r.keys[hash].LastUsedAt = &used
	}
	return nil
}

// storeKey must be called with mu held.
func (r *MemoryRepository) storeKey(key *models.APIKey) {
	k := *key
	r.keys[k.KeyHash] = &k
	r.keyIDs[k.ID] = k.KeyHash
	r.active[k.AccountID] = k.KeyHash
}
