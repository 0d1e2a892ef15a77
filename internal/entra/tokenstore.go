package entra

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tonimelisma/entra-auth-go/internal/cache"
)

// Composite key segments. Every credential record is keyed by the owning
// account, the credential kind, the resource kind, and the tenant, so one
// account holds independent entries per (resource, tenant) scope.
const (
	segmentAccess    = "access"
	segmentRefresh   = "refresh"
	segmentExpiresOn = "expiresOn"
)

func accessKey(accountID, resourceKind, tenantID string) string {
	return fmt.Sprintf("%s_%s_%s_%s", accountID, segmentAccess, resourceKind, tenantID)
}

func refreshKey(accountID, resourceKind, tenantID string) string {
	return fmt.Sprintf("%s_%s_%s_%s", accountID, segmentRefresh, resourceKind, tenantID)
}

func expiryKey(accountID, resourceKind, tenantID string) string {
	return fmt.Sprintf("%s_%s_%s_%s", accountID, segmentExpiresOn, resourceKind, tenantID)
}

// StoredEntry is one complete credential set for an account at a
// (resource, tenant) scope: the access token, the refresh token when the
// grant returned one, the expiry, and the provider's token type.
type StoredEntry struct {
	AccessToken  AccessToken
	RefreshToken *RefreshToken
	ExpiresOn    time.Time
	TokenType    string
}

// storedAccess is the persisted shape of the access record. The token
// type rides along so cache hits round-trip the provider's value; records
// written before it existed decode with an empty type.
type storedAccess struct {
	AccessToken
	TokenType string `json:"tokenType,omitempty"`
}

// Expired reports whether the entry is past its expiry with the given
// tolerance. A missing expiry counts as expired.
func (e *StoredEntry) Expired(tolerance time.Duration) bool {
	if e.ExpiresOn.IsZero() {
		return true
	}

	return time.Now().Add(tolerance).After(e.ExpiresOn)
}

// TokenStore persists credential sets in the encrypted file cache under
// composite keys, and keeps an in-memory expiry index alongside. The
// index is an optimization only: the persisted expiresOn record is the
// authority, so a cold index never produces a wrong answer.
type TokenStore struct {
	cache *cache.FileCache
	index *cache.ExpiryIndex
}

// NewTokenStore wraps an initialized cache.
func NewTokenStore(c *cache.FileCache) *TokenStore {
	return &TokenStore{cache: c, index: cache.NewExpiryIndex()}
}

// SetEntry writes the access token, refresh token, and expiry for one
// scope in a single cache transaction, so a crash can never leave a
// partial credential set behind.
func (s *TokenStore) SetEntry(accountID, resourceKind, tenantID string, entry StoredEntry) error {
	accessJSON, err := json.Marshal(storedAccess{AccessToken: entry.AccessToken, TokenType: entry.TokenType})
	if err != nil {
		return fmt.Errorf("entra: encoding access token: %w", err)
	}

	records := []cache.Entry{
		{Key: accessKey(accountID, resourceKind, tenantID), Value: string(accessJSON)},
		{Key: expiryKey(accountID, resourceKind, tenantID), Value: strconv.FormatInt(entry.ExpiresOn.Unix(), 10)},
	}

	if entry.RefreshToken != nil {
		refreshJSON, err := json.Marshal(entry.RefreshToken)
		if err != nil {
			return fmt.Errorf("entra: encoding refresh token: %w", err)
		}

		records = append(records, cache.Entry{
			Key:   refreshKey(accountID, resourceKind, tenantID),
			Value: string(refreshJSON),
		})
	}

	if err := s.cache.SetMany(records); err != nil {
		return fmt.Errorf("entra: storing credentials: %w", err)
	}

	s.index.Set(expiryKey(accountID, resourceKind, tenantID), entry.ExpiresOn)

	return nil
}

// GetEntry reads the credential set for one scope. Returns nil without
// error when no access token is stored for it.
func (s *TokenStore) GetEntry(accountID, resourceKind, tenantID string) (*StoredEntry, error) {
	raw, ok := s.cache.Get(accessKey(accountID, resourceKind, tenantID))
	if !ok {
		return nil, nil
	}

	var access storedAccess
	if err := json.Unmarshal([]byte(raw), &access); err != nil {
		return nil, fmt.Errorf("entra: decoding stored access token: %w", err)
	}

	entry := StoredEntry{AccessToken: access.AccessToken, TokenType: access.TokenType}

	if rawRefresh, ok := s.cache.Get(refreshKey(accountID, resourceKind, tenantID)); ok {
		var rt RefreshToken
		if err := json.Unmarshal([]byte(rawRefresh), &rt); err != nil {
			return nil, fmt.Errorf("entra: decoding stored refresh token: %w", err)
		}

		entry.RefreshToken = &rt
	}

	key := expiryKey(accountID, resourceKind, tenantID)
	if expiresOn, ok := s.index.Get(key); ok {
		entry.ExpiresOn = expiresOn

		return &entry, nil
	}

	if rawExpiry, ok := s.cache.Get(key); ok {
		epoch, err := strconv.ParseInt(rawExpiry, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entra: decoding stored expiry: %w", err)
		}

		entry.ExpiresOn = time.Unix(epoch, 0)
		s.index.Set(key, entry.ExpiresOn)
	}

	return &entry, nil
}

// ClearAccount removes every credential record belonging to the account,
// across all resources and tenants.
func (s *TokenStore) ClearAccount(accountID string) error {
	prefix := accountID + "_"

	if err := s.cache.DeleteByPrefix(prefix); err != nil {
		return fmt.Errorf("entra: clearing account credentials: %w", err)
	}

	s.index.DeleteByPrefix(prefix)

	return nil
}
