// Package cachecrypt encrypts and decrypts the on-disk token cache blob.
// Symmetric key material is generated once per logical cache name and
// persisted in the OS keychain via internal/secret, so the cache stays
// readable across process restarts.
//
// Two wire formats exist, one per cache generation. The current format is
// AES-256-GCM with a detachable authentication tag, encoded as
// "hex(cipher)%hex(tag)". The legacy format is AES-256-CBC with a fixed
// key and IV, base64-encoded. A Helper is constructed for exactly one
// format; the reader never sniffs content to pick a decoding path.
package cachecrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/entra-auth-go/internal/secret"
)

const (
	// Secret store credential names are derived from the cache service name.
	ivSuffix  = "-iv"
	keySuffix = "-key"

	keySize = 32 // AES-256
	ivSize  = 16

	// tagSeparator splits ciphertext from the GCM authentication tag.
	tagSeparator = "%"
)

// ErrNotInitialized is returned from Open/Save before Init has run.
var ErrNotInitialized = errors.New("cachecrypt: helper not initialized")

// KeyPersistError reports a failure to write freshly generated key material
// to the secret store. It is fatal for the cache instance: an unpersisted
// key makes the cache permanently unreadable after restart, so callers must
// surface it rather than continue with an in-memory-only key.
type KeyPersistError struct {
	Name string
	Err  error
}

func (e *KeyPersistError) Error() string {
	return fmt.Sprintf("cachecrypt: persisting %q to secret store: %v", e.Name, e.Err)
}

func (e *KeyPersistError) Unwrap() error { return e.Err }

// Legacy cache generation used a fixed key and IV compiled into the host,
// with no authentication. Kept only so old cache files remain readable.
var (
	legacyKey = []byte("13c8e9eA-d4Ba-4f1e-8a5c-9d72Cb6fE03a")[:keySize]
	legacyIV  = []byte("a41c6fD88B2e49Ce")[:ivSize]
)

// Helper implements open/save for one cache generation's format.
type Helper struct {
	service string
	store   secret.Store
	logger  *slog.Logger

	legacy bool
	key    []byte
	iv     []byte
	gcm    cipher.AEAD
}

// New returns a Helper for the current authenticated format. Key and IV are
// loaded from (or generated into) the secret store on Init.
func New(service string, store secret.Store, logger *slog.Logger) *Helper {
	return &Helper{service: service, store: store, logger: logger}
}

// NewLegacy returns a Helper for the legacy fixed-key format. It needs no
// secret store and Init never generates anything.
func NewLegacy(service string, logger *slog.Logger) *Helper {
	return &Helper{service: service, logger: logger, legacy: true}
}

// Init loads the key and IV for this cache name from the secret store,
// generating and persisting them on first use. A persist failure is
// returned as *KeyPersistError and must be treated as fatal for the cache.
func (h *Helper) Init() error {
	if h.legacy {
		h.key = legacyKey
		h.iv = legacyIV

		return nil
	}

	key, err := h.loadOrCreate(h.service+keySuffix, keySize)
	if err != nil {
		return err
	}

	iv, err := h.loadOrCreate(h.service+ivSuffix, ivSize)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("cachecrypt: creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return fmt.Errorf("cachecrypt: creating GCM: %w", err)
	}

	h.key = key
	h.iv = iv
	h.gcm = gcm

	h.logger.Debug("cache encryption initialized", slog.String("service", h.service))

	return nil
}

// loadOrCreate reads hex-encoded key material from the secret store, or
// generates size random bytes and persists them on first use.
func (h *Helper) loadOrCreate(name string, size int) ([]byte, error) {
	stored, err := h.store.Read(name)
	if err == nil {
		raw, decErr := hex.DecodeString(stored)
		if decErr == nil && len(raw) == size {
			return raw, nil
		}

		// Unusable stored material: regenerate below. The old cache file
		// becomes unreadable, which the file cache self-heals from.
		h.logger.Warn("stored key material unusable, regenerating",
			slog.String("name", name),
		)
	} else if !errors.Is(err, secret.ErrNotFound) {
		return nil, fmt.Errorf("cachecrypt: reading %q: %w", name, err)
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("cachecrypt: generating key material: %w", err)
	}

	if err := h.store.Write(name, hex.EncodeToString(raw)); err != nil {
		return nil, &KeyPersistError{Name: name, Err: err}
	}

	h.logger.Info("generated new cache encryption material", slog.String("name", name))

	return raw, nil
}

// Save encrypts a plaintext cache blob into this generation's wire format.
func (h *Helper) Save(plain []byte) ([]byte, error) {
	if h.key == nil {
		return nil, ErrNotInitialized
	}

	if h.legacy {
		return h.legacySave(plain)
	}

	sealed := h.gcm.Seal(nil, h.iv, plain, nil)
	tagStart := len(sealed) - h.gcm.Overhead()
	body, tag := sealed[:tagStart], sealed[tagStart:]

	out := hex.EncodeToString(body) + tagSeparator + hex.EncodeToString(tag)

	return []byte(out), nil
}

// Open decrypts a cache blob produced by Save for the same generation.
func (h *Helper) Open(data []byte) ([]byte, error) {
	if h.key == nil {
		return nil, ErrNotInitialized
	}

	if h.legacy {
		return h.legacyOpen(data)
	}

	bodyHex, tagHex, found := strings.Cut(string(data), tagSeparator)
	if !found {
		return nil, errors.New("cachecrypt: missing authentication tag separator")
	}

	body, err := hex.DecodeString(bodyHex)
	if err != nil {
		return nil, fmt.Errorf("cachecrypt: decoding ciphertext: %w", err)
	}

	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return nil, fmt.Errorf("cachecrypt: decoding tag: %w", err)
	}

	plain, err := h.gcm.Open(nil, h.iv, append(body, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("cachecrypt: decrypting cache: %w", err)
	}

	return plain, nil
}

// ClearKeys deletes this cache name's key material from the secret store.
// The next Init generates fresh keys, orphaning any existing cache file.
func (h *Helper) ClearKeys() error {
	if h.legacy {
		return nil
	}

	if err := h.store.Delete(h.service + keySuffix); err != nil {
		return err
	}

	if err := h.store.Delete(h.service + ivSuffix); err != nil {
		return err
	}

	h.key = nil
	h.iv = nil
	h.gcm = nil

	return nil
}

func (h *Helper) legacySave(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(h.key)
	if err != nil {
		return nil, fmt.Errorf("cachecrypt: creating legacy cipher: %w", err)
	}

	padded := pkcs7Pad(plain, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, h.iv).CryptBlocks(out, padded)

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(out)))
	base64.StdEncoding.Encode(encoded, out)

	return encoded, nil
}

func (h *Helper) legacyOpen(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("cachecrypt: decoding legacy cache: %w", err)
	}

	block, err := aes.NewCipher(h.key)
	if err != nil {
		return nil, fmt.Errorf("cachecrypt: creating legacy cipher: %w", err)
	}

	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return nil, errors.New("cachecrypt: legacy ciphertext not block-aligned")
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, h.iv).CryptBlocks(plain, raw)

	return pkcs7Unpad(plain, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize

	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cachecrypt: empty plaintext")
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errors.New("cachecrypt: invalid padding")
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("cachecrypt: invalid padding")
		}
	}

	return data[:len(data)-padding], nil
}
