package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/ports"
)

// EnvelopeKey is the only item an encrypted record exposes to the backing store.
const EnvelopeKey = "__encrypted__"

// ErrNotEncrypted is returned when a record read through the encryption middleware carries plain items.
var ErrNotEncrypted = errors.New("session items are missing the encrypted envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// payload is the plaintext sealed into the envelope. Keys keeps the item order.
type payload struct {
	Keys   []string       `json:"keys"`
	Values map[string]any `json:"values"`
}

// NewEncryptionMiddleware creates a middleware that seals session items using AES-GCM.
// The record timeout, lock and expiry stay visible to the store; the items, version tag
// included, travel as a single opaque envelope.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) CreateUninitializedItem(ctx context.Context, id string, items *domain.Items, timeout time.Duration) error {
	sealed, err := m.seal(items)
	if err != nil {
		return err
	}
	return m.next.CreateUninitializedItem(ctx, id, sealed, timeout)
}

func (m *encryptionMiddleware) GetItem(ctx context.Context, id string) (*domain.GetItemResult, error) {
	res, err := m.next.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.open(res)
}

func (m *encryptionMiddleware) GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error) {
	res, err := m.next.GetItemExclusive(ctx, id)
	if err != nil {
		return nil, err
	}
	opened, err := m.open(res)
	if err != nil {
		// Do not leave the lock behind a record nobody can read.
		_ = m.next.ReleaseItemExclusive(context.WithoutCancel(ctx), id, res.LockID)
		return nil, err
	}
	return opened, nil
}

func (m *encryptionMiddleware) SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error {
	if record == nil {
		return m.next.SetAndReleaseItemExclusive(ctx, id, record, lockID, newItem)
	}
	sealed, err := m.seal(record.Items)
	if err != nil {
		return err
	}
	return m.next.SetAndReleaseItemExclusive(ctx, id, &domain.Record{Items: sealed, Timeout: record.Timeout}, lockID, newItem)
}

func (m *encryptionMiddleware) ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error {
	return m.next.ReleaseItemExclusive(ctx, id, lockID)
}

func (m *encryptionMiddleware) RemoveItem(ctx context.Context, id string, lockID domain.LockID) error {
	return m.next.RemoveItem(ctx, id, lockID)
}

func (m *encryptionMiddleware) ResetItemTimeout(ctx context.Context, id string) error {
	return m.next.ResetItemTimeout(ctx, id)
}

func (m *encryptionMiddleware) GetRemainingTTL(ctx context.Context, id string) (time.Duration, error) {
	return m.next.GetRemainingTTL(ctx, id)
}

func (m *encryptionMiddleware) seal(items *domain.Items) (*domain.Items, error) {
	keys, values := items.Raw()
	plainText, err := json.Marshal(payload{Keys: keys, Values: values})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal items: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt items: %w", err)
	}

	envelope := domain.NewItems()
	envelope.Load([]string{EnvelopeKey}, map[string]any{
		EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	})
	return envelope, nil
}

func (m *encryptionMiddleware) open(res *domain.GetItemResult) (*domain.GetItemResult, error) {
	if res == nil || res.Record == nil {
		return res, nil
	}
	keys, values := res.Record.Items.Raw()
	if len(keys) == 0 {
		return res, nil
	}

	encryptedStr, ok := values[EnvelopeKey].(string)
	if !ok {
		return nil, ErrNotEncrypted
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	// Try Active, then Fallback
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt items: %w", err)
	}

	var p payload
	if err := json.Unmarshal(plainText, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted items: %w", err)
	}

	items := domain.NewItems()
	items.Load(p.Keys, p.Values)
	opened := *res
	opened.Record = &domain.Record{Items: items, Timeout: res.Record.Timeout}
	return &opened, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
