package oauth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rlehmann/billsync/pkg/calendar"
)

// Encryption parameters for credential bundles at rest.
const (
	keyLength     = 32 // AES-256
	saltLength    = 16
	ivLength      = aes.BlockSize
	kdfIterations = 100000
)

// CredentialStorage persists OAuth token bundles on disk, AES-256-CBC
// encrypted, one file per (provider, user). The encryption key is derived
// with PBKDF2 from either a user password (with a persisted random salt) or
// the machine identity (with a MAC-derived salt), and cached in memory for
// the storage's lifetime. The key is never written to disk.
type CredentialStorage struct {
	dir string

	mu  sync.Mutex
	key []byte
}

// NewCredentialStorage creates the storage rooted at dir, creating the
// directory if needed.
func NewCredentialStorage(dir string) (*CredentialStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return &CredentialStorage{dir: dir}, nil
}

func (s *CredentialStorage) deriveKey(password string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		return s.key, nil
	}

	var secret string
	var salt []byte
	if password != "" {
		saltPath := filepath.Join(s.dir, "salt.bin")
		existing, err := os.ReadFile(saltPath)
		switch {
		case err == nil && len(existing) == saltLength:
			salt = existing
		case err == nil:
			// Regenerating the salt would silently orphan every bundle
			// encrypted with the old one.
			return nil, fmt.Errorf("salt file %s is corrupt (%d bytes, want %d)", saltPath, len(existing), saltLength)
		case os.IsNotExist(err):
			salt = make([]byte, saltLength)
			if _, err := rand.Read(salt); err != nil {
				return nil, fmt.Errorf("failed to generate salt: %w", err)
			}
			if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
				return nil, fmt.Errorf("failed to persist salt: %w", err)
			}
		default:
			return nil, fmt.Errorf("failed to read salt: %w", err)
		}
		secret = password
	} else {
		secret = machineIdentity()
		salt = machineSalt()
	}

	s.key = pbkdf2.Key([]byte(secret), salt, kdfIterations, keyLength, sha256.New)
	return s.key, nil
}

// Encrypt serializes v as JSON and encrypts it. The returned blob is the IV
// followed by the ciphertext, with a fresh random IV per call.
func (s *CredentialStorage) Encrypt(v any, password string) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	key, err := s.deriveKey(password)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return append(iv, ciphertext...), nil
}

// Decrypt reverses Encrypt into v. A blob that cannot be decrypted with the
// derived key (tampering, foreign machine, wrong password) yields an
// *calendar.AuthError.
func (s *CredentialStorage) Decrypt(data []byte, v any, password string) error {
	if len(data) < ivLength || (len(data)-ivLength)%aes.BlockSize != 0 {
		return calendar.NewAuthError("failed to decrypt credentials: malformed ciphertext")
	}

	key, err := s.deriveKey(password)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	iv, ciphertext := data[:ivLength], data[ivLength:]
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return calendar.NewAuthError("failed to decrypt credentials: " + err.Error())
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return calendar.NewAuthError("failed to decrypt credentials: " + err.Error())
	}
	return nil
}

// Store encrypts and writes the bundle. It returns false instead of an error
// on failure: storage problems must not crash the sync path.
func (s *CredentialStorage) Store(provider, user string, creds *Credentials, password string) bool {
	data, err := s.Encrypt(creds, password)
	if err != nil {
		log.Printf("oauth: failed to encrypt credentials for %s/%s: %v", provider, user, err)
		return false
	}

	path := filepath.Join(s.dir, credentialFilename(provider, user))
	if err := atomicWrite(path, data); err != nil {
		log.Printf("oauth: failed to store credentials for %s/%s: %v", provider, user, err)
		return false
	}
	return true
}

// Retrieve loads and decrypts a bundle. It returns (nil, nil) when no bundle
// exists; callers must treat that as "not authenticated". A bundle that
// exists but cannot be decrypted returns an *calendar.AuthError.
func (s *CredentialStorage) Retrieve(provider, user, password string) (*Credentials, error) {
	path := filepath.Join(s.dir, credentialFilename(provider, user))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		log.Printf("oauth: failed to read credentials for %s/%s: %v", provider, user, err)
		return nil, nil
	}

	var creds Credentials
	if err := s.Decrypt(data, &creds, password); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Delete removes a stored bundle. Idempotent: deleting a bundle that never
// existed still succeeds.
func (s *CredentialStorage) Delete(provider, user string) bool {
	path := filepath.Join(s.dir, credentialFilename(provider, user))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("oauth: failed to delete credentials for %s/%s: %v", provider, user, err)
		return false
	}
	return true
}

// ListProviders returns the provider IDs that have stored bundles.
func (s *CredentialStorage) ListProviders() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var providers []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".enc") {
			continue
		}
		provider, _, ok := strings.Cut(name, "_")
		if !ok || seen[provider] {
			continue
		}
		seen[provider] = true
		providers = append(providers, provider)
	}
	return providers
}

// ListUsers returns the user IDs with stored bundles for a provider.
func (s *CredentialStorage) ListUsers(provider string) []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	prefix := provider + "_"
	var users []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".enc") {
			continue
		}
		encoded := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".enc")
		decoded, err := base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		users = append(users, string(decoded))
	}
	return users
}

// credentialFilename builds the on-disk name. The user ID is base64url
// encoded so arbitrary email addresses are safe filename components.
func credentialFilename(provider, user string) string {
	return fmt.Sprintf("%s_%s.enc", provider, base64.URLEncoding.EncodeToString([]byte(user)))
}

// atomicWrite writes via a temp file and rename so concurrent refreshes
// racing to persist cannot leave a torn file behind.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".creds-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
