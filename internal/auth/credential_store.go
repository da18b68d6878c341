package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	pkgauth "notebroker/pkg/auth"
	"notebroker/pkg/logging"
	pkgoauth "notebroker/pkg/oauth"
)

const (
	envelopeVersion = 1
	kdfName         = "pbkdf2-sha256"
	kdfIterations   = 100_000
	keyLen          = 32
	saltLen         = 16

	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// additionalData binds ciphertexts to this file format.
var additionalData = []byte("notebroker-credentials-v1")

// Session is the authenticated session. Only the Manager mutates it.
type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	UserID       string       `json:"user_id"`
	Email        string       `json:"email"`
	Tier         pkgauth.Tier `json:"tier"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// sessionFromTokens builds a session from an exchange result. Fields the
// server left out of a refresh response are carried over from prev.
func sessionFromTokens(ts *pkgoauth.TokenSet, prev *Session) *Session {
	s := &Session{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		UserID:       ts.User.UserID,
		Email:        ts.User.Email,
		ExpiresAt:    ts.ExpiresAt,
	}
	if ts.User.Subscription != "" {
		s.Tier = pkgauth.NormalizeTier(ts.User.Subscription)
	}
	if prev != nil {
		if s.RefreshToken == "" {
			s.RefreshToken = prev.RefreshToken
		}
		if s.UserID == "" {
			s.UserID = prev.UserID
		}
		if s.Email == "" {
			s.Email = prev.Email
		}
		if s.Tier == "" {
			s.Tier = prev.Tier
		}
	}
	if s.Tier == "" {
		s.Tier = pkgauth.TierFree
	}
	return s
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Session) valid() bool {
	return s != nil && s.AccessToken != "" && !s.ExpiresAt.IsZero()
}

// envelope is the on-disk format. Byte slices are base64 in JSON.
type envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// CredentialStore keeps one encrypted session file.
//
// Security properties:
//   - AES-256-GCM with a fresh random salt and nonce on every save
//   - the key is PBKDF2-SHA256 of an application secret; this stops casual
//     disk inspection, not an attacker who can run this binary
//   - directory 0700, file 0600
//   - writes go to a temp file that is synced and renamed into place
type CredentialStore struct {
	path   string
	secret []byte
}

// NewCredentialStore creates a store for path keyed by appSecret.
func NewCredentialStore(path, appSecret string) *CredentialStore {
	return &CredentialStore{path: path, secret: []byte(appSecret)}
}

// Path returns the credential file location.
func (c *CredentialStore) Path() string {
	return c.path
}

// Save encrypts and atomically replaces the credential file.
func (c *CredentialStore) Save(s *Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	env, err := c.seal(plaintext)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	return writeFileAtomic(c.path, data)
}

// Load returns the stored session, or nil when there is none. Any read,
// decrypt or decode failure is logged and reported as no session.
func (c *CredentialStore) Load() *Session {
	s, err := c.read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("CredentialStore", "Ignoring unreadable credential file %s: %v", c.path, err)
		}
		return nil
	}
	return s
}

// Clear removes the credential file. A missing file is not an error.
func (c *CredentialStore) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credential file: %w", err)
	}
	return nil
}

func (c *CredentialStore) read() (*Session, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, fmt.Errorf("unsupported credential format version=%d kdf=%q", env.Version, env.KDF)
	}

	plaintext, err := c.open(&env)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if !s.valid() {
		return nil, errors.New("stored session is missing its access token or expiry")
	}
	s.Tier = pkgauth.NormalizeTier(string(s.Tier))
	return &s, nil
}

func (c *CredentialStore) seal(plaintext []byte) (*envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := c.aead(salt, kdfIterations)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return &envelope{
		Version:    envelopeVersion,
		KDF:        kdfName,
		Iterations: kdfIterations,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, additionalData),
	}, nil
}

func (c *CredentialStore) open(env *envelope) ([]byte, error) {
	if len(env.Salt) != saltLen || env.Iterations <= 0 {
		return nil, errors.New("invalid key derivation parameters")
	}
	gcm, err := c.aead(env.Salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce length")
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials: %w", err)
	}
	return plaintext, nil
}

func (c *CredentialStore) aead(salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// writeFileAtomic writes data next to path and renames it into place, so a
// crash leaves either the old file or the new one.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing credential file: %w", err)
	}
	return nil
}
