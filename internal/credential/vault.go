package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEncryptionKeyMissing = errors.New("credential_encryption_key_missing")
	ErrNotConnected         = errors.New("credential_not_connected")
	ErrReconnectRequired    = errors.New("credential_reconnect_required")
)

// refreshMargin renews tokens before the marketplace invalidates them.
const refreshMargin = 5 * time.Minute

// Token is a decrypted marketplace OAuth credential.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a new credential.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (string, string, time.Time, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

func (f RefresherFunc) RefreshToken(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	return f(ctx, refreshToken)
}

// credentialRow is the at-rest form. The ciphertext column never leaves this
// package; callers only ever see the decrypting accessor.
type credentialRow struct {
	UserID     snowflake.ID `gorm:"column:user_id;primaryKey"`
	Ciphertext []byte       `gorm:"column:ciphertext"`
	ExpiresAt  time.Time    `gorm:"column:expires_at"`
	UpdatedAt  time.Time    `gorm:"column:updated_at"`
}

func (credentialRow) TableName() string { return "marketplace_credentials" }

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type tokenPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Clock     clock.Clock
	Refresher Refresher `optional:"true"`
}

// Vault stores marketplace credentials encrypted at rest and exposes them only
// through a decrypt-on-read accessor.
type Vault struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	refresher Refresher
	encKey    []byte
}

func NewVault(p Params) *Vault {
	secret := strings.TrimSpace(p.Cfg.CredentialSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &Vault{
		db:        p.DB,
		log:       p.Log.Named("credential.vault"),
		clock:     p.Clock,
		refresher: p.Refresher,
		encKey:    key,
	}
}

var Module = fx.Module("credential", fx.Provide(NewVault))

// Put encrypts and stores the credential for a user, replacing any prior one.
func (v *Vault) Put(ctx context.Context, userID snowflake.ID, token Token) error {
	ciphertext, err := v.encrypt(tokenPayload{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}

	now := v.clock.Now()
	return v.db.WithContext(ctx).Exec(
		`INSERT INTO marketplace_credentials (user_id, ciphertext, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET ciphertext = ?, expires_at = ?, updated_at = ?`,
		userID, ciphertext, token.ExpiresAt.UTC(), now,
		ciphertext, token.ExpiresAt.UTC(), now,
	).Error
}

// AccessToken returns a live decrypted bearer token for the user, refreshing
// through the marketplace when the stored one is expired or about to expire.
func (v *Vault) AccessToken(ctx context.Context, userID snowflake.ID) (string, error) {
	row, err := v.load(ctx, userID)
	if err != nil {
		return "", err
	}

	token, err := v.decrypt(row.Ciphertext)
	if err != nil {
		return "", err
	}

	if v.clock.Now().Before(token.ExpiresAt.Add(-refreshMargin)) {
		return token.AccessToken, nil
	}

	if v.refresher == nil {
		return "", ErrReconnectRequired
	}
	access, refresh, expiresAt, err := v.refresher.RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		v.log.Warn("token refresh failed", zap.String("user_id", userID.String()), zap.Error(err))
		return "", ErrReconnectRequired
	}

	if err := v.Put(ctx, userID, Token{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}); err != nil {
		return "", err
	}
	return access, nil
}

// Users lists every connected user.
func (v *Vault) Users(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := v.db.WithContext(ctx).Raw(
		`SELECT user_id FROM marketplace_credentials ORDER BY user_id ASC`,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes the stored credential on disconnect.
func (v *Vault) Delete(ctx context.Context, userID snowflake.ID) error {
	return v.db.WithContext(ctx).Exec(
		`DELETE FROM marketplace_credentials WHERE user_id = ?`, userID,
	).Error
}

func (v *Vault) load(ctx context.Context, userID snowflake.ID) (*credentialRow, error) {
	var row credentialRow
	err := v.db.WithContext(ctx).Raw(
		`SELECT user_id, ciphertext, expires_at, updated_at
		 FROM marketplace_credentials WHERE user_id = ?`, userID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == 0 {
		return nil, ErrNotConnected
	}
	return &row, nil
}

func (v *Vault) encrypt(payload tokenPayload) ([]byte, error) {
	if len(v.encKey) == 0 {
		return nil, ErrEncryptionKeyMissing
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plain, nil)
	return json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(sealed),
	})
}

func (v *Vault) decrypt(encrypted []byte) (tokenPayload, error) {
	if len(v.encKey) == 0 {
		return tokenPayload{}, ErrEncryptionKeyMissing
	}

	var payload encryptedPayload
	if err := json.Unmarshal(encrypted, &payload); err != nil {
		return tokenPayload{}, err
	}
	if payload.Version != 1 {
		return tokenPayload{}, errors.New("unsupported credential envelope version")
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return tokenPayload{}, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return tokenPayload{}, err
	}

	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return tokenPayload{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return tokenPayload{}, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return tokenPayload{}, err
	}

	var token tokenPayload
	if err := json.Unmarshal(plain, &token); err != nil {
		return tokenPayload{}, err
	}
	return token, nil
}
