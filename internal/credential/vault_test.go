package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestVault(t *testing.T, refresher Refresher) (*Vault, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&credentialRow{}))

	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	v := NewVault(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Cfg:       config.Config{CredentialSecret: "test-secret"},
		Clock:     fc,
		Refresher: refresher,
	})
	return v, db, fc
}

func TestVault_PutRoundTrip(t *testing.T) {
	v, db, fc := newTestVault(t, nil)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	assert.NoError(t, v.Put(ctx, userID, Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    fc.Now().Add(time.Hour),
	}))

	got, err := v.AccessToken(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, "access-1", got)

	// The token never sits in the database in the clear.
	var row credentialRow
	assert.NoError(t, db.First(&row, "user_id = ?", userID).Error)
	assert.NotContains(t, string(row.Ciphertext), "access-1")
	assert.NotContains(t, string(row.Ciphertext), "refresh-1")

	// Replacing overwrites in place.
	assert.NoError(t, v.Put(ctx, userID, Token{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    fc.Now().Add(time.Hour),
	}))
	got, err = v.AccessToken(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, "access-2", got)
}

func TestVault_RefreshesExpiredToken(t *testing.T) {
	refreshed := false
	var v *Vault
	var fc *clock.FakeClock
	v, _, fc = newTestVault(t, RefresherFunc(func(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
		refreshed = true
		assert.Equal(t, "refresh-1", refreshToken)
		return "access-new", "refresh-new", fc.Now().Add(2 * time.Hour), nil
	}))
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	assert.NoError(t, v.Put(ctx, userID, Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    fc.Now().Add(time.Hour),
	}))

	// Within the margin nothing is refreshed.
	got, err := v.AccessToken(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, "access-1", got)
	assert.False(t, refreshed)

	fc.Advance(time.Hour)
	got, err = v.AccessToken(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, "access-new", got)
	assert.True(t, refreshed)

	// The refreshed credential was persisted.
	refreshed = false
	got, err = v.AccessToken(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, "access-new", got)
	assert.False(t, refreshed)
}

func TestVault_ExpiredWithoutRefresherNeedsReconnect(t *testing.T) {
	v, _, fc := newTestVault(t, nil)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	assert.NoError(t, v.Put(ctx, userID, Token{
		AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: fc.Now().Add(time.Minute),
	}))
	fc.Advance(time.Hour)

	_, err := v.AccessToken(ctx, userID)
	assert.ErrorIs(t, err, ErrReconnectRequired)
}

func TestVault_FailedRefreshNeedsReconnect(t *testing.T) {
	v, _, fc := newTestVault(t, RefresherFunc(func(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
		return "", "", time.Time{}, errors.New("marketplace says no")
	}))
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	assert.NoError(t, v.Put(ctx, userID, Token{
		AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: fc.Now().Add(time.Minute),
	}))
	fc.Advance(time.Hour)

	_, err := v.AccessToken(ctx, userID)
	assert.ErrorIs(t, err, ErrReconnectRequired)
}

func TestVault_DeleteAndUsers(t *testing.T) {
	v, _, fc := newTestVault(t, nil)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	a, b := node.Generate(), node.Generate()

	_, err := v.AccessToken(ctx, a)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, v.Put(ctx, a, Token{AccessToken: "x", ExpiresAt: fc.Now().Add(time.Hour)}))
	assert.NoError(t, v.Put(ctx, b, Token{AccessToken: "y", ExpiresAt: fc.Now().Add(time.Hour)}))

	users, err := v.Users(ctx)
	assert.NoError(t, err)
	assert.Contains(t, users, a)
	assert.Contains(t, users, b)

	assert.NoError(t, v.Delete(ctx, a))
	_, err = v.AccessToken(ctx, a)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestVault_MissingSecret(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&credentialRow{}))

	fc := clock.NewFakeClock(time.Now())
	v := NewVault(Params{DB: db, Log: zap.NewNop(), Cfg: config.Config{}, Clock: fc})

	node, _ := snowflake.NewNode(1)
	err = v.Put(context.Background(), node.Generate(), Token{AccessToken: "x"})
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)
}
