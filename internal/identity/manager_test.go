package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "thisisasecretkeythatis32charslong!!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signToken creates a signed access token for tests.
func signToken(t *testing.T, secret, userID, email string, expiresIn time.Duration) string {
	t.Helper()

	claims := tokenClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestGuestIDPersistence(t *testing.T) {
	t.Parallel()

	t.Run("generated once and reused", func(t *testing.T) {
		t.Parallel()
		dataDir := t.TempDir()

		m1, err := NewManager(dataDir, "", testLogger())
		require.NoError(t, err)
		first := m1.GuestID()

		_, err = uuid.Parse(first)
		assert.NoError(t, err, "guest id should be a valid UUID")

		m2, err := NewManager(dataDir, "", testLogger())
		require.NoError(t, err)
		assert.Equal(t, first, m2.GuestID(), "guest id should survive restarts")
	})

	t.Run("corrupted file regenerated", func(t *testing.T) {
		t.Parallel()
		dataDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, guestIDFile), []byte("not-a-uuid"), 0o600))

		m, err := NewManager(dataDir, "", testLogger())
		require.NoError(t, err)

		_, err = uuid.Parse(m.GuestID())
		assert.NoError(t, err)
	})
}

func TestApplyHeaders(t *testing.T) {
	t.Parallel()

	t.Run("guest", func(t *testing.T) {
		t.Parallel()
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/jobs/active", nil)
		Identity{Kind: KindGuest, GuestID: "guest-123"}.ApplyHeaders(req)

		assert.Equal(t, "guest-123", req.Header.Get(HeaderGuestID))
		assert.Empty(t, req.Header.Get(HeaderUserID))
	})

	t.Run("authenticated", func(t *testing.T) {
		t.Parallel()
		req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/jobs/active", nil)
		Identity{Kind: KindAuthenticated, UserID: "user-456"}.ApplyHeaders(req)

		assert.Equal(t, "user-456", req.Header.Get(HeaderUserID))
		assert.Empty(t, req.Header.Get(HeaderGuestID))
	})
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	t.Run("valid token authenticates", func(t *testing.T) {
		t.Parallel()
		m, err := NewManager(t.TempDir(), testSecret, testLogger())
		require.NoError(t, err)

		token := signToken(t, testSecret, "user-1", "user@example.com", time.Hour)
		id, err := m.SignIn(context.Background(), token)

		require.NoError(t, err)
		assert.Equal(t, KindAuthenticated, id.Kind)
		assert.Equal(t, "user-1", id.UserID)
		assert.Equal(t, "user@example.com", id.UserEmail)
		assert.Equal(t, KindAuthenticated, m.Current().Kind)
	})

	t.Run("migration runs before identity flips", func(t *testing.T) {
		t.Parallel()
		m, err := NewManager(t.TempDir(), testSecret, testLogger())
		require.NoError(t, err)
		guestID := m.GuestID()

		var sawGuestID, sawUserID string
		var kindDuringMigration Kind
		m.SetMigrateFunc(func(ctx context.Context, g, u string) error {
			sawGuestID, sawUserID = g, u
			kindDuringMigration = m.Current().Kind
			return nil
		})

		token := signToken(t, testSecret, "user-2", "", time.Hour)
		_, err = m.SignIn(context.Background(), token)
		require.NoError(t, err)

		assert.Equal(t, guestID, sawGuestID)
		assert.Equal(t, "user-2", sawUserID)
		assert.Equal(t, KindGuest, kindDuringMigration,
			"migration must observe the pre-transition guest identity")
	})

	t.Run("migration failure does not block sign-in", func(t *testing.T) {
		t.Parallel()
		m, err := NewManager(t.TempDir(), testSecret, testLogger())
		require.NoError(t, err)
		m.SetMigrateFunc(func(ctx context.Context, g, u string) error {
			return errors.New("service unavailable")
		})

		token := signToken(t, testSecret, "user-3", "", time.Hour)
		id, err := m.SignIn(context.Background(), token)

		require.NoError(t, err)
		assert.Equal(t, KindAuthenticated, id.Kind)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		t.Parallel()
		m, err := NewManager(t.TempDir(), testSecret, testLogger())
		require.NoError(t, err)

		token := signToken(t, testSecret, "user-4", "", -time.Hour)
		_, err = m.SignIn(context.Background(), token)

		assert.ErrorIs(t, err, ErrExpiredToken)
		assert.Equal(t, KindGuest, m.Current().Kind)
	})

	t.Run("wrong signature rejected", func(t *testing.T) {
		t.Parallel()
		m, err := NewManager(t.TempDir(), testSecret, testLogger())
		require.NoError(t, err)

		token := signToken(t, "adifferentsecretthatis32charslong!!!", "user-5", "", time.Hour)
		_, err = m.SignIn(context.Background(), token)

		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no secret configured", func(t *testing.T) {
		t.Parallel()
		m, err := NewManager(t.TempDir(), "", testLogger())
		require.NoError(t, err)

		token := signToken(t, testSecret, "user-6", "", time.Hour)
		_, err = m.SignIn(context.Background(), token)

		assert.ErrorIs(t, err, ErrMissingSecret)
	})
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir(), testSecret, testLogger())
	require.NoError(t, err)
	guestID := m.GuestID()

	token := signToken(t, testSecret, "user-7", "", time.Hour)
	_, err = m.SignIn(context.Background(), token)
	require.NoError(t, err)

	m.SignOut()

	current := m.Current()
	assert.Equal(t, KindGuest, current.Kind)
	assert.Equal(t, guestID, current.GuestID)
}
