package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// guestIDFile is the name of the durable key holding the device's guest
// identifier, stored under the data directory.
const guestIDFile = "guest_id"

// MigrateFunc is invoked during sign-in, before the authenticated identity
// becomes visible to any other component, so in-flight guest jobs are
// reassigned while guest-scoped queries still resolve. A non-nil error is
// surfaced as a warning; it never blocks the sign-in.
type MigrateFunc func(ctx context.Context, guestID, userID string) error

// Manager resolves the current session identity. It persists a generated
// guest identifier for the lifetime of the install and swaps to an
// authenticated identity when an access token is accepted.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	guestID    string
	authed     *Identity
	signingKey []byte
	migrate    MigrateFunc
	logger     *slog.Logger
}

// NewManager loads (or generates and persists) the device guest identifier
// from dataDir and returns a Manager resolving to that guest identity.
// jwtSecret may be empty for guest-only use.
func NewManager(dataDir, jwtSecret string, logger *slog.Logger) (*Manager, error) {
	guestID, err := loadOrCreateGuestID(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize guest identity: %w", err)
	}

	return &Manager{
		guestID:    guestID,
		signingKey: []byte(jwtSecret),
		logger:     logger.With("component", "identity_manager"),
	}, nil
}

// SetMigrateFunc installs the hook run during SignIn. Typically this is
// migration.Coordinator.MigrateForSignIn.
func (m *Manager) SetMigrateFunc(fn MigrateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrate = fn
}

// Current returns the identity to attach to outgoing requests: the
// authenticated user when signed in, the stored guest identifier otherwise.
func (m *Manager) Current() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.authed != nil {
		return *m.authed
	}
	return Identity{Kind: KindGuest, GuestID: m.guestID}
}

// GuestID returns the device's durable guest identifier. It remains stable
// across sign-in and sign-out.
func (m *Manager) GuestID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guestID
}

// SignIn validates the access token and transitions the session to the
// authenticated identity. The migration hook runs before the transition is
// visible, so components still querying under the guest identity observe
// the jobs being reassigned. A failed migration is logged and reported by
// the hook itself; it does not fail the sign-in.
func (m *Manager) SignIn(ctx context.Context, accessToken string) (Identity, error) {
	userID, email, err := parseAccessToken(accessToken, m.signingKey)
	if err != nil {
		return Identity{}, err
	}

	m.mu.Lock()
	guestID := m.guestID
	migrate := m.migrate
	m.mu.Unlock()

	// Reassign guest-owned jobs before flipping identity. Ordering matters:
	// after the flip, poll and list-active calls carry the user header and
	// would not see jobs still owned by the guest identifier.
	if migrate != nil {
		if err := migrate(ctx, guestID, userID); err != nil {
			m.logger.Warn("guest job migration failed during sign-in",
				"error", err,
				"user_id", userID)
		}
	}

	authed := Identity{
		Kind:      KindAuthenticated,
		UserID:    userID,
		UserEmail: email,
	}

	m.mu.Lock()
	m.authed = &authed
	m.mu.Unlock()

	m.logger.Info("session authenticated", "user_id", userID)
	return authed, nil
}

// SignOut returns the session to the stored guest identity.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authed = nil
	m.logger.Info("session signed out, reverting to guest identity")
}

// loadOrCreateGuestID reads the persisted guest identifier, generating and
// storing a fresh random UUID on first use.
func loadOrCreateGuestID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, guestIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		// Corrupted file: fall through and regenerate.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read guest id file: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist guest id: %w", err)
	}
	return id, nil
}
