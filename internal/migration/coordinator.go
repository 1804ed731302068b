// Package migration reassigns job ownership from a guest identity to an
// authenticated user at sign-in time.
package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/events"
)

// Client is the subset of the remote client migration needs.
type Client interface {
	MigrateGuest(ctx context.Context, guestID, userID string) (int, error)
}

// Report summarizes one migration attempt.
type Report struct {
	// MigratedCount is how many records changed owner in this attempt.
	// Retries of an already-applied migration report zero; nothing is
	// double-counted.
	MigratedCount int
}

// Coordinator performs the guest-to-user migration and surfaces failures
// as non-blocking warnings through the event channel.
type Coordinator struct {
	client  Client
	emitter events.Emitter
	logger  *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(client Client, emitter events.Emitter, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		client:  client,
		emitter: emitter,
		logger:  logger.With("component", "migration_coordinator"),
	}
}

// Migrate asks the service to reassign all jobs owned by guestID to userID.
// The operation is safe to repeat: records already owned by userID are
// no-ops on the service side. Partial failure is returned to the caller,
// which may re-invoke; it is never retried automatically here.
func (c *Coordinator) Migrate(ctx context.Context, guestID, userID string) (Report, error) {
	if guestID == "" || userID == "" {
		return Report{}, fmt.Errorf("%w: both guest and user identifiers are required", domain.ErrNoIdentity)
	}

	count, err := c.client.MigrateGuest(ctx, guestID, userID)
	if err != nil {
		return Report{}, fmt.Errorf("guest migration failed: %w", err)
	}

	c.logger.Info("guest jobs migrated",
		"guest_id", guestID,
		"user_id", userID,
		"migrated_count", count)
	return Report{MigratedCount: count}, nil
}

// MigrateForSignIn adapts Migrate to the identity manager's sign-in hook.
// A failure is emitted as a migration.warning event so the UI can surface
// it without blocking the sign-in; the user stays authenticated regardless.
func (c *Coordinator) MigrateForSignIn(ctx context.Context, guestID, userID string) error {
	_, err := c.Migrate(ctx, guestID, userID)
	if err != nil {
		event := events.NewJobEvent(events.EventMigrationWarning, "", "")
		event.Reason = err.Error()
		c.emitter.Emit(ctx, event)
	}
	return err
}
