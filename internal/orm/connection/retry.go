package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries is the default number of retry attempts for deadlocks
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// ErrDeadlock is returned when a scoped unit of work keeps deadlocking.
var ErrDeadlock = errors.New("deadlock detected")

// RetryConfig configures retry behavior for WithRetry
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry runs With and retries it with exponential backoff while it fails
// with a deadlock or serialization error.
func WithRetry(ctx context.Context, db *sql.DB, config *RetryConfig, fn func(c *SQLConnection) error, opts ...Option) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := With(ctx, db, fn, opts...)
		if err == nil {
			return nil
		}
		if !IsDeadlock(err) {
			return err
		}
		lastErr = err

		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: failed after %d retries: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// IsDeadlock reports whether err looks like a deadlock or serialization
// failure on any of the supported databases.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeadlock) {
		return true
	}

	msg := strings.ToLower(err.Error())
	// PostgreSQL 40P01 / 40001, MySQL 1213, SQL Server 1205.
	for _, code := range []string{"40p01", "40001", "error 1213", "error 1205"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	for _, s := range []string{
		"deadlock detected",
		"deadlock found",
		"was deadlocked",
		"lock wait timeout exceeded",
		"could not serialize access",
		"database is locked",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
