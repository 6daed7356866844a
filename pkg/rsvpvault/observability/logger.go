// Package observability provides structured logging, metrics, and tracing
// for rsvpvault.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
)

// EnrichLogger adds instance context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, handle, "register")
//	enriched.Info("doing work") // includes instance and op
func EnrichLogger(logger *slog.Logger, instance common.Address, op string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("instance", instance.Hex()),
		slog.String("op", op),
	)
}

// LogOpStart logs the start of an operation.
func LogOpStart(logger *slog.Logger, op string, actor common.Address) {
	if logger == nil {
		return
	}
	logger.Debug("operation starting",
		slog.String("op", op),
		slog.String("actor", actor.Hex()),
	)
}

// LogOpComplete logs a committed operation.
func LogOpComplete(logger *slog.Logger, op string, actor common.Address, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("operation committed",
		slog.String("op", op),
		slog.String("actor", actor.Hex()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogOpRejected logs an operation that left state untouched. Rule
// violations are routine and logged at INFO; anything else is an ERROR.
func LogOpRejected(logger *slog.Logger, op string, err error) {
	if logger == nil || err == nil {
		return
	}
	attrs := []any{
		slog.String("op", op),
		slog.String("kind", rverrors.KindOf(err).String()),
		slog.String("error", err.Error()),
	}
	if rverrors.IsRuleViolation(err) {
		logger.Info("operation rejected", attrs...)
		return
	}
	logger.Error("operation failed", attrs...)
}

// LogTransfer logs a completed value movement.
func LogTransfer(logger *slog.Logger, op string, from, to common.Address, amount uint64) {
	if logger == nil {
		return
	}
	logger.Debug("value moved",
		slog.String("op", op),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("amount", amount),
	)
}

// LogCompensation logs a state rollback after an outbound transfer failed.
func LogCompensation(logger *slog.Logger, op string, recipient common.Address, amount uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("outbound transfer failed, state restored",
		slog.String("op", op),
		slog.String("recipient", recipient.Hex()),
		slog.Uint64("amount", amount),
		slog.String("error", err.Error()),
	)
}

// LogPersistError logs a snapshot write failure.
func LogPersistError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("snapshot persist failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

// LogPublishError logs a notification that could not be delivered (non-fatal).
func LogPublishError(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("notification publish failed",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogInstanceCreated logs a new instance.
func LogInstanceCreated(logger *slog.Logger, handle, owner common.Address, deterministic bool) {
	if logger == nil {
		return
	}
	logger.Info("instance created",
		slog.String("handle", handle.Hex()),
		slog.String("owner", owner.Hex()),
		slog.Bool("deterministic", deterministic),
	)
}

// LogUpgrade logs an implementation swap.
func LogUpgrade(logger *slog.Logger, previous, current string) {
	if logger == nil {
		return
	}
	logger.Info("implementation upgraded",
		slog.String("previous", previous),
		slog.String("current", current),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
