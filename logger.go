package rowstore

import (
	"github.com/alexhholmes/rowstore/internal/base"
)

// Logger interface matches the implementation of slog.
// See the logger package for adapter implementations for common logger
// libraries.
type Logger = base.Logger

// DiscardLogger is the default logger that compiles to a no-op.
type DiscardLogger = base.DiscardLogger
