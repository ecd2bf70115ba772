package patchbay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shaban/patchbay/engine"
)

// ErrorHandler receives every failed engine operation.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs errors at warn level.
type DefaultErrorHandler struct {
	Logger *zap.Logger
}

// HandleError implements ErrorHandler.
func (h *DefaultErrorHandler) HandleError(err error) {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("engine error", zap.Error(err), zap.String("kind", errorKind(err)))
}

// LoggingErrorHandler wraps another handler and logs errors first.
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler.
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{
		underlying: underlying,
		logger:     logger,
	}
}

// HandleError implements ErrorHandler.
func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error. Useful in development.
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler by panicking.
func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("engine error: %v", err))
}

// errorKind names the engine error kind of err for logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrBackendRejected):
		return "backend_rejected"
	case errors.Is(err, engine.ErrNotReady):
		return "not_ready"
	case errors.Is(err, engine.ErrWrongMode):
		return "wrong_mode"
	}
	return "other"
}

// lastErrorText is the message recorded as the engine's last error.
func lastErrorText(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
