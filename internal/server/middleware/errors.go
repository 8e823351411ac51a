package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/verifarm/internal/errors"
	"github.com/3leaps/verifarm/internal/observability"
)

// Recovery keeps a panicking status handler from taking the batch down with
// it. The panic is logged and answered with a 500 INTERNAL_ERROR body that
// carries the request path and id.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			reqID := RequestIDFromRequest(r)
			observability.CLILogger.Error("Status handler panicked",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", reqID),
				zap.ByteString("stack", debug.Stack()),
			)
			writeEnvelope(w, panicEnvelope(r, reqID, rec), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func panicEnvelope(r *http.Request, reqID string, rec any) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
	if withPath, err := envelope.WithContext(map[string]interface{}{"path": r.URL.Path}); err == nil {
		envelope = withPath
	}
	if reqID != "" {
		envelope = envelope.WithCorrelationID(reqID)
	}
	return envelope
}

func writeEnvelope(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	apperrors.WriteJSON(w, status, apperrors.HTTPErrorResponse{Error: apperrors.HTTPError{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   envelope.Context,
		RequestID: envelope.CorrelationID,
	}})
}
