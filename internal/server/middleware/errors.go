package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/observability"
)

// PanicResponder writes the response for a recovered panic. The server
// replaces it with the shared error writer; the default writes the bare
// error document.
var PanicResponder = func(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
	}})
}

// ErrorResponse is the error document written for recovered panics.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of ErrorResponse.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery turns a handler panic into a 500 INTERNAL_ERROR response.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			id := GetRequestID(r.Context())
			metrics.RecordPanic()
			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Recovered handler panic",
					zap.String("request_id", id),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.String("stack_trace", string(debug.Stack())))
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec)).WithCorrelationID(id)
			if updated, err := envelope.WithSeverity(errors.SeverityCritical); err == nil {
				envelope = updated
			}
			PanicResponder(w, r, envelope)
		}()

		next.ServeHTTP(w, r)
	})
}
