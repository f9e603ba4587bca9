package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/server/middleware"
)

// Envelope codes used by the sink and the CLI. Delivery failures use their
// core.ErrorKind as the code.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeConfigInvalid      = "CONFIG_INVALID"
)

var statusByCode = map[string]int{
	CodeInvalidInput:                     http.StatusBadRequest,
	"VALIDATION_FAILED":                  http.StatusBadRequest,
	string(core.KindPayloadConstruction): http.StatusBadRequest,
	CodeUnauthorized:                     http.StatusUnauthorized,
	CodeNotFound:                         http.StatusNotFound,
	CodeMethodNotAllowed:                 http.StatusMethodNotAllowed,
	CodePayloadTooLarge:                  http.StatusRequestEntityTooLarge,
	string(core.KindStoredForRetry):      http.StatusAccepted,
	string(core.KindTransferFailed):      http.StatusBadGateway,
	string(core.KindTransferAndStorage):  http.StatusBadGateway,
	string(core.KindOfflineStorage):      http.StatusServiceUnavailable,
	CodeServiceUnavailable:               http.StatusServiceUnavailable,
}

// New returns an envelope with code and message.
func New(code, message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(code, message)
}

// Wrap returns an envelope for err, correlated with the request in ctx.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := correlationID(ctx)
	envelope := New(code, message).WithCorrelationID(id).WithTraceID(id)
	return withContext(envelope, map[string]interface{}{"wrapped_error": errorText(err)})
}

// WrapInternal wraps err as INTERNAL_ERROR.
func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeInternal, err, message)
}

// WrapConfigInvalid wraps err as CONFIG_INVALID.
func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeConfigInvalid, err, message)
}

// FromDelivery converts a delivery failure into an envelope whose code is the
// failure kind. It returns nil when err carries no delivery kind.
func FromDelivery(ctx context.Context, err error) *errors.ErrorEnvelope {
	var de *core.DeliveryError
	if !stderrors.As(err, &de) {
		return nil
	}

	envelope := New(string(de.Kind), de.Error()).WithCorrelationID(correlationID(ctx))

	severity := errors.SeverityHigh
	if de.Kind == core.KindStoredForRetry {
		// The report is on disk; only its delivery is late.
		severity = errors.SeverityMedium
	}
	if updated, err := envelope.WithSeverity(severity); err == nil {
		envelope = updated
	}

	fields := map[string]interface{}{}
	if de.Op != "" {
		fields["operation"] = de.Op
	}
	if de.ReportID != "" {
		fields["report_id"] = de.ReportID
	}
	if de.Err != nil {
		fields["wrapped_error"] = de.Err.Error()
	}
	return withContext(envelope, fields)
}

// EnsureEnvelope turns any error into an envelope. Delivery failures keep
// their kind; everything else becomes INTERNAL_ERROR.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		envelope, _ := New(CodeInternal, "unexpected nil error").WithSeverity(errors.SeverityCritical)
		return envelope
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}
	if envelope := FromDelivery(context.Background(), err); envelope != nil {
		return envelope
	}

	envelope = withContext(New(CodeInternal, "unexpected error"), map[string]interface{}{"wrapped_error": err.Error()})
	if updated, sevErr := envelope.WithSeverity(errors.SeverityHigh); sevErr == nil {
		envelope = updated
	}
	return envelope
}

// HTTPStatusFromEnvelope returns the response status for an envelope code.
// Unknown codes are 500.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[envelope.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func correlationID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func withContext(envelope *errors.ErrorEnvelope, fields map[string]interface{}) *errors.ErrorEnvelope {
	if len(fields) == 0 {
		return envelope
	}
	if updated, err := envelope.WithContext(fields); err == nil {
		return updated
	}
	return envelope
}
