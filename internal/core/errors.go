package core

import "fmt"

// ErrorKind classifies delivery failures.
type ErrorKind string

const (
	KindPayloadConstruction ErrorKind = "PAYLOAD_CONSTRUCTION_FAILED"
	KindTransferFailed      ErrorKind = "TRANSFER_FAILED"
	KindStoredForRetry      ErrorKind = "STORED_FOR_RETRY"
	KindTransferAndStorage  ErrorKind = "TRANSFER_AND_STORAGE_FAILED"
	KindOfflineStorage      ErrorKind = "OFFLINE_STORAGE_UNAVAILABLE"
	KindRateLimitState      ErrorKind = "RATE_LIMIT_STATE_WRITE_FAILED"
)

var kindText = map[ErrorKind]string{
	KindPayloadConstruction: "payload construction failed",
	KindTransferFailed:      "transfer failed",
	KindStoredForRetry:      "transferred nowhere, stored for retry",
	KindTransferAndStorage:  "transfer and storage both failed",
	KindOfflineStorage:      "offline storage unavailable",
	KindRateLimitState:      "rate limit state could not be written",
}

// Sentinels for errors.Is checks against DeliveryError kinds.
var (
	ErrPayloadConstruction = &DeliveryError{Kind: KindPayloadConstruction}
	ErrTransferFailed      = &DeliveryError{Kind: KindTransferFailed}
	ErrStoredForRetry      = &DeliveryError{Kind: KindStoredForRetry}
	ErrTransferAndStorage  = &DeliveryError{Kind: KindTransferAndStorage}
	ErrOfflineStorage      = &DeliveryError{Kind: KindOfflineStorage}
)

// DeliveryError reports a failed delivery step.
type DeliveryError struct {
	Kind     ErrorKind
	Op       string
	ReportID string
	Err      error
}

// NewDeliveryError wraps err with the given kind.
func NewDeliveryError(kind ErrorKind, op string, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Op: op, Err: err}
}

func (e *DeliveryError) Error() string {
	msg := kindText[e.Kind]
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ReportID != "" {
		msg = fmt.Sprintf("%s (report %s)", msg, e.ReportID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches any DeliveryError of the same kind.
func (e *DeliveryError) Is(target error) bool {
	t, ok := target.(*DeliveryError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
