// Package delivery decides whether a report is sent, suppressed or replaced by
// a rate limit notice, sends it, and falls back to offline storage when the
// collector cannot be reached.
package delivery

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/store"
)

// Rate limit notice content. Every substituted report shares the grouping
// hash so the collector folds them into one error.
const (
	RateLimitClass        = "RateLimit"
	RateLimitMessage      = "Rate limit reached. Notifications will be suppressed."
	RateLimitGroupingHash = "rate_limit"
)

// State is a step of a single send attempt.
type State string

const (
	StateNotConfigured State = "not_configured"
	StateEvaluating    State = "evaluating"
	StateSuppressed    State = "suppressed"
	StateSubstituted   State = "substituted"
	StateSending       State = "sending"
	StateSent          State = "sent"
	StateStoredOffline State = "stored_offline"
	StateFailed        State = "failed"
)

// Encoder serializes a report into the wire body.
type Encoder interface {
	Encode(report core.Report) ([]byte, error)
}

// Limiter is the rate limiter view the pipeline needs.
type Limiter interface {
	RegisterSend(ctx context.Context) error
	Triggered() bool
	Reached() bool
	NotificationOptions() *core.NotificationOptions
}

// ReportQueue is the offline store.
type ReportQueue interface {
	Enqueue(payload []byte) (string, error)
	RetryAll(ctx context.Context, transport core.Transport, opts store.RetryOptions) (store.RetrySummary, error)
}

// Recorder receives delivery metrics. A nil Recorder records nothing.
type Recorder interface {
	DeliveryOutcome(state State, substituted bool)
	DeliveryError(kind core.ErrorKind)
	RateLimitEvent(event string)
	OfflineRetry(summary store.RetrySummary)
}

// Result describes how a send attempt ended.
type Result struct {
	// Outcome is the terminal state: sent, suppressed, stored_offline or failed.
	Outcome State
	// Trace lists every state visited, in order.
	Trace       []State
	Substituted bool
	StoredID    string
	// LimiterErr is set when the limiter could not persist its state. The
	// decision was still made from memory.
	LimiterErr error
}

// Pipeline sends reports. Only Transport and Encoder are required.
type Pipeline struct {
	Transport core.Transport
	Limiter   Limiter
	Reports   ReportQueue
	Encoder   Encoder
	Recorder  Recorder
	Logger    *logging.Logger
}

// Send runs one delivery attempt for report. A suppressed report returns a
// nil error; a report stored offline returns core.ErrStoredForRetry.
func (p *Pipeline) Send(ctx context.Context, report core.Report) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res := Result{}

	if p == nil || p.Encoder == nil {
		return p.fail(&res, core.NewDeliveryError(core.KindPayloadConstruction, "send report", errors.New("no encoder configured")))
	}

	body, err := p.Encoder.Encode(report)
	if err != nil {
		return p.fail(&res, core.NewDeliveryError(core.KindPayloadConstruction, "send report", err))
	}

	if p.Limiter == nil {
		res.Trace = append(res.Trace, StateNotConfigured)
	} else {
		res.Trace = append(res.Trace, StateEvaluating)
		if err := p.Limiter.RegisterSend(ctx); err != nil {
			res.LimiterErr = err
			p.recordError(core.KindRateLimitState)
			p.log().Error("Failed to persist rate limit state, deciding from memory", zap.Error(err))
		}

		switch {
		case p.Limiter.Triggered():
			res.Trace = append(res.Trace, StateSubstituted)
			res.Substituted = true
			p.recordRateLimit("triggered")
			p.log().Info("Rate limit triggered, sending rate limit notice instead",
				zap.String("error_class", report.ErrorClass))

			body, err = p.Encoder.Encode(rateLimitNotice(report, p.Limiter.NotificationOptions()))
			if err != nil {
				return p.fail(&res, core.NewDeliveryError(core.KindPayloadConstruction, "send rate limit notice", err))
			}
		case p.Limiter.Reached():
			res.Trace = append(res.Trace, StateSuppressed)
			res.Outcome = StateSuppressed
			p.recordRateLimit("suppressed")
			p.log().Debug("Rate limit reached, report suppressed",
				zap.String("error_class", report.ErrorClass))
			p.recordOutcome(res)
			return res, nil
		}
	}

	return p.deliver(ctx, &res, body)
}

func (p *Pipeline) deliver(ctx context.Context, res *Result, body []byte) (Result, error) {
	res.Trace = append(res.Trace, StateSending)

	if p.Transport == nil {
		return p.fail(res, core.NewDeliveryError(core.KindTransferFailed, "send report", errors.New("no transport configured")))
	}

	postErr := p.Transport.Post(ctx, body)
	if postErr == nil {
		res.Trace = append(res.Trace, StateSent)
		res.Outcome = StateSent
		p.recordOutcome(*res)
		p.log().Debug("Report delivered", zap.Bool("substituted", res.Substituted))
		return *res, nil
	}

	p.log().Warn("Report delivery failed", zap.Error(postErr))

	if p.Reports == nil {
		return p.fail(res, core.NewDeliveryError(core.KindTransferFailed, "send report", postErr))
	}

	id, storeErr := p.Reports.Enqueue(body)
	if storeErr != nil {
		return p.fail(res, core.NewDeliveryError(core.KindTransferAndStorage, "send report", errors.Join(postErr, storeErr)))
	}

	res.Trace = append(res.Trace, StateStoredOffline)
	res.Outcome = StateStoredOffline
	res.StoredID = id
	p.recordOutcome(*res)
	p.recordError(core.KindStoredForRetry)
	p.log().Info("Report stored for retry", zap.String("report_id", id))

	return *res, &core.DeliveryError{Kind: core.KindStoredForRetry, Op: "send report", ReportID: id, Err: postErr}
}

// RetryStored re-sends every stored report through the transport. Stored
// reports are never rate limited.
func (p *Pipeline) RetryStored(ctx context.Context, opts store.RetryOptions) (store.RetrySummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil || p.Reports == nil {
		err := core.NewDeliveryError(core.KindOfflineStorage, "retry stored reports", errors.New("no storage configured"))
		p.recordError(core.KindOfflineStorage)
		return store.RetrySummary{}, err
	}

	summary, err := p.Reports.RetryAll(ctx, p.Transport, opts)
	if p.Recorder != nil {
		p.Recorder.OfflineRetry(summary)
	}
	if err != nil {
		var de *core.DeliveryError
		if errors.As(err, &de) {
			p.recordError(de.Kind)
		}
		p.log().Warn("Retry of stored reports incomplete",
			zap.Int("sent", summary.Sent),
			zap.Int("failed", summary.Failed),
			zap.Error(err))
		return summary, err
	}

	p.log().Info("Stored reports retried", zap.Int("sent", summary.Sent))
	return summary, nil
}

func rateLimitNotice(report core.Report, opts *core.NotificationOptions) core.Report {
	notice := core.Report{
		ErrorClass:   RateLimitClass,
		Message:      RateLimitMessage,
		Stacktrace:   report.Stacktrace,
		GroupingHash: RateLimitGroupingHash,
	}
	if opts != nil {
		notice.Metadata = opts.Metadata
		notice.Severity = opts.Severity
	}
	return notice
}

func (p *Pipeline) fail(res *Result, err *core.DeliveryError) (Result, error) {
	res.Trace = append(res.Trace, StateFailed)
	res.Outcome = StateFailed
	p.recordOutcome(*res)
	p.recordError(err.Kind)
	p.log().Error("Report delivery failed", zap.String("kind", string(err.Kind)), zap.Error(err))
	return *res, err
}

func (p *Pipeline) recordOutcome(res Result) {
	if p != nil && p.Recorder != nil {
		p.Recorder.DeliveryOutcome(res.Outcome, res.Substituted)
	}
}

func (p *Pipeline) recordError(kind core.ErrorKind) {
	if p != nil && p.Recorder != nil {
		p.Recorder.DeliveryError(kind)
	}
}

func (p *Pipeline) recordRateLimit(event string) {
	if p != nil && p.Recorder != nil {
		p.Recorder.RateLimitEvent(event)
	}
}

func (p *Pipeline) log() logSink {
	if p == nil {
		return logSink{}
	}
	return logSink{l: p.Logger}
}

// logSink drops messages when no logger is configured.
type logSink struct{ l *logging.Logger }

func (s logSink) Debug(msg string, fields ...zap.Field) {
	if s.l != nil {
		s.l.Debug(msg, fields...)
	}
}

func (s logSink) Info(msg string, fields ...zap.Field) {
	if s.l != nil {
		s.l.Info(msg, fields...)
	}
}

func (s logSink) Warn(msg string, fields ...zap.Field) {
	if s.l != nil {
		s.l.Warn(msg, fields...)
	}
}

func (s logSink) Error(msg string, fields ...zap.Field) {
	if s.l != nil {
		s.l.Error(msg, fields...)
	}
}
