package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/delivery"
	"github.com/faultline/faultline/internal/core/stacktrace"
)

// PanicClass is the error class reported for recovered panics.
const PanicClass = "Panic"

// Notification is a single report under construction. It is sent at most
// once; Send calls after the first return nil without contacting anyone.
type Notification struct {
	pipeline        *delivery.Pipeline
	projectDir      string
	methodsToIgnore []string
	frames          []core.Frame
	report          core.Report
	metadataErr     error

	mu     sync.Mutex
	sent   bool
	result delivery.Result
}

// Notify starts a notification for errorClass with message. The stack is
// captured at this call.
func (c *Client) Notify(errorClass, message string) *Notification {
	return c.notify(errorClass, message, 1)
}

func (c *Client) notify(errorClass, message string, skip int) *Notification {
	c.mu.RLock()
	projectDir := c.projectDir
	ignore := append([]string(nil), c.methodsToIgnore...)
	c.mu.RUnlock()

	return &Notification{
		pipeline:        c.pipeline(),
		projectDir:      projectDir,
		methodsToIgnore: ignore,
		frames:          stacktrace.Capture(skip+1, nil),
		report: core.Report{
			ErrorClass: errorClass,
			Message:    message,
		},
	}
}

// Severity sets the report severity.
func (n *Notification) Severity(severity core.Severity) *Notification {
	n.report.Severity = &severity
	return n
}

// Context sets the report context, usually the action that failed.
func (n *Notification) Context(value string) *Notification {
	n.report.Context = value
	return n
}

// GroupingHash overrides how the collector groups this report.
func (n *Notification) GroupingHash(hash string) *Notification {
	n.report.GroupingHash = hash
	return n
}

// Metadata attaches v as JSON. Object keys become metaData tabs. A value
// that cannot be marshaled fails the Send with a payload construction error.
func (n *Notification) Metadata(v any) *Notification {
	if raw, ok := v.(json.RawMessage); ok {
		n.report.Metadata = raw
		n.metadataErr = nil
		return n
	}
	data, err := json.Marshal(v)
	if err != nil {
		n.metadataErr = fmt.Errorf("marshal metadata: %w", err)
		return n
	}
	n.report.Metadata = data
	n.metadataErr = nil
	return n
}

// MethodsToIgnore replaces the client's list of method names whose frames
// are not considered in project.
func (n *Notification) MethodsToIgnore(methods ...string) *Notification {
	n.methodsToIgnore = append([]string(nil), methods...)
	return n
}

// Send delivers the notification. Only the first call does any work; later
// calls return nil.
func (n *Notification) Send(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent {
		return nil
	}
	n.sent = true

	if n.metadataErr != nil {
		n.result = delivery.Result{Outcome: delivery.StateFailed}
		return core.NewDeliveryError(core.KindPayloadConstruction, "send report", n.metadataErr)
	}

	report := n.report
	report.Stacktrace = classify(n.frames, stacktrace.ProjectMatcher(n.projectDir, n.methodsToIgnore))
	result, err := n.pipeline.Send(ctx, report)
	n.result = result
	return err
}

// Result returns how the first Send ended.
func (n *Notification) Result() delivery.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

func classify(frames []core.Frame, inProject stacktrace.InProjectFunc) []core.Frame {
	out := make([]core.Frame, len(frames))
	for i, f := range frames {
		f.InProject = inProject(f.File, f.Method)
		out[i] = f
	}
	return out
}

// WithNotification runs fn with a notification and sends it on every exit
// path, including a returned error or a panic. A panic is re-raised after
// the send.
func (c *Client) WithNotification(ctx context.Context, errorClass, message string, fn func(n *Notification) error) (err error) {
	n := c.notify(errorClass, message, 1)

	defer func() {
		if r := recover(); r != nil {
			_ = n.Send(ctx)
			panic(r)
		}
	}()

	var fnErr error
	if fn != nil {
		fnErr = fn(n)
	}
	return errors.Join(fnErr, n.Send(ctx))
}

// Recover reports a panic in progress and re-panics. Use it directly as a
// deferred call:
//
//	defer client.Recover(ctx)
func (c *Client) Recover(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}

	_ = c.notify(PanicClass, panicMessage(r), 1).
		Severity(core.SeverityError).
		Send(ctx)
	panic(r)
}

func panicMessage(r any) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprintf("Error: %v", v)
	}
}
