package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/faultline/faultline/internal/core"
)

// RateLimitStore persists limiter state under a key.
type RateLimitStore interface {
	GetLimiterState(ctx context.Context, key string) (*core.LimiterState, error)
	UpdateLimiterState(ctx context.Context, key string, state *core.LimiterState) error
}

// StateLocker is implemented by stores that can serialize writers across processes.
type StateLocker interface {
	LockLimiterState(ctx context.Context, key string) (unlock func() error, err error)
}

// RateLimiterOptions configures a RateLimiter.
type RateLimiterOptions struct {
	Store        RateLimitStore
	Key          string
	Limits       []core.SendLimit
	Notification *core.NotificationOptions
	Clock        func() time.Time
	Logger       *logging.Logger
}

// RateLimiter decides whether reports may be sent, counting sends against
// one or more trailing windows. Every configured limit is evaluated.
type RateLimiter struct {
	Store  RateLimitStore
	Key    string
	Clock  func() time.Time
	Logger *logging.Logger

	mu    sync.Mutex
	state core.LimiterState
	// dirty is set while memory holds sends the store has not accepted.
	dirty bool
}

// NewRateLimiter loads the state stored under opts.Key and persists the active
// configuration. Stored history is reused only when its limits and options
// match; otherwise accounting starts empty. A returned error means the state
// could not be written; the limiter is still usable from memory.
func NewRateLimiter(ctx context.Context, opts RateLimiterOptions) (*RateLimiter, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r := &RateLimiter{
		Store:  opts.Store,
		Key:    opts.Key,
		Clock:  opts.Clock,
		Logger: opts.Logger,
		state: core.LimiterState{
			PersistenceFile:     opts.Key,
			Limits:              normalizeLimits(opts.Limits),
			NotificationOptions: opts.Notification,
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unlock := r.lock(ctx)
	defer unlock()

	if stored := r.load(ctx); stored != nil {
		if r.sameConfig(stored) {
			r.state.SentNotifications = stored.SentNotifications
			r.state.Triggered = stored.Triggered
		} else {
			r.debug("Rate limit configuration changed, resetting accounting", zap.String("key", r.Key))
		}
	}

	return r, r.persist(ctx)
}

// RegisterSend records a send attempt. It merges the persisted history first,
// then sets the triggered flag when this send moves the limiter from not
// reached to reached.
func (r *RateLimiter) RegisterSend(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unlock := r.lock(ctx)
	defer unlock()

	if !r.dirty {
		if stored := r.load(ctx); stored != nil && r.sameConfig(stored) {
			r.state.SentNotifications = stored.SentNotifications
			r.state.Triggered = stored.Triggered
		}
	}

	now := r.now()
	before := r.reachedAt(now)
	r.state.SentNotifications = append(r.state.SentNotifications, now)
	after := r.reachedAt(now)
	r.state.Triggered = after && !before
	r.prune(now)

	return r.persist(ctx)
}

// Reached reports whether any window holds more sends than its limit.
func (r *RateLimiter) Reached() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reachedAt(r.now())
}

// Triggered reports whether the most recent RegisterSend crossed into reached.
func (r *RateLimiter) Triggered() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Triggered
}

// NotificationOptions returns the options used for the limit notice.
func (r *RateLimiter) NotificationOptions() *core.NotificationOptions {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone().NotificationOptions
}

// State returns a snapshot of the limiter state.
func (r *RateLimiter) State() core.LimiterState {
	if r == nil {
		return core.LimiterState{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Reset clears the send history and persists the empty state.
func (r *RateLimiter) Reset(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unlock := r.lock(ctx)
	defer unlock()

	r.state.SentNotifications = nil
	r.state.Triggered = false
	return r.persist(ctx)
}

// WindowCount returns the number of sends currently inside the window.
func (r *RateLimiter) WindowCount(window time.Duration) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countSince(r.now(), window)
}

// WindowUsage is the number of sends inside one configured window.
type WindowUsage struct {
	Limit core.SendLimit
	Count int
}

// Reached reports whether the window holds more sends than its limit.
func (u WindowUsage) Reached() bool {
	return uint64(u.Count) > uint64(u.Limit.MaxCount)
}

// Usage evaluates state against its own limits at now. It reads nothing from
// a store and changes nothing.
func Usage(state core.LimiterState, now time.Time) []WindowUsage {
	usage := make([]WindowUsage, 0, len(state.Limits))
	for _, limit := range state.Limits {
		usage = append(usage, WindowUsage{
			Limit: limit,
			Count: countSince(state.SentNotifications, now, limit.Window),
		})
	}
	return usage
}

func (r *RateLimiter) reachedAt(now time.Time) bool {
	for _, limit := range r.state.Limits {
		if uint64(r.countSince(now, limit.Window)) > uint64(limit.MaxCount) {
			return true
		}
	}
	return false
}

func (r *RateLimiter) countSince(now time.Time, window time.Duration) int {
	return countSince(r.state.SentNotifications, now, window)
}

func countSince(sent []time.Time, now time.Time, window time.Duration) int {
	count := 0
	for _, at := range sent {
		if now.Sub(at) < window {
			count++
		}
	}
	return count
}

// prune drops history older than the largest window; such entries never count.
func (r *RateLimiter) prune(now time.Time) {
	var longest time.Duration
	for _, limit := range r.state.Limits {
		if limit.Window > longest {
			longest = limit.Window
		}
	}

	kept := r.state.SentNotifications[:0]
	for _, sent := range r.state.SentNotifications {
		if now.Sub(sent) < longest {
			kept = append(kept, sent)
		}
	}
	r.state.SentNotifications = kept
}

// normalizeLimits rebuilds limits through NewSendLimit so a window matches
// itself after a round trip through the store.
func normalizeLimits(limits []core.SendLimit) []core.SendLimit {
	if limits == nil {
		return nil
	}
	out := make([]core.SendLimit, len(limits))
	for i, l := range limits {
		out[i] = core.NewSendLimit(l.Window, l.MaxCount)
	}
	return out
}

func (r *RateLimiter) sameConfig(other *core.LimiterState) bool {
	if !cmp.Equal(r.state.Limits, other.Limits, cmpopts.EquateEmpty()) {
		return false
	}
	return optionsEqual(r.state.NotificationOptions, other.NotificationOptions)
}

func optionsEqual(a, b *core.NotificationOptions) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !cmp.Equal(a.Severity, b.Severity) {
		return false
	}
	return cmp.Equal(decodeMetadata(a.Metadata), decodeMetadata(b.Metadata))
}

func decodeMetadata(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	return value
}

func (r *RateLimiter) load(ctx context.Context) *core.LimiterState {
	if r.Store == nil {
		return nil
	}
	stored, err := r.Store.GetLimiterState(ctx, r.Key)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Info("Failed to read rate limit state, continuing without it",
				zap.String("key", r.Key),
				zap.Error(err))
		}
		return nil
	}
	return stored
}

func (r *RateLimiter) persist(ctx context.Context) error {
	if r.Store == nil {
		return nil
	}
	snapshot := r.state.Clone()
	if err := r.Store.UpdateLimiterState(ctx, r.Key, &snapshot); err != nil {
		r.dirty = true
		return err
	}
	r.dirty = false
	return nil
}

func (r *RateLimiter) lock(ctx context.Context) func() {
	locker, ok := r.Store.(StateLocker)
	if !ok {
		return func() {}
	}
	unlock, err := locker.LockLimiterState(ctx, r.Key)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("Failed to lock rate limit state, proceeding unlocked",
				zap.String("key", r.Key),
				zap.Error(err))
		}
		return func() {}
	}
	return func() {
		if err := unlock(); err != nil && r.Logger != nil {
			r.Logger.Warn("Failed to release rate limit lock", zap.String("key", r.Key), zap.Error(err))
		}
	}
}

func (r *RateLimiter) debug(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Debug(msg, fields...)
	}
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
