package core

import "time"

// LimiterState captures the persisted state of a windowed rate limiter.
type LimiterState struct {
	PersistenceFile     string               `json:"persistenceFile"`
	Limits              []SendLimit          `json:"limits"`
	SentNotifications   []time.Time          `json:"sentNotifications"`
	Triggered           bool                 `json:"triggered"`
	NotificationOptions *NotificationOptions `json:"notificationOptions"`
}

// Clone returns a deep copy of the state.
func (s LimiterState) Clone() LimiterState {
	out := s
	out.Limits = append([]SendLimit(nil), s.Limits...)
	out.SentNotifications = append([]time.Time(nil), s.SentNotifications...)
	if s.NotificationOptions != nil {
		opts := *s.NotificationOptions
		opts.Metadata = append([]byte(nil), s.NotificationOptions.Metadata...)
		if s.NotificationOptions.Severity != nil {
			severity := *s.NotificationOptions.Severity
			opts.Severity = &severity
		}
		out.NotificationOptions = &opts
	}
	return out
}
