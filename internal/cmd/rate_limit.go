package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/faultline/faultline/internal/core"
	"github.com/faultline/faultline/internal/core/engine"
	"github.com/faultline/faultline/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset persisted rate limit state",
}

func init() {
	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// limiterStatus evaluates state at now. configured is used when nothing is
// stored yet.
func limiterStatus(backend, key string, enabled bool, state *core.LimiterState, configured []core.SendLimit, now time.Time) output.RateLimitStatus {
	current := core.LimiterState{Limits: configured}
	if state != nil {
		current = state.Clone()
		if len(current.Limits) == 0 {
			current.Limits = configured
		}
	}

	status := output.RateLimitStatus{
		Backend:   backend,
		Key:       key,
		Enabled:   enabled,
		Triggered: current.Triggered,
	}
	for _, usage := range engine.Usage(current, now) {
		reached := usage.Reached()
		status.Reached = status.Reached || reached
		status.Windows = append(status.Windows, output.WindowStatus{
			Window:  usage.Limit.Window,
			Max:     usage.Limit.MaxCount,
			Count:   usage.Count,
			Reached: reached,
		})
	}
	// Triggered only describes the send that just happened.
	if !status.Reached {
		status.Triggered = false
	}
	if n := len(current.SentNotifications); n > 0 {
		last := current.SentNotifications[n-1]
		status.LastSend = &last
	}
	return status
}
