package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders views as ASCII tables, or Markdown tables when
// Markdown is set.
type TableFormatter struct {
	Markdown bool
}

func (f *TableFormatter) FormatPending(reports []PendingReport) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"ID", "Stored", "Size"})
	for _, r := range reports {
		t.AppendRow(table.Row{r.ID, timestamp(r.StoredAt), byteSize(r.Size)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d pending", len(reports))})
	return f.render(t), nil
}

func (f *TableFormatter) FormatRateLimit(status RateLimitStatus) (string, error) {
	t := f.newWriter()
	t.SetTitle(fmt.Sprintf("%s (%s)", status.Key, status.Backend))
	t.AppendHeader(table.Row{"Window", "Sends", "Max", "Status"})
	for _, w := range status.Windows {
		state := "ok"
		if w.Reached {
			state = "reached"
		}
		t.AppendRow(table.Row{w.Window.String(), w.Count, w.Max, state})
	}

	summary := "not limiting"
	switch {
	case !status.Enabled:
		summary = "disabled"
	case status.Triggered:
		summary = "limiting (just triggered)"
	case status.Reached:
		summary = "limiting"
	}
	last := "never"
	if status.LastSend != nil {
		last = timestamp(*status.LastSend)
	}
	t.AppendFooter(table.Row{"last send", last, "", summary})
	return f.render(t), nil
}

func (f *TableFormatter) FormatLimiterEntries(entries []LimiterRow) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Key", "Sends", "Triggered", "Updated"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Key, e.Sends, e.Triggered, timestamp(e.UpdatedAt)})
	}
	return f.render(t), nil
}

func (f *TableFormatter) FormatRetry(summary RetryView) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Attempted", "Sent", "Failed", "Remaining"})
	t.AppendRow(table.Row{summary.Attempted, summary.Sent, summary.Failed, len(summary.Remaining)})
	rendered := f.render(t)
	if summary.Error != "" {
		rendered += "\nerror: " + summary.Error
	}
	return rendered, nil
}

func (f *TableFormatter) FormatDelivery(view DeliveryView) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Outcome", "Path", "Stored ID"})
	outcome := view.Outcome
	if view.Substituted {
		outcome += " (rate limit notice)"
	}
	t.AppendRow(table.Row{outcome, strings.Join(view.Trace, " → "), view.StoredID})

	rendered := f.render(t)
	if view.Warning != "" {
		rendered += "\nwarning: " + view.Warning
	}
	if view.Error != "" {
		rendered += "\nerror: " + view.Error
	}
	return rendered, nil
}

func (f *TableFormatter) newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func timestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func byteSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
