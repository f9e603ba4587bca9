package output

import (
	"encoding/json"
)

// JSONFormatter renders views as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatPending(reports []PendingReport) (string, error) {
	if reports == nil {
		reports = []PendingReport{}
	}
	return f.encode(reports)
}

func (f *JSONFormatter) FormatRateLimit(status RateLimitStatus) (string, error) {
	return f.encode(status)
}

func (f *JSONFormatter) FormatLimiterEntries(entries []LimiterRow) (string, error) {
	if entries == nil {
		entries = []LimiterRow{}
	}
	return f.encode(entries)
}

func (f *JSONFormatter) FormatRetry(summary RetryView) (string, error) {
	return f.encode(summary)
}

func (f *JSONFormatter) FormatDelivery(view DeliveryView) (string, error) {
	return f.encode(view)
}

func (f *JSONFormatter) encode(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
