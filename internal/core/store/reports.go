package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/faultline/faultline/internal/core"
)

// DefaultReportPrefix names stored report files.
const DefaultReportPrefix = "faultline_report"

// ReportStore is a directory of serialized reports awaiting re-delivery, one
// file per report named <prefix>_<uuid>.
type ReportStore struct {
	Dir    string
	Prefix string
}

// RetryOptions controls RetryAll.
type RetryOptions struct {
	// ContinueOnError keeps draining after a failed entry.
	ContinueOnError bool
}

// RetrySummary counts the result of a retry pass.
type RetrySummary struct {
	Attempted int      `json:"attempted"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Remaining []string `json:"remaining,omitempty"`
}

// NewReportStore returns a store rooted at dir.
func NewReportStore(dir string) *ReportStore {
	return &ReportStore{Dir: dir, Prefix: DefaultReportPrefix}
}

// Enqueue writes payload to a new report file and returns its id. The
// directory must already exist.
func (s *ReportStore) Enqueue(payload []byte) (string, error) {
	if s == nil || strings.TrimSpace(s.Dir) == "" {
		return "", errors.New("report store directory is not configured")
	}

	id := uuid.New().String()
	path := s.Path(id)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 -- name is generated
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	if _, err := file.Write(payload); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("store report: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("store report: %w", err)
	}
	return id, nil
}

// ListPending returns the ids of stored reports. Order is not guaranteed.
func (s *ReportStore) ListPending() ([]string, error) {
	if s == nil || strings.TrimSpace(s.Dir) == "" {
		return nil, core.NewDeliveryError(core.KindOfflineStorage, "list pending reports", errors.New("no storage configured"))
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, core.NewDeliveryError(core.KindOfflineStorage, "list pending reports", err)
	}

	prefix := s.prefix() + "_"
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(name, prefix))
	}
	return ids, nil
}

// Read returns the stored payload for id.
func (s *ReportStore) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id)) // #nosec G304 -- name is derived from a listed id
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return data, nil
}

// Remove deletes the stored report.
func (s *ReportStore) Remove(id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove report: %w", err)
	}
	return nil
}

// Path returns the file path for id.
func (s *ReportStore) Path(id string) string {
	return filepath.Join(s.Dir, s.prefix()+"_"+id)
}

// RetryAll posts every pending report through transport and deletes the ones
// that were delivered. Stored reports bypass rate limiting. The first error
// encountered is returned.
func (s *ReportStore) RetryAll(ctx context.Context, transport core.Transport, opts RetryOptions) (RetrySummary, error) {
	summary := RetrySummary{}
	if ctx == nil {
		ctx = context.Background()
	}
	if transport == nil {
		return summary, core.NewDeliveryError(core.KindTransferFailed, "retry stored reports", errors.New("no transport configured"))
	}

	ids, err := s.ListPending()
	if err != nil {
		return summary, err
	}

	var firstErr error
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			summary.Remaining = append(summary.Remaining, ids[i:]...)
			if firstErr == nil {
				firstErr = core.NewDeliveryError(core.KindTransferFailed, "retry stored reports", err)
			}
			break
		}

		summary.Attempted++
		failure := s.retryOne(ctx, transport, id)
		if failure == nil {
			summary.Sent++
			continue
		}

		summary.Failed++
		summary.Remaining = append(summary.Remaining, id)
		if firstErr == nil {
			firstErr = failure
		}
		if !opts.ContinueOnError {
			summary.Remaining = append(summary.Remaining, ids[i+1:]...)
			break
		}
	}

	return summary, firstErr
}

func (s *ReportStore) retryOne(ctx context.Context, transport core.Transport, id string) error {
	payload, err := s.Read(id)
	if err != nil {
		return &core.DeliveryError{Kind: core.KindOfflineStorage, Op: "retry stored reports", ReportID: id, Err: err}
	}
	if err := transport.Post(ctx, payload); err != nil {
		return &core.DeliveryError{Kind: core.KindTransferFailed, Op: "retry stored reports", ReportID: id, Err: err}
	}
	// A report that cannot be removed will be delivered again next pass;
	// at-least-once is the contract.
	_ = s.Remove(id)
	return nil
}

func (s *ReportStore) prefix() string {
	if s == nil || strings.TrimSpace(s.Prefix) == "" {
		return DefaultReportPrefix
	}
	return s.Prefix
}
