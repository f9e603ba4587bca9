package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"

	"github.com/faultline/faultline/internal/core"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"plain error", errors.New("boom"), foundry.ExitFailure},
		{"transfer failed", core.NewDeliveryError(core.KindTransferFailed, "send", nil), foundry.ExitExternalServiceUnavailable},
		{"stored for retry", core.NewDeliveryError(core.KindStoredForRetry, "send", nil), foundry.ExitExternalServiceUnavailable},
		{"transfer and storage", core.NewDeliveryError(core.KindTransferAndStorage, "send", nil), foundry.ExitExternalServiceUnavailable},
		{"offline storage", core.NewDeliveryError(core.KindOfflineStorage, "list", nil), foundry.ExitFileNotFound},
		{"payload", core.NewDeliveryError(core.KindPayloadConstruction, "send", nil), foundry.ExitFailure},
		{"wrapped", fmt.Errorf("retry: %w", core.NewDeliveryError(core.KindTransferFailed, "retry", nil)), foundry.ExitExternalServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestEnvelopeFor(t *testing.T) {
	assert.Nil(t, envelopeFor(nil))

	envelope := envelopeFor(core.NewDeliveryError(core.KindStoredForRetry, "send report", errors.New("refused")))
	if assert.NotNil(t, envelope) {
		assert.Equal(t, string(core.KindStoredForRetry), envelope.Code)
	}
}
