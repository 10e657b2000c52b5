package gateway

import (
	"context"
	"errors"

	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

// TradeRecorder receives completed stop-triggered closes so trade history
// can be kept outside the engine
type TradeRecorder interface {
	RecordStopClose(ctx context.Context, sc entity.StopClose) error
}

// MultiRecorder fans one event out to several recorders
type MultiRecorder []TradeRecorder

// RecordStopClose calls every recorder and joins their errors
func (m MultiRecorder) RecordStopClose(ctx context.Context, sc entity.StopClose) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordStopClose(ctx, sc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
