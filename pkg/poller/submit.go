package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/lejer/eon-client/pkg/client"
	"github.com/lejer/eon-client/pkg/readings"
	"github.com/lejer/eon-client/pkg/values"
)

// History keeps the submitted meter readings.
type History interface {
	Record(ctx context.Context, sub readings.Submission) (readings.Submission, error)
}

// MaxReading is the largest index the meter reading form accepts.
const MaxReading = 999999

var (
	// ErrUnknownContract means the contract was not seen in the last cycle.
	ErrUnknownContract = errors.New("unknown account contract")

	// ErrInvalidReading means the submitted value is outside 0..MaxReading.
	ErrInvalidReading = fmt.Errorf("meter reading must be between 0 and %d", MaxReading)

	// ErrReadingRejected means the API did not accept the reading.
	ErrReadingRejected = errors.New("meter reading rejected")
)

// SubmitReading sends a meter reading for a contract. An empty meterID is
// resolved from the contract's latest meter index payload. The outcome is
// recorded in the history either way; an accepted reading triggers a
// refresh so the new index shows up.
func (p *Poller) SubmitReading(ctx context.Context, accountContract, meterID string, value int) (readings.Submission, error) {
	sub := readings.Submission{AccountContract: accountContract, MeterID: meterID, Value: value}

	if value < 0 || value > MaxReading {
		return sub, ErrInvalidReading
	}

	state, err := p.State()
	if err != nil {
		return sub, err
	}
	if _, ok := state.Data[accountContract]; !ok {
		return sub, fmt.Errorf("%w: %s", ErrUnknownContract, accountContract)
	}

	if sub.MeterID == "" {
		raw, _ := p.Raw(accountContract, client.ResourceMeterIndex)
		id, err := values.MeterID(raw)
		if err != nil {
			p.logger.Error().Err(err).Str("account_contract", accountContract).Msg("Internal meter ID (ablbelnr) not found")
			return sub, err
		}
		sub.MeterID = id
	}
	sub.CycleID = state.CycleID

	body := p.cfg.API.SubmitMeterReading(ctx, accountContract, sub.MeterID, value)
	sub.Accepted = body != nil
	if body != nil {
		sub.Response = string(payload(body))
	}

	if p.cfg.History != nil {
		recorded, err := p.cfg.History.Record(ctx, sub)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record meter reading")
		} else {
			sub = recorded
		}
	}

	if !sub.Accepted {
		return sub, ErrReadingRejected
	}

	p.logger.Info().
		Str("account_contract", accountContract).
		Int("value", value).
		Msg("Meter reading sent")
	p.RefreshNow()

	return sub, nil
}
