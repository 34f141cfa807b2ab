// Package poller runs the polling cycle: it lists the account's contracts,
// fetches every per-contract resource in a fixed order and keeps the result
// for the HTTP surface and the MQTT publisher. Failed fetches are answered
// from the last good snapshot so a transient outage shows stale values
// rather than nothing.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lejer/eon-client/pkg/cache"
	"github.com/lejer/eon-client/pkg/client"
	"github.com/lejer/eon-client/pkg/logging"
	"github.com/lejer/eon-client/pkg/values"
)

// API is the part of the E.ON client the poller drives.
type API interface {
	FetchContracts(ctx context.Context, collectiveContract string) *client.Body
	FetchUserWallet(ctx context.Context) *client.Body

	FetchAccountContract(ctx context.Context, accountContract string) *client.Body
	FetchMeterIndex(ctx context.Context, accountContract string) *client.Body
	FetchConsumptionConvention(ctx context.Context, accountContract string) *client.Body
	FetchConsumptionGraph(ctx context.Context, accountContract string) *client.Body
	FetchReadingHistory(ctx context.Context, accountContract string) *client.Body
	FetchUnpaidInvoices(ctx context.Context, accountContract string) *client.Body
	FetchInvoiceBalanceProsum(ctx context.Context, accountContract string) *client.Body
	FetchProsumInvoices(ctx context.Context, accountContract string) *client.Body
	FetchPaidInvoices(ctx context.Context, accountContract string) *client.Body
	FetchReschedulingPlans(ctx context.Context, accountContract string) *client.Body
	FetchPaymentNotices(ctx context.Context, accountContract string) *client.Body
	FetchPayments(ctx context.Context, accountContract string) []json.RawMessage

	SubmitMeterReading(ctx context.Context, accountContract, meterID string, value int) *client.Body
}

// Snapshots stores the last good payload of each resource.
type Snapshots interface {
	NewEntry(resource string, data json.RawMessage, text string) *cache.Entry
	Get(ctx context.Context, key cache.SnapshotKey) (*cache.Entry, error)
	Set(ctx context.Context, key cache.SnapshotKey, entry *cache.Entry) error
	Touch(ctx context.Context, key cache.SnapshotKey) error
}

// HealthRecorder records the outcome of every fetch.
type HealthRecorder interface {
	Record(ctx context.Context, accountContract, resource string, ok bool, status int) error
}

// Publisher receives the flattened values of every contract after a cycle.
type Publisher interface {
	Publish(v values.Values) error
}

// Config configures a Poller. API is required; the rest is optional.
type Config struct {
	API                API
	Snapshots          Snapshots
	Health             HealthRecorder
	Publisher          Publisher
	History            History
	Interval           time.Duration
	CollectiveContract string
	Logger             zerolog.Logger

	// Now returns the current time (default time.Now).
	Now func() time.Time
}

// State is the outcome of the last completed cycle.
type State struct {
	CycleID    string    `json:"cycle_id"`
	Result     string    `json:"result"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Contracts is the raw contracts list; Wallet the raw user wallet.
	Contracts json.RawMessage `json:"contracts,omitempty"`
	Wallet    json.RawMessage `json:"wallet,omitempty"`

	// AccountContracts lists the polled contracts in list order.
	AccountContracts []string `json:"account_contracts"`

	Data   map[string]values.ContractData `json:"-"`
	Values map[string]values.Values       `json:"-"`
}

// Poller runs poll cycles.
type Poller struct {
	cfg    Config
	logger zerolog.Logger

	cycleMu sync.Mutex

	mu    sync.RWMutex
	state *State

	refresh chan struct{}
}

// ErrNoCycle means no cycle has completed yet.
var ErrNoCycle = errors.New("no poll cycle completed yet")

// DefaultInterval is the update interval used when none is configured.
const DefaultInterval = time.Hour

// New creates a Poller.
func New(cfg Config) *Poller {
	if cfg.API == nil {
		panic("poller: API cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Poller{
		cfg:     cfg,
		logger:  cfg.Logger,
		refresh: make(chan struct{}, 1),
	}
}

// Run polls immediately and then on every interval tick until ctx is done.
// RefreshNow triggers an extra cycle.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("Poller started")
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.refresh:
			p.Poll(ctx)
			ticker.Reset(p.cfg.Interval)
		}
	}
}

// RefreshNow asks Run for a cycle as soon as possible. Requests made while
// one is already pending are merged.
func (p *Poller) RefreshNow() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Poll runs one cycle and returns its state. Cycles never overlap.
func (p *Poller) Poll(ctx context.Context) *State {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	start := p.cfg.Now()
	c := &cycle{
		p:      p,
		id:     uuid.NewString(),
		result: ResultOK,
	}
	c.logger = logging.ForCycle(p.logger, c.id)
	c.logger.Debug().Msg("Poll cycle started")

	state := c.run(ctx)
	state.StartedAt = start
	state.FinishedAt = p.cfg.Now()

	pollDuration.Observe(state.FinishedAt.Sub(start).Seconds())
	pollCyclesTotal.WithLabelValues(state.Result).Inc()

	if state.Result == ResultFailed {
		c.logger.Error().Msg("Poll cycle failed, keeping previous data")
		return state
	}

	contractsTracked.Set(float64(len(state.AccountContracts)))

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()

	p.publish(c.logger, state)

	c.logger.Info().
		Str("result", state.Result).
		Int("contracts", len(state.AccountContracts)).
		Dur("duration", state.FinishedAt.Sub(start)).
		Msg("Poll cycle finished")

	return state
}

func (p *Poller) publish(logger zerolog.Logger, state *State) {
	if p.cfg.Publisher == nil {
		return
	}
	for _, ac := range state.AccountContracts {
		if err := p.cfg.Publisher.Publish(state.Values[ac]); err != nil {
			logger.Warn().Err(err).Str("account_contract", ac).Msg("Failed to publish values")
		}
	}
}

// State returns the last completed cycle.
func (p *Poller) State() (*State, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == nil {
		return nil, ErrNoCycle
	}
	return p.state, nil
}

// AccountContracts lists the contracts of the last cycle.
func (p *Poller) AccountContracts() []string {
	state, err := p.State()
	if err != nil {
		return []string{}
	}
	return state.AccountContracts
}

// Values returns the flattened values of one contract.
func (p *Poller) Values(accountContract string) (values.Values, bool) {
	state, err := p.State()
	if err != nil {
		return values.Values{}, false
	}
	v, ok := state.Values[accountContract]
	return v, ok
}

// AllValues returns the flattened values of every contract in list order.
func (p *Poller) AllValues() []values.Values {
	state, err := p.State()
	if err != nil {
		return []values.Values{}
	}
	out := make([]values.Values, 0, len(state.AccountContracts))
	for _, ac := range state.AccountContracts {
		out = append(out, state.Values[ac])
	}
	return out
}

// Raw returns the payload of one resource of one contract as last seen.
func (p *Poller) Raw(accountContract, resource string) (json.RawMessage, bool) {
	state, err := p.State()
	if err != nil {
		return nil, false
	}
	data, ok := state.Data[accountContract]
	if !ok {
		return nil, false
	}
	raw, ok := data.Resources[resource]
	return raw, ok
}

// Resources lists the resources held for a contract, sorted.
func (p *Poller) Resources(accountContract string) []string {
	state, err := p.State()
	if err != nil {
		return nil
	}
	var out []string
	for resource := range state.Data[accountContract].Resources {
		out = append(out, resource)
	}
	sort.Strings(out)
	return out
}
