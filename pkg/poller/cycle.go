package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lejer/eon-client/pkg/cache"
	"github.com/lejer/eon-client/pkg/client"
	"github.com/lejer/eon-client/pkg/logging"
	"github.com/lejer/eon-client/pkg/values"
)

// contractFetch is one per-contract fetch of the cycle.
type contractFetch struct {
	resource string
	fetch    func(api API, ctx context.Context, accountContract string) *client.Body
}

// contractFetches is the per-contract fetch order of a cycle.
var contractFetches = []contractFetch{
	{client.ResourceAccountContract, API.FetchAccountContract},
	{client.ResourceMeterIndex, API.FetchMeterIndex},
	{client.ResourceConsumptionConvention, API.FetchConsumptionConvention},
	{client.ResourceConsumptionGraph, API.FetchConsumptionGraph},
	{client.ResourceReadingHistory, API.FetchReadingHistory},
	{client.ResourceUnpaidInvoices, API.FetchUnpaidInvoices},
	{client.ResourceInvoiceBalanceProsum, API.FetchInvoiceBalanceProsum},
	{client.ResourceProsumInvoices, API.FetchProsumInvoices},
	{client.ResourcePaidInvoices, API.FetchPaidInvoices},
	{client.ResourceReschedulingPlans, API.FetchReschedulingPlans},
	{client.ResourcePaymentNotices, API.FetchPaymentNotices},
}

type cycle struct {
	p      *Poller
	id     string
	logger zerolog.Logger
	result string
}

func (c *cycle) run(ctx context.Context) *State {
	api := c.p.cfg.API
	state := &State{
		CycleID:          c.id,
		AccountContracts: []string{},
		Data:             make(map[string]values.ContractData),
		Values:           make(map[string]values.Values),
	}

	contracts, _, ok := c.resolve(ctx, "", client.ResourceContracts, api.FetchContracts(ctx, c.p.cfg.CollectiveContract))
	if !ok {
		c.result = ResultFailed
		state.Result = c.result
		return state
	}
	state.Contracts = contracts

	state.Wallet, _, _ = c.resolve(ctx, "", client.ResourceUserWallet, api.FetchUserWallet(ctx))

	now := c.p.cfg.Now()
	for _, ac := range AccountContracts(contracts) {
		if ctx.Err() != nil {
			c.result = ResultPartial
			break
		}

		data := c.fetchContract(ctx, ac)
		state.AccountContracts = append(state.AccountContracts, ac)
		state.Data[ac] = data
		state.Values[ac] = values.Flatten(data, now)
	}

	state.Result = c.result
	return state
}

func (c *cycle) fetchContract(ctx context.Context, ac string) values.ContractData {
	api := c.p.cfg.API
	data := values.ContractData{
		AccountContract: ac,
		Resources:       make(map[string]json.RawMessage),
	}

	keep := func(resource string, raw json.RawMessage, staleAt time.Time, ok bool) {
		if !ok {
			return
		}
		data.Resources[resource] = raw
		if !staleAt.IsZero() {
			if data.Stale == nil {
				data.Stale = make(map[string]time.Time)
			}
			data.Stale[resource] = staleAt
		}
	}

	for _, f := range contractFetches {
		raw, staleAt, ok := c.resolve(ctx, ac, f.resource, f.fetch(api, ctx, ac))
		keep(f.resource, raw, staleAt, ok)
	}

	// Payments are walked page by page and stored as one array. The walk
	// cannot tell an empty history from a failed one, so an empty result
	// keeps a non-empty snapshot.
	records := api.FetchPayments(ctx, ac)
	if len(records) == 0 {
		if raw, staleAt, ok := c.paymentsSnapshot(ctx, ac); ok {
			keep(client.ResourcePayments, raw, staleAt, true)
			return data
		}
	}
	payments, err := json.Marshal(records)
	if err != nil {
		payments = json.RawMessage("[]")
	}
	c.record(ctx, ac, client.ResourcePayments, true, http.StatusOK)
	c.store(ctx, ac, client.ResourcePayments, payments, "")
	data.Resources[client.ResourcePayments] = payments

	return data
}

// resolve turns a fetch result into a payload. A successful fetch refreshes
// the snapshot; a failed one falls back to it and reports its fetch time.
// ok is false when neither produced data.
func (c *cycle) resolve(ctx context.Context, ac, resource string, body *client.Body) (json.RawMessage, time.Time, bool) {
	logger := logging.ForContract(c.logger.With().Str("resource", resource).Logger(), ac)

	if body != nil {
		c.record(ctx, ac, resource, true, http.StatusOK)
		raw := payload(body)
		c.store(ctx, ac, resource, body.JSON, body.Text)
		return raw, time.Time{}, true
	}

	c.record(ctx, ac, resource, false, 0)
	c.result = ResultPartial

	snapshots := c.p.cfg.Snapshots
	if snapshots == nil {
		logger.Warn().Msg("Fetch failed and no snapshot store configured")
		return nil, time.Time{}, false
	}

	key := cache.SnapshotKey{AccountContract: ac, Resource: resource}
	entry, err := snapshots.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Error().Err(err).Msg("Failed to read snapshot")
		} else {
			logger.Warn().Msg("Fetch failed and no snapshot available")
		}
		return nil, time.Time{}, false
	}

	if err := snapshots.Touch(ctx, key); err != nil {
		logger.Warn().Err(err).Msg("Failed to extend snapshot")
	}

	snapshotFallbacksTotal.WithLabelValues(resource).Inc()
	logger.Warn().Time("fetched_at", entry.FetchedAt).Msg("Fetch failed, serving snapshot")

	return entryPayload(entry), entry.FetchedAt, true
}

func (c *cycle) paymentsSnapshot(ctx context.Context, ac string) (json.RawMessage, time.Time, bool) {
	snapshots := c.p.cfg.Snapshots
	if snapshots == nil {
		return nil, time.Time{}, false
	}

	key := cache.SnapshotKey{AccountContract: ac, Resource: client.ResourcePayments}
	entry, err := snapshots.Get(ctx, key)
	if err != nil {
		return nil, time.Time{}, false
	}

	var previous []json.RawMessage
	if err := json.Unmarshal(entry.Data, &previous); err != nil || len(previous) == 0 {
		return nil, time.Time{}, false
	}

	if err := snapshots.Touch(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("resource", client.ResourcePayments).Msg("Failed to extend snapshot")
	}
	c.record(ctx, ac, client.ResourcePayments, false, 0)
	c.result = ResultPartial
	snapshotFallbacksTotal.WithLabelValues(client.ResourcePayments).Inc()
	c.logger.Warn().
		Str("resource", client.ResourcePayments).
		Str("account_contract", ac).
		Time("fetched_at", entry.FetchedAt).
		Msg("Payments walk came back empty, serving snapshot")

	return entry.Data, entry.FetchedAt, true
}

func (c *cycle) record(ctx context.Context, ac, resource string, ok bool, status int) {
	if c.p.cfg.Health == nil {
		return
	}
	if err := c.p.cfg.Health.Record(ctx, ac, resource, ok, status); err != nil {
		logger := logging.ForContract(c.logger, ac)
		logger.Warn().Err(err).Str("resource", resource).Msg("Failed to record resource health")
	}
}

func (c *cycle) store(ctx context.Context, ac, resource string, data json.RawMessage, text string) {
	snapshots := c.p.cfg.Snapshots
	if snapshots == nil {
		return
	}
	key := cache.SnapshotKey{AccountContract: ac, Resource: resource}
	if err := snapshots.Set(ctx, key, snapshots.NewEntry(resource, data, text)); err != nil {
		c.logger.Warn().Err(err).Str("resource", resource).Msg("Failed to store snapshot")
	}
}

// payload returns the body as JSON. Plain-text payloads become a JSON string.
func payload(b *client.Body) json.RawMessage {
	if b.IsJSON() {
		return b.JSON
	}
	text, _ := json.Marshal(b.Text)
	return text
}

func entryPayload(e *cache.Entry) json.RawMessage {
	if e.IsJSON() {
		return e.Data
	}
	text, _ := json.Marshal(e.Text)
	return text
}
