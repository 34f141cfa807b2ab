package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lejer/eon-client/pkg/cache"
	"github.com/lejer/eon-client/pkg/client"
	"github.com/lejer/eon-client/pkg/readings"
	"github.com/lejer/eon-client/pkg/values"
)

// fakeAPI serves canned payloads keyed by contract and resource. A missing
// entry is a failed fetch.
type fakeAPI struct {
	mu sync.Mutex

	contracts *client.Body
	wallet    *client.Body
	bodies    map[string]map[string]*client.Body
	payments  map[string][]json.RawMessage
	submit    *client.Body

	calls       []string
	submissions []string
}

func newFakeAPI(contracts string) *fakeAPI {
	f := &fakeAPI{
		bodies:   make(map[string]map[string]*client.Body),
		payments: make(map[string][]json.RawMessage),
		wallet:   jsonBody(`{"balance": 0}`),
	}
	if contracts != "" {
		f.contracts = jsonBody(contracts)
	}
	return f
}

func jsonBody(s string) *client.Body {
	return &client.Body{JSON: json.RawMessage(s)}
}

func (f *fakeAPI) set(ac, resource, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies[ac] == nil {
		f.bodies[ac] = make(map[string]*client.Body)
	}
	if payload == "" {
		delete(f.bodies[ac], resource)
		return
	}
	f.bodies[ac][resource] = jsonBody(payload)
}

func (f *fakeAPI) get(ac, resource string) *client.Body {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ac+":"+resource)
	return f.bodies[ac][resource]
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) FetchContracts(ctx context.Context, collectiveContract string) *client.Body {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "contracts:"+collectiveContract)
	return f.contracts
}

func (f *fakeAPI) FetchUserWallet(ctx context.Context) *client.Body {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ":"+client.ResourceUserWallet)
	return f.wallet
}

func (f *fakeAPI) FetchAccountContract(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceAccountContract)
}

func (f *fakeAPI) FetchMeterIndex(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceMeterIndex)
}

func (f *fakeAPI) FetchConsumptionConvention(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceConsumptionConvention)
}

func (f *fakeAPI) FetchConsumptionGraph(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceConsumptionGraph)
}

func (f *fakeAPI) FetchReadingHistory(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceReadingHistory)
}

func (f *fakeAPI) FetchUnpaidInvoices(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceUnpaidInvoices)
}

func (f *fakeAPI) FetchInvoiceBalanceProsum(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceInvoiceBalanceProsum)
}

func (f *fakeAPI) FetchProsumInvoices(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceProsumInvoices)
}

func (f *fakeAPI) FetchPaidInvoices(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourcePaidInvoices)
}

func (f *fakeAPI) FetchReschedulingPlans(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourceReschedulingPlans)
}

func (f *fakeAPI) FetchPaymentNotices(ctx context.Context, ac string) *client.Body {
	return f.get(ac, client.ResourcePaymentNotices)
}

func (f *fakeAPI) FetchPayments(ctx context.Context, ac string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ac+":"+client.ResourcePayments)
	if records, ok := f.payments[ac]; ok {
		return records
	}
	return []json.RawMessage{}
}

func (f *fakeAPI) SubmitMeterReading(ctx context.Context, ac, meterID string, value int) *client.Body {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, ac+":"+meterID)
	return f.submit
}

// memorySnapshots is an in-memory Snapshots.
type memorySnapshots struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
	touched []string
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{entries: make(map[string]*cache.Entry)}
}

func (m *memorySnapshots) NewEntry(resource string, data json.RawMessage, text string) *cache.Entry {
	now := time.Now()
	return &cache.Entry{Resource: resource, Data: data, Text: text, FetchedAt: now, Expires: now.Add(time.Hour)}
}

func (m *memorySnapshots) Get(ctx context.Context, key cache.SnapshotKey) (*cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key.String()]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	copied := *e
	return &copied, nil
}

func (m *memorySnapshots) Set(ctx context.Context, key cache.SnapshotKey, entry *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = entry
	return nil
}

func (m *memorySnapshots) Touch(ctx context.Context, key cache.SnapshotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key.String()]; !ok {
		return cache.ErrCacheMiss
	}
	m.touched = append(m.touched, key.String())
	return nil
}

type healthEvent struct {
	accountContract string
	resource        string
	ok              bool
}

type fakeHealth struct {
	mu     sync.Mutex
	events []healthEvent
}

func (h *fakeHealth) Record(ctx context.Context, accountContract, resource string, ok bool, status int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, healthEvent{accountContract: accountContract, resource: resource, ok: ok})
	return nil
}

// failures counts consecutive failures of one contract's resource, the way
// the Redis tracker does.
func (h *fakeHealth) failures(accountContract, resource string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.accountContract != accountContract || e.resource != resource {
			continue
		}
		if e.ok {
			n = 0
		} else {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu        sync.Mutex
	published []values.Values
	err       error
}

func (p *fakePublisher) Publish(v values.Values) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, v)
	return p.err
}

type fakeHistory struct {
	mu      sync.Mutex
	records []readings.Submission
	err     error
}

func (h *fakeHistory) Record(ctx context.Context, sub readings.Submission) (readings.Submission, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return sub, h.err
	}
	sub.ID = int64(len(h.records) + 1)
	h.records = append(h.records, sub)
	return sub, nil
}

var errBroker = errors.New("broker unavailable")
