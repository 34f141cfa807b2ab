package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lejer/eon-client/internal/testutil"
	"github.com/lejer/eon-client/pkg/client"
	"github.com/lejer/eon-client/pkg/health"
	"github.com/lejer/eon-client/pkg/poller"
	"github.com/lejer/eon-client/pkg/readings"
)

const testContract = "002100000001"

type fakeHealth struct {
	states []*health.State
	err    error
}

func (f *fakeHealth) All(ctx context.Context) ([]*health.State, error) {
	return f.states, f.err
}

type fakePublished map[string]time.Time

func (f fakePublished) LastPublished(ac string) (time.Time, bool) {
	at, ok := f[ac]
	return at, ok
}

type testEnv struct {
	mock    *testutil.MockEON
	poller  *poller.Poller
	history *readings.Store
	health  *fakeHealth
	server  *server
	handler http.Handler
}

// setupServer wires a real client and poller against the mock API.
func setupServer(t *testing.T, poll bool) *testEnv {
	t.Helper()

	mock := testutil.NewMockEON()
	t.Cleanup(mock.Close)

	mock.SetJSON("/partners/v2/account-contracts/list", `[{"accountContract": "`+testContract+`"}]`)
	mock.SetJSON("/users/v1/users/user-wallet", `{"balance": "12,50", "unallocatedAmount": 0}`)
	mock.SetJSON("/meterreadings/v1/meter-reading/"+testContract+"/index",
		`{"indexDetails": {"devices": [{"deviceNumber": "G1", "indexes": [{"ablbelnr": "000000123456", "currentValue": 1510}]}]}}`)
	mock.SetJSON("/invoices/v1/invoices/list",
		`[{"invoiceNumber": "F1", "issuedValue": 80, "balanceValue": 80, "maturityDate": "01.01.2099"}]`)

	cfg := client.DefaultConfig("user@example.com", "secret")
	cfg.BaseURL = mock.URL()
	cfg.RequestTimeout = 2 * time.Second
	eonClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	eonClient.SetLogger(zerolog.Nop())
	t.Cleanup(func() { eonClient.Close() })

	history, err := readings.Open(filepath.Join(t.TempDir(), "readings.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	p := poller.New(poller.Config{
		API:      eonClient,
		History:  history,
		Interval: time.Hour,
		Logger:   zerolog.Nop(),
	})
	if poll {
		p.Poll(context.Background())
	}

	hs := &fakeHealth{}
	srv := &server{poller: p, health: hs, history: history, logger: zerolog.Nop()}

	return &testEnv{
		mock:    mock,
		poller:  p,
		history: history,
		health:  hs,
		server:  srv,
		handler: srv.routes(nil),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	resp := w.Result()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestHealthEndpoint(t *testing.T) {
	env := setupServer(t, true)
	env.health.states = []*health.State{
		{Resource: client.ResourceMeterIndex},
		{Resource: client.ResourceReadingHistory, ConsecutiveFailures: 1},
	}

	resp, body := env.do(t, http.MethodGet, "/health", "")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var got struct {
		Status    string          `json:"status"`
		LastCycle json.RawMessage `json:"last_cycle"`
		Resources []health.State  `json:"resources"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if got.Status != string(health.StatusDegraded) {
		t.Errorf("status = %q, want degraded", got.Status)
	}
	if len(got.Resources) != 2 || len(got.LastCycle) == 0 {
		t.Errorf("body = %s", body)
	}
}

func TestHealthEndpoint_BeforeFirstCycle(t *testing.T) {
	env := setupServer(t, false)

	resp, body := env.do(t, http.MethodGet, "/health", "")

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"status":"down"`) {
		t.Errorf("body = %s", body)
	}
}

func TestHealthEndpoint_TrackerError(t *testing.T) {
	env := setupServer(t, true)
	env.health.err = errors.New("redis down")

	resp, body := env.do(t, http.MethodGet, "/health", "")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "redis down") {
		t.Errorf("body should carry the tracker error: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupServer(t, true)

	resp, body := env.do(t, http.MethodGet, "/metrics", "")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{"eon_requests_total", "eon_poll_cycles_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestContractsEndpoints(t *testing.T) {
	env := setupServer(t, true)

	resp, body := env.do(t, http.MethodGet, "/contracts", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /contracts status = %d", resp.StatusCode)
	}
	var list []map[string]any
	json.Unmarshal([]byte(body), &list)
	if len(list) != 1 || list[0]["account_contract"] != testContract {
		t.Errorf("GET /contracts = %s", body)
	}

	resp, body = env.do(t, http.MethodGet, "/contracts/"+testContract, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /contracts/{ac} status = %d", resp.StatusCode)
	}
	var v map[string]any
	json.Unmarshal([]byte(body), &v)
	if v["has_unpaid"] != true || v["unpaid_total"] != float64(80) {
		t.Errorf("values = %s", body)
	}
	if v["meter_id"] != "000000123456" {
		t.Errorf("meter_id = %v", v["meter_id"])
	}

	resp, _ = env.do(t, http.MethodGet, "/contracts/002100009999", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown contract status = %d, want 404", resp.StatusCode)
	}
}

func TestContractsEndpoint_BeforeFirstCycle(t *testing.T) {
	env := setupServer(t, false)

	resp, _ := env.do(t, http.MethodGet, "/contracts", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRawEndpoint(t *testing.T) {
	env := setupServer(t, true)

	resp, body := env.do(t, http.MethodGet, "/contracts/"+testContract+"/raw/"+client.ResourceMeterIndex, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "000000123456") {
		t.Errorf("raw body = %s", body)
	}

	resp, _ = env.do(t, http.MethodGet, "/contracts/"+testContract+"/raw/"+client.ResourceReadingHistory, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("failed resource status = %d, want 404", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/contracts/"+testContract+"/raw", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, client.ResourceMeterIndex) {
		t.Errorf("resource list = %d %s", resp.StatusCode, body)
	}
}

func TestWalletEndpoint(t *testing.T) {
	env := setupServer(t, true)

	resp, body := env.do(t, http.MethodGet, "/wallet", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"balance":12.5`) {
		t.Errorf("wallet = %s", body)
	}
}

func TestSubmitReadingEndpoint(t *testing.T) {
	env := setupServer(t, true)
	env.mock.SetJSON("/meterreadings/v1/meter-reading/index", `{"status": "SENT"}`)

	resp, body := env.do(t, http.MethodPost, "/contracts/"+testContract+"/readings", `{"value": "1520"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	reqs := env.mock.RequestsTo("/meterreadings/v1/meter-reading/index")
	if len(reqs) != 1 {
		t.Fatalf("submit requests = %d, want 1", len(reqs))
	}
	if !strings.Contains(reqs[0].Body, `"ablbelnr":"000000123456"`) || !strings.Contains(reqs[0].Body, `"indexValue":1520`) {
		t.Errorf("submit body = %s", reqs[0].Body)
	}

	resp, body = env.do(t, http.MethodGet, "/contracts/"+testContract+"/readings", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	var history []readings.Submission
	if err := json.Unmarshal([]byte(body), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].Value != 1520 || !history[0].Accepted {
		t.Errorf("history = %+v", history)
	}
}

func TestSubmitReadingEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		contract   string
		body       string
		wantStatus int
	}{
		{name: "invalid json", contract: testContract, body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing value", contract: testContract, body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "negative value", contract: testContract, body: `{"value": -5}`, wantStatus: http.StatusBadRequest},
		{name: "above maximum", contract: testContract, body: `{"value": 1000000}`, wantStatus: http.StatusBadRequest},
		{name: "overflowing float", contract: testContract, body: `{"value": 1e300}`, wantStatus: http.StatusBadRequest},
		{name: "not a number", contract: testContract, body: `{"value": "NaN"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown contract", contract: "002100009999", body: `{"value": 5}`, wantStatus: http.StatusNotFound},
		{name: "rejected by api", contract: testContract, body: `{"value": 5}`, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupServer(t, true)
			env.mock.SetResponse("/meterreadings/v1/meter-reading/index", testutil.MockResponse{
				StatusCode: http.StatusBadRequest,
				Body:       `{"description": "Reading window closed"}`,
			})

			resp, body := env.do(t, http.MethodPost, "/contracts/"+tt.contract+"/readings", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestListReadingsEndpoint_InvalidLimit(t *testing.T) {
	env := setupServer(t, true)

	resp, _ := env.do(t, http.MethodGet, "/contracts/"+testContract+"/readings?limit=abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	env := setupServer(t, true)

	resp, _ := env.do(t, http.MethodPost, "/refresh", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	env := setupServer(t, true)

	req := httptest.NewRequest(http.MethodOptions, "/contracts", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379")
	if err != nil || opts.Addr != "localhost:6379" {
		t.Errorf("redisOptions(host:port) = %+v, %v", opts, err)
	}

	opts, err = redisOptions("redis://:pw@cache:6380/2")
	if err != nil {
		t.Fatalf("redisOptions(url) error = %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Errorf("redisOptions(url) = addr %q db %d", opts.Addr, opts.DB)
	}

	if _, err := redisOptions("redis://cache:6379/notadb"); err == nil {
		t.Error("redisOptions with an invalid db should fail")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("EON_TEST_VALUE", "set")

	if got := getEnv("EON_TEST_VALUE", "default"); got != "set" {
		t.Errorf("getEnv() = %q, want set", got)
	}
	if got := getEnv("EON_TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want default", got)
	}
}

func TestSubmitReadingEndpoint_RejectedMessage(t *testing.T) {
	env := setupServer(t, true)
	env.mock.SetResponse("/meterreadings/v1/meter-reading/index", testutil.MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"description": "Reading window closed"}`,
	})

	resp, body := env.do(t, http.MethodPost, "/contracts/"+testContract+"/readings", `{"value": 1520}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var got struct {
		Code       string              `json:"code"`
		Message    string              `json:"message"`
		Submission readings.Submission `json:"submission"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != "rejected" || got.Message != poller.ErrReadingRejected.Error() {
		t.Errorf("body = %+v", got)
	}
	if got.Submission.Value != 1520 || got.Submission.Accepted {
		t.Errorf("submission = %+v, want rejected 1520", got.Submission)
	}
}

func TestLastReadingEndpoint(t *testing.T) {
	env := setupServer(t, true)

	resp, _ := env.do(t, http.MethodGet, "/contracts/"+testContract+"/readings/last", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status before any reading = %d, want 404", resp.StatusCode)
	}

	env.mock.SetJSON("/meterreadings/v1/meter-reading/index", `{"status": "SENT"}`)
	if resp, body := env.do(t, http.MethodPost, "/contracts/"+testContract+"/readings", `{"value": 1520}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, body)
	}

	resp, body := env.do(t, http.MethodGet, "/contracts/"+testContract+"/readings/last", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var last readings.Submission
	if err := json.Unmarshal([]byte(body), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Value != 1520 || !last.Accepted || last.MeterID != "000000123456" {
		t.Errorf("last = %+v", last)
	}
}

func TestHealthEndpoint_StaleAndPublished(t *testing.T) {
	env := setupServer(t, true)
	publishedAt := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	env.server.staleAfter = time.Hour
	env.server.publisher = fakePublished{testContract: publishedAt}
	env.health.states = []*health.State{
		{AccountContract: testContract, Resource: client.ResourceMeterIndex, LastSuccess: time.Now()},
		{AccountContract: testContract, Resource: client.ResourcePayments, LastSuccess: time.Now().Add(-2 * time.Hour)},
	}

	resp, body := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var got struct {
		Status        string               `json:"status"`
		Stale         []string             `json:"stale"`
		MQTTPublished map[string]time.Time `json:"mqtt_published"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != string(health.StatusDegraded) {
		t.Errorf("status = %q, want degraded when a resource is stale", got.Status)
	}
	if len(got.Stale) != 1 || got.Stale[0] != testContract+":"+client.ResourcePayments {
		t.Errorf("stale = %v, want only payments", got.Stale)
	}
	if !got.MQTTPublished[testContract].Equal(publishedAt) {
		t.Errorf("mqtt_published = %v", got.MQTTPublished)
	}
}
