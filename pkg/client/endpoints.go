package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lejer/eon-client/pkg/pagination"
)

// API paths.
const (
	pathAccountContract       = "/partners/v2/account-contracts/%s"
	pathAccountContractsList  = "/partners/v2/account-contracts/list"
	pathMeterIndex            = "/meterreadings/v1/meter-reading/%s/index"
	pathReadingHistory        = "/meterreadings/v1/meter-reading/%s/history"
	pathConsumptionConvention = "/meterreadings/v1/consumption-convention/%s"
	pathSubmitIndex           = "/meterreadings/v1/meter-reading/index"
	pathConsumptionGraph      = "/invoices/v1/invoices/graphic-consumption/%s"
	pathInvoicesList          = "/invoices/v1/invoices/list"
	pathInvoicesListPaid      = "/invoices/v1/invoices/list-paid"
	pathInvoicesListProsum    = "/invoices/v1/invoices/list-prosum"
	pathInvoiceBalance        = "/invoices/v1/invoices/invoice-balance"
	pathInvoiceBalanceProsum  = "/invoices/v1/invoices/invoice-balance-prosum"
	pathReschedulingPlans     = "/invoices/v1/rescheduling-plans"
	pathPaymentNotices        = "/invoices/v1/payment-notices"
	pathPaymentList           = "/invoices/v1/payments/payment-list"
	pathCurrentDate           = "/utils/v2/date/current"
	pathUserWallet            = "/users/v1/users/user-wallet"
)

// Resource names, used as metric labels and snapshot keys.
const (
	ResourceContracts             = "contracts"
	ResourceUserWallet            = "user_wallet"
	ResourceCurrentDate           = "current_date"
	ResourceAccountContract       = "account_contract"
	ResourceMeterIndex            = "meter_index"
	ResourceConsumptionConvention = "consumption_convention"
	ResourceConsumptionGraph      = "consumption_graph"
	ResourceReadingHistory        = "reading_history"
	ResourceUnpaidInvoices        = "unpaid_invoices"
	ResourceInvoiceBalance        = "invoice_balance"
	ResourceInvoiceBalanceProsum  = "invoice_balance_prosum"
	ResourceProsumInvoices        = "prosum_invoices"
	ResourcePaidInvoices          = "paid_invoices"
	ResourceReschedulingPlans     = "rescheduling_plans"
	ResourcePaymentNotices        = "payment_notices"
	ResourcePayments              = "payments"
	ResourceSubmitReading         = "submit_reading"
)

// contractQuery builds the accountContract query shared by the invoice endpoints.
func contractQuery(accountContract string, extra ...string) string {
	q := url.Values{}
	q.Set("accountContract", accountContract)
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	return "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, resource, pathAndQuery, errorLabel string) *Body {
	return c.Execute(ctx, Request{
		Method:     http.MethodGet,
		URL:        c.url(pathAndQuery),
		Resource:   resource,
		ErrorLabel: errorLabel,
	})
}

// FetchAccountContract returns the contract details (prices, consumption point, addresses).
func (c *Client) FetchAccountContract(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceAccountContract,
		fmt.Sprintf(pathAccountContract, url.PathEscape(accountContract)),
		"Failed to fetch contract data")
}

// FetchMeterIndex returns the current index and reading window.
func (c *Client) FetchMeterIndex(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceMeterIndex,
		fmt.Sprintf(pathMeterIndex, url.PathEscape(accountContract)),
		"Failed to fetch current meter index")
}

// FetchConsumptionConvention returns the agreed monthly consumption.
func (c *Client) FetchConsumptionConvention(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceConsumptionConvention,
		fmt.Sprintf(pathConsumptionConvention, url.PathEscape(accountContract)),
		"Failed to fetch consumption convention")
}

// FetchConsumptionGraph returns the monthly consumption used for year-over-year comparison.
func (c *Client) FetchConsumptionGraph(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceConsumptionGraph,
		fmt.Sprintf(pathConsumptionGraph, url.PathEscape(accountContract)),
		"Failed to fetch consumption graph")
}

// FetchReadingHistory returns past meter readings grouped by year.
func (c *Client) FetchReadingHistory(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceReadingHistory,
		fmt.Sprintf(pathReadingHistory, url.PathEscape(accountContract)),
		"Failed to fetch reading history")
}

// FetchUnpaidInvoices returns unpaid invoices including subcontracts.
func (c *Client) FetchUnpaidInvoices(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceUnpaidInvoices,
		pathInvoicesList+contractQuery(accountContract, "status", "unpaid", "includeSubcontracts", "true"),
		"Failed to fetch unpaid invoices")
}

// FetchInvoiceBalance returns the total invoice balance including subcontracts.
func (c *Client) FetchInvoiceBalance(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceInvoiceBalance,
		pathInvoiceBalance+contractQuery(accountContract, "includeSubcontracts", "true"),
		"Failed to fetch invoice balance")
}

// FetchInvoiceBalanceProsum returns the prosumer balance.
func (c *Client) FetchInvoiceBalanceProsum(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceInvoiceBalanceProsum,
		pathInvoiceBalanceProsum+contractQuery(accountContract, "includeSubcontracts", "true"),
		"Failed to fetch prosumer balance")
}

// FetchPaidInvoices returns the first page of paid invoices.
func (c *Client) FetchPaidInvoices(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourcePaidInvoices,
		pathInvoicesListPaid+contractQuery(accountContract, "status", "paid", "includeSubcontracts", "true", "page", "1"),
		"Failed to fetch paid invoices")
}

// FetchProsumInvoices returns the first page of prosumer invoices.
func (c *Client) FetchProsumInvoices(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceProsumInvoices,
		pathInvoicesListProsum+contractQuery(accountContract, "includeSubcontracts", "true", "page", "1"),
		"Failed to fetch prosumer invoices")
}

// FetchReschedulingPlans returns active payment rescheduling plans.
func (c *Client) FetchReschedulingPlans(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourceReschedulingPlans,
		pathReschedulingPlans+contractQuery(accountContract, "includeSubcontracts", "true"),
		"Failed to fetch rescheduling plans")
}

// FetchPaymentNotices returns unpaid payment notices.
func (c *Client) FetchPaymentNotices(ctx context.Context, accountContract string) *Body {
	return c.get(ctx, ResourcePaymentNotices,
		pathPaymentNotices+contractQuery(accountContract, "status", "unpaid"),
		"Failed to fetch payment notices")
}

// FetchCurrentDate returns the server date in Europe/Bucharest.
func (c *Client) FetchCurrentDate(ctx context.Context) *Body {
	q := url.Values{}
	q.Set("timeZone", "Europe/Bucharest")
	q.Set("pattern", "yyyy-MM-dd")
	return c.get(ctx, ResourceCurrentDate, pathCurrentDate+"?"+q.Encode(),
		"Failed to fetch current date")
}

// FetchUserWallet returns the account wallet balance.
func (c *Client) FetchUserWallet(ctx context.Context) *Body {
	return c.get(ctx, ResourceUserWallet, pathUserWallet, "Failed to fetch user wallet")
}

type contractsListRequest struct {
	CollectiveContract string `json:"collectiveContract,omitempty"`
	Limit              int    `json:"limit"`
}

// FetchContracts lists the contracts visible to the account. An empty
// collectiveContract lists every contract of the user.
func (c *Client) FetchContracts(ctx context.Context, collectiveContract string) *Body {
	return c.Execute(ctx, Request{
		Method:     http.MethodPost,
		URL:        c.url(pathAccountContractsList),
		Body:       contractsListRequest{CollectiveContract: collectiveContract, Limit: -1},
		Resource:   ResourceContracts,
		ErrorLabel: "Failed to fetch contracts list",
	})
}

// GetPage implements pagination.Session.
func (c *Client) GetPage(ctx context.Context, pageURL string) (json.RawMessage, int) {
	body, status := c.DoRequest(ctx, Request{
		Method:     http.MethodGet,
		URL:        pageURL,
		Resource:   ResourcePayments,
		ErrorLabel: "Failed to fetch payments page",
	})
	if body == nil {
		return nil, status
	}
	return body.JSON, status
}

// FetchPayments returns every payment record of the contract across all pages.
// The result is empty, never nil, when nothing could be fetched.
func (c *Client) FetchPayments(ctx context.Context, accountContract string) []json.RawMessage {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	return pagination.FetchAllPages(ctx, c, func(page int) string {
		return c.url(pathPaymentList + contractQuery(accountContract, "page", fmt.Sprint(page)))
	})
}

type meterIndex struct {
	Ablbelnr   string `json:"ablbelnr"`
	IndexValue int    `json:"indexValue"`
}

type submitIndexRequest struct {
	AccountContract string       `json:"accountContract"`
	Channel         string       `json:"channel"`
	Indexes         []meterIndex `json:"indexes"`
}

// SubmitMeterReading posts a meter reading. meterID is the internal register
// ID (ablbelnr) found in the meter index payload. Returns the parsed response,
// or nil when the submission failed.
func (c *Client) SubmitMeterReading(ctx context.Context, accountContract, meterID string, value int) *Body {
	c.logger.Info().
		Str("account_contract", accountContract).
		Str("meter_id", meterID).
		Int("value", value).
		Msg("Submitting meter reading")

	return c.Execute(ctx, Request{
		Method: http.MethodPost,
		URL:    c.url(pathSubmitIndex),
		Body: submitIndexRequest{
			AccountContract: accountContract,
			Channel:         "WEBSITE",
			Indexes:         []meterIndex{{Ablbelnr: meterID, IndexValue: value}},
		},
		Resource:   ResourceSubmitReading,
		ErrorLabel: "Failed to submit meter reading",
	})
}
