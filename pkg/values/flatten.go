package values

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lejer/eon-client/pkg/client"
)

// ContractData is everything fetched for one account contract in a cycle.
type ContractData struct {
	AccountContract string `json:"account_contract"`

	// Resources maps resource names (client.Resource*) to their payload. A
	// missing entry means neither a fetch nor a snapshot produced data.
	Resources map[string]json.RawMessage `json:"resources"`

	// Stale maps resources served from a snapshot to the snapshot's fetch time.
	Stale map[string]time.Time `json:"stale,omitempty"`
}

// Values is the flat view of one contract.
type Values struct {
	AccountContract   string                  `json:"account_contract"`
	Contract          *Contract               `json:"contract,omitempty"`
	Meters            []Meter                 `json:"meters,omitempty"`
	MeterID           string                  `json:"meter_id,omitempty"`
	ReadingWindow     *Window                 `json:"reading_window,omitempty"`
	UnpaidInvoices    []Invoice               `json:"unpaid_invoices,omitempty"`
	UnpaidTotal       float64                 `json:"unpaid_total"`
	HasUnpaid         bool                    `json:"has_unpaid"`
	InvoiceDue        bool                    `json:"invoice_due"`
	ProsumBalanceDue  bool                    `json:"prosum_balance_due"`
	ConventionMonths  map[int]float64         `json:"convention_months,omitempty"`
	ReadingsByYear    map[int]int             `json:"readings_by_year,omitempty"`
	ConsumptionByYear map[int]YearConsumption `json:"consumption_by_year,omitempty"`
	PaymentsByYear    map[int]int             `json:"payments_by_year,omitempty"`
	ReschedulingPlans int                     `json:"rescheduling_plans"`
	PaymentNotices    int                     `json:"payment_notices"`

	// Problems maps a resource to the reason its values are missing.
	Problems map[string]string `json:"problems,omitempty"`

	// Stale lists resources whose values come from an earlier cycle.
	Stale []string `json:"stale,omitempty"`
}

func (v *Values) problem(resource string, err error) {
	if v.Problems == nil {
		v.Problems = make(map[string]string)
	}
	v.Problems[resource] = err.Error()
}

// Flatten derives every value it can from data. A resource that cannot be
// read is recorded in Problems and leaves its values at their zero state;
// the other resources are unaffected.
func Flatten(data ContractData, now time.Time) Values {
	v := Values{AccountContract: data.AccountContract}
	res := func(name string) json.RawMessage { return data.Resources[name] }

	if c, err := ContractDetails(res(client.ResourceAccountContract)); err == nil {
		v.Contract = &c
	} else {
		v.problem(client.ResourceAccountContract, err)
	}

	index := res(client.ResourceMeterIndex)
	if meters, err := Meters(index); err == nil {
		v.Meters = meters
		if w, err := ReadingWindow(index); err == nil {
			v.ReadingWindow = &w
		}
		if id, err := MeterID(index); err == nil {
			v.MeterID = id
		} else {
			v.problem(client.ResourceMeterIndex, err)
		}
	} else {
		v.problem(client.ResourceMeterIndex, err)
	}

	unpaid := res(client.ResourceUnpaidInvoices)
	if invoices, err := UnpaidInvoices(unpaid); err == nil {
		v.UnpaidInvoices = invoices
		v.UnpaidTotal, _ = UnpaidTotal(unpaid)
		v.HasUnpaid, _ = HasUnpaid(unpaid)
		v.InvoiceDue, _ = InvoiceDue(unpaid, now)
	} else {
		v.problem(client.ResourceUnpaidInvoices, err)
	}

	if due, err := HasBalance(res(client.ResourceInvoiceBalanceProsum)); err == nil {
		v.ProsumBalanceDue = due
	} else {
		v.problem(client.ResourceInvoiceBalanceProsum, err)
	}

	if months, err := ConventionMonths(res(client.ResourceConsumptionConvention)); err == nil {
		v.ConventionMonths = months
	} else {
		v.problem(client.ResourceConsumptionConvention, err)
	}

	if readings, err := ReadingsByYear(res(client.ResourceReadingHistory)); err == nil {
		v.ReadingsByYear = readings
	} else {
		v.problem(client.ResourceReadingHistory, err)
	}

	if consumption, err := ConsumptionByYear(res(client.ResourceConsumptionGraph)); err == nil {
		v.ConsumptionByYear = consumption
	} else {
		v.problem(client.ResourceConsumptionGraph, err)
	}

	if records, err := DecodePayments(res(client.ResourcePayments)); err == nil {
		v.PaymentsByYear = PaymentsByYear(records)
	} else {
		v.problem(client.ResourcePayments, err)
	}

	if n, err := Count(res(client.ResourceReschedulingPlans)); err == nil {
		v.ReschedulingPlans = n
	} else {
		v.problem(client.ResourceReschedulingPlans, err)
	}

	if n, err := Count(res(client.ResourcePaymentNotices)); err == nil {
		v.PaymentNotices = n
	} else {
		v.problem(client.ResourcePaymentNotices, err)
	}

	for resource := range data.Stale {
		v.Stale = append(v.Stale, resource)
	}
	sort.Strings(v.Stale)

	return v
}
