// Package values turns the nested API payloads into flat named values.
//
// Every extractor returns an explicit result: either the value or an error
// describing why it could not be derived (missing payload, unexpected shape,
// field absent). Nothing panics on malformed input.
package values

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DueSoonDays is how many days before maturity an unpaid invoice counts as due.
const DueSoonDays = 3

// MaturityLayout is the date format of invoice maturity dates (dd.mm.YYYY).
const MaturityLayout = "02.01.2006"

var (
	// ErrNoData means the payload was missing (the fetch failed).
	ErrNoData = errors.New("no data")

	// ErrUnexpectedShape means the payload did not have the expected structure.
	ErrUnexpectedShape = errors.New("unexpected payload shape")

	// ErrNoMeterID means no register ID (ablbelnr) was found in the index payload.
	ErrNoMeterID = errors.New("meter id not found")

	// ErrNoDevice means the requested meter device is not in the index payload.
	ErrNoDevice = errors.New("meter device not found")
)

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return ErrNoData
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

// Meter index payload.

type meterIndexPayload struct {
	IndexDetails struct {
		Devices []device `json:"devices"`
	} `json:"indexDetails"`
	ReadingPeriod struct {
		StartDate      string `json:"startDate"`
		EndDate        string `json:"endDate"`
		AllowedReading bool   `json:"allowedReading"`
		AllowChange    bool   `json:"allowChange"`
	} `json:"readingPeriod"`
}

type device struct {
	DeviceNumber string       `json:"deviceNumber"`
	DeviceType   string       `json:"deviceType"`
	Indexes      []meterIndex `json:"indexes"`
}

type meterIndex struct {
	Ablbelnr     string `json:"ablbelnr"`
	CurrentValue Number `json:"currentValue"`
	OldValue     Number `json:"oldValue"`
	Unit         string `json:"unit"`
}

// Window is the period in which a meter reading can be submitted.
type Window struct {
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Allowed     bool   `json:"allowed"`
	AllowChange bool   `json:"allow_change"`
}

// Meter is one metering device with its first register.
type Meter struct {
	DeviceNumber string `json:"device_number"`
	Kind         string `json:"kind"`
	Unit         string `json:"unit"`
	MeterID      string `json:"meter_id,omitempty"`
	Current      int    `json:"current"`
	Proposed     int    `json:"proposed"`
	Previous     int    `json:"previous"`
}

// Meter kinds.
const (
	KindGas      = "gas"
	KindElectric = "electric"
)

func decodeIndex(index json.RawMessage) (*meterIndexPayload, error) {
	var p meterIndexPayload
	if err := decode(index, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MeterID returns the register ID (ablbelnr) of the first device that has
// registers. Submitting a reading needs it.
func MeterID(index json.RawMessage) (string, error) {
	p, err := decodeIndex(index)
	if err != nil {
		return "", err
	}
	for _, d := range p.IndexDetails.Devices {
		if len(d.Indexes) > 0 {
			if id := d.Indexes[0].Ablbelnr; id != "" {
				return id, nil
			}
			break
		}
	}
	return "", ErrNoMeterID
}

// ReadingWindow returns the reading period of the index payload.
func ReadingWindow(index json.RawMessage) (Window, error) {
	p, err := decodeIndex(index)
	if err != nil {
		return Window{}, err
	}
	return Window{
		Start:       p.ReadingPeriod.StartDate,
		End:         p.ReadingPeriod.EndDate,
		Allowed:     p.ReadingPeriod.AllowedReading,
		AllowChange: p.ReadingPeriod.AllowChange,
	}, nil
}

func meterKind(d device) string {
	if d.DeviceType == "ELECTRIC" {
		return KindElectric
	}
	for _, idx := range d.Indexes {
		if idx.Unit == "KWH" {
			return KindElectric
		}
	}
	return KindGas
}

func meterUnit(kind string) string {
	if kind == KindElectric {
		return "kWh"
	}
	return "m³"
}

// Meters returns one entry per distinct device number, in payload order.
func Meters(index json.RawMessage) ([]Meter, error) {
	p, err := decodeIndex(index)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	meters := []Meter{}
	for _, d := range p.IndexDetails.Devices {
		if seen[d.DeviceNumber] {
			continue
		}
		seen[d.DeviceNumber] = true

		kind := meterKind(d)
		m := Meter{DeviceNumber: d.DeviceNumber, Kind: kind, Unit: meterUnit(kind)}
		if len(d.Indexes) > 0 {
			idx := d.Indexes[0]
			m.MeterID = idx.Ablbelnr
			m.Proposed = idx.CurrentValue.Int()
			m.Previous = idx.OldValue.Int()
			m.Current = currentValue(idx)
		}
		meters = append(meters, m)
	}
	return meters, nil
}

func currentValue(idx meterIndex) int {
	if idx.CurrentValue != 0 {
		return idx.CurrentValue.Int()
	}
	return idx.OldValue.Int()
}

// CurrentIndex returns the current value of a device's first register: the
// proposed value when set, otherwise the last reading. An empty deviceNumber
// selects the first device with registers.
func CurrentIndex(index json.RawMessage, deviceNumber string) (int, error) {
	p, err := decodeIndex(index)
	if err != nil {
		return 0, err
	}
	for _, d := range p.IndexDetails.Devices {
		if deviceNumber != "" && d.DeviceNumber != deviceNumber {
			continue
		}
		if len(d.Indexes) > 0 {
			return currentValue(d.Indexes[0]), nil
		}
	}
	return 0, ErrNoDevice
}

// Invoices.

type invoice struct {
	InvoiceNumber string `json:"invoiceNumber"`
	IssuedValue   Number `json:"issuedValue"`
	BalanceValue  Number `json:"balanceValue"`
	MaturityDate  string `json:"maturityDate"`
}

// Invoice is an unpaid invoice.
type Invoice struct {
	Number       string  `json:"number,omitempty"`
	Amount       float64 `json:"amount"`
	MaturityDate string  `json:"maturity_date,omitempty"`
}

func decodeInvoices(raw json.RawMessage) ([]invoice, error) {
	var list []invoice
	if err := decode(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// displayAmount is the issued value when nothing was paid yet, otherwise the
// remaining balance.
func displayAmount(inv invoice) float64 {
	if inv.IssuedValue == inv.BalanceValue {
		return inv.IssuedValue.Float()
	}
	return inv.BalanceValue.Float()
}

// UnpaidInvoices lists the invoices with an outstanding amount.
func UnpaidInvoices(raw json.RawMessage) ([]Invoice, error) {
	list, err := decodeInvoices(raw)
	if err != nil {
		return nil, err
	}
	out := []Invoice{}
	for _, inv := range list {
		if amount := displayAmount(inv); amount > 0 {
			out = append(out, Invoice{
				Number:       inv.InvoiceNumber,
				Amount:       round2(amount),
				MaturityDate: inv.MaturityDate,
			})
		}
	}
	return out, nil
}

// UnpaidTotal sums the outstanding amounts, rounded to bani.
func UnpaidTotal(raw json.RawMessage) (float64, error) {
	invoices, err := UnpaidInvoices(raw)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, inv := range invoices {
		total += inv.Amount
	}
	return round2(total), nil
}

// HasUnpaid reports whether any invoice has a positive issued value.
func HasUnpaid(raw json.RawMessage) (bool, error) {
	list, err := decodeInvoices(raw)
	if err != nil {
		return false, err
	}
	for _, inv := range list {
		if inv.IssuedValue > 0 {
			return true, nil
		}
	}
	return false, nil
}

// InvoiceDue reports whether an invoice with a positive balance matures
// within DueSoonDays of now or is overdue. Invoices whose maturity date does
// not parse are ignored.
func InvoiceDue(raw json.RawMessage, now time.Time) (bool, error) {
	list, err := decodeInvoices(raw)
	if err != nil {
		return false, err
	}
	for _, inv := range list {
		if inv.BalanceValue <= 0 || inv.MaturityDate == "" {
			continue
		}
		due, err := time.ParseInLocation(MaturityLayout, inv.MaturityDate, now.Location())
		if err != nil {
			continue
		}
		if daysUntil(due, now) <= DueSoonDays {
			return true, nil
		}
	}
	return false, nil
}

// daysUntil counts whole days from now to t, rounding toward the past.
func daysUntil(t, now time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}

// HasBalance reports whether any entry of a balance list is positive.
func HasBalance(raw json.RawMessage) (bool, error) {
	list, err := decodeInvoices(raw)
	if err != nil {
		return false, err
	}
	for _, inv := range list {
		if inv.BalanceValue > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Consumption convention.

type conventionPayload []struct {
	ConventionLine map[string]json.RawMessage `json:"conventionLine"`
}

// ConventionMonths returns the agreed monthly quantities (months 1..12) that
// are greater than zero.
func ConventionMonths(raw json.RawMessage) (map[int]float64, error) {
	var p conventionPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	months := make(map[int]float64)
	if len(p) == 0 {
		return months, nil
	}
	for i := 1; i <= 12; i++ {
		field, ok := p[0].ConventionLine["valueMonth"+strconv.Itoa(i)]
		if !ok {
			continue
		}
		var v Number
		if err := json.Unmarshal(field, &v); err != nil {
			return nil, fmt.Errorf("%w: valueMonth%d: %v", ErrUnexpectedShape, i, err)
		}
		if v > 0 {
			months[i] = v.Float()
		}
	}
	return months, nil
}

// Reading history.

type historyPayload struct {
	History []struct {
		Year   int `json:"year"`
		Meters []struct {
			Indexes []struct {
				Readings []json.RawMessage `json:"readings"`
			} `json:"indexes"`
		} `json:"meters"`
	} `json:"history"`
}

// ReadingsByYear counts the readings of the first register per year.
func ReadingsByYear(raw json.RawMessage) (map[int]int, error) {
	var p historyPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	out := make(map[int]int)
	for _, y := range p.History {
		if y.Year == 0 {
			continue
		}
		count := 0
		if len(y.Meters) > 0 && len(y.Meters[0].Indexes) > 0 {
			count = len(y.Meters[0].Indexes[0].Readings)
		}
		out[y.Year] = count
	}
	return out, nil
}

// Consumption graph.

type graphPayload struct {
	Consumption []struct {
		Year                     int    `json:"year"`
		Month                    int    `json:"month"`
		ConsumptionValue         Number `json:"consumptionValue"`
		ConsumptionValueDayValue Number `json:"consumptionValueDayValue"`
	} `json:"consumption"`
}

// YearConsumption is the billed consumption of one year.
type YearConsumption struct {
	Total  float64         `json:"total"`
	Months map[int]float64 `json:"months"`
}

// ConsumptionByYear groups the graph consumption per year and month.
func ConsumptionByYear(raw json.RawMessage) (map[int]YearConsumption, error) {
	var p graphPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	out := make(map[int]YearConsumption)
	for _, item := range p.Consumption {
		if item.Year == 0 || item.Month == 0 {
			continue
		}
		y, ok := out[item.Year]
		if !ok {
			y = YearConsumption{Months: make(map[int]float64)}
		}
		y.Months[item.Month] = item.ConsumptionValue.Float()
		out[item.Year] = y
	}
	for year, y := range out {
		var total float64
		for _, v := range y.Months {
			total += v
		}
		y.Total = round2(total)
		out[year] = y
	}
	return out, nil
}

// Payments.

// PaymentsByYear counts payment records per year of paymentDate (YYYY-…).
// Records without a parseable year are skipped.
func PaymentsByYear(records []json.RawMessage) map[int]int {
	out := make(map[int]int)
	for _, r := range records {
		var p struct {
			PaymentDate string `json:"paymentDate"`
		}
		if json.Unmarshal(r, &p) != nil || p.PaymentDate == "" {
			continue
		}
		year, err := strconv.Atoi(strings.SplitN(p.PaymentDate, "-", 2)[0])
		if err != nil {
			continue
		}
		out[year]++
	}
	return out
}

// DecodePayments decodes a stored payments array.
func DecodePayments(raw json.RawMessage) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := decode(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Wallet.

// Wallet is the account wallet.
type Wallet struct {
	Balance     float64 `json:"balance"`
	Unallocated float64 `json:"unallocated"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// WalletBalance extracts the wallet. A payload without a balance is ErrNoData.
func WalletBalance(raw json.RawMessage) (Wallet, error) {
	var p struct {
		Balance           *Number `json:"balance"`
		UnallocatedAmount Number  `json:"unallocatedAmount"`
		UpdatedAt         string  `json:"updatedAt"`
	}
	if err := decode(raw, &p); err != nil {
		return Wallet{}, err
	}
	if p.Balance == nil {
		return Wallet{}, ErrNoData
	}
	return Wallet{
		Balance:     p.Balance.Float(),
		Unallocated: p.UnallocatedAmount.Float(),
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

// Contract details.

// Contract holds the contract details and prices.
type Contract struct {
	AccountContract        string  `json:"account_contract"`
	ConsumptionPointCode   string  `json:"consumption_point_code,omitempty"`
	POD                    string  `json:"pod,omitempty"`
	DistributorName        string  `json:"distributor_name,omitempty"`
	Price                  float64 `json:"price"`
	PriceWithVAT           float64 `json:"price_with_vat"`
	SupplierPrice          float64 `json:"supplier_price"`
	DistributionPrice      float64 `json:"distribution_price"`
	TransportPrice         float64 `json:"transport_price"`
	PCS                    float64 `json:"pcs,omitempty"`
	VerificationExpiration string  `json:"verification_expiration,omitempty"`
	RevisionExpiration     string  `json:"revision_expiration,omitempty"`
}

// ContractDetails extracts the contract details payload.
func ContractDetails(raw json.RawMessage) (Contract, error) {
	var p struct {
		AccountContract string `json:"accountContract"`
		ConsumptionCode string `json:"consumptionPointCode"`
		POD             string `json:"pod"`
		DistributorName string `json:"distributorName"`
		Prices          struct {
			ContractualPrice        Number `json:"contractualPrice"`
			ContractualPriceWithVat Number `json:"contractualPriceWithVat"`
			PCS                     Number `json:"pcs"`
			PriceComponents         struct {
				SupplierPrice     Number `json:"supplierPrice"`
				DistributionPrice Number `json:"distributionPrice"`
				TransportPrice    Number `json:"transportPrice"`
			} `json:"priceComponents"`
		} `json:"supplierAndDistributionPrice"`
		VerificationExpirationDate string `json:"verificationExpirationDate"`
		RevisionExpirationDate     string `json:"revisionExpirationDate"`
	}
	if err := decode(raw, &p); err != nil {
		return Contract{}, err
	}
	return Contract{
		AccountContract:        p.AccountContract,
		ConsumptionPointCode:   p.ConsumptionCode,
		POD:                    p.POD,
		DistributorName:        p.DistributorName,
		Price:                  p.Prices.ContractualPrice.Float(),
		PriceWithVAT:           p.Prices.ContractualPriceWithVat.Float(),
		SupplierPrice:          p.Prices.PriceComponents.SupplierPrice.Float(),
		DistributionPrice:      p.Prices.PriceComponents.DistributionPrice.Float(),
		TransportPrice:         p.Prices.PriceComponents.TransportPrice.Float(),
		PCS:                    p.Prices.PCS.Float(),
		VerificationExpiration: p.VerificationExpirationDate,
		RevisionExpiration:     p.RevisionExpirationDate,
	}, nil
}

// Count returns the length of a list payload.
func Count(raw json.RawMessage) (int, error) {
	var list []json.RawMessage
	if err := decode(raw, &list); err != nil {
		return 0, err
	}
	return len(list), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
