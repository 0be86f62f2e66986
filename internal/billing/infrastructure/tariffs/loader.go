package tariffs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	billing "estate-billing/internal/billing/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// File is the yaml layout of a tariff schedule. Amounts are strings so
// they are parsed without float rounding.
type File struct {
	Service []ServiceRow `yaml:"service"`
	Parking []ParkingRow `yaml:"parking"`
	Water   []WaterRow   `yaml:"water"`
}

// Window is a validity window; empty bounds are open.
type Window struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ServiceRow is a service tariff entry.
type ServiceRow struct {
	ID       string `yaml:"id"`
	Key      string `yaml:"key"`
	FeePerM2 string `yaml:"fee_per_m2"`
	VAT      string `yaml:"vat_percent"`
	Window   `yaml:",inline"`
}

// ParkingRow is a parking tariff entry.
type ParkingRow struct {
	ID     string `yaml:"id"`
	Tier   string `yaml:"tier"`
	Price  string `yaml:"price"`
	VAT    string `yaml:"vat_percent"`
	Window `yaml:",inline"`
}

// WaterRow is a water band entry; an empty ToM3 marks the open band.
type WaterRow struct {
	ID      string `yaml:"id"`
	Segment string `yaml:"segment"`
	FromM3  string `yaml:"from_m3"`
	ToM3    string `yaml:"to_m3"`
	Price   string `yaml:"price"`
	VAT     string `yaml:"vat_percent"`
	Window  `yaml:",inline"`
}

// LoadFile reads and validates a tariff schedule.
func LoadFile(path string) (billing.TariffSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return billing.TariffSnapshot{}, err
	}
	snapshot, err := Parse(data)
	if err != nil {
		return billing.TariffSnapshot{}, fmt.Errorf("tariff file %s: %w", path, err)
	}
	return snapshot, nil
}

// Parse decodes a yaml tariff schedule.
func Parse(data []byte) (billing.TariffSnapshot, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return billing.TariffSnapshot{}, err
	}
	return file.Snapshot()
}

// Snapshot converts the rows into a validated snapshot, keeping file order.
func (f File) Snapshot() (billing.TariffSnapshot, error) {
	var rows []billing.Tariff
	for i, row := range f.Service {
		t, err := row.tariff()
		if err != nil {
			return billing.TariffSnapshot{}, fmt.Errorf("service[%d]: %w", i, err)
		}
		rows = append(rows, t)
	}
	for i, row := range f.Parking {
		t, err := row.tariff()
		if err != nil {
			return billing.TariffSnapshot{}, fmt.Errorf("parking[%d]: %w", i, err)
		}
		rows = append(rows, t)
	}
	for i, row := range f.Water {
		t, err := row.tariff()
		if err != nil {
			return billing.TariffSnapshot{}, fmt.Errorf("water[%d]: %w", i, err)
		}
		rows = append(rows, t)
	}
	return billing.NewTariffSnapshot(rows...)
}

func (r ServiceRow) tariff() (billing.Tariff, error) {
	var p parser
	t := billing.ServiceTariff{
		ID:         r.ID,
		Key:        billing.ServiceKey(strings.TrimSpace(r.Key)),
		FeePerM2:   p.amount("fee_per_m2", r.FeePerM2),
		VATPercent: p.amount("vat_percent", r.VAT),
		Validity:   p.window(r.Window),
	}
	return t, p.err
}

func (r ParkingRow) tariff() (billing.Tariff, error) {
	var p parser
	t := billing.ParkingTariff{
		ID:           r.ID,
		Tier:         billing.ParkingTier(strings.TrimSpace(r.Tier)),
		PricePerUnit: p.amount("price", r.Price),
		VATPercent:   p.amount("vat_percent", r.VAT),
		Validity:     p.window(r.Window),
	}
	return t, p.err
}

func (r WaterRow) tariff() (billing.Tariff, error) {
	var p parser
	t := billing.WaterTariff{
		ID:         r.ID,
		Segment:    billing.WaterSegment(strings.TrimSpace(r.Segment)),
		FromM3:     p.amount("from_m3", r.FromM3),
		UnitPrice:  p.amount("price", r.Price),
		VATPercent: p.amount("vat_percent", r.VAT),
		Validity:   p.window(r.Window),
	}
	if strings.TrimSpace(r.ToM3) != "" {
		upper := p.amount("to_m3", r.ToM3)
		t.ToM3 = &upper
	}
	return t, p.err
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) amount(field, value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %s is required", billing.ErrInvalidTariff, field)
		}
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s %q is not a number", billing.ErrInvalidTariff, field, value)
	}
	return d
}

func (p *parser) window(w Window) billing.Validity {
	var v billing.Validity
	if from := strings.TrimSpace(w.From); from != "" {
		v.From = p.date("from", from)
	}
	if to := strings.TrimSpace(w.To); to != "" {
		end := p.date("to", to)
		v.To = &end
	}
	return v
}

func (p *parser) date(field, value string) time.Time {
	t, err := time.Parse(dateLayout, value)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s %q is not YYYY-MM-DD", billing.ErrInvalidTariff, field, value)
	}
	return t
}

// Provider serves a tariff file as a tariff source and reloads it on demand.
type Provider struct {
	path     string
	mu       sync.RWMutex
	snapshot billing.TariffSnapshot
}

// NewProvider loads path and returns a provider for it.
func NewProvider(path string) (*Provider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("tariff provider: empty path")
	}
	p := &Provider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the file; the previous snapshot stays on error.
func (p *Provider) Reload() error {
	snapshot, err := LoadFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()
	return nil
}

// Tariffs returns the loaded snapshot.
func (p *Provider) Tariffs(_ context.Context, _ billing.Period) (billing.TariffSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot, nil
}
