package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TariffKind discriminates the tariff variants.
type TariffKind string

const (
	TariffKindService TariffKind = "service"
	TariffKindParking TariffKind = "parking"
	TariffKindWater   TariffKind = "water"
)

// ServiceKey selects a service tariff row.
type ServiceKey string

const (
	ServiceKeyApartment         ServiceKey = "apartment"
	ServiceKeyBusinessApartment ServiceKey = "business-apartment"
	ServiceKeyKiosk             ServiceKey = "kiosk"
)

// ParkingTier selects a parking tariff row.
type ParkingTier string

const (
	ParkingTierCar                 ParkingTier = "car"
	ParkingTierCompactCar          ParkingTier = "compact-car"
	ParkingTierTwoWheelerFirstTwo  ParkingTier = "two-wheeler-first-two"
	ParkingTierTwoWheelerBeyondTwo ParkingTier = "two-wheeler-beyond-two"
	ParkingTierBicycle             ParkingTier = "bicycle"
)

// WaterSegment separates residential tiering from the commercial flat rate.
type WaterSegment string

const (
	WaterSegmentResidential WaterSegment = "residential"
	WaterSegmentCommercial  WaterSegment = "commercial"
)

// Validity is a tariff row's effective window. A zero From is open at the
// start; a nil To is open-ended. Both bounds are inclusive.
type Validity struct {
	From time.Time  `json:"from"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether at falls inside the window.
func (v Validity) Contains(at time.Time) bool {
	if !v.From.IsZero() && at.Before(v.From) {
		return false
	}
	if v.To != nil && at.After(*v.To) {
		return false
	}
	return true
}

func (v Validity) validate() error {
	if v.To != nil && !v.From.IsZero() && v.To.Before(v.From) {
		return fmt.Errorf("%w: validity ends before it starts", ErrInvalidTariff)
	}
	return nil
}

// Tariff is implemented by every tariff variant.
type Tariff interface {
	Kind() TariffKind
	Window() Validity
	Validate() error
}

// ServiceTariff prices the area-based service fee.
type ServiceTariff struct {
	ID         string          `json:"id"`
	Key        ServiceKey      `json:"key"`
	FeePerM2   decimal.Decimal `json:"fee_per_m2"`
	VATPercent decimal.Decimal `json:"vat_percent"`
	Validity   Validity        `json:"validity"`
}

func (t ServiceTariff) Kind() TariffKind { return TariffKindService }
func (t ServiceTariff) Window() Validity { return t.Validity }

// Validate checks the row can be used for pricing.
func (t ServiceTariff) Validate() error {
	switch t.Key {
	case ServiceKeyApartment, ServiceKeyBusinessApartment, ServiceKeyKiosk:
	default:
		return fmt.Errorf("%w: unknown service key %q", ErrInvalidTariff, t.Key)
	}
	if t.FeePerM2.IsNegative() {
		return fmt.Errorf("%w: service %s: negative fee", ErrInvalidTariff, t.Key)
	}
	if t.VATPercent.IsNegative() {
		return fmt.Errorf("%w: service %s: negative vat", ErrInvalidTariff, t.Key)
	}
	return t.Validity.validate()
}

// ParkingTariff prices one vehicle tier.
type ParkingTariff struct {
	ID           string          `json:"id"`
	Tier         ParkingTier     `json:"tier"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	VATPercent   decimal.Decimal `json:"vat_percent"`
	Validity     Validity        `json:"validity"`
}

func (t ParkingTariff) Kind() TariffKind { return TariffKindParking }
func (t ParkingTariff) Window() Validity { return t.Validity }

// Validate checks the row can be used for pricing.
func (t ParkingTariff) Validate() error {
	switch t.Tier {
	case ParkingTierCar, ParkingTierCompactCar, ParkingTierTwoWheelerFirstTwo, ParkingTierTwoWheelerBeyondTwo, ParkingTierBicycle:
	default:
		return fmt.Errorf("%w: unknown parking tier %q", ErrInvalidTariff, t.Tier)
	}
	if t.PricePerUnit.IsNegative() {
		return fmt.Errorf("%w: parking %s: negative price", ErrInvalidTariff, t.Tier)
	}
	if t.VATPercent.IsNegative() {
		return fmt.Errorf("%w: parking %s: negative vat", ErrInvalidTariff, t.Tier)
	}
	return t.Validity.validate()
}

// WaterTariff is one consumption band. A nil ToM3 marks the open band.
type WaterTariff struct {
	ID         string           `json:"id"`
	Segment    WaterSegment     `json:"segment"`
	FromM3     decimal.Decimal  `json:"from_m3"`
	ToM3       *decimal.Decimal `json:"to_m3,omitempty"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	VATPercent decimal.Decimal  `json:"vat_percent"`
	Validity   Validity         `json:"validity"`
}

func (t WaterTariff) Kind() TariffKind { return TariffKindWater }
func (t WaterTariff) Window() Validity { return t.Validity }

// OpenEnded reports whether the band has no upper bound.
func (t WaterTariff) OpenEnded() bool { return t.ToM3 == nil }

// Validate checks the band can be used for pricing.
func (t WaterTariff) Validate() error {
	switch t.Segment {
	case WaterSegmentResidential, WaterSegmentCommercial:
	default:
		return fmt.Errorf("%w: unknown water segment %q", ErrInvalidTariff, t.Segment)
	}
	if t.FromM3.IsNegative() {
		return fmt.Errorf("%w: water band: negative lower bound", ErrInvalidTariff)
	}
	if t.ToM3 != nil && t.ToM3.LessThanOrEqual(t.FromM3) {
		return fmt.Errorf("%w: water band %s: upper bound not above lower bound", ErrInvalidTariff, t.FromM3)
	}
	if t.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: water band %s: negative price", ErrInvalidTariff, t.FromM3)
	}
	if t.VATPercent.IsNegative() {
		return fmt.Errorf("%w: water band %s: negative vat", ErrInvalidTariff, t.FromM3)
	}
	return t.Validity.validate()
}

// TariffSnapshot is an immutable, validated set of tariff rows. Row order
// is preserved; it decides which row wins under first-match selection.
type TariffSnapshot struct {
	service []ServiceTariff
	parking []ParkingTariff
	water   []WaterTariff
}

// NewTariffSnapshot validates the rows and builds a snapshot.
func NewTariffSnapshot(tariffs ...Tariff) (TariffSnapshot, error) {
	var snapshot TariffSnapshot
	for i, tariff := range tariffs {
		if tariff == nil {
			return TariffSnapshot{}, fmt.Errorf("%w: nil tariff at %d", ErrInvalidTariff, i)
		}
		if err := tariff.Validate(); err != nil {
			return TariffSnapshot{}, err
		}
		switch t := tariff.(type) {
		case ServiceTariff:
			snapshot.service = append(snapshot.service, t)
		case ParkingTariff:
			snapshot.parking = append(snapshot.parking, t)
		case WaterTariff:
			snapshot.water = append(snapshot.water, t)
		default:
			return TariffSnapshot{}, fmt.Errorf("%w: unsupported tariff kind %s", ErrInvalidTariff, tariff.Kind())
		}
	}
	return snapshot, nil
}

// Service returns a copy of the service rows.
func (s TariffSnapshot) Service() []ServiceTariff { return append([]ServiceTariff(nil), s.service...) }

// Parking returns a copy of the parking rows.
func (s TariffSnapshot) Parking() []ParkingTariff { return append([]ParkingTariff(nil), s.parking...) }

// Water returns a copy of the water rows.
func (s TariffSnapshot) Water() []WaterTariff { return append([]WaterTariff(nil), s.water...) }

// Len returns the number of rows in the snapshot.
func (s TariffSnapshot) Len() int { return len(s.service) + len(s.parking) + len(s.water) }

// SelectionMode decides how versioned rows are chosen for a period.
type SelectionMode string

const (
	// SelectFirstMatch ignores validity windows; the first row with a matching key wins.
	SelectFirstMatch SelectionMode = "first_match"
	// SelectPeriodStart uses rows whose window contains the first day of the period.
	SelectPeriodStart SelectionMode = "period_start"
	// SelectPeriodEnd uses rows whose window contains the last day of the period.
	SelectPeriodEnd SelectionMode = "period_end"
)

// ParseSelectionMode parses a mode name; empty means first_match.
func ParseSelectionMode(value string) (SelectionMode, error) {
	switch SelectionMode(value) {
	case "", SelectFirstMatch:
		return SelectFirstMatch, nil
	case SelectPeriodStart, SelectPeriodEnd:
		return SelectionMode(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSelectionMode, value)
	}
}

// TariffSelector resolves tariff rows for one billing period.
type TariffSelector struct {
	snapshot TariffSnapshot
	mode     SelectionMode
	at       time.Time
}

// NewTariffSelector binds a snapshot to a period under the given mode.
func NewTariffSelector(snapshot TariffSnapshot, mode SelectionMode, period Period) TariffSelector {
	selector := TariffSelector{snapshot: snapshot, mode: mode}
	switch mode {
	case SelectPeriodStart:
		selector.at = period.Start()
	case SelectPeriodEnd:
		selector.at = period.LastDay()
	default:
		selector.mode = SelectFirstMatch
	}
	return selector
}

func (s TariffSelector) eligible(window Validity) bool {
	if s.mode == SelectFirstMatch {
		return true
	}
	return window.Contains(s.at)
}

// Service returns the service row for key.
func (s TariffSelector) Service(key ServiceKey) (ServiceTariff, bool) {
	for _, t := range s.snapshot.service {
		if t.Key == key && s.eligible(t.Validity) {
			return t, true
		}
	}
	return ServiceTariff{}, false
}

// Parking returns the parking row for tier.
func (s TariffSelector) Parking(tier ParkingTier) (ParkingTariff, bool) {
	for _, t := range s.snapshot.parking {
		if t.Tier == tier && s.eligible(t.Validity) {
			return t, true
		}
	}
	return ParkingTariff{}, false
}

// WaterBands returns the eligible bands of a segment sorted by lower bound.
// When several rows share a lower bound the first one wins.
func (s TariffSelector) WaterBands(segment WaterSegment) []WaterTariff {
	var bands []WaterTariff
	seen := make(map[string]struct{})
	for _, t := range s.snapshot.water {
		if t.Segment != segment || !s.eligible(t.Validity) {
			continue
		}
		key := t.FromM3.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		bands = append(bands, t)
	}
	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i].FromM3.LessThan(bands[j].FromM3)
	})
	return bands
}

// CommercialWaterBand returns the open-ended commercial band.
func (s TariffSelector) CommercialWaterBand() (WaterTariff, bool) {
	for _, t := range s.WaterBands(WaterSegmentCommercial) {
		if t.OpenEnded() {
			return t, true
		}
	}
	return WaterTariff{}, false
}

func missingRef(kind TariffKind, key string) string {
	return string(kind) + ":" + key
}
