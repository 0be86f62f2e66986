package billing

// Classification is the physical kind of a unit.
type Classification string

const (
	ClassificationApartment Classification = "Apartment"
	ClassificationKiosk     Classification = "Commercial-Kiosk"
)

// Occupancy is how a unit is currently used.
type Occupancy string

const (
	OccupancyOwner    Occupancy = "Owner-occupied"
	OccupancyRented   Occupancy = "Rented"
	OccupancyBusiness Occupancy = "Business"
)

// Unit is a billable apartment or kiosk.
type Unit struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Classification Classification `json:"classification"`
	AreaM2         float64        `json:"area_m2"`
	Occupancy      Occupancy      `json:"occupancy"`
}

// IsCommercial reports whether the unit bills at commercial rates.
// Kiosks always do; apartments do when used as a business.
func (u Unit) IsCommercial() bool {
	return u.Classification == ClassificationKiosk || u.Occupancy == OccupancyBusiness
}

// ServiceKey returns the service tariff key the unit is billed under.
func (u Unit) ServiceKey() ServiceKey {
	switch {
	case u.Classification == ClassificationKiosk:
		return ServiceKeyKiosk
	case u.Occupancy == OccupancyBusiness:
		return ServiceKeyBusinessApartment
	default:
		return ServiceKeyApartment
	}
}

// Owner is the party responsible for a unit. Its fields are copied onto charge records as-is.
type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}
