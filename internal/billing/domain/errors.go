package billing

import "errors"

var (
	// ErrEmptyPeriod is returned when a period string is empty.
	ErrEmptyPeriod = errors.New("billing: empty period")
	// ErrInvalidPeriod is returned when a period is not YYYY-MM.
	ErrInvalidPeriod = errors.New("billing: period must be YYYY-MM")
	// ErrEmptyUnitID is returned when a unit has no identifier.
	ErrEmptyUnitID = errors.New("billing: empty unit id")
	// ErrInvalidUnitData is returned when unit figures cannot be billed (negative or non-finite area/usage).
	ErrInvalidUnitData = errors.New("billing: invalid unit data")
	// ErrInvalidTariff is returned when a tariff row fails validation.
	ErrInvalidTariff = errors.New("billing: invalid tariff")
	// ErrMissingTariff is returned in strict mode when a required tariff row is absent.
	ErrMissingTariff = errors.New("billing: missing tariff")
	// ErrInvalidRecordKey is returned when a charge record key cannot be parsed.
	ErrInvalidRecordKey = errors.New("billing: invalid record key")
	// ErrUnknownSelectionMode is returned for an unsupported tariff selection mode.
	ErrUnknownSelectionMode = errors.New("billing: unknown tariff selection mode")
)
