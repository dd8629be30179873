package sim

import (
	"errors"
	"math"
	"regexp"
	"strings"
)

const (
	MicrosPerDollar = int64(1_000_000)

	// HoursPerYear annualizes trailing-period figures.
	HoursPerYear = float64(365 * 24)

	// MinSharePriceDollars is the hard floor for a corporation's
	// calculated share price.
	MinSharePriceDollars = 1.00
)

// UnitType is a category of business unit with its own input/output rates.
type UnitType string

const (
	UnitProduction UnitType = "production"
	UnitRetail     UnitType = "retail"
	UnitService    UnitType = "service"
	UnitExtraction UnitType = "extraction"
)

// AllUnitTypes lists every unit type in a fixed order, used when a stable
// iteration order matters for output (never for aggregation math).
var AllUnitTypes = []UnitType{UnitProduction, UnitRetail, UnitService, UnitExtraction}

// ItemKind separates raw extractable commodities from manufactured goods.
type ItemKind string

const (
	KindResource ItemKind = "resource"
	KindProduct  ItemKind = "product"
)

var (
	ErrCorporationNotFound  = errors.New("corporation not found")
	ErrEntryNotFound        = errors.New("market entry not found")
	ErrSectorNotFound       = errors.New("sector not found")
	ErrItemNotFound         = errors.New("item not found")
	ErrInvalidUnitType      = errors.New("invalid unit type")
	ErrUnitTypeNotEnabled   = errors.New("unit type not enabled for sector")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInsufficientUnits    = errors.New("insufficient units")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrEntryExists          = errors.New("corporation already entered this market")
	ErrTxConflict           = errors.New("transaction conflict, retry")
	ErrUnauthorized         = errors.New("unauthorized")
)

// Item is a tradable resource or product with its pricing anchors.
// ReferencePrice is the base price for resources and the reference value
// for products; CurrentPrice never falls below MinPrice.
type Item struct {
	Name           string   `json:"name"`
	Kind           ItemKind `json:"kind"`
	ReferencePrice float64  `json:"reference_price"`
	MinPrice       float64  `json:"min_price"`
}

// FlowKey addresses the input/output rates of one (sector, unitType) pair.
type FlowKey struct {
	Sector   string
	UnitType UnitType
}

// FlowRates are quantities per unit per hour, keyed by item name.
type FlowRates struct {
	ResourceRates map[string]float64 `json:"resource_rates"`
	ProductRates  map[string]float64 `json:"product_rates"`
}

// UnitFlow describes what one unit of a given type in a given sector
// consumes and produces every hour.
type UnitFlow struct {
	Inputs  FlowRates `json:"inputs"`
	Outputs FlowRates `json:"outputs"`
}

// Sector is a business category with its allowed unit types and
// production/extraction capabilities.
type Sector struct {
	Name                 string            `json:"name"`
	Enabled              map[UnitType]bool `json:"enabled"`
	ProducedProduct      string            `json:"produced_product,omitempty"`
	PrimaryResource      string            `json:"primary_resource,omitempty"`
	ExtractableResources []string          `json:"extractable_resources,omitempty"`
}

// EconomyConfig is one immutable snapshot of the configuration graph.
// Edits go through the store, which publishes a new snapshot under a new
// version and invalidates derived caches.
type EconomyConfig struct {
	Version   int64
	Sectors   map[string]Sector
	Flows     map[FlowKey]UnitFlow
	Resources []Item
	Products  []Item
}

// Flow returns the configured unit flow, or a zero flow when the pair has
// no configuration. Absence is a valid state, never an error.
func (c *EconomyConfig) Flow(sector string, ut UnitType) UnitFlow {
	if c == nil {
		return UnitFlow{}
	}
	return c.Flows[FlowKey{Sector: sector, UnitType: ut}]
}

// ItemByName looks up an item in either universe.
func (c *EconomyConfig) ItemByName(name string) (Item, bool) {
	for _, it := range c.Resources {
		if it.Name == name {
			return it, true
		}
	}
	for _, it := range c.Products {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// UnitCounts is the economy-wide census of built units per
// (sector, unitType) pair.
type UnitCounts map[FlowKey]int64

// MarketEntry is a corporation's presence in one state/sector market.
type MarketEntry struct {
	ID            int64              `json:"id"`
	CorporationID int64              `json:"corporation_id"`
	StateCode     string             `json:"state_code"`
	SectorName    string             `json:"sector_name"`
	Units         map[UnitType]int64 `json:"units"`
}

// ShareTrade is one recorded share transaction.
type ShareTrade struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	AgeHours float64 `json:"age_hours"`
}

// CorporationFinancials are the aggregates the valuation engine reads.
type CorporationFinancials struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	Capital             float64 `json:"capital"`
	Debt                float64 `json:"debt"`
	TotalShares         int64   `json:"total_shares"`
	PublicShares        int64   `json:"public_shares"`
	DividendBps         int32   `json:"dividend_bps"`
	TrailingProfit      float64 `json:"trailing_profit"`
	TrailingPeriodHours float64 `json:"trailing_period_hours"`
}

var (
	stateCodeRE  = regexp.MustCompile(`^[A-Z]{2}$`)
	validKinds   = map[ItemKind]bool{KindResource: true, KindProduct: true}
	validUnitTys = map[UnitType]bool{
		UnitProduction: true,
		UnitRetail:     true,
		UnitService:    true,
		UnitExtraction: true,
	}
)

func ValidateUnitType(ut UnitType) error {
	if !validUnitTys[ut] {
		return ErrInvalidUnitType
	}
	return nil
}

func ValidateStateCode(code string) error {
	if !stateCodeRE.MatchString(strings.TrimSpace(code)) {
		return errors.New("state code must be exactly 2 uppercase letters")
	}
	return nil
}

func ValidItemKind(k ItemKind) bool {
	return validKinds[k]
}

func DollarsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerDollar)))
}

func MicrosToDollars(v int64) float64 {
	return float64(v) / float64(MicrosPerDollar)
}

// RoundCents rounds to two decimal places, the resolution share trades
// execute at.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// clampCount treats negative unit counts as zero. Negative counts indicate
// upstream data inconsistency and must never flow into aggregation or
// financial math.
func clampCount(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
