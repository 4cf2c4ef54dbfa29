package flight

import (
	"fmt"
	"math"
	"strings"
)

// Category is one of the seven ordered multiplier bands.
type Category int

const (
	Emergency Category = iota
	Short
	Domestic
	International
	Transatlantic
	AroundWorld
	Moon
)

// NumCategories is the number of bands; categories are 0..NumCategories-1.
const NumCategories = 7

const (
	// RTP is the published return-to-player of the observed game, in percent.
	RTP = 97.0
	// MaxMultiplier is the published payout cap of the observed game.
	MaxMultiplier = 10000.0
)

type categoryInfo struct {
	id          string
	alias       string
	name        string
	shortName   string
	lower       float64
	upper       float64
	description string
}

var categories = [NumCategories]categoryInfo{
	{"emergency", "emergency", "Emergency Landing", "Emergency", 1.0, 1.5, "Flight ended almost immediately"},
	{"short", "short", "Short Flight", "Short", 1.5, 2.0, "Quick hop, barely got off the ground"},
	{"domestic", "domestic", "Domestic Flight", "Domestic", 2.0, 5.0, "Solid domestic route at steady altitude"},
	{"international", "international", "International Flight", "International", 5.0, 10.0, "Crossing borders on an international voyage"},
	{"transatlantic", "transatlantic", "Transatlantic Flight", "Transatlantic", 10.0, 50.0, "Ocean crossing"},
	{"around_world", "aroundWorld", "Around the World", "World Tour", 50.0, 100.0, "Circumnavigating the globe"},
	{"moon", "moon", "To the Moon!", "Moon", 100.0, math.Inf(1), "Breaking atmosphere"},
}

// Categories returns every category in band order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// Classify maps a multiplier to its band. Values below 1.0 and NaN fall into
// Emergency; the upper bound of each band belongs to the next one.
func Classify(multiplier float64) Category {
	switch {
	case !(multiplier >= 1.5):
		return Emergency
	case multiplier < 2.0:
		return Short
	case multiplier < 5.0:
		return Domestic
	case multiplier < 10.0:
		return International
	case multiplier < 50.0:
		return Transatlantic
	case multiplier < 100.0:
		return AroundWorld
	default:
		return Moon
	}
}

// Valid reports whether c is one of the seven bands.
func (c Category) Valid() bool {
	return c >= 0 && c < NumCategories
}

// String returns the wire identifier, e.g. "around_world".
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categories[c].id
}

// Name returns the long display name.
func (c Category) Name() string {
	if !c.Valid() {
		return ""
	}
	return categories[c].name
}

// ShortName returns the compact display name used in legends.
func (c Category) ShortName() string {
	if !c.Valid() {
		return ""
	}
	return categories[c].shortName
}

// Description returns a one-line description of the band.
func (c Category) Description() string {
	if !c.Valid() {
		return ""
	}
	return categories[c].description
}

// Bounds returns the half-open interval [lower, upper) covered by c.
func (c Category) Bounds() (lower, upper float64) {
	if !c.Valid() {
		return math.NaN(), math.NaN()
	}
	info := categories[c]
	return info.lower, info.upper
}

// MarshalText encodes the wire identifier.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText accepts the wire identifier or its camelCase alias.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory resolves "around_world", "aroundWorld" and friends.
func ParseCategory(s string) (Category, error) {
	key := strings.TrimSpace(s)
	for i, info := range categories {
		if strings.EqualFold(key, info.id) || strings.EqualFold(key, info.alias) {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Alias returns the camelCase key used by the stats endpoint.
func (c Category) Alias() string {
	if !c.Valid() {
		return ""
	}
	return categories[c].alias
}
