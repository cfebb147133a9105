package sensors

const (
	UnitCelsius = "°C"
	UnitPercent = "%"
)

// Bounds is an inclusive value range.
type Bounds struct {
	Min, Max float64
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// Rules holds the validation and conversion metadata of one environment family.
type Rules struct {
	Unit string

	// Raw avl_io values
	RawDivisor   float64      // raw value / RawDivisor; 1 means no scaling
	RawUnscaled  map[int]bool // property ids already in final units
	RawSentinels []float64    // device error codes
	RawBounds    Bounds
	// BoundsScaled checks RawBounds against the converted value instead of
	// the device value.
	BoundsScaled bool

	// Processed provider values; nil means any present value is accepted
	ProcessedBounds *Bounds
}

var rules = map[Family]Rules{
	FamilyTemperature: {
		Unit:         UnitCelsius,
		RawDivisor:   10,
		RawUnscaled:  map[int]bool{202: true, 204: true},
		RawSentinels: []float64{-128},
		RawBounds:    Bounds{Min: -120, Max: 120},
		BoundsScaled: true,
	},
	FamilyHumidity: {
		Unit:            UnitPercent,
		RawDivisor:      10,
		RawSentinels:    []float64{65535, 65534, 65533},
		RawBounds:       Bounds{Min: 0, Max: 1000},
		ProcessedBounds: &Bounds{Min: 0, Max: 100},
	},
	FamilyBattery: {
		Unit:            UnitPercent,
		RawDivisor:      1,
		RawSentinels:    []float64{-128},
		RawBounds:       Bounds{Min: 0, Max: 100},
		ProcessedBounds: &Bounds{Min: 0, Max: 100},
	},
}

// RulesFor returns the rules of an environment family.
func RulesFor(f Family) (Rules, bool) {
	r, ok := rules[f]
	return r, ok
}

// IsSentinel reports whether v is one of the family's raw error codes.
func (r Rules) IsSentinel(v float64) bool {
	for _, s := range r.RawSentinels {
		if v == s {
			return true
		}
	}
	return false
}

// convert validates v read from field f and returns the converted value.
func (r Rules) convert(f Field, v float64) (float64, bool) {
	if f.Raw {
		if r.IsSentinel(v) {
			return 0, false
		}
		if !r.BoundsScaled && !r.RawBounds.Contains(v) {
			return 0, false
		}
		out := v
		if r.RawDivisor != 0 && r.RawDivisor != 1 && !r.RawUnscaled[f.Code] {
			out = v / r.RawDivisor
		}
		if r.BoundsScaled && !r.RawBounds.Contains(out) {
			return 0, false
		}
		return out, true
	}
	if r.ProcessedBounds != nil && !r.ProcessedBounds.Contains(v) {
		return 0, false
	}
	return v, true
}

// rawFamilies maps the AVL property ids of EnvironmentCorrespondence to their family.
var rawFamilies = map[int]Family{
	202: FamilyTemperature, 204: FamilyTemperature,
	72: FamilyTemperature, 73: FamilyTemperature, 74: FamilyTemperature, 75: FamilyTemperature,
	25: FamilyTemperature, 26: FamilyTemperature, 27: FamilyTemperature, 28: FamilyTemperature,
	86: FamilyHumidity, 104: FamilyHumidity, 106: FamilyHumidity, 108: FamilyHumidity,
	29: FamilyBattery, 20: FamilyBattery, 22: FamilyBattery, 23: FamilyBattery,
}

// RawFamily returns the environment family of an AVL property id.
func RawFamily(code int) (Family, bool) {
	f, ok := rawFamilies[code]
	return f, ok
}
