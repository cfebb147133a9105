package sensors

// ExtractState returns the first magnet state among candidates. Only 0 and 1
// are valid for both raw and processed fields.
func ExtractState(candidates []Field, sample Sample) (int, bool) {
	for _, f := range candidates {
		v, ok := sample.Value(f.Name)
		if !ok {
			continue
		}
		if v == 0 || v == 1 {
			return int(v), true
		}
	}
	return 0, false
}

// ExtractMeasurement returns the first valid, converted reading of an
// environment family among candidates, or nil when none qualifies.
func ExtractMeasurement(family Family, candidates []Field, sample Sample) *Measurement {
	r, ok := RulesFor(family)
	if !ok {
		return nil
	}
	for _, f := range candidates {
		v, ok := sample.Value(f.Name)
		if !ok {
			continue
		}
		if out, ok := r.convert(f, v); ok {
			return &Measurement{Value: out, Unit: r.Unit}
		}
	}
	return nil
}

// ExtractTemperature is ExtractMeasurement for FamilyTemperature.
func ExtractTemperature(candidates []Field, sample Sample) *Measurement {
	return ExtractMeasurement(FamilyTemperature, candidates, sample)
}

// ExtractHumidity is ExtractMeasurement for FamilyHumidity.
func ExtractHumidity(candidates []Field, sample Sample) *Measurement {
	return ExtractMeasurement(FamilyHumidity, candidates, sample)
}

// ExtractBattery is ExtractMeasurement for FamilyBattery.
func ExtractBattery(candidates []Field, sample Sample) *Measurement {
	return ExtractMeasurement(FamilyBattery, candidates, sample)
}
