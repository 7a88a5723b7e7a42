package features

import (
	"fmt"
	"strings"
)

// NumFeatures is the width of every vector the scaler and model consume.
const NumFeatures = 6

// Names is the column order the artifacts were fit with. Artifacts that carry
// feature names are checked against it at load time.
var Names = [NumFeatures]string{"age", "bmi", "children", "gender", "smoker", "region"}

// MinAge is the youngest age a prediction is offered for.
const MinAge = 18

// FeatureVector is the fixed-order numeric encoding of a RawInput.
type FeatureVector [NumFeatures]float64

type Gender int

const (
	GenderMale   Gender = 0
	GenderFemale Gender = 1
)

func (g Gender) String() string {
	if g == GenderFemale {
		return "Female"
	}
	return "Male"
}

// ParseGender treats "1" and "female" as female and everything else as male.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "female", "f":
		return GenderFemale
	default:
		return GenderMale
	}
}

// Region is one of the four regions the model was trained on. The numeric value
// is the code fed to the model.
type Region int

const (
	RegionSouthwest Region = 1
	RegionSoutheast Region = 2
	RegionNorthwest Region = 3
	RegionNortheast Region = 4
)

var regionNames = map[Region]string{
	RegionSouthwest: "southwest",
	RegionSoutheast: "southeast",
	RegionNorthwest: "northwest",
	RegionNortheast: "northeast",
}

var regionsByName = map[string]Region{
	"southwest": RegionSouthwest,
	"southeast": RegionSoutheast,
	"northwest": RegionNorthwest,
	"northeast": RegionNortheast,
}

func (r Region) String() string {
	if name, ok := regionNames[r]; ok {
		return name
	}
	return fmt.Sprintf("region(%d)", int(r))
}

// Valid reports whether r is one of the four known regions.
func (r Region) Valid() bool {
	_, ok := regionNames[r]
	return ok
}

// LookupRegion resolves a region name case-insensitively.
func LookupRegion(name string) (Region, bool) {
	r, ok := regionsByName[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// RegionPolicy decides what happens to region names outside the known four.
type RegionPolicy string

const (
	// RegionFallback maps unknown regions to southwest.
	RegionFallback RegionPolicy = "fallback"
	// RegionStrict rejects unknown regions.
	RegionStrict RegionPolicy = "reject"
)

// ParseRegionPolicy accepts "fallback" (or empty) and "reject"/"strict".
func ParseRegionPolicy(s string) (RegionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback":
		return RegionFallback, nil
	case "reject", "strict":
		return RegionStrict, nil
	default:
		return "", fmt.Errorf("unknown region policy %q", s)
	}
}

// RawInput is the coerced form of one prediction request.
type RawInput struct {
	Age      int
	BMI      float64
	Children int
	Gender   Gender
	Smoker   bool
	Region   Region

	// RegionFallback is set when the submitted region was unknown and replaced
	// under RegionFallback.
	RegionFallback bool
}

// SmokerLabel renders the smoker flag the way the form submits it.
func (in RawInput) SmokerLabel() string {
	if in.Smoker {
		return "yes"
	}
	return "no"
}
