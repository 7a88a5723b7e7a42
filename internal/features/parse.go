package features

import (
	"math"
	"strconv"
	"strings"

	"github.com/vnmchuo/medcost/internal/apperr"
)

// Form is the read side of url.Values.
type Form interface {
	Get(key string) string
}

// Parse coerces submitted fields into a RawInput. Missing fields take the same
// defaults the web form has always used; malformed numbers are rejected.
func Parse(form Form, policy RegionPolicy) (RawInput, error) {
	var in RawInput
	var err error

	if in.Age, err = intField(form, "age", 0); err != nil {
		return RawInput{}, err
	}
	// Ineligible users hear about their age before any other field problem.
	if in.Age < MinAge {
		return RawInput{}, &apperr.ValidationError{Field: "age", Message: IneligibleAgeMessage}
	}
	if in.BMI, err = floatField(form, "bmi", 0); err != nil {
		return RawInput{}, err
	}
	if in.BMI <= 0 {
		return RawInput{}, &apperr.ValidationError{Field: "bmi", Message: "BMI must be a positive number."}
	}
	if in.Children, err = intField(form, "children", 0); err != nil {
		return RawInput{}, err
	}
	if in.Children < 0 {
		return RawInput{}, &apperr.ValidationError{Field: "children", Message: "Number of children cannot be negative."}
	}

	in.Gender = ParseGender(valueOr(form, "gender", "0"))
	in.Smoker = strings.EqualFold(strings.TrimSpace(valueOr(form, "smoker", "no")), "yes")

	regionName := valueOr(form, "region", "southwest")
	region, ok := LookupRegion(regionName)
	if !ok {
		if policy == RegionStrict {
			return RawInput{}, &apperr.ValidationError{Field: "region", Message: "Unknown region " + strconv.Quote(regionName) + "."}
		}
		region = RegionSouthwest
		in.RegionFallback = true
	}
	in.Region = region

	return in, nil
}

func valueOr(form Form, key, fallback string) string {
	if v := strings.TrimSpace(form.Get(key)); v != "" {
		return v
	}
	return fallback
}

func intField(form Form, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &apperr.ValidationError{Field: key, Message: key + " must be a whole number."}
	}
	return v, nil
}

func floatField(form Form, key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &apperr.ValidationError{Field: key, Message: key + " must be a number."}
	}
	return v, nil
}
