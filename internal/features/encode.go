package features

import (
	"github.com/vnmchuo/medcost/internal/apperr"
)

// IneligibleAgeMessage is shown when a user below MinAge asks for a prediction.
const IneligibleAgeMessage = "Prediction is only available for users aged 18 or above."

// Encode maps a RawInput to its feature vector. The only rejection is the age rule.
func Encode(in RawInput) (FeatureVector, error) {
	if in.Age < MinAge {
		return FeatureVector{}, &apperr.ValidationError{Field: "age", Message: IneligibleAgeMessage}
	}

	region := in.Region
	if !region.Valid() {
		region = RegionSouthwest
	}

	var smoker float64
	if in.Smoker {
		smoker = 1
	}

	return FeatureVector{
		float64(in.Age),
		in.BMI,
		float64(in.Children),
		float64(in.Gender),
		smoker,
		float64(region),
	}, nil
}
