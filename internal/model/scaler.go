package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/vnmchuo/medcost/internal/apperr"
	"github.com/vnmchuo/medcost/internal/features"
)

// Scaler is a fitted standard scaler: z = (x - mean) / scale.
type Scaler struct {
	mean  features.FeatureVector
	scale features.FeatureVector
}

type scalerArtifact struct {
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

// LoadScaler reads a scaler artifact from disk.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.ArtifactError{Path: path, Err: err}
	}
	return ParseScaler(path, data)
}

// ParseScaler decodes a scaler artifact. path is only used in error messages.
func ParseScaler(path string, data []byte) (*Scaler, error) {
	var a scalerArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &apperr.ArtifactError{Path: path, Err: fmt.Errorf("decode scaler: %w", err)}
	}

	if len(a.Mean) != features.NumFeatures || len(a.Scale) != features.NumFeatures {
		return nil, &apperr.ArtifactError{Path: path, Err: fmt.Errorf(
			"scaler has %d means and %d scales, want %d", len(a.Mean), len(a.Scale), features.NumFeatures)}
	}
	if err := checkFeatureNames(a.FeatureNames); err != nil {
		return nil, &apperr.ArtifactError{Path: path, Err: err}
	}

	s := &Scaler{}
	for i := 0; i < features.NumFeatures; i++ {
		if math.IsNaN(a.Mean[i]) || math.IsNaN(a.Scale[i]) || math.IsInf(a.Scale[i], 0) {
			return nil, &apperr.ArtifactError{Path: path, Err: fmt.Errorf("scaler column %d is not finite", i)}
		}
		s.mean[i] = a.Mean[i]
		s.scale[i] = a.Scale[i]
		// A zero-variance column is left unscaled.
		if s.scale[i] == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

// Transform normalizes v. The receiver is never mutated.
func (s *Scaler) Transform(v features.FeatureVector) (features.FeatureVector, error) {
	if s == nil {
		return features.FeatureVector{}, &apperr.ArtifactError{Path: "scaler", Err: errors.New("scaler not loaded")}
	}
	var out features.FeatureVector
	for i := range v {
		out[i] = (v[i] - s.mean[i]) / s.scale[i]
	}
	return out, nil
}

// checkFeatureNames accepts an empty list (older artifacts carry none).
func checkFeatureNames(names []string) error {
	if len(names) == 0 {
		return nil
	}
	if len(names) != features.NumFeatures {
		return fmt.Errorf("artifact lists %d features, want %d", len(names), features.NumFeatures)
	}
	for i, name := range names {
		if name != features.Names[i] {
			return fmt.Errorf("feature %d is %q, want %q", i, name, features.Names[i])
		}
	}
	return nil
}
