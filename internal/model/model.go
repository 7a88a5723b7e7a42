// Package model loads the pre-trained scaler and regression artifacts and
// evaluates them. Loaded artifacts are immutable and safe for concurrent use.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vnmchuo/medcost/internal/apperr"
	"github.com/vnmchuo/medcost/internal/features"
)

// Regressor turns a normalized feature vector into a cost estimate.
type Regressor interface {
	Predict(v features.FeatureVector) (float64, error)
}

// Transformer normalizes a raw feature vector.
type Transformer interface {
	Transform(v features.FeatureVector) (features.FeatureVector, error)
}

// Artifacts is the read-only pair loaded at process start.
type Artifacts struct {
	Scaler Transformer
	Model  Regressor
}

// LoadRegressor picks a decoder by file extension.
func LoadRegressor(path string) (Regressor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &apperr.ArtifactError{Path: path, Err: err}
		}
		return ParseEnsemble(path, data)
	default:
		return nil, &apperr.ArtifactError{Path: path, Err: fmt.Errorf("unsupported model format %q", filepath.Ext(path))}
	}
}

// Load reads both artifacts.
func Load(modelPath, scalerPath string) (*Artifacts, error) {
	scaler, err := LoadScaler(scalerPath)
	if err != nil {
		return nil, err
	}
	regressor, err := LoadRegressor(modelPath)
	if err != nil {
		return nil, err
	}
	return &Artifacts{Scaler: scaler, Model: regressor}, nil
}
