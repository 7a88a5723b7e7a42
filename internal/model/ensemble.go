package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vnmchuo/medcost/internal/apperr"
	"github.com/vnmchuo/medcost/internal/features"
)

// Ensemble is a gradient-boosted regression tree ensemble in the layout produced
// by XGBoost's JSON tree dump. Output is base_score plus the sum of leaf values.
type Ensemble struct {
	baseScore float64
	trees     []tree
}

type tree struct {
	nodes []node // indexed by nodeid
}

type node struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	yes       int
	no        int
	missing   int
}

type ensembleArtifact struct {
	BaseScore    float64    `json:"base_score"`
	FeatureNames []string   `json:"feature_names"`
	Trees        []dumpNode `json:"trees"`
}

type dumpNode struct {
	NodeID         int        `json:"nodeid"`
	Split          string     `json:"split"`
	SplitCondition float64    `json:"split_condition"`
	Yes            int        `json:"yes"`
	No             int        `json:"no"`
	Missing        int        `json:"missing"`
	Leaf           *float64   `json:"leaf"`
	Children       []dumpNode `json:"children"`
}

// ParseEnsemble decodes a tree ensemble artifact. path is only used in error messages.
func ParseEnsemble(path string, data []byte) (*Ensemble, error) {
	var a ensembleArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &apperr.ArtifactError{Path: path, Err: fmt.Errorf("decode model: %w", err)}
	}
	if err := checkFeatureNames(a.FeatureNames); err != nil {
		return nil, &apperr.ArtifactError{Path: path, Err: err}
	}
	if len(a.Trees) == 0 {
		return nil, &apperr.ArtifactError{Path: path, Err: errors.New("model has no trees")}
	}

	e := &Ensemble{baseScore: a.BaseScore, trees: make([]tree, 0, len(a.Trees))}
	for i := range a.Trees {
		t, err := buildTree(&a.Trees[i])
		if err != nil {
			return nil, &apperr.ArtifactError{Path: path, Err: fmt.Errorf("tree %d: %w", i, err)}
		}
		e.trees = append(e.trees, t)
	}
	return e, nil
}

// NumTrees returns the number of boosted trees.
func (e *Ensemble) NumTrees() int { return len(e.trees) }

// Predict evaluates every tree against v.
func (e *Ensemble) Predict(v features.FeatureVector) (float64, error) {
	sum := e.baseScore
	for i := range e.trees {
		leaf, err := e.trees[i].eval(v)
		if err != nil {
			return 0, &apperr.InferenceError{Err: fmt.Errorf("tree %d: %w", i, err)}
		}
		sum += leaf
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, &apperr.InferenceError{Err: fmt.Errorf("non-finite prediction %v", sum)}
	}
	return sum, nil
}

func (t tree) eval(v features.FeatureVector) (float64, error) {
	id := 0
	// A well-formed tree reaches a leaf in fewer steps than it has nodes.
	for steps := 0; steps <= len(t.nodes); steps++ {
		n := t.nodes[id]
		if n.leaf {
			return n.value, nil
		}
		x := v[n.feature]
		switch {
		case math.IsNaN(x):
			id = n.missing
		case x < n.threshold:
			id = n.yes
		default:
			id = n.no
		}
	}
	return 0, errors.New("tree does not terminate")
}

func buildTree(root *dumpNode) (tree, error) {
	flat := map[int]*dumpNode{}
	var walk func(n *dumpNode) error
	walk = func(n *dumpNode) error {
		if _, dup := flat[n.NodeID]; dup {
			return fmt.Errorf("duplicate node %d", n.NodeID)
		}
		flat[n.NodeID] = n
		for i := range n.Children {
			if err := walk(&n.Children[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return tree{}, err
	}
	if root.NodeID != 0 {
		return tree{}, fmt.Errorf("root node id is %d, want 0", root.NodeID)
	}

	t := tree{nodes: make([]node, len(flat))}
	for id, d := range flat {
		if id < 0 || id >= len(flat) {
			return tree{}, fmt.Errorf("node id %d out of range", id)
		}
		if d.Leaf != nil {
			t.nodes[id] = node{leaf: true, value: *d.Leaf}
			continue
		}
		feature, err := featureIndex(d.Split)
		if err != nil {
			return tree{}, fmt.Errorf("node %d: %w", id, err)
		}
		for _, child := range []int{d.Yes, d.No, d.Missing} {
			if _, ok := flat[child]; !ok {
				return tree{}, fmt.Errorf("node %d references missing node %d", id, child)
			}
		}
		t.nodes[id] = node{
			feature:   feature,
			threshold: d.SplitCondition,
			yes:       d.Yes,
			no:        d.No,
			missing:   d.Missing,
		}
	}
	return t, nil
}

// featureIndex resolves "f3" style indices and named features.
func featureIndex(split string) (int, error) {
	for i, name := range features.Names {
		if split == name {
			return i, nil
		}
	}
	if rest, ok := strings.CutPrefix(split, "f"); ok {
		if i, err := strconv.Atoi(rest); err == nil && i >= 0 && i < features.NumFeatures {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}
