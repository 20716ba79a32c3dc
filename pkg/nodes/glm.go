package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// DefaultLink is the link function of a GLM node that declares none.
const DefaultLink = "log"

var linkFuncs = map[string]func(float64) float64{
	"identity":    func(eta float64) float64 { return eta },
	"log":         math.Log,
	"exponential": math.Exp,
	"logit":       func(eta float64) float64 { return math.Log(eta / (1 - eta)) },
	"inverse":     func(eta float64) float64 { return 1 / eta },
}

type feature struct {
	name  string
	input string
}

// GLM scores rows with a generalized linear model: the link function applied
// to the intercept plus the weighted sum of the feature inputs.
type GLM struct {
	engine.BaseNode
	data      GLMMetadata
	weights   map[string]any
	intercept float64
	link      func(float64) float64
	features  []feature
}

func (c *Catalog) newGLM(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &GLM{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	if n.data.Link == "" {
		n.data.Link = DefaultLink
	}
	n.link = linkFuncs[n.data.Link]

	if err := json.Unmarshal([]byte(n.data.Value), &n.weights); err != nil {
		return nil, metadataError(def, fmt.Errorf("weights are not a JSON object: %w", err))
	}
	if raw, ok := n.weights["intercept"]; ok {
		f, err := engine.ToFloat(raw)
		if err != nil {
			return nil, metadataError(def, fmt.Errorf("intercept: %w", err))
		}
		n.intercept = f
	}

	for name, index := range n.data.HeadersMap {
		n.features = append(n.features, feature{name: name, input: fmt.Sprintf("input_value_%d", index)})
	}
	sort.Slice(n.features, func(i, j int) bool { return n.features[i].input < n.features[j].input })
	return n, nil
}

// Metadata implements engine.MetadataCarrier.
func (n *GLM) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *GLM) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	dot := make([]float64, in.Rows)
	missing := make([]bool, in.Rows)
	for _, f := range n.features {
		col, ok := in.Get(f.input)
		if !ok {
			return nil, fmt.Errorf("missing input %s in GLM node", f.input)
		}
		raw, ok := n.weights[f.name]
		if !ok {
			return nil, fmt.Errorf("missing weight for feature %s in GLM node", f.name)
		}
		w, err := engine.ToFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("weight for feature %s: %w", f.name, err)
		}
		for i, v := range col {
			if v == nil {
				missing[i] = true
				continue
			}
			x, err := engine.ToFloat(v)
			if err != nil {
				return nil, fmt.Errorf("feature %s row %d: %w", f.name, i, err)
			}
			dot[i] += x * w
		}
	}

	out := make(engine.Column, in.Rows)
	for i := range dot {
		if missing[i] {
			continue
		}
		y := n.link(n.intercept + dot[i])
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		out[i] = y
	}
	return engine.Outputs{"output_value": out}, nil
}
