package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// passThroughCategory makes a matched interval answer with the input itself.
const passThroughCategory = "{value}"

type interval struct {
	start    float64
	end      float64
	category string
}

// IntervalCat maps a numeric input to the category of the left-closed
// interval [start, end) that contains it.
type IntervalCat struct {
	engine.BaseNode
	data      IntervalCatMetadata
	intervals []interval
}

func (c *Catalog) newIntervalCat(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &IntervalCat{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(n.data.Headers))
	for i, h := range n.data.Headers {
		index[h] = i
	}
	cell := func(cells []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	// malformed bounds parse as NaN and never match; IntervalCatValidator
	// reports them at build time
	for i := 1; i < len(n.data.Value); i++ {
		cells := n.data.Value.Split(i, n.data.Separator)
		n.intervals = append(n.intervals, interval{
			start:    parseBound(cell(cells, n.data.StartIntervalColumn)),
			end:      parseBound(cell(cells, n.data.EndIntervalColumn)),
			category: cell(cells, n.data.CategoryColumn),
		})
	}
	return n, nil
}

func parseBound(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Kind implements engine.Node.
func (*IntervalCat) Kind() engine.Kind { return engine.KindConstant }

// Metadata implements engine.MetadataCarrier.
func (n *IntervalCat) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *IntervalCat) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	values, err := in.Require("input_value", n.Type())
	if err != nil {
		return nil, err
	}

	out := make(engine.Column, len(values))
	for i, v := range values {
		f, err := engine.ToFloat(v)
		if err == nil {
			if iv, ok := n.lookup(f); ok {
				if iv.category == passThroughCategory {
					out[i] = v
				} else {
					out[i] = iv.category
				}
			}
		}
		if out[i] == nil && n.data.Default != nil {
			out[i] = string(*n.data.Default)
		}
	}
	return engine.Outputs{"output_value": out}, nil
}

func (n *IntervalCat) lookup(v float64) (interval, bool) {
	for _, iv := range n.intervals {
		if iv.start <= v && v < iv.end {
			return iv, true
		}
	}
	return interval{}, false
}

// IntervalCatValidator checks that every IntervalCatV0 table has numeric
// bounds and no overlapping intervals.
type IntervalCatValidator struct{}

// Name implements engine.Validator.
func (IntervalCatValidator) Name() string { return "interval_cat_v0" }

// Validate implements engine.Validator.
func (IntervalCatValidator) Validate(_ context.Context, in engine.ValidationInput) (bool, string) {
	for _, id := range in.Document.NodeIDs() {
		def := in.Document.Nodes[id]
		if !strings.EqualFold(def.Name, "IntervalCatV0") {
			continue
		}
		if msg := validateIntervalTable(def); msg != "" {
			return false, fmt.Sprintf("%s in node %s", msg, id)
		}
	}
	return true, ""
}

func validateIntervalTable(def engine.NodeDefinition) string {
	var data IntervalCatMetadata
	if len(def.Data) > 0 {
		if err := json.Unmarshal(def.Data, &data); err != nil {
			return fmt.Sprintf("validation error: %v", err)
		}
	}
	startCol, endCol := data.StartIntervalColumn, data.EndIntervalColumn
	if startCol == "" || endCol == "" || len(data.Value) == 0 {
		return ""
	}

	header := data.Value.Split(0, data.Separator)
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	si, okStart := index[startCol]
	ei, okEnd := index[endCol]
	if !okStart || !okEnd {
		return fmt.Sprintf("missing required columns: %s, %s", startCol, endCol)
	}

	rows := make([]interval, 0, len(data.Value)-1)
	for i := 1; i < len(data.Value); i++ {
		cells := data.Value.Split(i, data.Separator)
		if len(cells) != len(header) {
			return fmt.Sprintf("validation error: expected %d fields in line %d, saw %d", len(header), i+1, len(cells))
		}
		start, errStart := strconv.ParseFloat(strings.TrimSpace(cells[si]), 64)
		end, errEnd := strconv.ParseFloat(strings.TrimSpace(cells[ei]), 64)
		if errStart != nil || errEnd != nil {
			return "invalid numeric values in interval columns"
		}
		rows = append(rows, interval{start: start, end: end})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].start < rows[j].start })
	for i := 1; i < len(rows); i++ {
		if rows[i].start < rows[i-1].end {
			return "overlapping intervals detected"
		}
	}
	return ""
}
