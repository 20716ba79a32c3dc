package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

const keySeparator = "\x1f"

// CSVTable looks rows up in a table embedded in the document. Rows are
// matched on every headers_map column except the target, comparing string
// forms; the target column of the first matching row is the output.
type CSVTable struct {
	engine.BaseNode
	data CSVTableMetadata
	keys []string
	rows map[string]string
}

func (c *Catalog) newCSVTable(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &CSVTable{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}

	target := -1
	for i, name := range n.data.HeadersMap {
		if name == n.data.Target {
			target = i
			continue
		}
		n.keys = append(n.keys, name)
	}
	if target < 0 {
		return nil, metadataError(def, fmt.Errorf("target %s is not a headers_map column", n.data.Target))
	}

	n.rows = make(map[string]string, len(n.data.Value))
	for i := 1; i < len(n.data.Value); i++ {
		cells := n.data.Value.Split(i, n.data.Separator)
		if len(cells) != len(n.data.HeadersMap) {
			return nil, metadataError(def, fmt.Errorf("table line %d has %d columns, expected %d", i+1, len(cells), len(n.data.HeadersMap)))
		}
		key := make([]string, 0, len(n.keys))
		for j, cell := range cells {
			if j != target {
				key = append(key, cell)
			}
		}
		k := strings.Join(key, keySeparator)
		if _, exists := n.rows[k]; !exists {
			n.rows[k] = cells[target]
		}
	}
	return n, nil
}

// Metadata implements engine.MetadataCarrier.
func (n *CSVTable) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *CSVTable) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	columns := make([]engine.Column, len(n.keys))
	for i, name := range n.keys {
		col, ok := in.Get(name)
		if !ok {
			return nil, fmt.Errorf("missing input %s in CSVTable node", name)
		}
		columns[i] = col
	}

	out := make(engine.Column, in.Rows)
	key := make([]string, len(columns))
	for row := 0; row < in.Rows; row++ {
		for i, col := range columns {
			key[i] = engine.ToString(col[row])
		}
		if v, ok := n.rows[strings.Join(key, keySeparator)]; ok {
			out[row] = v
		} else if n.data.Default != nil && *n.data.Default != "" {
			out[row] = string(*n.data.Default)
		}
	}
	return engine.Outputs{"output_value": out}, nil
}
