package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Outcome is the result of one row.
type Outcome struct {
	// Output is the final value, nil when no output node was reached.
	Output any `json:"output"`

	// Message is the diagnostic message of the output node that answered.
	Message *string `json:"message"`
}

// SubExecution is a nested sub-rule run together with the parent rows it covered.
type SubExecution struct {
	// Rows maps each child row to its parent row.
	Rows []int

	// Execution is the child run.
	Execution *Execution
}

// Execution is the interpreter state of one call. It is created per call and
// owned by that call only.
type Execution struct {
	// ID identifies the call.
	ID string

	// Rows is the batch size.
	Rows int

	// Payload holds the validated request columns.
	Payload map[string]Column

	// States maps state keys to their columns, including the output and
	// message accumulators.
	States map[string]Column

	// Filters maps node ids to the rows allowed to reach them.
	Filters map[string]Mask

	// SubRules holds nested sub-rule runs keyed by flow node id.
	SubRules map[string]*SubExecution

	constants map[string]any
}

func newExecution(batch Batch, inputColumns map[string]string, constants map[string]any) *Execution {
	exec := &Execution{
		ID:        uuid.New().String(),
		Rows:      batch.Rows,
		Payload:   batch.Columns,
		States:    make(map[string]Column, len(inputColumns)+2),
		Filters:   make(map[string]Mask),
		SubRules:  make(map[string]*SubExecution),
		constants: constants,
	}
	for key, field := range inputColumns {
		if col, ok := batch.Columns[field]; ok {
			exec.States[key] = col.Clone()
		} else {
			exec.States[key] = make(Column, batch.Rows)
		}
	}
	exec.States[OutputColumn] = make(Column, batch.Rows)
	exec.States[MessageColumn] = make(Column, batch.Rows)
	return exec
}

// Read returns the active rows of a state key. Constant keys are broadcast
// over the active rows. Unknown keys read as missing values.
func (e *Execution) Read(key string, mask Mask) Column {
	n := e.Rows
	if mask != nil {
		n = mask.Count()
	}
	if v, ok := e.constants[key]; ok {
		return Broadcast(v, n)
	}
	col, ok := e.States[key]
	if !ok {
		return make(Column, n)
	}
	return col.Gather(mask)
}

// Write stores values for the active rows of a state key, leaving the other
// rows untouched. A nil mask replaces the whole column.
func (e *Execution) Write(key string, values Column, mask Mask) {
	if mask == nil {
		e.States[key] = values.Clone()
		return
	}
	col, ok := e.States[key]
	if !ok {
		col = make(Column, e.Rows)
		e.States[key] = col
	}
	col.Scatter(mask, values)
}

// UpdateFilters narrows the filters of the target nodes by mask.
func (e *Execution) UpdateFilters(mask Mask, targets []string) {
	if mask == nil {
		return
	}
	for _, id := range targets {
		if current, ok := e.Filters[id]; ok && current != nil {
			e.Filters[id] = current.And(mask)
		} else {
			e.Filters[id] = mask.Clone()
		}
	}
}

// PayloadColumns returns the active rows of every request column.
func (e *Execution) PayloadColumns(mask Mask) map[string]Column {
	out := make(map[string]Column, len(e.Payload))
	for name, col := range e.Payload {
		out[name] = col.Gather(mask)
	}
	return out
}

// HasEnded reports whether every row has a final output.
func (e *Execution) HasEnded() bool {
	return !e.States[OutputColumn].Missing()
}

// Result returns the outcome of every row.
func (e *Execution) Result() []Outcome {
	outputs := e.States[OutputColumn]
	messages := e.States[MessageColumn]
	result := make([]Outcome, e.Rows)
	for i := 0; i < e.Rows; i++ {
		result[i].Output = outputs[i]
		if i < len(messages) && messages[i] != nil {
			msg := ToString(messages[i])
			result[i].Message = &msg
		}
	}
	return result
}

// ExecutionSnapshot is a serializable copy of an Execution.
type ExecutionSnapshot struct {
	ID       string                        `json:"id"`
	Payload  map[string]Column             `json:"payload"`
	States   map[string]Column             `json:"states"`
	Filters  map[string]Mask               `json:"filters"`
	Result   []Outcome                     `json:"result"`
	HasEnded bool                          `json:"has_ended"`
	SubRules map[string]*ExecutionSnapshot `json:"sub_rules,omitempty"`
}

// Snapshot copies the current state of the execution.
func (e *Execution) Snapshot() *ExecutionSnapshot {
	s := &ExecutionSnapshot{
		ID:       e.ID,
		Payload:  make(map[string]Column, len(e.Payload)),
		States:   make(map[string]Column, len(e.States)),
		Filters:  make(map[string]Mask, len(e.Filters)),
		Result:   e.Result(),
		HasEnded: e.HasEnded(),
	}
	for k, v := range e.Payload {
		s.Payload[k] = v.Clone()
	}
	for k, v := range e.States {
		s.States[k] = v.Clone()
	}
	for k, v := range e.Filters {
		s.Filters[k] = v.Clone()
	}
	if len(e.SubRules) > 0 {
		s.SubRules = make(map[string]*ExecutionSnapshot, len(e.SubRules))
		for id, sub := range e.SubRules {
			s.SubRules[id] = sub.Execution.Snapshot()
		}
	}
	return s
}

// NormalizedRecord is the flat view of one row of an execution.
type NormalizedRecord struct {
	// Inputs holds the request values of the row.
	Inputs map[string]any `json:"inputs"`

	// Outputs holds the final outcome of the row.
	Outputs Outcome `json:"outputs"`

	// Nodes maps node ids to the values each of their connectors produced.
	Nodes map[string]map[string]any `json:"nodes"`

	// Connections maps node ids to whether the row reached them.
	Connections map[string]bool `json:"connections"`

	// SubRules holds the row's record inside each nested sub-rule it entered.
	SubRules map[string]NormalizedRecord `json:"sub_rules,omitempty"`
}

// Normalize flattens the execution into one record per row.
func (e *Execution) Normalize() []NormalizedRecord {
	result := e.Result()
	keys := make([]string, 0, len(e.States))
	for key := range e.States {
		if strings.Contains(key, "@") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	children := make(map[string][]NormalizedRecord, len(e.SubRules))
	for id, sub := range e.SubRules {
		children[id] = sub.Execution.Normalize()
	}

	records := make([]NormalizedRecord, e.Rows)
	for row := 0; row < e.Rows; row++ {
		rec := NormalizedRecord{
			Inputs:      make(map[string]any, len(e.Payload)),
			Outputs:     result[row],
			Nodes:       make(map[string]map[string]any),
			Connections: make(map[string]bool, len(e.Filters)),
		}
		for name, col := range e.Payload {
			rec.Inputs[name] = col[row]
		}
		for _, key := range keys {
			at := strings.LastIndex(key, "@")
			nodeID, connector := key[:at], key[at+1:]
			if rec.Nodes[nodeID] == nil {
				rec.Nodes[nodeID] = make(map[string]any)
			}
			rec.Nodes[nodeID][connector] = e.States[key][row]
		}
		for id, mask := range e.Filters {
			rec.Connections[id] = row < len(mask) && mask[row]
		}
		for id, sub := range e.SubRules {
			for childRow, parentRow := range sub.Rows {
				if parentRow == row && childRow < len(children[id]) {
					if rec.SubRules == nil {
						rec.SubRules = make(map[string]NormalizedRecord)
					}
					rec.SubRules[id] = children[id][childRow]
				}
			}
		}
		records[row] = rec
	}
	return records
}

type runFrameKey struct{}

type runFrame struct {
	exec   *Execution
	nodeID string
	rows   []int
}

func withRunFrame(ctx context.Context, exec *Execution, nodeID string, mask Mask) context.Context {
	rows := mask.Indices()
	if mask == nil {
		rows = make([]int, exec.Rows)
		for i := range rows {
			rows[i] = i
		}
	}
	return context.WithValue(ctx, runFrameKey{}, &runFrame{exec: exec, nodeID: nodeID, rows: rows})
}

// RecordSubExecution attaches a nested sub-rule run to the execution of the
// node currently running in ctx. It is a no-op outside of a node invocation.
func RecordSubExecution(ctx context.Context, child *Execution) {
	frame, ok := ctx.Value(runFrameKey{}).(*runFrame)
	if !ok || child == nil {
		return
	}
	frame.exec.SubRules[frame.nodeID] = &SubExecution{Rows: frame.rows, Execution: child}
}
