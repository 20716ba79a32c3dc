package engine

import (
	"fmt"
)

// Column is one value per row. A nil element is a missing value.
type Column []any

// Mask selects the active rows of a batch.
type Mask []bool

// Broadcast repeats a scalar over n rows.
func Broadcast(v any, n int) Column {
	col := make(Column, n)
	for i := range col {
		col[i] = v
	}
	return col
}

// NewMask returns a mask of n rows all set to v.
func NewMask(n int, v bool) Mask {
	m := make(Mask, n)
	if v {
		for i := range m {
			m[i] = true
		}
	}
	return m
}

// Count returns the number of selected rows.
func (m Mask) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// Indices returns the positions of the selected rows.
func (m Mask) Indices() []int {
	idx := make([]int, 0, len(m))
	for i, v := range m {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}

// And returns the row-wise conjunction of two masks of the same length.
func (m Mask) And(other Mask) Mask {
	out := make(Mask, len(m))
	for i := range m {
		out[i] = m[i] && i < len(other) && other[i]
	}
	return out
}

// Expand lifts a mask computed over the active rows of m back to the full
// batch. Inactive rows are false. A nil m means every row is active.
func (m Mask) Expand(sub Mask) Mask {
	if m == nil {
		return append(Mask(nil), sub...)
	}
	out := make(Mask, len(m))
	j := 0
	for i, active := range m {
		if !active {
			continue
		}
		if j < len(sub) {
			out[i] = sub[j]
		}
		j++
	}
	return out
}

// Clone returns a copy of the mask.
func (m Mask) Clone() Mask {
	if m == nil {
		return nil
	}
	return append(Mask(nil), m...)
}

// Gather returns the values of the selected rows. A nil mask returns a copy
// of the whole column.
func (c Column) Gather(m Mask) Column {
	if m == nil {
		return c.Clone()
	}
	out := make(Column, 0, m.Count())
	for i, active := range m {
		if !active {
			continue
		}
		if i < len(c) {
			out = append(out, c[i])
		} else {
			out = append(out, nil)
		}
	}
	return out
}

// Scatter writes values into the selected rows, leaving the others untouched.
// values holds one element per selected row.
func (c Column) Scatter(m Mask, values Column) {
	j := 0
	for i, active := range m {
		if !active {
			continue
		}
		if i < len(c) && j < len(values) {
			c[i] = values[j]
		}
		j++
	}
}

// Clone returns a copy of the column.
func (c Column) Clone() Column {
	if c == nil {
		return nil
	}
	return append(Column(nil), c...)
}

// Missing reports whether any row holds a missing value.
func (c Column) Missing() bool {
	for _, v := range c {
		if v == nil {
			return true
		}
	}
	return false
}

// ToColumn normalizes a node output into a column of n rows.
// Slices must already have n elements. Anything else is broadcast.
func ToColumn(v any, n int) (Column, error) {
	var col Column
	switch t := v.(type) {
	case Column:
		col = t
	case []any:
		col = Column(t)
	case Mask:
		col = make(Column, len(t))
		for i, b := range t {
			col[i] = b
		}
	case []bool:
		col = make(Column, len(t))
		for i, b := range t {
			col[i] = b
		}
	case []float64:
		col = make(Column, len(t))
		for i, f := range t {
			col[i] = f
		}
	case []string:
		col = make(Column, len(t))
		for i, s := range t {
			col[i] = s
		}
	default:
		return Broadcast(v, n), nil
	}
	if len(col) != n {
		return nil, fmt.Errorf("output has %d rows, expected %d", len(col), n)
	}
	return col, nil
}

// ToMask normalizes a filter output into a mask of n rows. Missing values are false.
func ToMask(v any, n int) (Mask, error) {
	switch t := v.(type) {
	case Mask:
		if len(t) != n {
			return nil, fmt.Errorf("filter has %d rows, expected %d", len(t), n)
		}
		return t, nil
	case []bool:
		return ToMask(Mask(t), n)
	case bool:
		return NewMask(n, t), nil
	}
	col, err := ToColumn(v, n)
	if err != nil {
		return nil, err
	}
	m := make(Mask, n)
	for i, x := range col {
		m[i] = ToBool(x)
	}
	return m, nil
}
