package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ToFloat converts a cell to a float. Strings are parsed and booleans map to 0 and 1.
func ToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert string to float: %q", t)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("could not convert missing value to float")
	default:
		return 0, fmt.Errorf("could not convert %T to float", v)
	}
}

// ToString renders a cell the way it is compared and joined. Integral floats
// drop their fractional part and missing values render as "None".
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ToBool reports the truthiness of a cell. Missing values are false.
func ToBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "t":
			return true
		}
		return false
	default:
		f, err := ToFloat(v)
		return err == nil && f != 0
	}
}

// FloatColumn converts every cell of a column to a float.
func FloatColumn(c Column) ([]float64, error) {
	out := make([]float64, len(c))
	for i, v := range c {
		f, err := ToFloat(v)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
