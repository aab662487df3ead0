package tool

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

// decodeInputs copies a step's resolved inputs into a typed struct. Scalars are
// converted loosely so "59" and 59 bind the same identifier.
func decodeInputs(capability string, inputs map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("%s: build input decoder: %w", capability, err)
	}
	if err := dec.Decode(inputs); err != nil {
		return fmt.Errorf("%w: %s inputs: %v", contractx.ErrValidation, capability, err)
	}
	return nil
}

// toFloat converts a database cell into a float.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case []byte:
		return toFloat(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// column extracts the numeric values of one column, skipping cells that are not
// numbers.
func column(rows contractx.RowSet, name string) ([]float64, error) {
	idx := rows.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: rows have no column %q (have %s)", contractx.ErrValidation, name, strings.Join(rows.Columns, ","))
	}
	out := make([]float64, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		if idx >= len(row) {
			continue
		}
		if f, ok := toFloat(row[idx]); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// firstNumericColumn picks the first column that is not in skip and holds a
// number in the first row.
func firstNumericColumn(rows contractx.RowSet, skip ...string) string {
	if len(rows.Rows) == 0 {
		return ""
	}
next:
	for i, c := range rows.Columns {
		for _, s := range skip {
			if strings.EqualFold(c, s) {
				continue next
			}
		}
		if i < len(rows.Rows[0]) {
			if _, ok := toFloat(rows.Rows[0][i]); ok {
				return c
			}
		}
	}
	return ""
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
