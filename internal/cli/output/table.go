package output

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
)

// TableFormatter writes data as KEY/VALUE rows sorted by key. Nested
// mappings are flattened into dotted keys. Data that is not a mapping is
// written as JSON.
type TableFormatter struct {
	NoHeaders bool
}

// Format implements Formatter.
func (f TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	m, err := toMapping(data)
	if err != nil {
		return JSONFormatter{}.Format(w, data)
	}

	rows := make(map[string]string)
	flatten("", m, rows)
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		fmt.Fprintln(tw, "KEY\tVALUE")
	}
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, rows[k])
	}
	return tw.Flush()
}

func flatten(prefix string, m map[string]any, rows map[string]string) {
	for k, v := range m {
		if prefix != "" {
			k = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(k, nested, rows)
			continue
		}
		rows[k] = cell(v)
	}
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		if v == "" {
			return "-"
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		if len(v) == 0 {
			return "-"
		}
		return strings.Join(v, ",")
	case []any:
		if len(v) == 0 {
			return "-"
		}
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "-"
	default:
		return fmt.Sprint(v)
	}
}
