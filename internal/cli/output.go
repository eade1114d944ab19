package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/flashdb/nsredis/internal/client"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Print writes v to w in format f.
func Print(w io.Writer, f Format, v any) error {
	if f == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	var b strings.Builder
	writeText(&b, v, "")
	_, err := io.WriteString(w, b.String())
	return err
}

// writeText renders v the way redis-cli does for a terminal.
func writeText(b *strings.Builder, v any, indent string) {
	switch x := v.(type) {
	case nil:
		b.WriteString("(nil)\n")
	case string:
		fmt.Fprintf(b, "%q\n", x)
	case int64:
		fmt.Fprintf(b, "(integer) %d\n", x)
	case bool:
		if x {
			b.WriteString("OK\n")
		} else {
			b.WriteString("(nil)\n")
		}
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		writeList(b, items, indent)
	case []any:
		writeList(b, x, indent)
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		writeMap(b, m, indent)
	case map[string]any:
		writeMap(b, x, indent)
	case client.ScanResult:
		fmt.Fprintf(b, "1) \"%d\"\n", x.Cursor)
		b.WriteString(indent + "2) ")
		keys := make([]any, len(x.Keys))
		for i, k := range x.Keys {
			keys[i] = k
		}
		writeList(b, keys, indent+"   ")
	default:
		fmt.Fprintf(b, "%v\n", x)
	}
}

func writeList(b *strings.Builder, items []any, indent string) {
	if len(items) == 0 {
		b.WriteString("(empty array)\n")
		return
	}
	width := len(fmt.Sprint(len(items)))
	for i, item := range items {
		if i > 0 {
			b.WriteString(indent)
		}
		label := fmt.Sprintf("%*d) ", width, i+1)
		b.WriteString(label)
		writeText(b, item, indent+strings.Repeat(" ", len(label)))
	}
}

func writeMap(b *strings.Builder, m map[string]any, indent string) {
	if len(m) == 0 {
		b.WriteString("(empty hash)\n")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(indent)
		}
		label := fmt.Sprintf("%q => ", k)
		b.WriteString(label)
		writeText(b, m[k], indent+strings.Repeat(" ", len(label)))
	}
}
