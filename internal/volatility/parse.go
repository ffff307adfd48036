package volatility

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/memtriage/memtriage/internal/types"
)

// ErrPluginParse marks output that could not be turned into a table.
var ErrPluginParse = errors.New("plugin output parse error")

const bannerPrefix = "Volatility 3 Framework"

// IsEmpty reports whether captured output has nothing to parse.
func IsEmpty(out string) bool {
	return strings.TrimSpace(out) == ""
}

// ParseText parses the whitespace-aligned text renderer. The first line
// holds the headers. Each later non-blank line is split into at most
// len(headers) fields; anything past the last split stays in the final
// column, internal whitespace included.
func ParseText(out string) (types.PluginTable, error) {
	var t types.PluginTable
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(out), "\r\n", "\n"), "\n")

	// the framework banner and the blank line after it precede the header
	for len(lines) > 0 && (strings.HasPrefix(strings.TrimSpace(lines[0]), bannerPrefix) || strings.TrimSpace(lines[0]) == "") {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return t, fmt.Errorf("%w: no header line", ErrPluginParse)
	}

	t.Headers = strings.Fields(lines[0])
	if len(t.Headers) == 0 {
		return t, fmt.Errorf("%w: no header line", ErrPluginParse)
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		t.Rows = append(t.Rows, SplitFields(line, len(t.Headers)))
	}
	return t, nil
}

// SplitFields splits line on runs of whitespace into at most n fields.
func SplitFields(line string, n int) []string {
	if n <= 0 {
		return nil
	}
	var out []string
	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	for len(out) < n-1 && rest != "" {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	if rest = strings.TrimRightFunc(rest, unicode.IsSpace); rest != "" {
		out = append(out, rest)
	}
	return out
}

// ParseJSON parses the JSON renderer (-r json): an array of row objects
// whose nested rows live under "__children". Columns follow first-seen key
// order and child rows are emitted depth-first after their parent.
func ParseJSON(out string) (types.PluginTable, error) {
	var t types.PluginTable
	if !gjson.Valid(out) {
		return t, fmt.Errorf("%w: invalid JSON", ErrPluginParse)
	}
	doc := gjson.Parse(out)
	if !doc.IsArray() {
		return t, fmt.Errorf("%w: expected a JSON array of rows", ErrPluginParse)
	}

	index := map[string]int{}
	var records []map[string]string
	var visit func(obj gjson.Result)
	visit = func(obj gjson.Result) {
		if !obj.IsObject() {
			return
		}
		rec := map[string]string{}
		var children []gjson.Result
		obj.ForEach(func(k, v gjson.Result) bool {
			key := k.String()
			if key == "__children" {
				children = v.Array()
				return true
			}
			if _, ok := index[key]; !ok {
				index[key] = len(t.Headers)
				t.Headers = append(t.Headers, key)
			}
			rec[key] = cell(v)
			return true
		})
		records = append(records, rec)
		for _, c := range children {
			visit(c)
		}
	}
	doc.ForEach(func(_, v gjson.Result) bool {
		visit(v)
		return true
	})

	if len(t.Headers) == 0 {
		return t, fmt.Errorf("%w: no columns in JSON output", ErrPluginParse)
	}
	for _, rec := range records {
		row := make([]string, len(t.Headers))
		for k, v := range rec {
			row[index[k]] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func cell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.JSON:
		return v.Raw
	default:
		return v.String()
	}
}
