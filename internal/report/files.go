package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/memtriage/memtriage/internal/types"
)

var htmlTable = template.Must(template.New("table").Parse(`<table border="1" class="dataframe">
  <thead>
    <tr style="text-align: right;">
{{- range .Headers}}
      <th>{{.}}</th>
{{- end}}
    </tr>
  </thead>
  <tbody>
{{- range .Rows}}
    <tr>
{{- range .}}
      <td>{{.}}</td>
{{- end}}
    </tr>
{{- end}}
  </tbody>
</table>
`))

// padded returns rows with every row extended to the header width.
func padded(t types.PluginTable) [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make([]string, len(t.Headers))
		copy(row, r)
		out = append(out, row)
	}
	return out
}

// EncodeCSV renders the table as comma-separated text with a header row.
func EncodeCSV(t types.PluginTable) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Headers); err != nil {
		return nil, err
	}
	if err := w.WriteAll(padded(t)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHTML renders the table as an HTML table with escaped cells.
func EncodeHTML(t types.PluginTable) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		Headers []string
		Rows    [][]string
	}{t.Headers, padded(t)}
	if err := htmlTable.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTable writes <dir>/<base>.csv and <dir>/<base>.html, replacing any
// previous content. It returns the written paths.
func WriteTable(fs afero.Fs, dir, base string, t types.PluginTable) ([]string, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	csvData, err := EncodeCSV(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	htmlData, err := EncodeHTML(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode html: %w", err)
	}

	csvPath := filepath.Join(dir, base+".csv")
	htmlPath := filepath.Join(dir, base+".html")
	if err := afero.WriteFile(fs, csvPath, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", csvPath, err)
	}
	if err := afero.WriteFile(fs, htmlPath, htmlData, 0644); err != nil {
		return []string{csvPath}, fmt.Errorf("failed to write %s: %w", htmlPath, err)
	}
	return []string{csvPath, htmlPath}, nil
}

// ReadCSV loads a table previously written by WriteTable.
func ReadCSV(fs afero.Fs, p string) (types.PluginTable, error) {
	var t types.PluginTable
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		return t, err
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return t, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	if len(recs) == 0 {
		return t, fmt.Errorf("empty table: %s", p)
	}
	t.Plugin = filepath.Base(p)
	t.Headers = recs[0]
	t.Rows = recs[1:]
	return t, nil
}
