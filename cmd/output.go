package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/slurmgate/slurmgate/internal/config"
)

var outputFormats = []string{"table", "json", "yaml"}

// table is a plain listing rendered by tablewriter.
type table struct {
	Header []string
	Rows   [][]string
}

func (t *table) add(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *table) render(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(t.Header)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(true)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeaderLine(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetBorder(false)
	tw.SetTablePadding("\t")
	tw.SetNoWhiteSpace(true)
	tw.AppendBulk(t.Rows)
	tw.Render()
}

// emit writes data in the selected output format. For table output the
// build callback turns data into rows.
func emit(data interface{}, build func() *table) error {
	return emitTo(os.Stdout, config.Global.Output, data, build)
}

func emitTo(w io.Writer, format string, data interface{}, build func() *table) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		// YAML keys follow the json tags.
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	case "", "table":
		if build == nil {
			return emitTo(w, "yaml", data, nil)
		}
		build().render(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// orDash keeps empty table cells visible.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tableOutput() bool {
	return config.Global.Output == "" || config.Global.Output == "table"
}
