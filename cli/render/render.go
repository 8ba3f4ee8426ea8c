// Package render writes command results as json, yaml or an aligned table.
//
// Without --format, a terminal gets a table and anything else gets json.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var formats = []Format{FormatJSON, FormatTable, FormatYAML}

// ParseFormat parses a --format value. An empty value yields "" so the
// caller picks the default.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	for _, f := range formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes values in one format.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer builds a stdout renderer from the --format flag.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTerminal(os.Stdout) {
			format = FormatTable
		}
	}
	return &Renderer{format: format, out: os.Stdout}, nil
}

// NewRendererWithWriter builds a renderer writing to out.
func NewRendererWithWriter(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data. Tables accept a struct (one "field: value" line per
// field) or a slice of structs (a header row from json tags, then one row
// per element).
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		if err := writeTable(w, reflect.ValueOf(data)); err != nil {
			return err
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func writeTable(w io.Writer, v reflect.Value) error {
	v = deref(v)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "(no results)")
			return err
		}
		first := deref(v.Index(0))
		if first.Kind() != reflect.Struct {
			for i := range v.Len() {
				if _, err := fmt.Fprintln(w, cell(v.Index(i))); err != nil {
					return err
				}
			}
			return nil
		}
		if _, err := fmt.Fprintln(w, strings.Join(columns(first.Type()), "\t")); err != nil {
			return err
		}
		for i := range v.Len() {
			row := deref(v.Index(i))
			cells := make([]string, row.NumField())
			for j := range cells {
				cells[j] = cell(row.Field(j))
			}
			if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		names := columns(v.Type())
		for i, name := range names {
			if _, err := fmt.Fprintf(w, "%s:\t%s\n", name, cell(v.Field(i))); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, cell(v))
		return err
	}
}

// columns names the fields of t by json tag, falling back to the lowercase
// field name.
func columns(t reflect.Type) []string {
	names := make([]string, t.NumField())
	for i := range names {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			name = strings.ToLower(f.Name)
		}
		names[i] = name
	}
	return names
}

func cell(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return ""
	}
	v = deref(v)
	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Sprintf("[%d items]", v.Len())
		}
		items := make([]string, v.Len())
		for i := range items {
			items[i] = v.Index(i).String()
		}
		if len(items) == 0 {
			return "[]"
		}
		return strings.Join(items, ", ")
	case reflect.Map:
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

func deref(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	return v
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
