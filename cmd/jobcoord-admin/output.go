package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
)

type outputOptions struct {
	JSON  bool
	Query string
}

func (o outputOptions) validate() error {
	if strings.TrimSpace(o.Query) == "" {
		return nil
	}
	if _, err := jmespath.Compile(o.Query); err != nil {
		return fmt.Errorf("invalid --query: %w", err)
	}
	return nil
}

// render writes v as JSON when --json or --query is set and through text otherwise.
func (o outputOptions) render(w io.Writer, v any, text func(io.Writer) error) error {
	if q := strings.TrimSpace(o.Query); q != "" {
		doc, err := toDocument(v)
		if err != nil {
			return err
		}
		res, err := jmespath.Search(q, doc)
		if err != nil {
			return fmt.Errorf("evaluate --query: %w", err)
		}
		return writeJSON(w, res)
	}
	if o.JSON || text == nil {
		return writeJSON(w, v)
	}
	return text(w)
}

// toDocument round-trips v through JSON so JMESPath sees field names as tagged.
func toDocument(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return doc, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtString(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
