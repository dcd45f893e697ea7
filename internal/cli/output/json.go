package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter writes data as JSON, one document per call. Keys and
// values are printed verbatim, so HTML-like characters in snapshot names
// stay readable.
type JSONFormatter struct {
	// Compact drops indentation.
	Compact bool
}

// Format implements Formatter.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if !f.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}
