package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// CLIResponse is the envelope for --format json.
type CLIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// writeResult renders data as JSON or through the text renderer.
func writeResult(out io.Writer, format string, data any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(out)
	return nil
}

func printf(out io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(out, format, args...)
}
