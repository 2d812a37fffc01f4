package generation

import (
	"encoding/json"
	"fmt"
	"io"
)

// failure is the JSON shape of a failed generation.
type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteResult reports a successful generation on w, either as a single
// line of JSON or as a human readable listing.
func WriteResult(w io.Writer, result *Result, asJSON bool) error {
	if result.AudioPaths == nil {
		result.AudioPaths = []string{}
	}
	if asJSON {
		return json.NewEncoder(w).Encode(result)
	}
	_, err := fmt.Fprintf(w, "Generated %d audio files in %.1fs:\n", len(result.AudioPaths), result.ElapsedSeconds)
	if err != nil {
		return err
	}
	for _, p := range result.AudioPaths {
		if _, err := fmt.Fprintf(w, "  %s\n", p); err != nil {
			return err
		}
	}
	return nil
}

// WriteError reports a failure: as JSON on stdout or as an "Error:" line on
// stderr.
func WriteError(stdout, stderr io.Writer, failed error, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(stdout).Encode(failure{Success: false, Error: failed.Error()})
	}
	_, err := fmt.Fprintf(stderr, "Error: %v\n", failed)
	return err
}
