// Package sqlparam turns runnable SQL files into named statements.
//
// A query file declares its inputs as columns of a leading CTE, one per
// line, each marked with an `/* @param */` comment:
//
//	WITH variables AS (
//	    SELECT
//	        'a prompt' AS Prompt   /* @param */
//	        ,20 AS RowLimit        /* @param */
//	)
//
// The file runs as-is on the sqlite command line with the example
// values. Parse swaps each marked value for a `:Name` placeholder so the
// same file can be prepared as an sqlx named statement.
package sqlparam

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
)

// Marker ends every line declaring a parameter.
const Marker = "/* @param */"

// Template is a parsed SQL file with its marked values replaced by named
// placeholders.
type Template struct {
	Body       []byte
	Parameters []string
}

// ErrNoParameters is returned for a template without any marked lines.
var ErrNoParameters = errors.New("no parameters found")

var (
	// declaration is the part of a marked line before the marker: an
	// optional leading comma, the example value, AS and the name.
	declaration = regexp.MustCompile(`^(\s*,?\s*)(.+?)(\s+(?i:AS)\s+)([A-Za-z_][A-Za-z0-9_]*)\s*$`)

	quoted   = regexp.MustCompile(`^[xX]?'(?:[^']|'')*'$`)
	funcCall = regexp.MustCompile(`^[A-Za-z_]\w*\(.*\)$`)
)

// literal reports whether v is a value sqlite evaluates without reference
// to any table, such as a string, blob, number, null, boolean or a call
// like datetime('now').
func literal(v string) bool {
	switch strings.ToLower(v) {
	case "null", "true", "false":
		return true
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return true
	}
	return quoted.MatchString(v) || funcCall.MatchString(v)
}

// Parse rewrites every marked line of tpl from `value AS Name` to
// `:Name AS Name`, dropping the marker, and returns the parameter names in
// order of appearance. A marked line that does not declare a literal, or a
// name declared twice, is an error.
func Parse(tpl []byte) (*Template, error) {
	lines := strings.Split(string(tpl), "\n")
	t := &Template{}
	seen := map[string]bool{}

	for i, line := range lines {
		at := strings.Index(line, Marker)
		if at < 0 {
			continue
		}
		m := declaration.FindStringSubmatch(line[:at])
		if m == nil {
			return nil, fmt.Errorf("line %d: marked line is not of the form \"value AS Name\"", i+1)
		}
		lead, value, as, name := m[1], m[2], m[3], m[4]
		if !literal(value) {
			return nil, fmt.Errorf("line %d: %s is not a literal value", i+1, value)
		}
		if seen[name] {
			return nil, fmt.Errorf("line %d: parameter %s declared twice", i+1, name)
		}
		seen[name] = true
		t.Parameters = append(t.Parameters, name)
		lines[i] = lead + ":" + name + as + name + line[at+len(Marker):]
	}

	if len(t.Parameters) == 0 {
		return nil, ErrNoParameters
	}
	t.Body = []byte(strings.Join(lines, "\n"))
	return t, nil
}

// ParseFile reads filePath from fileFS and parses it.
func ParseFile(fileFS fs.FS, filePath string) (*Template, error) {

	fileBytes, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("file read error: %w", err)
	}
	t, err := Parse(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("query template %q error: %w", filePath, err)
	}
	return t, nil
}
