// Package diagnostic turns raw compiler output into editor-friendly references.
package diagnostic

import (
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one compiler error pointing at a source line.
type Diagnostic struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// pathRef matches a path-qualified source reference at the start of a line,
// e.g. "/tmp/job-1/pkg/Main.java:12: error: ...".
var pathRef = regexp.MustCompile(`(?m)^(?:[A-Za-z]:)?[^\s:]*[/\\]([^/\\\s:]+\.[A-Za-z0-9]+):(\d+):`)

var errorLine = regexp.MustCompile(`^(.+\.java):(\d+):\s*error:\s*(.+)$`)

// Normalize rewrites "path/to/X.java:12:" references into "X.java:12:".
// Lines without a path reference are left untouched.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	return pathRef.ReplaceAllString(text, "$1:$2:")
}

// Parse extracts "file:line: error: message" entries in order of appearance.
func Parse(text string) []Diagnostic {
	var out []Diagnostic
	for _, line := range strings.Split(text, "\n") {
		m := errorLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, Diagnostic{File: m[1], Line: n, Message: strings.TrimSpace(m[3])})
	}
	return out
}
