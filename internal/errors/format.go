package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// style is an ANSI escape sequence.
type style string

const (
	reset     style = "\033[0m"
	styleRed  style = "\033[31m"
	styleCyan style = "\033[36m"
	styleGray style = "\033[90m"
	styleBold style = "\033[1m"
)

var colorEnabled = true

// DisableColors turns off ANSI escapes in Format output.
func DisableColors() { colorEnabled = false }

// EnableColors turns ANSI escapes back on.
func EnableColors() { colorEnabled = true }

func (s style) paint(text string) string {
	if !colorEnabled {
		return text
	}
	return string(s) + text + string(reset)
}

// Format renders the error as a block for terminal display: a headline,
// then the detail, cause, fields and hint sections that are set.
func (e *UIError) Format() string {
	var b strings.Builder

	head := "ERROR: "
	if e.Code != "" {
		head = "ERROR " + e.Code + ": "
	}
	fmt.Fprintf(&b, "\n%s%s\n\n", styleRed.paint(styleBold.paint(head)), e.Message)

	section := func(lines ...string) {
		if len(lines) == 0 {
			return
		}
		for _, l := range lines {
			b.WriteString("  " + l + "\n")
		}
		b.WriteString("\n")
	}

	section(wrapText(e.Detail, 70)...)
	if e.Wrapped != nil {
		section(styleGray.paint("Cause: ") + e.Wrapped.Error())
	}
	var fields []string
	for _, k := range sortedKeys(e.Fields) {
		fields = append(fields, styleGray.paint(k+":")+" "+e.Fields[k])
	}
	section(fields...)
	if e.Suggestion != "" {
		section(styleCyan.paint("Hint: ") + e.Suggestion)
	}
	return b.String()
}

// FormatCompact renders the error on one line for log attributes, for
// example "E161 [config] Invalid port port=0".
func (e *UIError) FormatCompact() string {
	parts := make([]string, 0, 3+len(e.Fields))
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	parts = append(parts, "["+string(e.Category)+"]", e.Message)
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, k+"="+e.Fields[k])
	}
	line := strings.Join(parts, " ")
	if e.Wrapped != nil {
		line += ": " + e.Wrapped.Error()
	}
	return line
}

type jsonError struct {
	Code       string            `json:"code,omitempty"`
	Category   Category          `json:"category"`
	Message    string            `json:"message"`
	Detail     string            `json:"detail,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Cause      string            `json:"cause,omitempty"`
}

// FormatJSON returns the error as a JSON object.
func (e *UIError) FormatJSON() string {
	je := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
		Fields:     e.Fields,
	}
	if e.Wrapped != nil {
		je.Cause = e.Wrapped.Error()
	}
	data, err := json.Marshal(je)
	if err != nil {
		return fmt.Sprintf(`{"category":%q,"message":%q}`, e.Category, e.Message)
	}
	return string(data)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// wrapText breaks text into lines of at most width bytes at word
// boundaries. Words longer than width get a line of their own.
func wrapText(text string, width int) []string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) > width:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// Fprint writes a formatted error to w. Errors that are not UIErrors are
// classified first.
func Fprint(w io.Writer, err error) {
	if err == nil {
		return
	}
	var ue *UIError
	if !stderrors.As(err, &ue) {
		ue = Classify(err)
	}
	fmt.Fprint(w, ue.Format())
}

// PrintError writes err to stderr with Fprint.
func PrintError(err error) {
	Fprint(os.Stderr, err)
}
