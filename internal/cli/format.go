package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	// fatih/color disables these automatically when output is not a TTY.
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	valueColor   = color.New(color.FgHiBlack)

	groupTitleColor   = color.New(color.FgCyan, color.Bold)
	sectionTitleColor = color.New(color.FgBlue, color.Bold)
)

// printer writes human output to out and diagnostics to errOut.
type printer struct {
	out    io.Writer
	errOut io.Writer
}

func (p printer) Section(title string) {
	_, _ = headerColor.Fprintf(p.out, "▸ %s\n", title)
}

func (p printer) Success(msg string) {
	_, _ = successColor.Fprintf(p.out, "✓ %s\n", msg)
}

// Warning goes to errOut so that it never corrupts piped output.
func (p printer) Warning(msg string) {
	_, _ = warningColor.Fprintf(p.errOut, "⚠ %s\n", msg)
}

func (p printer) Info(msg string) {
	_, _ = fmt.Fprintln(p.out, msg)
}

func (p printer) LabelValue(label, value string) {
	_, _ = labelColor.Fprintf(p.out, "  %s: ", label)
	_, _ = valueColor.Fprintln(p.out, value)
}

func (p printer) LabelValueWithColor(label, value string, clr *color.Color) {
	_, _ = labelColor.Fprintf(p.out, "  %s: ", label)
	_, _ = clr.Fprintln(p.out, value)
}

func (p printer) List(items []string, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for _, item := range items {
		_, _ = infoColor.Fprintf(p.out, "%s• %s\n", indentStr, item)
	}
}

// Table prints rows under headers with padded columns.
func (p printer) Table(headers []string, rows [][]string) {
	if len(headers) == 0 || len(rows) == 0 {
		return
	}

	colWidths := make([]int, len(headers))
	for i, header := range headers {
		colWidths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	_, _ = fmt.Fprint(p.out, "  ")
	for i, header := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(p.out, "  ")
		}
		_, _ = headerColor.Fprintf(p.out, "%-*s", colWidths[i], header)
	}
	_, _ = fmt.Fprintln(p.out)

	_, _ = fmt.Fprint(p.out, "  ")
	for i, width := range colWidths {
		if i > 0 {
			_, _ = fmt.Fprint(p.out, "  ")
		}
		_, _ = fmt.Fprint(p.out, strings.Repeat("-", width))
	}
	_, _ = fmt.Fprintln(p.out)

	for _, row := range rows {
		_, _ = fmt.Fprint(p.out, "  ")
		for i, cell := range row {
			if i >= len(colWidths) {
				break
			}
			if i > 0 {
				_, _ = fmt.Fprint(p.out, "  ")
			}
			_, _ = valueColor.Fprintf(p.out, "%-*s", colWidths[i], cell)
		}
		_, _ = fmt.Fprintln(p.out)
	}
}

// JSON writes v as indented JSON.
func (p printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintCount formats a count with its singular or plural noun.
func PrintCount(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

// FormatError renders err for display on stderr.
func FormatError(err error) string {
	return errorColor.Sprintf("Error: %v", err)
}
