package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"notebroker/internal/usage"
	pkgauth "notebroker/pkg/auth"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates an --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputFormatTable:
		return OutputFormatTable, nil
	case OutputFormatJSON, OutputFormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
}

// Printer renders command results to a writer.
type Printer struct {
	out    io.Writer
	format OutputFormat
}

// NewPrinter creates a printer for the given format.
func NewPrinter(out io.Writer, format OutputFormat) *Printer {
	return &Printer{out: out, format: format}
}

type statusView struct {
	pkgauth.Status
	ExpiresIn string `json:"expires_in,omitempty"`
}

// Status prints the session status.
func (p *Printer) Status(st pkgauth.Status, now time.Time) error {
	view := statusView{Status: st}
	if !st.ExpiresAt.IsZero() {
		view.ExpiresIn = st.ExpiresIn(now)
	}
	if p.format != OutputFormatTable {
		return p.structured(view)
	}

	t := p.createTable()
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("KEY"), text.FgHiCyan.Sprint("VALUE")})
	t.AppendRow(table.Row{"State", formatState(st)})

	if st.Authenticated || st.Email != "" {
		t.AppendRow(table.Row{"User", st.Email})
		t.AppendRow(table.Row{"User ID", st.UserID})
		t.AppendRow(table.Row{"Plan", formatTier(st.Tier)})
		t.AppendRow(table.Row{"Expires", formatExpiry(st, now)})
	}
	if st.LoginURL != "" {
		t.AppendRow(table.Row{"Login URL", st.LoginURL})
	}
	t.Render()
	return nil
}

// Decisions prints usage decisions, one row per operation, followed by the
// message of every denial or warning.
func (p *Printer) Decisions(ds []usage.Decision) error {
	if p.format != OutputFormatTable {
		if len(ds) == 1 {
			return p.structured(ds[0])
		}
		return p.structured(ds)
	}

	t := p.createTable()
	t.AppendHeader(table.Row{"OPERATION", "USED", "LIMIT", "REMAINING", "RESETS", "STATUS"})
	for _, d := range ds {
		t.AppendRow(table.Row{
			string(d.Operation),
			d.Current,
			formatLimit(d.Limit, d.Unlimited),
			formatLimit(d.Remaining, d.Unlimited),
			formatReset(d.ResetsAt),
			formatDecision(d),
		})
	}
	t.Render()

	for _, d := range ds {
		if d.Message == "" {
			continue
		}
		if d.Allowed {
			fmt.Fprintln(p.out, FormatWarning(d.Message))
		} else {
			fmt.Fprintln(p.out, text.FgRed.Sprint(d.Message))
		}
	}
	return nil
}

func (p *Printer) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	return t
}

// structured writes v as JSON or YAML. YAML is converted from the JSON form so
// both share field names.
func (p *Printer) structured(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if p.format == OutputFormatJSON {
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

func formatState(st pkgauth.Status) string {
	switch {
	case st.State == pkgauth.StateAuthenticating:
		return text.FgYellow.Sprint("Waiting for browser sign-in")
	case st.State == pkgauth.StateRefreshing:
		return text.FgYellow.Sprint("Refreshing")
	case st.Authenticated:
		return text.FgGreen.Sprint("Signed in")
	default:
		return text.FgHiBlack.Sprint("Not signed in")
	}
}

func formatTier(t pkgauth.Tier) string {
	if t == pkgauth.TierPro {
		return text.FgHiMagenta.Sprint(string(t))
	}
	return string(t)
}

func formatExpiry(st pkgauth.Status, now time.Time) string {
	if st.ExpiresAt.IsZero() {
		return "unknown"
	}
	in := st.ExpiresIn(now)
	if in == "expired" {
		if st.Authenticated {
			return text.FgYellow.Sprint("expired, refresh on next use")
		}
		return text.FgRed.Sprint("expired")
	}
	if st.RefreshDue {
		return text.FgYellow.Sprintf("in %s (refresh due)", in)
	}
	return "in " + in
}

func formatLimit(n int, unlimited bool) string {
	if unlimited {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func formatReset(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("Mon Jan 2 15:04 MST")
}

func formatDecision(d usage.Decision) string {
	switch {
	case !d.Allowed:
		return text.FgRed.Sprint("limit reached")
	case d.Warning:
		return text.FgYellow.Sprint("low")
	default:
		return text.FgGreen.Sprint("ok")
	}
}

// FormatSuccess formats a success message for CLI output
func FormatSuccess(msg string) string {
	return fmt.Sprintf("%s %s", text.FgGreen.Sprint("✓"), msg)
}

// FormatWarning formats a warning message for CLI output
func FormatWarning(msg string) string {
	return fmt.Sprintf("%s %s", text.FgYellow.Sprint("⚠"), msg)
}
