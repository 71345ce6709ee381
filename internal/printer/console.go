package printer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/funnyzak/reqtrace/internal/codec"
	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/internal/protocol"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

const timeLayout = "2006-01-02T15:04:05-07:00"

// ColorScheme color scheme
type ColorScheme struct {
	MethodGET      *color.Color
	MethodPOST     *color.Color
	MethodPUT      *color.Color
	MethodDELETE   *color.Color
	MethodPATCH    *color.Color
	MethodOther    *color.Color
	Status2xx      *color.Color
	Status3xx      *color.Color
	Status4xx      *color.Color
	Status5xx      *color.Color
	Pending        *color.Color
	HeaderKey      *color.Color
	HeaderValue    *color.Color
	TableHeader    *color.Color
	Separator      *color.Color
	Timestamp      *color.Color
	BodyContent    *color.Color
	BinaryNotice   *color.Color
	TruncateNotice *color.Color
}

// NewColorScheme creates a new color scheme; a disabled scheme prints plain text.
func NewColorScheme(enabled bool) *ColorScheme {
	scheme := &ColorScheme{
		MethodGET:      color.New(color.FgBlue, color.Bold),
		MethodPOST:     color.New(color.FgGreen, color.Bold),
		MethodPUT:      color.New(color.FgYellow, color.Bold),
		MethodDELETE:   color.New(color.FgRed, color.Bold),
		MethodPATCH:    color.New(color.FgMagenta, color.Bold),
		MethodOther:    color.New(color.FgWhite, color.Bold),
		Status2xx:      color.New(color.FgGreen),
		Status3xx:      color.New(color.FgCyan),
		Status4xx:      color.New(color.FgYellow),
		Status5xx:      color.New(color.FgRed, color.Bold),
		Pending:        color.New(color.FgHiBlack),
		HeaderKey:      color.New(color.FgCyan),
		HeaderValue:    color.New(color.FgWhite),
		TableHeader:    color.New(color.Bold, color.Underline),
		Separator:      color.New(color.FgYellow, color.Bold),
		Timestamp:      color.New(color.FgHiBlack),
		BodyContent:    color.New(color.FgWhite),
		BinaryNotice:   color.New(color.FgHiRed, color.Bold),
		TruncateNotice: color.New(color.FgHiYellow, color.Bold),
	}
	if !enabled {
		for _, c := range []*color.Color{
			scheme.MethodGET, scheme.MethodPOST, scheme.MethodPUT, scheme.MethodDELETE,
			scheme.MethodPATCH, scheme.MethodOther, scheme.Status2xx, scheme.Status3xx,
			scheme.Status4xx, scheme.Status5xx, scheme.Pending, scheme.HeaderKey,
			scheme.HeaderValue, scheme.TableHeader, scheme.Separator, scheme.Timestamp,
			scheme.BodyContent, scheme.BinaryNotice, scheme.TruncateNotice,
		} {
			c.DisableColor()
		}
	}
	return scheme
}

// ConsolePrinter renders results as aligned tables and raw HTTP-style detail views
type ConsolePrinter struct {
	out         io.Writer
	colorScheme *ColorScheme
	body        *bodyFormatter
	logger      logger.Logger
	width       int
}

// NewConsolePrinter creates a new console printer
func NewConsolePrinter(w io.Writer, cfg *config.OutputConfig, log logger.Logger) *ConsolePrinter {
	return &ConsolePrinter{
		out:         w,
		colorScheme: NewColorScheme(cfg.Color),
		body:        newBodyFormatter(cfg.Pretty, cfg.MaxBodyBytes, log),
		logger:      log,
		width:       terminalWidth(w),
	}
}

// terminalWidth returns the width of w when it is a terminal, or 0 (unbounded).
func terminalWidth(w io.Writer) int {
	if testWidth := os.Getenv("REQTRACE_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < 40:
		return 40
	case width > 200:
		return 200
	default:
		return width
	}
}

func (p *ConsolePrinter) separatorWidth() int {
	if p.width <= 0 {
		return 80
	}
	return p.width
}

func (p *ConsolePrinter) Ping(r *protocol.PingResult) error {
	_, err := fmt.Fprintf(p.out, "pong from reqtrace %s (pid %d) at %s\n",
		r.Version, r.PID, time.UnixMilli(r.Time).Format(timeLayout))
	return err
}

func (p *ConsolePrinter) Status(r *protocol.StatusReport) error {
	started := time.UnixMilli(r.StartedAt)
	lines := [][2]string{
		{"Version", r.Version},
		{"PID", strconv.Itoa(r.PID)},
		{"Socket", r.SocketPath},
		{"Started", fmt.Sprintf("%s (%s)", started.Format(timeLayout), humanize.Time(started))},
		{"Uptime", (time.Duration(r.UptimeMs) * time.Millisecond).Round(time.Second).String()},
	}
	if r.Store != nil {
		lines = append(lines,
			[2]string{"Store", r.Store.Path},
			[2]string{"Schema version", strconv.Itoa(r.Store.SchemaVersion)},
			[2]string{"Sessions", humanize.Comma(int64(r.Store.Sessions))},
			[2]string{"Requests", fmt.Sprintf("%s (%s pending)",
				humanize.Comma(int64(r.Store.Transactions)), humanize.Comma(int64(r.Store.Pending)))},
		)
	}
	if m := r.Metrics; m != nil {
		lines = append(lines,
			[2]string{"Connections", fmt.Sprintf("%d active, %s total", m.ActiveConnections, humanize.Comma(m.ConnectionsTotal))},
			[2]string{"Calls", fmt.Sprintf("%s total, %s failed", humanize.Comma(m.RequestsTotal), humanize.Comma(m.Failures))},
		)
	}

	keyWidth := 0
	for _, line := range lines {
		if w := runewidth.StringWidth(line[0]); w > keyWidth {
			keyWidth = w
		}
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(p.colorScheme.HeaderKey.Sprint(runewidth.FillRight(line[0]+":", keyWidth+1)))
		b.WriteString(" ")
		b.WriteString(line[1])
		b.WriteString("\n")
	}

	if r.Metrics != nil && len(r.Metrics.ByMethod) > 0 {
		methods := make([]string, 0, len(r.Metrics.ByMethod))
		for m := range r.Metrics.ByMethod {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		b.WriteString("\n")
		t := newTable("METHOD", "CALLS")
		for _, m := range methods {
			t.add(plain(m), plain(humanize.Comma(r.Metrics.ByMethod[m])))
		}
		if _, err := io.WriteString(p.out, b.String()); err != nil {
			return err
		}
		return t.render(p.out, p.colorScheme.TableHeader, p.width)
	}

	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *ConsolePrinter) Sessions(sessions []*capture.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(p.out, "No sessions.")
		return err
	}
	t := newTable("ID", "PID", "CREATED", "LABEL")
	for _, s := range sessions {
		created := time.UnixMilli(s.CreatedAt)
		t.add(
			plain(s.ID),
			plain(strconv.Itoa(s.PID)),
			colored(humanize.Time(created), p.colorScheme.Timestamp),
			plain(s.Label),
		)
	}
	return t.render(p.out, p.colorScheme.TableHeader, p.width)
}

func (p *ConsolePrinter) Summaries(summaries []*capture.Summary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(p.out, "No requests.")
		return err
	}
	t := newTable("ID", "TIME", "METHOD", "STATUS", "DURATION", "SIZE", "URL")
	for _, s := range summaries {
		t.add(
			plain(s.ID),
			colored(time.UnixMilli(s.Timestamp).Format("15:04:05.000"), p.colorScheme.Timestamp),
			colored(strings.ToUpper(s.Method), p.methodColor(s.Method)),
			p.statusCell(s.ResponseStatus),
			plain(formatDuration(s.DurationMs)),
			plain(formatSizes(s.RequestBodySize, s.ResponseBodySize)),
			plain(decorateURL(s.URL, s.InterceptionType)),
		)
	}
	return t.render(p.out, p.colorScheme.TableHeader, p.width)
}

func (p *ConsolePrinter) Matches(matches []*capture.JSONQueryMatch) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(p.out, "No matches.")
		return err
	}
	t := newTable("ID", "METHOD", "STATUS", "IN", "VALUE", "URL")
	for _, m := range matches {
		t.add(
			plain(m.ID),
			colored(strings.ToUpper(m.Method), p.methodColor(m.Method)),
			p.statusCell(m.ResponseStatus),
			plain(string(m.MatchedIn)),
			plain(compactValue(m.ExtractedValue)),
			plain(m.URL),
		)
	}
	return t.render(p.out, p.colorScheme.TableHeader, p.width)
}

func (p *ConsolePrinter) Count(n int) error {
	_, err := fmt.Fprintln(p.out, n)
	return err
}

func (p *ConsolePrinter) Cleared(n int64) error {
	_, err := fmt.Fprintf(p.out, "Removed %s stored request(s); sessions were kept.\n", humanize.Comma(n))
	return err
}

func (p *ConsolePrinter) Value(v any) error {
	encoded, err := codec.Encode(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, encoded, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = p.out.Write(buf.Bytes())
	return err
}

// Transaction prints one exchange in raw HTTP message layout.
func (p *ConsolePrinter) Transaction(t *capture.Transaction) error {
	var b strings.Builder
	separator := strings.Repeat("-", p.separatorWidth())

	b.WriteString(p.colorScheme.Separator.Sprintln(separator))
	b.WriteString(p.colorScheme.Separator.Sprintf("Request %s  %s\n", t.ID, time.UnixMilli(t.Timestamp).Format(timeLayout)))
	b.WriteString(p.metadataLine(t))
	b.WriteString(p.colorScheme.Separator.Sprintln(separator))
	b.WriteString("\n")

	b.WriteString(p.methodColor(t.Method).Sprint(strings.ToUpper(t.Method)))
	b.WriteString(" " + t.URL + "\n")
	p.writeHeaders(&b, t.RequestHeaders)
	b.WriteString("\n")
	p.writeBody(&b, t.RequestHeaders, t.RequestBody, t.RequestBodyTruncated)

	b.WriteString("\n")
	if !t.Completed() {
		b.WriteString(p.colorScheme.Pending.Sprintln("[Awaiting response]"))
	} else {
		status := *t.ResponseStatus
		b.WriteString(p.statusColor(status).Sprintf("HTTP %d", status))
		if t.DurationMs != nil {
			b.WriteString(p.colorScheme.Timestamp.Sprintf("  (%s)", formatDuration(t.DurationMs)))
		}
		b.WriteString("\n")
		p.writeHeaders(&b, t.ResponseHeaders)
		b.WriteString("\n")
		p.writeBody(&b, t.ResponseHeaders, t.ResponseBody, t.ResponseBodyTruncated)
	}

	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *ConsolePrinter) metadataLine(t *capture.Transaction) string {
	parts := []string{"Session: " + t.SessionID}
	if t.Label != "" {
		parts = append(parts, "Label: "+t.Label)
	}
	if t.InterceptionType != capture.InterceptionNone {
		by := t.InterceptedBy
		if by == "" {
			by = "rule"
		}
		parts = append(parts, fmt.Sprintf("Intercepted: %s by %s", t.InterceptionType, by))
	}
	parts = append(parts, "Size: "+formatSizes(int64(len(t.RequestBody)), int64(len(t.ResponseBody))))
	return strings.Join(parts, " | ") + "\n"
}

func (p *ConsolePrinter) writeHeaders(b *strings.Builder, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := headers[key]
		if isSensitiveHeader(strings.ToLower(key)) {
			value = "[REDACTED]"
		}
		b.WriteString(p.colorScheme.HeaderKey.Sprint(key + ": "))
		b.WriteString(p.colorScheme.HeaderValue.Sprintln(value))
	}
}

func (p *ConsolePrinter) writeBody(b *strings.Builder, headers map[string]string, body []byte, truncated bool) {
	if len(body) == 0 {
		if truncated {
			b.WriteString(p.colorScheme.TruncateNotice.Sprintln("[Body truncated at capture time]"))
			return
		}
		b.WriteString(p.colorScheme.BodyContent.Sprintln("[Empty Body]"))
		return
	}

	formatted := p.body.Format(headerValue(headers, "Content-Type"), body, truncated)
	for _, notice := range formatted.Notices {
		c := p.colorScheme.TruncateNotice
		if strings.HasPrefix(notice, "Binary") {
			c = p.colorScheme.BinaryNotice
		}
		b.WriteString(c.Sprintf("[%s]\n", notice))
	}
	for _, line := range strings.Split(formatted.Text, "\n") {
		b.WriteString(p.colorScheme.BodyContent.Sprintln(strings.TrimRight(line, "\r")))
	}
}

func (p *ConsolePrinter) methodColor(method string) *color.Color {
	switch strings.ToUpper(method) {
	case "GET":
		return p.colorScheme.MethodGET
	case "POST":
		return p.colorScheme.MethodPOST
	case "PUT":
		return p.colorScheme.MethodPUT
	case "DELETE":
		return p.colorScheme.MethodDELETE
	case "PATCH":
		return p.colorScheme.MethodPATCH
	default:
		return p.colorScheme.MethodOther
	}
}

func (p *ConsolePrinter) statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return p.colorScheme.Status5xx
	case status >= 400:
		return p.colorScheme.Status4xx
	case status >= 300:
		return p.colorScheme.Status3xx
	default:
		return p.colorScheme.Status2xx
	}
}

func (p *ConsolePrinter) statusCell(status *int) cell {
	if status == nil {
		return colored("…", p.colorScheme.Pending)
	}
	return colored(strconv.Itoa(*status), p.statusColor(*status))
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func formatSizes(req, resp int64) string {
	return humanize.Bytes(uint64(req)) + " / " + humanize.Bytes(uint64(resp))
}

func decorateURL(url string, kind capture.InterceptionType) string {
	if kind == capture.InterceptionNone {
		return url
	}
	return "[" + string(kind) + "] " + url
}

func compactValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(encoded)
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// isSensitiveHeader checks if it's sensitive header information
func isSensitiveHeader(key string) bool {
	switch key {
	case "authorization", "cookie", "set-cookie", "x-api-key",
		"x-auth-token", "x-csrf-token", "x-session-token", "proxy-authorization":
		return true
	default:
		return false
	}
}
