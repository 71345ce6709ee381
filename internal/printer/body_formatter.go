package printer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"mime"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	nethtml "golang.org/x/net/html"

	"github.com/funnyzak/reqtrace/internal/logger"
)

const hexPreviewBytes = 256

type bodyFormatter struct {
	pretty   bool
	maxBytes int
	logger   logger.Logger
}

type formattedBody struct {
	Text    string
	Notices []string
}

func newBodyFormatter(pretty bool, maxBytes int, log logger.Logger) *bodyFormatter {
	return &bodyFormatter{pretty: pretty, maxBytes: maxBytes, logger: log}
}

// Format renders body for display. Binary payloads become a hex preview;
// text beyond maxBytes is cut and noted.
func (f *bodyFormatter) Format(contentType string, body []byte, truncated bool) formattedBody {
	if len(body) == 0 {
		return formattedBody{}
	}
	var notices []string
	if truncated {
		notices = append(notices, "Body was truncated at capture time.")
	}
	if isBinary(body) {
		res := f.formatBinary(contentType, body)
		res.Notices = append(notices, res.Notices...)
		return res
	}

	shown := body
	if f.maxBytes > 0 && len(body) > f.maxBytes {
		shown = body[:f.maxBytes]
		notices = append(notices, fmt.Sprintf("Showing first %s of %s.",
			humanize.Bytes(uint64(f.maxBytes)), humanize.Bytes(uint64(len(body)))))
	}
	res := formattedBody{Text: string(shown)}
	if f.pretty && len(shown) == len(body) {
		res = f.formatText(normalizeMediaType(contentType), body)
	}
	res.Notices = append(notices, res.Notices...)
	return res
}

func (f *bodyFormatter) formatText(mediaType string, body []byte) formattedBody {
	if res, ok := f.formatJSON(mediaType, body); ok {
		return res
	}
	if res, ok := f.formatForm(mediaType, body); ok {
		return res
	}
	if res, ok := f.formatXML(mediaType, body); ok {
		return res
	}
	if res, ok := f.formatHTML(mediaType, body); ok {
		return res
	}
	return formattedBody{Text: string(body)}
}

func (f *bodyFormatter) formatBinary(contentType string, body []byte) formattedBody {
	kind := contentType
	if kind == "" {
		kind = "unknown type"
	}
	preview := body
	notices := []string{fmt.Sprintf("Binary body: %s, %s.", kind, humanize.Bytes(uint64(len(body))))}
	if len(preview) > hexPreviewBytes {
		preview = preview[:hexPreviewBytes]
		notices = append(notices, fmt.Sprintf("Hex preview limited to the first %d bytes.", hexPreviewBytes))
	}
	return formattedBody{Text: strings.TrimRight(hex.Dump(preview), "\n"), Notices: notices}
}

func (f *bodyFormatter) formatJSON(mediaType string, body []byte) (formattedBody, bool) {
	if !looksLikeJSON(mediaType, body) {
		return formattedBody{}, false
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return formattedBody{}, false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		f.logger.Debug("json indent failed", "error", err)
		return formattedBody{}, false
	}
	return formattedBody{Text: buf.String()}, true
}

func (f *bodyFormatter) formatForm(mediaType string, body []byte) (formattedBody, bool) {
	if !strings.Contains(mediaType, "application/x-www-form-urlencoded") {
		return formattedBody{}, false
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		f.logger.Debug("form parse failed", "error", err)
		return formattedBody{}, false
	}
	if len(values) == 0 {
		return formattedBody{Text: string(body)}, true
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	keyHeader, valueHeader := "Key", "Value"
	maxKeyWidth := runewidth.StringWidth(keyHeader)
	for _, key := range keys {
		if w := runewidth.StringWidth(key); w > maxKeyWidth {
			maxKeyWidth = w
		}
	}
	var builder strings.Builder
	builder.WriteString("Form data:\n")
	builder.WriteString(runewidth.FillRight(keyHeader, maxKeyWidth) + " │ " + valueHeader + "\n")
	builder.WriteString(strings.Repeat("─", maxKeyWidth) + "─┼" + strings.Repeat("─", 40) + "\n")
	for _, key := range keys {
		builder.WriteString(runewidth.FillRight(key, maxKeyWidth) + " │ " + strings.Join(values[key], ", ") + "\n")
	}
	return formattedBody{Text: builder.String()}, true
}

func (f *bodyFormatter) formatXML(mediaType string, body []byte) (formattedBody, bool) {
	if !strings.Contains(mediaType, "xml") {
		return formattedBody{}, false
	}
	processed := stripControlBytes(body)
	formatted, err := prettyXML(processed)
	if err != nil {
		f.logger.Debug("xml pretty failed", "error", err)
		return formattedBody{Text: string(processed)}, true
	}
	return formattedBody{Text: formatted}, true
}

func (f *bodyFormatter) formatHTML(mediaType string, body []byte) (formattedBody, bool) {
	if !strings.Contains(mediaType, "html") && !looksLikeHTML(body) {
		return formattedBody{}, false
	}
	processed := stripControlBytes(body)
	formatted, err := prettyHTML(processed)
	if err != nil {
		f.logger.Debug("html pretty failed", "error", err)
		return formattedBody{Text: string(processed)}, true
	}
	return formattedBody{Text: formatted}, true
}

func normalizeMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}

func looksLikeJSON(mediaType string, body []byte) bool {
	if strings.Contains(mediaType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	first := trimmed[0]
	last := trimmed[len(trimmed)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func isBinary(body []byte) bool {
	return !utf8.Valid(body) || bytes.IndexByte(body, 0) >= 0
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 5 {
		return false
	}
	upper := strings.ToLower(string(trimmed[:5]))
	return strings.HasPrefix(upper, "<html") || strings.HasPrefix(upper, "<!doc")
}

func stripControlBytes(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	buf := make([]byte, 0, len(b))
	for _, ch := range b {
		if ch < 0x20 && ch != '\n' && ch != '\r' && ch != '\t' {
			continue
		}
		buf = append(buf, ch)
	}
	return buf
}

func prettyXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	for {
		token, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		if err := encoder.EncodeToken(token); err != nil {
			return "", err
		}
	}
	if err := encoder.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func prettyHTML(data []byte) (string, error) {
	node, err := nethtml.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	renderHTMLNode(&builder, node, 0)
	return builder.String(), nil
}

func renderHTMLNode(builder *strings.Builder, node *nethtml.Node, depth int) {
	switch node.Type {
	case nethtml.DocumentNode:
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderHTMLNode(builder, child, depth)
		}
	case nethtml.ElementNode:
		indent := strings.Repeat("  ", depth)
		builder.WriteString(indent)
		builder.WriteString("<" + node.Data)
		for _, attr := range node.Attr {
			builder.WriteString(fmt.Sprintf(" %s=\"%s\"", attr.Key, html.EscapeString(attr.Val)))
		}
		if isVoidElement(node.Data) {
			builder.WriteString(" />\n")
			return
		}
		builder.WriteString(">\n")
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderHTMLNode(builder, child, depth+1)
		}
		if node.FirstChild != nil {
			builder.WriteString(indent)
		}
		builder.WriteString("</" + node.Data + ">\n")
	case nethtml.TextNode:
		text := strings.TrimSpace(node.Data)
		if text == "" {
			return
		}
		indent := strings.Repeat("  ", depth)
		builder.WriteString(indent)
		builder.WriteString(text)
		builder.WriteString("\n")
	case nethtml.CommentNode:
		indent := strings.Repeat("  ", depth)
		builder.WriteString(indent)
		builder.WriteString("<!--" + strings.TrimSpace(node.Data) + "-->\n")
	}
}

func isVoidElement(tag string) bool {
	switch strings.ToLower(tag) {
	case "area", "base", "br", "col", "embed", "hr", "img", "input", "keygen", "link", "meta", "param", "source", "track", "wbr":
		return true
	default:
		return false
	}
}
