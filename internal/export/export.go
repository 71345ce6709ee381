// Package export serializes stored transactions for use outside reqtrace.
package export

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/funnyzak/reqtrace/pkg/capture"
)

// Formats lists the supported export formats.
var Formats = []string{"json", "jsonl", "csv", "txt"}

// Write serializes txs to w in format.
func Write(w io.Writer, txs []*capture.Transaction, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return writeJSON(w, txs)
	case "jsonl":
		return writeJSONLines(w, txs)
	case "csv":
		return writeCSV(w, txs)
	case "txt":
		return writeText(w, txs)
	default:
		return fmt.Errorf("unsupported export format: %s (expected one of %s)", format, strings.Join(Formats, ", "))
	}
}

// Extension returns the conventional file extension for format.
func Extension(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

func writeJSON(w io.Writer, txs []*capture.Transaction) error {
	if txs == nil {
		txs = []*capture.Transaction{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(txs)
}

func writeJSONLines(w io.Writer, txs []*capture.Transaction) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, tx := range txs {
		if err := enc.Encode(tx); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, txs []*capture.Transaction) error {
	writer := csv.NewWriter(w)

	headers := []string{
		"id", "session_id", "label", "timestamp", "method", "url", "host", "path",
		"status", "duration_ms", "intercepted_by", "interception_type",
		"request_headers", "request_body_base64", "response_headers", "response_body_base64",
	}
	if err := writer.Write(headers); err != nil {
		return err
	}

	for _, tx := range txs {
		reqHeaders, _ := json.Marshal(tx.RequestHeaders)
		respHeaders := []byte("")
		if tx.ResponseHeaders != nil {
			respHeaders, _ = json.Marshal(tx.ResponseHeaders)
		}
		line := []string{
			tx.ID,
			tx.SessionID,
			tx.Label,
			time.UnixMilli(tx.Timestamp).UTC().Format(time.RFC3339Nano),
			tx.Method,
			tx.URL,
			tx.Host,
			tx.Path,
			optionalInt(tx.ResponseStatus),
			optionalInt64(tx.DurationMs),
			tx.InterceptedBy,
			string(tx.InterceptionType),
			string(reqHeaders),
			base64.StdEncoding.EncodeToString(tx.RequestBody),
			string(respHeaders),
			base64.StdEncoding.EncodeToString(tx.ResponseBody),
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeText(w io.Writer, txs []*capture.Transaction) error {
	var buf bytes.Buffer
	for i, tx := range txs {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "### %s  %s\n", tx.ID, time.UnixMilli(tx.Timestamp).UTC().Format(time.RFC3339))
		fmt.Fprintf(&buf, "%s %s HTTP/1.1\n", strings.ToUpper(tx.Method), requestTarget(tx))
		writeHeaderBlock(&buf, tx.RequestHeaders)
		writeBodyBlock(&buf, tx.RequestHeaders, tx.RequestBody)

		if tx.ResponseStatus != nil {
			fmt.Fprintf(&buf, "\nHTTP/1.1 %d\n", *tx.ResponseStatus)
			writeHeaderBlock(&buf, tx.ResponseHeaders)
			writeBodyBlock(&buf, tx.ResponseHeaders, tx.ResponseBody)
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func requestTarget(tx *capture.Transaction) string {
	if tx.URL != "" {
		return tx.URL
	}
	if tx.Path == "" {
		return "/"
	}
	return tx.Path
}

func writeHeaderBlock(buf *bytes.Buffer, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s: %s\n", k, headers[k])
	}
	buf.WriteString("\n")
}

func writeBodyBlock(buf *bytes.Buffer, headers map[string]string, body []byte) {
	switch {
	case len(body) == 0:
	case !utf8.Valid(body) || capture.IsBinaryContent(capture.HeaderValue(headers, "Content-Type"), body):
		fmt.Fprintf(buf, "[binary payload omitted, %d bytes]\n", len(body))
	default:
		buf.Write(body)
		if !bytes.HasSuffix(body, []byte("\n")) {
			buf.WriteString("\n")
		}
	}
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
