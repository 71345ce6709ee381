package printer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/funnyzak/reqtrace/internal/codec"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/internal/protocol"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

// JSONPrinter writes every result as one indented JSON document. Binary
// bodies keep their tagged wire form so the output can be fed back in.
type JSONPrinter struct {
	out    io.Writer
	logger logger.Logger
}

// NewJSONPrinter creates a JSON printer
func NewJSONPrinter(w io.Writer, log logger.Logger) *JSONPrinter {
	return &JSONPrinter{out: w, logger: log}
}

func (p *JSONPrinter) emit(v any) error {
	encoded, err := codec.Encode(v)
	if err != nil {
		p.logger.Error("Failed to encode result JSON", "error", err)
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

func (p *JSONPrinter) Ping(r *protocol.PingResult) error     { return p.emit(r) }
func (p *JSONPrinter) Status(r *protocol.StatusReport) error { return p.emit(r) }
func (p *JSONPrinter) Transaction(t *capture.Transaction) error {
	return p.emit(t)
}
func (p *JSONPrinter) Value(v any) error { return p.emit(v) }

func (p *JSONPrinter) Sessions(s []*capture.Session) error {
	return p.emit(nonNil(s))
}

func (p *JSONPrinter) Summaries(s []*capture.Summary) error {
	return p.emit(nonNil(s))
}

func (p *JSONPrinter) Matches(m []*capture.JSONQueryMatch) error {
	return p.emit(nonNil(m))
}

func (p *JSONPrinter) Count(n int) error {
	return p.emit(&protocol.CountResult{Count: n})
}

func (p *JSONPrinter) Cleared(n int64) error {
	return p.emit(&protocol.ClearResult{Removed: n})
}

// YAMLPrinter writes results as YAML documents
type YAMLPrinter struct {
	out    io.Writer
	logger logger.Logger
}

// NewYAMLPrinter creates a YAML printer
func NewYAMLPrinter(w io.Writer, log logger.Logger) *YAMLPrinter {
	return &YAMLPrinter{out: w, logger: log}
}

func (p *YAMLPrinter) emit(v any) error {
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		p.logger.Error("Failed to encode result YAML", "error", err)
		return err
	}
	return enc.Close()
}

// emitPlain routes v through its JSON form first, for values that carry
// binary payloads or only declare json tags.
func (p *YAMLPrinter) emitPlain(v any) error {
	plain, err := toPlain(v)
	if err != nil {
		return err
	}
	return p.emit(plain)
}

func (p *YAMLPrinter) Ping(r *protocol.PingResult) error     { return p.emit(r) }
func (p *YAMLPrinter) Status(r *protocol.StatusReport) error { return p.emit(r) }
func (p *YAMLPrinter) Transaction(t *capture.Transaction) error {
	return p.emitPlain(t)
}
func (p *YAMLPrinter) Value(v any) error { return p.emitPlain(v) }

func (p *YAMLPrinter) Sessions(s []*capture.Session) error {
	return p.emit(nonNil(s))
}

func (p *YAMLPrinter) Summaries(s []*capture.Summary) error {
	return p.emit(nonNil(s))
}

func (p *YAMLPrinter) Matches(m []*capture.JSONQueryMatch) error {
	return p.emitPlain(nonNil(m))
}

func (p *YAMLPrinter) Count(n int) error {
	return p.emit(map[string]int{"count": n})
}

func (p *YAMLPrinter) Cleared(n int64) error {
	return p.emit(map[string]int64{"removed": n})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// toPlain converts v into maps, slices and scalars via its wire JSON.
// Integers stay integers so timestamps are not printed in exponent form.
func toPlain(v any) (any, error) {
	encoded, err := codec.Encode(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return plainNumbers(generic), nil
}

func plainNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = plainNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = plainNumbers(item)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}
