// Package match evaluates client-side display filters over request summaries
// using expr-lang/expr, e.g.
//
//	status >= 400 && host endsWith "example.com"
//	method in ["POST", "PUT"] and resp_size > 1024
package match

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/funnyzak/reqtrace/pkg/capture"
)

// Env is the evaluation environment built from one summary.
type Env struct {
	ID            string `expr:"id"`
	Session       string `expr:"session"`
	Label         string `expr:"label"`
	Timestamp     int64  `expr:"timestamp"`
	Method        string `expr:"method"`
	URL           string `expr:"url"`
	Host          string `expr:"host"`
	Path          string `expr:"path"`
	Status        int    `expr:"status"` // 0 while pending
	Pending       bool   `expr:"pending"`
	Duration      int64  `expr:"duration"` // ms, 0 while pending
	ReqSize       int64  `expr:"req_size"`
	RespSize      int64  `expr:"resp_size"`
	Truncated     bool   `expr:"truncated"`
	Intercepted   bool   `expr:"intercepted"`
	InterceptedBy string `expr:"intercepted_by"`
	Interception  string `expr:"interception"`
}

// Matcher is a compiled filter expression.
type Matcher struct {
	source  string
	program *vm.Program
}

// Compile compiles a boolean filter expression. An empty expression
// matches everything.
func Compile(source string) (*Matcher, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return &Matcher{}, nil
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", source, err)
	}
	return &Matcher{source: source, program: program}, nil
}

// String returns the source expression.
func (m *Matcher) String() string {
	return m.source
}

// Match reports whether s satisfies the expression.
func (m *Matcher) Match(s *capture.Summary) (bool, error) {
	if m.program == nil {
		return true, nil
	}
	result, err := expr.Run(m.program, NewEnv(s))
	if err != nil {
		return false, fmt.Errorf("evaluate filter on %s: %w", s.ID, err)
	}
	matched, _ := result.(bool)
	return matched, nil
}

// Filter keeps the summaries that match, preserving order.
func (m *Matcher) Filter(summaries []*capture.Summary) ([]*capture.Summary, error) {
	if m.program == nil {
		return summaries, nil
	}
	kept := make([]*capture.Summary, 0, len(summaries))
	for _, s := range summaries {
		ok, err := m.Match(s)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// NewEnv flattens s into an Env.
func NewEnv(s *capture.Summary) Env {
	env := Env{
		ID:            s.ID,
		Session:       s.SessionID,
		Label:         s.Label,
		Timestamp:     s.Timestamp,
		Method:        strings.ToUpper(s.Method),
		URL:           s.URL,
		Host:          s.Host,
		Path:          s.Path,
		Pending:       s.ResponseStatus == nil,
		ReqSize:       s.RequestBodySize,
		RespSize:      s.ResponseBodySize,
		Truncated:     s.RequestBodyTruncated || s.ResponseBodyTruncated,
		Intercepted:   s.InterceptionType != capture.InterceptionNone,
		InterceptedBy: s.InterceptedBy,
		Interception:  string(s.InterceptionType),
	}
	if s.ResponseStatus != nil {
		env.Status = *s.ResponseStatus
	}
	if s.DurationMs != nil {
		env.Duration = *s.DurationMs
	}
	return env
}
