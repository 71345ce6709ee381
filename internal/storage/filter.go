package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/funnyzak/reqtrace/pkg/capture"
)

var statusClassPattern = regexp.MustCompile(`^([1-5])[xX]{2}$`)

// statusRange is an inclusive response status interval.
type statusRange struct {
	lo, hi int
}

// parseStatus accepts an exact code ("404"), a class ("4xx") or an
// inclusive range ("400-499").
func parseStatus(raw string) (*statusRange, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	if m := statusClassPattern.FindStringSubmatch(value); m != nil {
		class, _ := strconv.Atoi(m[1])
		return &statusRange{lo: class * 100, hi: class*100 + 99}, nil
	}
	if lo, hi, ok := strings.Cut(value, "-"); ok {
		from, err1 := parseStatusCode(lo)
		to, err2 := parseStatusCode(hi)
		if err1 != nil || err2 != nil || from > to {
			return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a valid status range", raw)}
		}
		return &statusRange{lo: from, hi: to}, nil
	}
	code, err := parseStatusCode(value)
	if err != nil {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a status code, class or range", raw)}
	}
	return &statusRange{lo: code, hi: code}, nil
}

func parseStatusCode(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if code < 100 || code > 599 {
		return 0, fmt.Errorf("status %d out of range", code)
	}
	return code, nil
}

// buildFilters translates a Filter into ANDed SQL clauses over the requests table.
func buildFilters(f capture.Filter) ([]string, []any, error) {
	var clauses []string
	var args []any

	if id := strings.TrimSpace(f.SessionID); id != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, id)
	}
	if label := strings.TrimSpace(f.Label); label != "" {
		clauses = append(clauses, "label = ?")
		args = append(args, label)
	}

	var methods []string
	for _, m := range f.Methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			methods = append(methods, m)
		}
	}
	if len(methods) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(methods)), ",")
		clauses = append(clauses, fmt.Sprintf("UPPER(method) IN (%s)", placeholders))
		for _, m := range methods {
			args = append(args, m)
		}
	}

	status, err := parseStatus(f.Status)
	if err != nil {
		return nil, nil, err
	}
	if status != nil {
		if status.lo == status.hi {
			clauses = append(clauses, "response_status = ?")
			args = append(args, status.lo)
		} else {
			clauses = append(clauses, "response_status BETWEEN ? AND ?")
			args = append(args, status.lo, status.hi)
		}
	}

	if host := strings.TrimSpace(f.Host); host != "" {
		clauses = append(clauses, "host = ?")
		args = append(args, host)
	}
	if prefix := f.PathPrefix; prefix != "" {
		clauses = append(clauses, "substr(path, 1, length(?)) = ?")
		args = append(args, prefix, prefix)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		clauses = append(clauses, "instr(lower(url), lower(?)) > 0")
		args = append(args, search)
	}
	if f.Since > 0 {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if f.Before > 0 {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, f.Before)
	}
	if by := strings.TrimSpace(f.InterceptedBy); by != "" {
		clauses = append(clauses, "intercepted_by = ?")
		args = append(args, by)
	}

	headerClause, headerArgs, err := headerFilter(f)
	if err != nil {
		return nil, nil, err
	}
	if headerClause != "" {
		clauses = append(clauses, headerClause)
		args = append(args, headerArgs...)
	}

	return clauses, args, nil
}

// headerFilter matches header names case-insensitively and values exactly.
// Without a value it only checks presence of the name.
func headerFilter(f capture.Filter) (string, []any, error) {
	name := strings.TrimSpace(f.HeaderName)
	if name == "" {
		if f.HeaderValue != "" {
			return "", nil, &ValidationError{Field: "headerValue", Message: "requires headerName"}
		}
		return "", nil, nil
	}
	if !f.HeaderTarget.Valid() {
		return "", nil, &ValidationError{Field: "headerTarget", Message: fmt.Sprintf("unknown target %q", f.HeaderTarget)}
	}

	exists := func(column string) (string, []any) {
		if f.HeaderValue == "" {
			return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE lower(json_each.key) = lower(?))", column),
				[]any{name}
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE lower(json_each.key) = lower(?) AND json_each.value = ?)", column),
			[]any{name, f.HeaderValue}
	}

	switch f.HeaderTarget {
	case capture.TargetRequest:
		clause, args := exists("request_headers")
		return clause, args, nil
	case capture.TargetResponse:
		clause, args := exists("response_headers")
		return clause, args, nil
	default:
		reqClause, reqArgs := exists("request_headers")
		respClause, respArgs := exists("response_headers")
		return "(" + reqClause + " OR " + respClause + ")", append(reqArgs, respArgs...), nil
	}
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// paginate appends LIMIT/OFFSET. A non-positive limit means unbounded.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit > 0:
		return query + " LIMIT ? OFFSET ?", append(args, limit, offset)
	case offset > 0:
		return query + " LIMIT -1 OFFSET ?", append(args, offset)
	default:
		return query, args
	}
}

// normalizeJSONPath prefixes "$" so "user.id" and "$.user.id" are equivalent.
func normalizeJSONPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	switch {
	case p == "":
		return "", &ValidationError{Field: "path", Message: "is required"}
	case strings.HasPrefix(p, "$"):
		return p, nil
	case strings.HasPrefix(p, "["):
		return "$" + p, nil
	case strings.HasPrefix(p, "."):
		return "$" + p, nil
	default:
		return "$." + p, nil
	}
}
