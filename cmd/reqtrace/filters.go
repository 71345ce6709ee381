package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/funnyzak/reqtrace/pkg/capture"
)

// filterFlags holds the flag values shared by list, count, search and query.
type filterFlags struct {
	session       string
	label         string
	methods       []string
	status        string
	host          string
	pathPrefix    string
	search        string
	since         string
	before        string
	header        string
	headerTarget  string
	interceptedBy string
	limit         int
	offset        int
}

func (f *filterFlags) register(flags *pflag.FlagSet, paged bool) {
	flags.StringVar(&f.session, "session", "", "Only requests from this session id")
	flags.StringVar(&f.label, "label", "", "Only requests with this label")
	flags.StringSliceVarP(&f.methods, "method", "m", nil, "HTTP methods to include (repeatable)")
	flags.StringVar(&f.status, "status", "", `Response status: exact ("404"), class ("4xx") or range ("400-499")`)
	flags.StringVar(&f.host, "host", "", "Exact host")
	flags.StringVar(&f.pathPrefix, "path", "", "Path prefix")
	flags.StringVar(&f.search, "url", "", "Case-insensitive URL substring")
	flags.StringVar(&f.since, "since", "", `Newer than a duration ago ("15m") or a time (RFC3339 or unix ms)`)
	flags.StringVar(&f.before, "before", "", "Older than a duration ago or a time")
	flags.StringVar(&f.header, "header", "", `Header presence ("X-Trace") or exact value ("X-Trace=abc")`)
	flags.StringVar(&f.headerTarget, "header-target", "", "Headers to inspect: request, response or both")
	flags.StringVar(&f.interceptedBy, "intercepted-by", "", "Only requests touched by this interceptor rule")
	if paged {
		flags.IntVarP(&f.limit, "limit", "n", 50, "Maximum rows (0 = all)")
		flags.IntVar(&f.offset, "offset", 0, "Rows to skip")
	}
}

func (f *filterFlags) build(now time.Time) (capture.Filter, error) {
	filter := capture.Filter{
		SessionID:     f.session,
		Label:         f.label,
		Methods:       f.methods,
		Status:        f.status,
		Host:          f.host,
		PathPrefix:    f.pathPrefix,
		Search:        f.search,
		InterceptedBy: f.interceptedBy,
		HeaderTarget:  capture.HeaderTarget(strings.ToLower(f.headerTarget)),
		Limit:         f.limit,
		Offset:        f.offset,
	}
	if !filter.HeaderTarget.Valid() {
		return filter, fmt.Errorf("invalid --header-target %q: expected request, response or both", f.headerTarget)
	}
	if f.header != "" {
		name, value, hasValue := strings.Cut(f.header, "=")
		filter.HeaderName = strings.TrimSpace(name)
		if hasValue {
			filter.HeaderValue = value
		}
		if filter.HeaderName == "" {
			return filter, fmt.Errorf("invalid --header %q: missing header name", f.header)
		}
	}

	var err error
	if filter.Since, err = parseTimeFlag(f.since, now); err != nil {
		return filter, fmt.Errorf("invalid --since: %w", err)
	}
	if filter.Before, err = parseTimeFlag(f.before, now); err != nil {
		return filter, fmt.Errorf("invalid --before: %w", err)
	}
	return filter, nil
}

// parseTimeFlag accepts a duration relative to now, an RFC3339 time or unix
// milliseconds, and returns unix milliseconds (0 when empty).
func parseTimeFlag(value string, now time.Time) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("duration %q must be positive", value)
		}
		return now.Add(-d).UnixMilli(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
		return ms, nil
	}
	return 0, fmt.Errorf("%q is not a duration, RFC3339 time or unix milliseconds", value)
}
