package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/funnyzak/reqtrace/internal/export"
	"github.com/funnyzak/reqtrace/internal/match"
	"github.com/funnyzak/reqtrace/pkg/capture"
)

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pong, err := a.client().Ping(cmd.Context())
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Ping(pong)
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, store and connection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.client().Status(cmd.Context())
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Status(report)
		},
	}
}

func (a *app) sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List capture sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := a.client().ListSessions(cmd.Context())
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Sessions(sessions)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		filters filterFlags
		where   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List captured requests, newest first",
		Long: `List captured requests, newest first.

--where applies an expression to each returned row after the daemon-side
filters and --limit, for example:

  reqtrace list --where 'status >= 500 || duration > 1000'
  reqtrace list --where 'method in ["POST", "PUT"] and host endsWith "example.com"'

Fields: id, session, label, timestamp, method, url, host, path, status,
pending, duration, req_size, resp_size, truncated, intercepted,
intercepted_by, interception.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := filters.build(time.Now())
			if err != nil {
				return err
			}
			matcher, err := match.Compile(where)
			if err != nil {
				return err
			}
			summaries, err := a.client().ListSummaries(cmd.Context(), filter)
			if err != nil {
				return a.clientError(err)
			}
			if summaries, err = matcher.Filter(summaries); err != nil {
				return err
			}
			return a.printer().Summaries(summaries)
		},
	}
	filters.register(cmd.Flags(), true)
	cmd.Flags().StringVarP(&where, "where", "w", "", "Display filter expression evaluated on each row")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one captured request with headers and bodies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := a.client().GetTransaction(cmd.Context(), args[0])
			if err != nil {
				return a.clientError(err)
			}
			if tx == nil {
				return fmt.Errorf("request %q not found", args[0])
			}
			return a.printer().Transaction(tx)
		},
	}
}

func (a *app) countCmd() *cobra.Command {
	var filters filterFlags
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count captured requests matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := filters.build(time.Now())
			if err != nil {
				return err
			}
			count, err := a.client().CountTransactions(cmd.Context(), filter)
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Count(count)
		},
	}
	filters.register(cmd.Flags(), false)
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored request (sessions are kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete all stored requests without --yes")
			}
			removed, err := a.client().ClearTransactions(cmd.Context())
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Cleared(removed)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var filters filterFlags
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find requests whose request or response body contains text (case-insensitive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filters.build(time.Now())
			if err != nil {
				return err
			}
			summaries, err := a.client().SearchBodies(cmd.Context(), args[0], filter)
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Summaries(summaries)
		},
	}
	filters.register(cmd.Flags(), true)
	return cmd
}

func (a *app) queryCmd() *cobra.Command {
	var (
		filters filterFlags
		target  string
		value   string
	)
	cmd := &cobra.Command{
		Use:   "query <json-path>",
		Short: "Extract a JSON path from request/response bodies",
		Long: `Extract a JSON path from request and response bodies that are valid JSON.

Paths use SQLite JSON syntax; a leading "$." may be omitted:

  reqtrace query user.id
  reqtrace query '$.items[0].sku' --target response --value A1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filters.build(time.Now())
			if err != nil {
				return err
			}
			q := capture.JSONQuery{
				Path:   args[0],
				Target: capture.HeaderTarget(strings.ToLower(target)),
				Filter: filter,
			}
			if !q.Target.Valid() {
				return fmt.Errorf("invalid --target %q: expected request, response or both", target)
			}
			if cmd.Flags().Changed("value") {
				q.Value = &value
			}
			matches, err := a.client().QueryJSONBodies(cmd.Context(), q)
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Matches(matches)
		},
	}
	filters.register(cmd.Flags(), true)
	cmd.Flags().StringVar(&target, "target", "", "Bodies to inspect: request, response or both")
	cmd.Flags().StringVar(&value, "value", "", "Keep only rows whose extracted value equals this")
	return cmd
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Invoke a raw protocol method and print its result",
		Example: `  reqtrace call ping
  reqtrace call getRequest '{"id":"<request-id>"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				raw := json.RawMessage(args[1])
				if !json.Valid(raw) {
					return fmt.Errorf("params must be valid JSON")
				}
				params = raw
			}
			result, err := a.client().CallRaw(cmd.Context(), args[0], params)
			if err != nil {
				return a.clientError(err)
			}
			return a.printer().Value(result)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		filters filterFlags
		format  string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export full request records as json, jsonl, csv or txt",
		Example: `  reqtrace export --format csv -f requests.csv --since 1h
  reqtrace export --format txt --session <session-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := filters.build(time.Now())
			if err != nil {
				return err
			}
			txs, err := a.client().ListTransactions(cmd.Context(), filter)
			if err != nil {
				return a.clientError(err)
			}

			if file == "" || file == "-" {
				return export.Write(a.stdout, txs, format)
			}
			out, err := os.Create(file)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			if err := export.Write(out, txs, format); err != nil {
				out.Close()
				return fmt.Errorf("failed to export requests: %w", err)
			}
			if err := out.Close(); err != nil {
				return err
			}
			a.log.Info("Requests exported", "file", file, "format", format, "count", len(txs))
			return nil
		},
	}
	filters.register(cmd.Flags(), true)
	cmd.Flags().StringVar(&format, "format", "json", "Export format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to this file instead of stdout")
	return cmd
}
