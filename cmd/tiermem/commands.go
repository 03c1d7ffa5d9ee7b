package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/nidhogg/tiermem/internal/memory"
	"github.com/nidhogg/tiermem/internal/metrics"
	"github.com/spf13/cobra"
)

func storeCmd(opts *options) *cobra.Command {
	var (
		text, category string
		importance     float64
	)
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a fact in warm memory (and cold, when configured)",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			res, err := a.engine.Store(ctx, opts.agentID, text, category, importance)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		}),
	}
	cmd.Flags().StringVar(&text, "text", "", "fact text")
	cmd.Flags().StringVar(&category, "category", "", "slash-delimited category path")
	cmd.Flags().Float64Var(&importance, "importance", 0.5, "importance in [0,1]")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func retrieveCmd(opts *options) *cobra.Command {
	var (
		query     string
		limit     int
		asContext bool
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Search across all tiers",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			results, err := a.engine.Retrieve(ctx, opts.agentID, query, limit)
			if err != nil {
				return err
			}
			if asContext {
				_, err := fmt.Fprint(a.out, memory.FormatContext(results, maxTokens))
				return err
			}
			if results == nil {
				results = []memory.Result{}
			}
			return a.printJSON(results)
		}),
	}
	cmd.Flags().StringVar(&query, "query", "", "search query")
	cmd.Flags().IntVar(&limit, "limit", memory.DefaultLimit, "maximum results")
	cmd.Flags().BoolVar(&asContext, "context", false, "print a prompt-ready memory context instead of JSON")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token cap for --context (0 = none)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func distillCmd(opts *options) *cobra.Command {
	var (
		text, file, mode string
		core             bool
	)
	cmd := &cobra.Command{
		Use:   "distill",
		Short: "Distill raw text into a structured fact",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(b)
			}
			if text == "" {
				return errors.New("--text or --file required")
			}
			if opts.useLLM && mode == "" {
				mode = "llm"
			}
			res, err := a.engine.Distill(ctx, opts.agentID, text, mode, core)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		}),
	}
	cmd.Flags().StringVar(&text, "text", "", "text to distill")
	cmd.Flags().StringVar(&file, "file", "", "read text from file")
	cmd.Flags().StringVar(&mode, "mode", "", "rule or llm (default from config)")
	cmd.Flags().BoolVar(&core, "core-summary", false, "also produce a one-line core summary")
	return cmd
}

func consolidateCmd(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation pass (quick, daily, monthly, full)",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			m, err := memory.ParseMode(mode)
			if err != nil {
				return err
			}
			stats, err := a.engine.Consolidate(ctx, opts.agentID, m)
			if err != nil {
				return err
			}
			return a.printJSON(stats)
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", string(memory.ModeQuick), "consolidation level")
	return cmd
}

func syncCriticalCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-critical",
		Short: "Snapshot hot state and tree into the cold tier",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			res, err := a.engine.SyncCritical(ctx, opts.agentID)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		}),
	}
}

func metricsCmd(opts *options) *cobra.Command {
	var (
		record, report bool
		trend          int
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show memory metrics",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if trend > 0 {
				samples, err := a.engine.MetricsHistory(ctx, opts.agentID, trend)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(a.out, metrics.RenderTrend(samples, a.engine.Now(), trend))
				return err
			}
			var (
				snap *metrics.Snapshot
				err  error
			)
			if record {
				snap, err = a.engine.RecordMetrics(ctx, opts.agentID)
			} else {
				snap, err = a.engine.Metrics(ctx, opts.agentID)
			}
			if err != nil {
				return err
			}
			if report {
				_, err = fmt.Fprint(a.out, metrics.Report(*snap, a.engine.Now()))
				return err
			}
			return a.printJSON(snap)
		}),
	}
	cmd.Flags().BoolVar(&record, "record", false, "append a sample to the metrics history")
	cmd.Flags().BoolVar(&report, "report", false, "print a health report")
	cmd.Flags().IntVar(&trend, "trend", 0, "print the trend of the last N days")
	return cmd
}

func hotCmd(opts *options) *cobra.Command {
	var (
		key, data string
		rebuild   bool
	)
	cmd := &cobra.Command{
		Use:   "hot",
		Short: "Show, update or re-render hot memory",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			switch {
			case key != "":
				fields := map[string]any{}
				if data != "" {
					if err := json.Unmarshal([]byte(data), &fields); err != nil {
						return fmt.Errorf("--data: %w", err)
					}
				}
				res, err := a.engine.HotUpdate(ctx, opts.agentID, key, fields)
				if err != nil {
					return err
				}
				return a.printJSON(res)
			case rebuild:
				res, err := a.engine.HotRebuild(ctx, opts.agentID)
				if err != nil {
					return err
				}
				return a.printJSON(res)
			}
			state, err := a.engine.HotState(ctx, opts.agentID)
			if err != nil {
				return err
			}
			return a.printJSON(state)
		}),
	}
	cmd.Flags().StringVar(&key, "update", "", "section to update: identity, owner_profile, lesson, event, task, project")
	cmd.Flags().StringVar(&data, "data", "", "JSON object merged into the section")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "re-render the MEMORY.md summary")
	cmd.MarkFlagsMutuallyExclusive("update", "rebuild")
	return cmd
}

func treeCmd(opts *options) *cobra.Command {
	var (
		add, desc, remove, match string
		prune, asJSON            bool
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Inspect or edit the category index",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			switch {
			case add != "":
				ok, err := a.engine.TreeAdd(ctx, opts.agentID, add, desc)
				if err != nil {
					return err
				}
				return a.printJSON(map[string]any{"path": add, "added": ok})
			case remove != "":
				ok, err := a.engine.TreeRemove(ctx, opts.agentID, remove)
				if err != nil {
					return err
				}
				return a.printJSON(map[string]any{"path": remove, "removed": ok})
			case prune:
				n, err := a.engine.TreePrune(ctx, opts.agentID)
				if err != nil {
					return err
				}
				return a.printJSON(map[string]int{"pruned": n})
			case match != "":
				paths, err := a.engine.TreeMatch(ctx, opts.agentID, match)
				if err != nil {
					return err
				}
				if paths == nil {
					paths = []string{}
				}
				return a.printJSON(map[string]any{"pattern": match, "paths": paths})
			case asJSON:
				nodes, err := a.engine.TreeNodes(ctx, opts.agentID)
				if err != nil {
					return err
				}
				return a.printJSON(nodes)
			}
			out, err := a.engine.TreeShow(ctx, opts.agentID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, out)
			return err
		}),
	}
	cmd.Flags().Bool("show", false, "print the index outline (default)")
	cmd.Flags().StringVar(&add, "add", "", "add a node at PATH")
	cmd.Flags().StringVar(&desc, "desc", "", "description for --add")
	cmd.Flags().StringVar(&remove, "remove", "", "remove the empty node at PATH")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove dead nodes")
	cmd.Flags().StringVar(&match, "match", "", "list paths matching a glob (* within a segment, ** across)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw node map")
	return cmd
}

func coldCmd(opts *options) *cobra.Command {
	var (
		initSchema bool
		query      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "cold",
		Short: "Initialize or query the cold tier",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if initSchema {
				if err := a.engine.ColdInit(ctx); err != nil {
					return err
				}
				return a.printJSON(map[string]bool{"initialized": true})
			}
			if query == "" {
				return errors.New("--init or --query required")
			}
			recs, err := a.engine.ColdQuery(ctx, opts.agentID, query, limit)
			if err != nil {
				return err
			}
			return a.printJSON(recs)
		}),
	}
	cmd.Flags().BoolVar(&initSchema, "init", false, "create the cold schema")
	cmd.Flags().StringVar(&query, "query", "", "keyword query")
	cmd.Flags().IntVar(&limit, "limit", memory.DefaultLimit, "maximum results")
	return cmd
}

func restoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Repair a namespace from the cold snapshot",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			res, err := a.engine.Restore(ctx, opts.agentID)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		}),
	}
}

func resetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Move corrupt documents aside and start them empty",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			moved, err := a.engine.Reset(ctx, opts.agentID)
			if err != nil {
				return err
			}
			if moved == nil {
				moved = []string{}
			}
			return a.printJSON(map[string]any{"quarantined": moved})
		}),
	}
}
