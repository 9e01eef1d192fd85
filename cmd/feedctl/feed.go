package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abelbrown/chatfeed/internal/feed"
	"github.com/abelbrown/chatfeed/internal/filter"
	"github.com/abelbrown/chatfeed/internal/kv"
	"github.com/abelbrown/chatfeed/internal/model"
)

func newSourcesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured and ingested sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			sources, err := rt.Store.Sources()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tTITLE\tORIGIN")
			for _, s := range sources {
				origin := "store"
				if s.FeedURL != "" {
					origin = s.FeedURL
				}
				kind := string(s.Kind)
				if s.Self {
					kind += " (self)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, kind, truncate(s.Title, 40), origin)
			}
			return w.Flush()
		},
	}
}

type timelineOptions struct {
	preset    string
	exclude   []string
	only      []string
	since     time.Duration
	perSource int
	limit     int
	all       bool
}

func newTimelineCmd(g *globalFlags) *cobra.Command {
	opts := &timelineOptions{}

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Load every source once and print the merged timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			state := feed.New()
			if opts.preset != "" {
				p, err := resolvePreset(rt.Presets, opts.preset)
				if err != nil {
					return err
				}
				state = feed.Reduce(state, feed.ApplyPreset{Preset: p})
			}
			for _, id := range opts.exclude {
				if !state.Excluded.Has(id) {
					state = feed.Reduce(state, feed.ToggleSource{SourceID: id})
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			batch, err := rt.Coord.LoadInitial(ctx, rt.Coord.Sources(), state.Excluded)
			state = feed.Reduce(state, feed.Loaded{Batch: batch, Err: err})
			if err != nil {
				return err
			}

			items := state.Filtered
			if opts.all {
				items = state.Canonical
			}
			if len(opts.only) > 0 {
				items = filter.BySource(items, opts.only)
			}
			if opts.since > 0 {
				items = filter.ByAge(items, opts.since, time.Now())
			}
			if opts.perSource > 0 {
				items = filter.LimitPerSource(items, opts.perSource)
			}
			if opts.limit > 0 && len(items) > opts.limit {
				items = items[len(items)-opts.limit:]
			}

			titles := make(map[string]string)
			for _, s := range rt.Coord.Sources() {
				titles[s.ID] = s.Title
			}

			out := cmd.OutOrStdout()
			for _, it := range items {
				title := titles[it.SourceID]
				if title == "" {
					title = it.SourceID
				}
				fmt.Fprintf(out, "%s  %-20s  %s\n",
					time.Unix(it.Date, 0).Format("2006-01-02 15:04"),
					truncate(title, 20),
					truncate(summary(it), 80))
			}
			if len(state.FailedSources) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d source(s) failed: %s\n", len(state.FailedSources), strings.Join(state.FailedSources, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.preset, "preset", "p", "", "apply a saved preset (ID or name)")
	cmd.Flags().StringSliceVarP(&opts.exclude, "exclude", "x", nil, "hide these source IDs")
	cmd.Flags().StringSliceVar(&opts.only, "source", nil, "print only these source IDs")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "print only items newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&opts.perSource, "per-source", 0, "keep at most this many of each source's newest items")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "print at most this many of the newest items (0 for all)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "ignore exclusions when printing")

	return cmd
}

// summary is the first non-blank text line, or a media placeholder.
func summary(it model.Item) string {
	for _, line := range strings.Split(it.Text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	if it.Media != nil {
		if it.AlbumSize > 1 {
			return fmt.Sprintf("[album ×%d]", it.AlbumSize)
		}
		return "[" + string(it.Media.Kind) + "]"
	}
	return ""
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Long-poll the Telegram Bot API into the message store",
		Long:  "ingest runs until interrupted, saving every channel and supergroup message the bot can see.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ing, err := rt.Ingester()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(cmd.ErrOrStderr(), "Ingesting updates, Ctrl+C to stop.")
			err = ing.Run(ctx)
			if err != nil && ctx.Err() == nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Stopped at update offset %d\n", ing.Offset())
			return nil
		},
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Message store and preset statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			st, err := rt.Store.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Message Store ===")
			fmt.Fprintf(out, "Sources: %s\n", humanize.Comma(int64(st.Sources)))
			fmt.Fprintf(out, "Items:   %s\n", humanize.Comma(int64(st.Items)))
			if st.Items > 0 {
				fmt.Fprintf(out, "Oldest:  %s (%s)\n", st.Oldest.Format("2006-01-02 15:04"), humanize.Time(st.Oldest))
				fmt.Fprintf(out, "Newest:  %s (%s)\n", st.Newest.Format("2006-01-02 15:04"), humanize.Time(st.Newest))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "=== Presets ===")
			fmt.Fprintf(out, "Saved:   %d\n", rt.Presets.Len())
			if q, ok := rt.KV.(*kv.Quota); ok {
				fmt.Fprintf(out, "Quota:   %s of %s\n", humanize.Bytes(uint64(q.Used())), humanize.Bytes(uint64(q.Limit())))
			} else {
				fmt.Fprintln(out, "Quota:   unlimited")
			}
			return nil
		},
	}
}
