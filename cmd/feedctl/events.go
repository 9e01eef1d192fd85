package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// eventRecord mirrors otel.Event for JSON decoding so older logs with
// unknown fields still read.
type eventRecord struct {
	Time      time.Time      `json:"t"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind"`
	Comp      string         `json:"comp"`
	SessionID string         `json:"session_id"`
	DurMs     float64        `json:"dur_ms"`
	Count     int            `json:"count"`
	Source    string         `json:"source"`
	Cursor    int64          `json:"cursor"`
	Failed    []string       `json:"failed"`
	PresetID  string         `json:"preset_id"`
	Err       string         `json:"err"`
	Msg       string         `json:"msg"`
	Extra     map[string]any `json:"extra"`
}

type eventsOptions struct {
	tail    int
	follow  bool
	kind    string
	level   string
	comp    string
	session string
	rawJSON bool
}

func (o *eventsOptions) match(ev eventRecord) bool {
	if o.kind != "" && !strings.HasPrefix(ev.Kind, o.kind) {
		return false
	}
	if o.level != "" && levelRank(ev.Level) < levelRank(o.level) {
		return false
	}
	if o.comp != "" && ev.Comp != o.comp {
		return false
	}
	if o.session != "" && !strings.HasPrefix(ev.SessionID, o.session) {
		return false
	}
	return true
}

func (o *eventsOptions) format(ev eventRecord, raw []byte) string {
	if o.rawJSON {
		return string(raw)
	}
	ts := ev.Time.Format("15:04:05.000")
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-20s", ts, lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, "- "+ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Source != "" {
		parts = append(parts, "src="+ev.Source)
	}
	if ev.Cursor != 0 {
		parts = append(parts, fmt.Sprintf("cursor=%d", ev.Cursor))
	}
	if ev.PresetID != "" {
		parts = append(parts, "preset="+ev.PresetID)
	}
	if len(ev.Failed) > 0 {
		parts = append(parts, "failed="+strings.Join(ev.Failed, ","))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}

	return strings.Join(parts, " ")
}

func newEventsCmd(g *globalFlags) *cobra.Command {
	opts := &eventsOptions{}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the JSONL event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			logPath := filepath.Join(cfg.DataDir, "events.jsonl")

			f, err := os.Open(logPath)
			if err != nil {
				return fmt.Errorf("event log not found at %s (run chatfeed first): %w", logPath, err)
			}
			defer f.Close()

			out := cmd.OutOrStdout()
			for _, l := range readTailLines(f, opts.tail, opts.match) {
				fmt.Fprintln(out, opts.format(l.ev, l.raw))
			}
			if !opts.follow {
				return nil
			}
			return followLines(cmd.Context(), f, out, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.tail, "tail", "n", 50, "number of recent lines to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep printing new events (like tail -f)")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "filter by event kind prefix (e.g. 'fetch')")
	cmd.Flags().StringVar(&opts.level, "level", "", "minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.comp, "comp", "", "filter by component name")
	cmd.Flags().StringVar(&opts.session, "session", "", "filter by session ID prefix")
	cmd.Flags().BoolVar(&opts.rawJSON, "json", false, "output raw JSON lines")

	return cmd
}

// followLines polls f for appended lines until ctx is done.
func followLines(ctx context.Context, f io.Reader, out io.Writer, opts *eventsOptions) error {
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if opts.match(ev) {
			fmt.Fprintln(out, opts.format(ev, line))
		}
	}
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 0
	}
}

type parsedLine struct {
	ev  eventRecord
	raw []byte
}

// readTailLines reads r and returns the last n lines matching the filter.
func readTailLines(r io.Reader, n int, match func(eventRecord) bool) []parsedLine {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	var ring []parsedLine
	if n > 0 {
		ring = make([]parsedLine, 0, n)
	}

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !match(ev) {
			continue
		}
		if n <= 0 {
			continue
		}
		// scanner reuses its buffer
		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)

		if len(ring) < n {
			ring = append(ring, parsedLine{ev: ev, raw: rawCopy})
		} else {
			copy(ring, ring[1:])
			ring[n-1] = parsedLine{ev: ev, raw: rawCopy}
		}
	}

	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
