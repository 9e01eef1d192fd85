package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abelbrown/chatfeed/internal/presets"
)

func newPresetsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage saved filter presets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List presets in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			list := rt.Presets.List()
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No presets.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tID\tNAME\tHIDDEN\tUPDATED")
			for i, p := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, p.ID, p.Name, strings.Join(p.Excluded, ","), humanize.Time(p.UpdatedAt))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <name> [source-id...]",
		Short: "Save a preset hiding the given sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := rt.Presets.Save(args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved preset %q (%s) hiding %d source(s)\n", p.Name, p.ID, len(p.Excluded))
			return persistWarning(cmd, rt.Presets)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id-or-name> <new-name>",
		Short: "Rename a preset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := resolvePreset(rt.Presets, args[0])
			if err != nil {
				return err
			}
			p, err = rt.Presets.Rename(p.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed preset %s to %q\n", p.ID, p.Name)
			return persistWarning(cmd, rt.Presets)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update <id-or-name> [source-id...]",
		Short: "Replace the sources a preset hides",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := resolvePreset(rt.Presets, args[0])
			if err != nil {
				return err
			}
			p, err = rt.Presets.Update(p.ID, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preset %q now hides %d source(s)\n", p.Name, len(p.Excluded))
			return persistWarning(cmd, rt.Presets)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := resolvePreset(rt.Presets, args[0])
			if err != nil {
				return err
			}
			if err := rt.Presets.Delete(p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %q\n", p.Name)
			return persistWarning(cmd, rt.Presets)
		},
	})

	return cmd
}

// resolvePreset finds a preset by ID first, then by name.
func resolvePreset(m *presets.Manager, ref string) (presets.Preset, error) {
	p, err := m.Get(ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, presets.ErrNotFound) {
		return presets.Preset{}, err
	}
	p, err = m.FindByName(ref)
	if err != nil {
		return presets.Preset{}, fmt.Errorf("preset %q: %w", ref, err)
	}
	return p, nil
}

// persistWarning reports a best-effort write that did not keep everything.
func persistWarning(cmd *cobra.Command, m *presets.Manager) error {
	if err := m.LastPersistError(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: only %d of %d presets were stored: %v\n", m.Persisted(), m.Len(), err)
	}
	return nil
}
