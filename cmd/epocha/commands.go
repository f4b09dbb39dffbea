package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/epochio/epocha"
	"github.com/epochio/epocha/container"
	"github.com/epochio/epocha/epoch"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Summarize an epoch container file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := epocha.Read(args[0])
			if err != nil {
				return err
			}
			defer col.Close()

			info := col.Info()
			bad := 0
			for _, ch := range info.Channels {
				if ch.Bad {
					bad++
				}
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendRows([]table.Row{
				{"file", col.Filename()},
				{"measurement id", info.MeasID},
				{"epochs", col.NEpochs()},
				{"channels", fmt.Sprintf("%d (%d bad)", len(info.Channels), bad)},
				{"sampling rate", fmt.Sprintf("%g Hz", col.SFreq())},
				{"window", fmt.Sprintf("[%g, %g] s, %d samples", col.TMin(), col.TMax(), len(col.Times()))},
				{"baseline", baselineString(col.Baseline())},
				{"conditions", col.EventIDs().Description()},
				{"dropped", fmt.Sprintf("%.1f%%", col.DropLogStats(epoch.ReasonIgnored))},
			})
			t.Render()

			return nil
		},
	}
}

func baselineString(b *epoch.Baseline) string {
	if b == nil {
		return "off"
	}

	return fmt.Sprintf("[%g, %g] s", b.Min, b.Max)
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <file>",
		Short: "List the events of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := epocha.Read(args[0])
			if err != nil {
				return err
			}
			defer col.Close()

			labels := col.ConditionLabels()
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"#", "sample", "code", "condition"})
			for i, ev := range col.Events() {
				t.AppendRow(table.Row{i, ev.Sample, ev.Code, labels[i]})
			}
			t.Render()

			return nil
		},
	}
}

func newDropsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "drops <file>",
		Short: "Show the drop log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := epocha.Read(args[0])
			if err != nil {
				return err
			}
			defer col.Close()

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"original #", "status"})
			for i, entry := range col.DropLog() {
				switch {
				case len(entry) == 0:
					if all {
						t.AppendRow(table.Row{i, "kept"})
					}
				default:
					t.AppendRow(table.Row{i, strings.Join(entry, ", ")})
				}
			}
			t.Render()
			fmt.Printf("dropped: %.1f%%\n", col.DropLogStats(epoch.ReasonIgnored))

			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also list kept epochs")

	return cmd
}

func newSaveCmd() *cobra.Command {
	var (
		splitSize string
		precision string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:     "save <in> <out>",
		Aliases: []string{"repack"},
		Short:   "Rewrite a container with new split size, precision or compression",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := epocha.Read(args[0], container.WithReadPreload())
			if err != nil {
				return err
			}
			defer col.Close()

			if splitSize == "" {
				splitSize = cfg.SplitSize
			}
			if precision == "" {
				precision = cfg.Precision
			}
			var opts []container.WriteOption
			if splitSize != "" {
				bytes, err := humanize.ParseBytes(splitSize)
				if err != nil {
					return fmt.Errorf("parsing split size %q: %w", splitSize, err)
				}
				opts = append(opts, container.WithSplitSize(bytes))
			}
			if precision != "" {
				opts = append(opts, container.WithPrecision(precision))
			}
			if overwrite || cfg.Overwrite {
				opts = append(opts, container.WithOverwrite())
			}

			return epocha.Save(col, args[1], opts...)
		},
	}
	cmd.Flags().StringVar(&splitSize, "split-size", "", `maximum part size, e.g. "1.5GB"`)
	cmd.Flags().StringVar(&precision, "precision", "", `stored sample width: "single" or "double"`)
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")

	return cmd
}
