package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vampsync/internal/frames"
)

const inspectTimeLayout = "2006-01-02 15:04:05.000000"

func newInspectCommand() *cobra.Command {
	var showHeader bool

	cmd := &cobra.Command{
		Use:         "inspect <file>",
		Short:       "Show timing and header details of a frame file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := frames.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			rows := [][]string{
				{"Path", f.Path()},
				{"Kind", f.Kind().String()},
				{"Stream", f.Stream()},
				{"Frames", strconv.Itoa(f.Frames())},
			}
			if exp, ok := f.ExposureSeconds(); ok {
				rows = append(rows, []string{"Exposure", fmt.Sprintf("%g s", exp)})
			}
			rows = append(rows, []string{"External trigger", yesNo(f.ExternalTrigger())})
			if synced, ok := f.Header().Bool(frames.KeySynchro); ok {
				rows = append(rows, []string{"Synchronized", yesNo(synced)})
			}
			if start, ok := f.StartTime(); ok {
				rows = append(rows, []string{"Start", start.UTC().Format(inspectTimeLayout)})
			}
			if finish, ok := f.FinishTime(); ok {
				rows = append(rows, []string{"Finish", finish.UTC().Format(inspectTimeLayout)})
			}
			switch {
			case f.TimingError() != nil:
				rows = append(rows, []string{"Timing", "unreadable: " + f.TimingError().Error()})
			case !f.HasTiming():
				rows = append(rows, []string{"Timing", "missing"})
			default:
				rows = append(rows, []string{"Timing stamps", strconv.Itoa(f.Timing().Len())})
				if st, ok := f.Timing().Stats(); ok {
					g := st.Grabber
					rows = append(rows,
						[]string{"Grabber interval", fmt.Sprintf("%.1f us mean, %.1f us std", g.Mean, g.Std)},
						[]string{"Grabber range", fmt.Sprintf("%.1f .. %.1f us (p1 %.1f, p99 %.1f)", g.Min, g.Max, g.P1, g.P99)},
						[]string{"Loop jitter", fmt.Sprintf("%.1f us std", st.Loop.Std)},
					)
				}
			}
			writeTable(cmd, []string{"Field", "Value"}, rows, nil)

			if showHeader {
				fmt.Fprintln(out)
				var cards [][]string
				for _, c := range f.Header().Cards() {
					value := ""
					if c.Value != nil {
						value = fmt.Sprint(c.Value)
					}
					cards = append(cards, []string{c.Key, value, c.Comment})
				}
				writeTable(cmd, []string{"Key", "Value", "Comment"}, cards, nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showHeader, "header", false, "Also list every header card")
	return cmd
}

