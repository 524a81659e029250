/*
Package main in the directory dagview implements a tool to print the traces written by
a node: the blocks of every round with the decision taken for their slot.
*/
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aquasecurity/table"
	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type viewOptions struct {
	state   int
	all     bool
	summary bool
}

func newRootCmd() *cobra.Command {
	var opts viewOptions
	cmd := &cobra.Command{
		Use:   "dagview <trace-file>",
		Short: "Print the DAG states stored in a trace",
		Long: `dagview reads a trace written by a node and prints, for a state of the trace,
one row per round and one column per authority. Every cell holds the block label,
its leader rank and the decision of its slot.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open trace")
			}
			defer f.Close()
			trace, err := mysticeti.DecodeTrace(f)
			if err != nil {
				return err
			}
			return view(cmd.OutOrStdout(), trace, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.state, "state", "s", -1, "index of the state to print, negative counts from the end")
	cmd.Flags().BoolVar(&opts.all, "all", false, "print every state of the trace")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "recompute the decisions and print the commit order")
	return cmd
}

func view(w io.Writer, trace *mysticeti.Trace, opts viewOptions) error {
	if len(trace.States) == 0 {
		return errors.New("the trace holds no state")
	}
	var indices []int
	if opts.all {
		for i := range trace.States {
			indices = append(indices, i)
		}
	} else {
		i := opts.state
		if i < 0 {
			i += len(trace.States)
		}
		if i < 0 || i >= len(trace.States) {
			return errors.Errorf("state %d out of range, the trace holds %d", opts.state, len(trace.States))
		}
		indices = []int{i}
	}

	for _, i := range indices {
		fmt.Fprintf(w, "state %d\n", i)
		render(w, trace.States[i])
		if opts.summary {
			order, err := commitOrder(trace.States[i])
			if err != nil {
				return err
			}
			labels := make([]string, 0, len(order))
			for _, ref := range order {
				labels = append(labels, ref.String())
			}
			fmt.Fprintf(w, "commit order: %s\n", strings.Join(labels, ", "))
		}
	}
	return nil
}

func render(w io.Writer, state mysticeti.TraceState) {
	grid := make(map[uint64][mysticeti.NumAuthorities]string)
	var rounds []uint64
	for _, b := range state.Dag {
		ref := b.Block.Reference
		row, ok := grid[ref.Round]
		if !ok {
			rounds = append(rounds, ref.Round)
		}
		if ref.Authority >= 0 && ref.Authority < mysticeti.NumAuthorities {
			row[ref.Authority] = fmt.Sprintf("%s #%d %s", label(ref), ref.LeaderRank, b.State.Tag)
		}
		grid[ref.Round] = row
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] > rounds[j] })

	tbl := table.New(w)
	headers := []string{"Round"}
	for a := 0; a < mysticeti.NumAuthorities; a++ {
		headers = append(headers, fmt.Sprintf("A%d", a))
	}
	tbl.SetHeaders(headers...)
	for _, round := range rounds {
		row := grid[round]
		cells := append([]string{fmt.Sprint(round)}, row[:]...)
		tbl.AddRow(cells...)
	}
	tbl.Render()
}

func label(ref mysticeti.TraceReference) string {
	if ref.Label != "" {
		return ref.Label
	}
	return fmt.Sprintf("B%d(%d)", ref.Round, ref.Authority)
}

func toReference(ref mysticeti.TraceReference) mysticeti.BlockReference {
	return mysticeti.BlockReference{
		Authority:  mysticeti.Authority(ref.Authority),
		Round:      ref.Round,
		Label:      ref.Label,
		LeaderRank: ref.LeaderRank,
	}
}

// commitOrder rebuilds the DAG of a state and runs the commit rule on it.
func commitOrder(state mysticeti.TraceState) ([]mysticeti.BlockReference, error) {
	blocks := append([]mysticeti.BlockWithState(nil), state.Dag...)
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Block.Reference.Round < blocks[j].Block.Reference.Round
	})
	store := mysticeti.NewBlockStore()
	for _, b := range blocks {
		parents := make([]mysticeti.BlockReference, 0, len(b.Block.Includes))
		for _, p := range b.Block.Includes {
			parents = append(parents, toReference(p))
		}
		err := store.Add(mysticeti.StatementBlock{Reference: toReference(b.Block.Reference), Parents: parents})
		if err != nil {
			return nil, err
		}
	}
	decisions, err := mysticeti.TryDecideAll(store)
	if err != nil {
		return nil, err
	}
	return mysticeti.CommitOrder(decisions), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
