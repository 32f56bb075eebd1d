package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/colorfulnotion/jnisym/bv"
	"github.com/colorfulnotion/jnisym/explore"
	log "github.com/colorfulnotion/jnisym/log"
	"github.com/colorfulnotion/jnisym/sim"
	"github.com/colorfulnotion/jnisym/symerrors"
	"github.com/spf13/cobra"
)

type runFlags struct {
	tree  bool
	trace string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run <sample>",
		Short: "Explore every path of a sample and report the buckets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			smp, s, err := load(args[0], cfg)
			if err != nil {
				return err
			}
			opts := explore.OptionsFrom(cfg.Explore)
			if rf.trace != "" {
				f, err := os.Create(rf.trace)
				if err != nil {
					return err
				}
				defer f.Close()
				opts.Trace = log.NewEventWriter(f)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return explorePaths(ctx, cmd.OutOrStdout(), explore.NewManager(opts, s), smp.Win, rf.tree)
		},
	}
	cmd.Flags().BoolVar(&rf.tree, "tree", true, "Print the fork tree")
	cmd.Flags().StringVar(&rf.trace, "trace", "", "Write a JSONL exploration trace to this file")
	return cmd
}

// explorePaths runs m to completion and prints what it found. A budget
// stop still reports the partial buckets.
func explorePaths(ctx context.Context, out io.Writer, m *explore.Manager, win byte, tree bool) error {
	runErr := m.Run(ctx)
	if runErr != nil && !errors.Is(runErr, symerrors.ErrBudgetExhausted) {
		return runErr
	}
	fmt.Fprintln(out, m.Summary())
	if runErr != nil {
		fmt.Fprintf(out, "stopped early: %v\n", runErr)
	}
	for _, p := range m.Errored() {
		fmt.Fprintf(out, "errored  %s after %d steps [%s]: %v\n", p.Tip, p.Steps(), symerrors.GetErrorCodeWithName(p.Err), p.Err)
	}
	for _, p := range m.Deadended() {
		s := p.Tip
		fmt.Fprintf(out, "deadended %s after %d steps stdout=%s\n", s, p.Steps(), concreteBytes(s, s.Stdout().Bytes()))
		for _, d := range s.Diagnostics() {
			fmt.Fprintf(out, "  warning [%s] %s\n", symerrors.GetErrorCodeWithName(d.Err), d)
		}
	}
	if win != 0 {
		paths, err := m.Winning(explore.StdoutHasPrefix(win))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d winning path(s) printing %q\n", len(paths), win)
		for _, p := range paths {
			fmt.Fprintf(out, "  %s stdin=%s\n", p.Tip, concreteBytes(p.Tip, p.Tip.Stdin().Bytes()))
		}
	}
	if tree {
		fmt.Fprint(out, m.Tree())
	}
	return nil
}

// concreteBytes renders one satisfying assignment of a byte stream.
func concreteBytes(s *sim.State, bs []*bv.Expr) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, b := range bs {
		v, err := s.Solver().Any(b)
		if err != nil {
			sb.WriteString(`\?`)
			continue
		}
		sb.WriteString(strings.Trim(fmt.Sprintf("%q", byte(v.Uint64())), "'"))
	}
	sb.WriteByte('"')
	return sb.String()
}
