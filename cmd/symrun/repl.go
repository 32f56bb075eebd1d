package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/jnisym/sim"
	"github.com/spf13/cobra"
)

func newReplCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl <sample>",
		Short: "Step a sample interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			_, s, err := load(args[0], cfg)
			if err != nil {
				return err
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "symrun> ",
				HistoryFile: filepath.Join(os.TempDir(), "symrun_history.txt"),
			})
			if err != nil {
				return fmt.Errorf("readline: %w", err)
			}
			defer rl.Close()

			ss := &session{cur: s, out: rl.Stdout()}
			fmt.Fprintf(ss.out, "at %s; type help for commands\n", s.Addr())
			for {
				line, err := rl.Readline()
				if err != nil {
					return nil
				}
				if ss.exec(cmd.Context(), line) {
					return nil
				}
			}
		},
	}
}

// session is the stepper behind the repl: the followed state plus the
// siblings left behind at forks.
type session struct {
	cur   *sim.State
	queue []*sim.State
	out   io.Writer
}

const replHelp = `step [n]      step the current path n times (default 1)
regs          written native registers
locals        locals of the innermost bytecode frame
constraints   path constraints
stdout        bytes printed so far
where         current address and queued paths
quit          leave`

// exec runs one command line and reports whether the session is over.
func (ss *session) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(ss.out, replHelp)
	case "step", "s":
		n := 1
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 1 {
				fmt.Fprintf(ss.out, "bad count %q\n", fields[1])
				return false
			}
			n = v
		}
		ss.step(ctx, n)
	case "regs":
		regs := ss.cur.RegFile()
		names := regs.Names()
		sort.Strings(names)
		for _, name := range names {
			v, err := regs.Load(name)
			if err != nil {
				continue
			}
			fmt.Fprintf(ss.out, "%-6s %s\n", name, v)
		}
	case "locals":
		locals := ss.cur.Locals()
		for _, name := range locals.Names() {
			v, _ := locals.Lookup(name)
			fmt.Fprintf(ss.out, "%-10s %s\n", name, v)
		}
	case "constraints":
		for i, c := range ss.cur.Constraints() {
			fmt.Fprintf(ss.out, "%3d  %s\n", i, c)
		}
	case "stdout":
		fmt.Fprintln(ss.out, concreteBytes(ss.cur, ss.cur.Stdout().Bytes()))
	case "where":
		ss.where()
	default:
		fmt.Fprintf(ss.out, "unknown command %q; type help\n", fields[0])
	}
	return false
}

func (ss *session) where() {
	fmt.Fprintf(ss.out, "%s after %d steps, %d queued\n", ss.cur, ss.cur.Steps(), len(ss.queue))
	for _, q := range ss.queue {
		fmt.Fprintf(ss.out, "  queued %s\n", q)
	}
}

func (ss *session) step(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		if ss.cur.Done() {
			if !ss.ended() {
				return
			}
			continue
		}
		next, err := ss.cur.Step(ctx)
		if err != nil {
			fmt.Fprintf(ss.out, "error: %v\n", err)
			if !ss.resume() {
				return
			}
			continue
		}
		switch {
		case len(next) == 0:
			fmt.Fprintf(ss.out, "path pruned at %s\n", ss.cur.Addr())
			if !ss.resume() {
				return
			}
		case len(next) == 1 && next[0].Done():
			ss.cur = next[0]
			if !ss.ended() {
				return
			}
		case len(next) == 1:
			ss.cur = next[0]
		default:
			fmt.Fprintf(ss.out, "fork at %s into %d paths; following %s\n", ss.cur.Addr(), len(next), next[0])
			ss.cur = next[0]
			ss.queue = append(ss.queue, next[1:]...)
		}
	}
	fmt.Fprintf(ss.out, "at %s\n", ss.cur.Addr())
}

// ended reports the finished current path and resumes another.
func (ss *session) ended() bool {
	fmt.Fprintf(ss.out, "path ended at %s stdout=%s\n", ss.cur.Addr(), concreteBytes(ss.cur, ss.cur.Stdout().Bytes()))
	return ss.resume()
}

// resume switches to the oldest queued path, reporting false when none
// is left.
func (ss *session) resume() bool {
	if len(ss.queue) == 0 {
		fmt.Fprintln(ss.out, "no paths left")
		return false
	}
	ss.cur = ss.queue[0]
	ss.queue = ss.queue[1:]
	fmt.Fprintf(ss.out, "resuming %s\n", ss.cur)
	return true
}
