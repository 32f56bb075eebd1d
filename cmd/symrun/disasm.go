package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/colorfulnotion/jnisym/program"
	"github.com/colorfulnotion/jnisym/samples"
	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"
)

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <sample>",
		Short: "Disassemble the native regions of a sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			smp, ok := samples.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown sample %q (see symrun samples)", args[0])
			}
			p, err := smp.Program()
			if err != nil {
				return err
			}
			for _, r := range p.Regions() {
				disassemble(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
}

// disassemble prints a region one instruction per line, with a label at
// every symbol.
func disassemble(out io.Writer, r *program.Region) {
	labels := make(map[uint64][]string)
	for name, addr := range r.Symbols {
		labels[addr] = append(labels[addr], name)
	}
	for _, names := range labels {
		sort.Strings(names)
	}
	symname := func(addr uint64) (string, uint64) {
		if names, ok := labels[addr]; ok {
			return names[0], addr
		}
		return "", 0
	}
	fmt.Fprintf(out, "%s @ 0x%x (%d bytes)\n", r.Name, r.Base, len(r.Code))
	for pc := r.Base; pc < r.End(); {
		for _, n := range labels[pc] {
			fmt.Fprintf(out, "%s:\n", n)
		}
		code := r.Bytes(pc)
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			fmt.Fprintf(out, "0x%06x: db 0x%02x\n", pc, code[0])
			pc++
			continue
		}
		hexBytes := make([]string, inst.Len)
		for i, b := range code[:inst.Len] {
			hexBytes[i] = fmt.Sprintf("%02x", b)
		}
		fmt.Fprintf(out, "0x%06x: %-24s %s\n", pc, strings.Join(hexBytes, " "), x86asm.IntelSyntax(inst, pc, symname))
		pc += uint64(inst.Len)
	}
}
