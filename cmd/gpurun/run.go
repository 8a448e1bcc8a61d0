package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/dispatch"
)

type runFlags struct {
	source      string
	entry       string
	buffers     []int
	inputs      []string
	outputs     []string
	elementSize int
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compile and dispatch a compute function",
		Long: `Allocate one buffer per --buffer flag, bind them to the function's
arguments in flag order, load --input files, dispatch, and write --output
files. A hex preview of every buffer is printed afterwards.

The grid covers the first buffer: its size divided by --element-size
invocations.`,
		Example: `  gpurun run --source add_one.wgsl --entry addOne --buffer 4096 \
      --input 0=in.bin --output 0=out.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.OutOrStdout(), f, cmd.Flags().Changed("element-size"))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.source, "source", "s", "", "WGSL source file")
	flags.StringVarP(&f.entry, "entry", "e", "main", "compute entry point")
	flags.IntSliceVarP(&f.buffers, "buffer", "b", nil, "buffer size in bytes; repeat for each argument")
	flags.StringSliceVarP(&f.inputs, "input", "i", nil, "load a file into a buffer: INDEX=PATH")
	flags.StringSliceVarP(&f.outputs, "output", "o", nil, "write a buffer to a file after the run: INDEX=PATH")
	flags.IntVar(&f.elementSize, "element-size", 4, "bytes per element of the first buffer")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

// binding is an INDEX=PATH flag value.
type binding struct {
	index int
	path  string
}

func parseBindings(values []string, nbuf int) ([]binding, error) {
	out := make([]binding, 0, len(values))
	for _, v := range values {
		idx, path, ok := strings.Cut(v, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("%q: want INDEX=PATH", v)
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			return nil, fmt.Errorf("%q: bad index: %w", v, err)
		}
		if i < 0 || i >= nbuf {
			return nil, fmt.Errorf("%q: buffer %d out of range (have %d)", v, i, nbuf)
		}
		out = append(out, binding{index: i, path: path})
	}
	return out, nil
}

func (a *app) run(w io.Writer, f *runFlags, elemSizeSet bool) error {
	if len(f.buffers) == 0 {
		return errors.New("at least one --buffer is required")
	}
	inputs, err := parseBindings(f.inputs, len(f.buffers))
	if err != nil {
		return fmt.Errorf("--input %w", err)
	}
	outputs, err := parseBindings(f.outputs, len(f.buffers))
	if err != nil {
		return fmt.Errorf("--output %w", err)
	}
	elemSize := a.cfg.Dispatch.ElementSize
	if elemSizeSet {
		elemSize = f.elementSize
	}

	source, err := os.ReadFile(f.source)
	if err != nil {
		return err
	}
	contents, err := readInputs(inputs)
	if err != nil {
		return err
	}

	s, err := a.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	handles := make([]dispatch.BufferHandle, len(f.buffers))
	data := make([][]byte, len(f.buffers))
	for i, size := range f.buffers {
		handles[i], data[i], err = s.AllocateBuffer(size)
		if err != nil {
			return fmt.Errorf("buffer %d: %w", i, err)
		}
	}
	for i, in := range inputs {
		if len(contents[i]) > len(data[in.index]) {
			return fmt.Errorf("%s: %d bytes do not fit buffer %d (%d bytes)",
				in.path, len(contents[i]), in.index, len(data[in.index]))
		}
		copy(data[in.index], contents[i])
	}

	p, err := s.CompileKernel(string(source), f.entry)
	if err != nil {
		var ce *dispatch.CompileError
		if errors.As(err, &ce) {
			return fmt.Errorf("%s: %s", f.source, ce.Diagnostics)
		}
		return err
	}
	k, err := s.CreateKernel(p, dispatch.WithElementSize(elemSize))
	if err != nil {
		return err
	}
	for _, h := range handles {
		if err := s.BindBuffer(k, h); err != nil {
			return err
		}
	}
	if err := s.Run(k); err != nil {
		return err
	}

	for _, out := range outputs {
		if err := os.WriteFile(out.path, data[out.index], 0o644); err != nil { //nolint:gosec // user-requested output
			return err
		}
	}

	fmt.Fprintf(w, "%s on %s\n", f.entry, s.Device())
	for i, b := range data {
		fmt.Fprintf(w, "\nbuffer %d (%d bytes):\n", i, len(b))
		fmt.Fprint(w, hex.Dump(preview(b, a.cfg.Dispatch.PreviewBytes)))
	}
	a.log.Debug("gpurun: done", "stats", s.Stats().String())
	return nil
}

// readInputs loads every input file concurrently. The result is indexed
// like inputs.
func readInputs(inputs []binding) ([][]byte, error) {
	contents := make([][]byte, len(inputs))
	var g errgroup.Group
	g.SetLimit(4)
	for i, in := range inputs {
		g.Go(func() error {
			b, err := os.ReadFile(in.path)
			if err != nil {
				return err
			}
			contents[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}

func preview(b []byte, n int) []byte {
	if n > 0 && len(b) > n {
		return b[:n]
	}
	return b
}
