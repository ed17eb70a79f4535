// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cea-dtc/saxsnx/plot"
	"github.com/cea-dtc/saxsnx/reduce"
)

var processCmd = &cobra.Command{
	Use:   "process <file.h5> [more.h5...]",
	Short: "Run reduction operations on NXcanSAS containers",
	Long: "Run one or more reduction operations on every given container.\n" +
		"Available operations:\n" + opsHelp(),
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func opsHelp() string {
	var b strings.Builder
	for _, op := range reduce.Ops() {
		fmt.Fprintf(&b, "  %-24s %s\n", op.Name, op.Doc)
	}
	return b.String()
}

func init() {
	processCmd.Flags().StringSlice("op", []string{"q_space", "radial_average"}, "operations to run")
	processCmd.Flags().Bool("save", true, "persist results into the containers")
	processCmd.Flags().String("group", "", "result group name override (single-op runs)")
	processCmd.Flags().Bool("render", false, "write an SVG next to each container")

	// one flag per registered parameter, shared across operations
	seen := map[string]bool{}
	for _, op := range reduce.Ops() {
		for _, p := range op.Params {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			flag := strings.ReplaceAll(p.Name, "_", "-")
			switch p.Kind {
			case "float":
				processCmd.Flags().Float64(flag, math.NaN(), p.Doc)
			case "int":
				processCmd.Flags().Int(flag, 0, p.Doc)
			case "string":
				processCmd.Flags().String(flag, "", p.Doc)
			}
		}
	}
	rootCmd.AddCommand(processCmd)
}

func collectArgs(cmd *cobra.Command, op reduce.OpSpec) reduce.Args {
	args := reduce.NewArgs()
	args.Save, _ = cmd.Flags().GetBool("save")
	args.GroupName, _ = cmd.Flags().GetString("group")
	for _, p := range op.Params {
		flag := strings.ReplaceAll(p.Name, "_", "-")
		switch p.Kind {
		case "float":
			if v, err := cmd.Flags().GetFloat64(flag); err == nil && !math.IsNaN(v) {
				args.Floats[p.Name] = v
			}
		case "int":
			if v, err := cmd.Flags().GetInt(flag); err == nil && v > 0 {
				args.Ints[p.Name] = v
			}
		case "string":
			if v, err := cmd.Flags().GetString(flag); err == nil && v != "" {
				args.Ref = v
			}
		}
	}
	return args
}

func runProcess(cmd *cobra.Command, files []string) error {
	opNames, _ := cmd.Flags().GetStringSlice("op")
	render, _ := cmd.Flags().GetBool("render")
	group, _ := cmd.Flags().GetString("group")
	if group != "" && len(opNames) > 1 {
		return fmt.Errorf("--group needs a single --op")
	}

	var firstErr error
	m, err := reduce.OpenFiles(files...)
	if err != nil {
		cmd.PrintErrf("%v\n", err)
		firstErr = err
	}
	defer m.CloseAll()

	for _, name := range opNames {
		op, ok := reduce.LookupOp(name)
		if !ok {
			return fmt.Errorf("unknown operation %q", name)
		}
		results, err := m.RunCollect(name, collectArgs(cmd, op))
		if err != nil {
			cmd.PrintErrf("%s: %v\n", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if render {
			for path, res := range results {
				if err := renderResult(path, res); err != nil {
					cmd.PrintErrf("render %s: %v\n", path, err)
				}
			}
		}
	}
	if err := m.CloseAll(); err != nil {
		cmd.PrintErrf("%v\n", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func renderResult(containerPath string, r *reduce.Result) error {
	out := fmt.Sprintf("%s_%s.svg", strings.TrimSuffix(containerPath, ".h5"), strings.ToLower(r.GroupName))
	if r.Rank() == 1 {
		return plot.Render1D(out, r.Op, r.Symbol, "I", r.X, r.Y)
	}
	x, y := meshAxes(r)
	return plot.Render2D(out, r.Op, r.Symbol+" (first component)", r.Symbol+" (second component)", x, y, r.Image)
}

// meshAxes pulls the column and row coordinates out of the (H, W, 2)
// coordinate mesh.
func meshAxes(r *reduce.Result) (x, y []float64) {
	h, w := r.Mesh.Shape[0], r.Mesh.Shape[1]
	x = make([]float64, w)
	y = make([]float64, h)
	for j := 0; j < w; j++ {
		x[j] = r.Mesh.Floats[j*2]
	}
	for i := 0; i < h; i++ {
		y[i] = r.Mesh.Floats[(i*w)*2+1]
	}
	return x, y
}
