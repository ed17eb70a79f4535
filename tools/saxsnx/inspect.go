// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cea-dtc/saxsnx/nexus"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.h5>",
	Short: "Print the tree of a container",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().Bool("attrs", false, "print attributes too")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := nexus.OpenReadOnly(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	withAttrs, _ := cmd.Flags().GetBool("attrs")
	printGroup(cmd, f.Root(), "/", withAttrs)
	return nil
}

func printGroup(cmd *cobra.Command, g *nexus.Group, path string, withAttrs bool) {
	cmd.Printf("%s\n", path)
	if withAttrs {
		for _, name := range g.Attrs.Names() {
			cmd.Printf("  @%s = %v\n", name, g.Attrs[name])
		}
	}
	for _, name := range g.DatasetNames() {
		d, _ := g.Dataset(name)
		cmd.Printf("  %s  %s %v\n", name, dsType(d), d.Shape)
		if withAttrs {
			for _, an := range d.Attrs.Names() {
				cmd.Printf("    @%s = %v\n", an, d.Attrs[an])
			}
		}
	}
	for _, name := range g.Groups() {
		child, _ := g.Group(name)
		sub := path + name + "/"
		if path == "/" {
			sub = "/" + name + "/"
		}
		printGroup(cmd, child, sub, withAttrs)
	}
}

func dsType(d *nexus.Dataset) string {
	switch {
	case d.Floats != nil:
		return "float64"
	case d.Ints != nil:
		return "int64"
	case d.Bytes != nil:
		return "uint8"
	case d.Strings != nil:
		if len(d.Strings) == 1 {
			return fmt.Sprintf("string %q", truncate(d.Strings[0], 40))
		}
		return "string"
	}
	return "empty"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
