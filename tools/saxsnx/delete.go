// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"

	"github.com/cea-dtc/saxsnx/reduce"
)

var deleteCmd = &cobra.Command{
	Use:   "delete --group <NAME> <file.h5> [more.h5...]",
	Short: "Delete a result group from containers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	deleteCmd.Flags().String("group", "", "result group to delete")
	deleteCmd.MarkFlagRequired("group")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, files []string) error {
	group, _ := cmd.Flags().GetString("group")
	var firstErr error
	m, err := reduce.OpenFiles(files...)
	if err != nil {
		cmd.PrintErrf("%v\n", err)
		firstErr = err
	}
	if err := m.DeleteGroup(group); err != nil {
		cmd.PrintErrf("%v\n", err)
		if firstErr == nil {
			firstErr = err
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
