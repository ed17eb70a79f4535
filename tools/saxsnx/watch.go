// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cea-dtc/saxsnx/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Convert and reduce EDF files as they appear in a directory",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("dir", "", "directory to watch (default from config)")
	watchCmd.Flags().StringSlice("op", nil, "operations to run on each converted file")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := viper.GetString("watch.dir")
	if v, _ := cmd.Flags().GetString("dir"); v != "" {
		dir = v
	}
	if dir == "" {
		return errors.New("no directory to watch: set --dir or watch.dir in the config")
	}
	ops := viper.GetStringSlice("watch.ops")
	if v, _ := cmd.Flags().GetStringSlice("op"); len(v) > 0 {
		ops = v
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &watch.Watcher{
		Dir:      dir,
		Settings: conversionSettings(cmd),
		Ops:      ops,
	}
	err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
