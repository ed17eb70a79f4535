// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cea-dtc/saxsnx/edf"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.edf> [more.edf...]",
	Short: "Convert EDF exposures to NXcanSAS containers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConvert,
}

func init() {
	convertCmd.Flags().String("out", "", "output directory (default from config, else .)")
	convertCmd.Flags().String("detector", "", "detector model override")
	convertCmd.Flags().Float64("thickness", 0, "sample thickness when the header lacks one")
	convertCmd.Flags().String("ref", "", "direct-beam reference container path")
	rootCmd.AddCommand(convertCmd)
}

func conversionSettings(cmd *cobra.Command) edf.Settings {
	set := edf.Settings{
		OutputDir:    viper.GetString("output_dir"),
		DetectorName: viper.GetString("detector"),
		Thickness:    viper.GetFloat64("thickness"),
		BeamSizeX:    viper.GetFloat64("beam_size_x"),
		BeamSizeY:    viper.GetFloat64("beam_size_y"),
		RefPath:      viper.GetString("ref_path"),
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		set.OutputDir = v
	}
	if v, _ := cmd.Flags().GetString("detector"); v != "" {
		set.DetectorName = v
	}
	if v, _ := cmd.Flags().GetFloat64("thickness"); v > 0 {
		set.Thickness = v
	}
	if v, _ := cmd.Flags().GetString("ref"); v != "" {
		set.RefPath = v
	}
	return set
}

func runConvert(cmd *cobra.Command, args []string) error {
	set := conversionSettings(cmd)
	var failed int
	for _, path := range args {
		out, err := edf.Convert(path, set)
		if err != nil {
			cmd.PrintErrf("%s: %v\n", path, err)
			failed++
			continue
		}
		cmd.Printf("%s -> %s\n", path, out)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(args))
	}
	return nil
}
