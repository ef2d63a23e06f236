package main

import (
	"github.com/spf13/cobra"

	pkgconfig "github.com/dmitrymomot/prolessons/pkg/config"
)

func loadEnvFiles(cmd *cobra.Command, _ []string) error {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil || len(files) == 0 {
		return err
	}
	return pkgconfig.LoadEnv(files...)
}
