package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hkevin01/wifi-radar/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String("wifiradar"))
			return err
		},
	}
}
