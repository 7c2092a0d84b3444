package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l3encoder"
)

func newParamsCommand(ctx *commandContext) *cobra.Command {
	paramsCmd := &cobra.Command{
		Use:   "params",
		Short: "Inspect encoder parameter bundles",
	}

	var out string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the reference parameter bundle for the configured grid shape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.tuning()
			if err != nil {
				return err
			}
			shape := csi.GridShape{Tx: cfg.GetTx(), Rx: cfg.GetRx(), Subcarriers: cfg.GetSubcarriers()}
			params := l3encoder.ReferenceParams(shape)

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				fh, err := os.Create(filepath.Clean(out))
				if err != nil {
					return err
				}
				defer fh.Close()
				w = fh
			}
			if err := l3encoder.WriteParams(w, params); err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s parameters for shape %s to %s\n", params.Version, shape, out)
			}
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")

	checkCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a parameter bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := l3encoder.LoadParams(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: version %s, shape %s, embedding dim %d\n",
				args[0], params.Version, params.Shape, params.EmbeddingDim())
			return nil
		},
	}

	paramsCmd.AddCommand(exportCmd, checkCmd)
	return paramsCmd
}
