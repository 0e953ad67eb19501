package cmd

import (
	"github.com/spf13/cobra"

	"ilpatch/internal/report"
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump <assembly>",
	Short: "List the types, methods and IL instructions of an assembly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModule(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printer := report.NewPrinter(cmd.OutOrStdout(), settings.Color)
		printer.Loaded(m)
		printer.Module(m)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
