package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ilpatch/internal/generation"
)

var (
	bindingsOutFlag     string
	bindingsPackageFlag string
)

// bindingsCmd represents the bindings command
var bindingsCmd = &cobra.Command{
	Use:   "bindings <assembly>",
	Short: "Generate Go structs mirroring the types of an assembly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModule(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		generator := generation.NewGenerator(bindingsPackageFlag, bindingsOutFlag)
		written, err := generator.Generate(m)
		if err != nil {
			return err
		}
		for _, path := range written {
			logger.Debug("generated", zap.String("path", path))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %d file(s) in %s\n", len(written), bindingsOutFlag)
		return nil
	},
}

func init() {
	bindingsCmd.Flags().StringVarP(&bindingsOutFlag, "out", "o", "./bindings", "Directory for the generated files")
	bindingsCmd.Flags().StringVar(&bindingsPackageFlag, "package", "bindings", "Package name of the generated files")

	rootCmd.AddCommand(bindingsCmd)
}
