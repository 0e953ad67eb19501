package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ilpatch/internal/metadata"
)

var (
	refsOutFlag     string
	refsPackageFlag string
	refsFeedFlag    string
)

// refsCmd groups the reference assembly commands
var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Manage reference assemblies",
}

var refsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the latest runtime reference pack from NuGet",
	Long: `Fetch downloads the newest stable version of the reference pack and
extracts the assemblies of its newest target framework. Pass them to other
commands with --ref.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		downloader := metadata.NewDownloader()
		if refsFeedFlag != "" {
			downloader.Index = refsFeedFlag
		}
		logger.Debug("fetching reference pack", zap.String("package", refsPackageFlag), zap.String("feed", downloader.Index))

		info, err := downloader.DownloadReferencePack(cmd.Context(), refsPackageFlag, refsOutFlag)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s (%s): %d assemblies\n", refsPackageFlag, info.Version, info.Framework, len(info.Files))
		for _, file := range info.Files {
			fmt.Fprintf(out, "  %s\n", file)
		}
		return nil
	},
}

func init() {
	refsFetchCmd.Flags().StringVarP(&refsOutFlag, "out", "o", "./refs", "Directory for the extracted assemblies")
	refsFetchCmd.Flags().StringVar(&refsPackageFlag, "package", metadata.ReferencePack, "Reference pack to download")
	refsFetchCmd.Flags().StringVar(&refsFeedFlag, "feed", "", "NuGet service index (default: nuget.org)")

	refsCmd.AddCommand(refsFetchCmd)
	rootCmd.AddCommand(refsCmd)
}
