// Foliod indexes cloud drive folders and answers questions about their
// documents over a streaming HTTP API.
//
// The daemon runs four long-lived components: the HTTP server, the
// folder synchronizer, the sync dispatcher, and the indexing worker
// pool. Configuration comes from an optional YAML file plus environment
// variables; see internal/config.
//
// Usage:
//
//	# Start with defaults
//	DATABASE_URL=postgres://... foliod serve
//
//	# Start with a config file
//	foliod serve --config /etc/folio/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foliod",
	Short: "Document indexing and chat daemon for cloud drive folders",
	Long: `foliod syncs registered cloud drive folders, indexes their documents
into a hybrid vector and full-text search store, and serves grounded,
citation-bearing chat over the indexed content.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("foliod\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
