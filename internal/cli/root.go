// Package cli implements the command-line interface for convcache.
package cli

import (
	"fmt"
	"os"

	"github.com/colthorp/convcache-go/internal/core"
	"github.com/spf13/cobra"
)

// Global flags
var (
	verbose   bool
	quiet     bool
	raw       bool
	refresh   bool
	cacheOnly bool
	owner     string
	timezone  string
	limit     int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "convcache",
	Short:   "Conversation cache CLI - fetch and locally cache conversation archives",
	Long:    `A command-line utility that fetches conversation result sets from the Parley API and keeps a two-tier local cache (SQLite plus a small flat-file fallback) in front of it.`,
	Version: core.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of text summaries")
	rootCmd.PersistentFlags().BoolVar(&refresh, "refresh", false, "Skip the cache read and always fetch from the API")
	rootCmd.PersistentFlags().BoolVar(&cacheOnly, "cache-only", false, "Serve from cache only; never hit the API")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "Owner identifier (default: CONVCACHE_OWNER)")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", fmt.Sprintf("Timezone for date calculations (default: %s)", core.DefaultTZ))
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 0, "Maximum number of results to return")
}
