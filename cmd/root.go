// Package cmd implements the blog-crawler command-line interface.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/bootstrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const (
	flagConfig = "config"
	flagDebug  = "debug"
)

var rootCmd = &cobra.Command{
	Use:   "blog-crawler",
	Short: "Crawls configured blogs and stages deduplicated posts",
	Long: `blog-crawler fetches configured blog sources on a cadence, extracts
candidate posts, and stages the ones that are not duplicates of the corpus.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String(flagConfig, "", "config file (default is ./config.yml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().Bool(flagDebug, false, "enable debug logging")
	_ = viper.BindPFlag(flagConfig, rootCmd.PersistentFlags().Lookup(flagConfig))
	_ = viper.BindPFlag(flagDebug, rootCmd.PersistentFlags().Lookup(flagDebug))
	_ = viper.BindEnv(flagConfig, "CONFIG_PATH")
	_ = viper.BindEnv(flagDebug, "APP_DEBUG")

	rootCmd.AddCommand(
		newServeCommand(),
		newCrawlCommand(),
		newSourcesCommand(),
		newMigrateCommand(),
		newVersionCommand(),
	)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// commandDeps loads config and logger using the global flags.
func commandDeps() (*bootstrap.CommandDeps, error) {
	return bootstrap.NewCommandDeps(viper.GetString(flagConfig), viper.GetBool(flagDebug), Version)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blog-crawler version %s\n", Version)
		},
	}
}
