package cmd

import (
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/bootstrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, worker pool and HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return bootstrap.Start(viper.GetString(flagConfig), viper.GetBool(flagDebug), Version)
		},
	}
}
