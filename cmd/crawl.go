package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/spf13/cobra"
)

func newCrawlCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "crawl <source-id>",
		Short: "Crawl one source in the foreground",
		Long: `Crawl runs a single job for the source and prints its counters.
Interrupting the command cancels the job at the next page boundary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			defer func() { _ = deps.Logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Setup(ctx, deps)
			if err != nil {
				return err
			}
			defer app.Close()

			finished, err := app.RunJob(ctx, args[0], actor)
			if err != nil {
				return err
			}

			renderJob(cmd, finished)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the job")
	return cmd
}

func renderJob(cmd *cobra.Command, j *domain.Job) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Job", j.ID},
		{"Source", j.SourceID},
		{"Status", j.Status},
		{"Pages crawled", j.PagesCrawled},
		{"Candidates found", j.CandidatesFound},
		{"Created", j.Created},
		{"Duplicates found", j.DuplicatesFound},
		{"Errors", j.ErrorsCount},
		{"Duration", j.Duration().Round(time.Millisecond)},
	})
	if j.ErrorMessage != "" {
		t.AppendFooter(table.Row{"Error", j.ErrorMessage})
	}

	t.Render()
}
