package cmd

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/sources"
	"github.com/spf13/cobra"
)

func newSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured sources",
	}
	cmd.AddCommand(newSourcesListCommand(), newSourcesDueCommand())
	return cmd
}

func newSourcesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sources with their crawl totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, loc, closeDB, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := registry.List(cmd.Context())
			if err != nil {
				return err
			}
			renderSources(cmd, list, time.Now(), loc)
			return nil
		},
	}
}

func newSourcesDueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List sources a scheduler tick would start now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, loc, closeDB, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			now := time.Now()
			due, err := registry.DueSources(cmd.Context(), now)
			if err != nil {
				return err
			}
			renderSources(cmd, due, now, loc)
			return nil
		},
	}
}

// openRegistry connects to the database without running migrations or
// starting any service.
func openRegistry(cmd *cobra.Command) (*sources.Registry, *time.Location, func(), error) {
	deps, err := commandDeps()
	if err != nil {
		return nil, nil, nil, err
	}

	loc, err := deps.Config.Scheduler.Location()
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := bootstrap.ConnectDatabase(cmd.Context(), deps)
	if err != nil {
		return nil, nil, nil, err
	}

	registry := sources.NewRegistry(database.NewSourceRepository(db), deps.Logger, sources.WithLocation(loc))
	return registry, loc, func() { _ = db.Close() }, nil
}

func renderSources(cmd *cobra.Command, list []domain.Source, now time.Time, loc *time.Location) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Name", "Schedule", "Active", "Last Crawled", "Crawls", "Success %", "Posts", "Next Run"})
	for i := range list {
		src := &list[i]
		t.AppendRow(table.Row{
			src.ID,
			src.Name,
			src.Schedule,
			src.IsActive,
			formatTime(src.LastCrawledAt),
			src.TotalCrawls,
			formatRate(src.SuccessRate()),
			src.TotalPostsFound,
			nextRun(src, now, loc),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(list)})

	t.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 1, 64)
}

func nextRun(src *domain.Source, now time.Time, loc *time.Location) string {
	next, ok := sources.NextRun(src, loc)
	if !ok {
		return "-"
	}
	if !next.After(now) {
		return "now"
	}
	return next.Format(time.RFC3339)
}
