package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/database"
	"github.com/selivandex/newsimpact/internal/pipeline"
	"github.com/selivandex/newsimpact/internal/search"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	run := func(fn func(db *database.DB, path string) error) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.New(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			return fn(db, cfg.Database.MigrationsPath)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(db *database.DB, path string) error {
				return database.RunMigrations(db.Conn(), path)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: run(func(db *database.DB, path string) error {
				return database.RollbackMigration(db.Conn(), path)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: run(func(db *database.DB, path string) error {
				version, dirty, err := database.GetMigrationVersion(db.Conn(), path)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"version": version, "dirty": dirty})
			}),
		},
	)
	return cmd
}

func newFetchCmd() *cobra.Command {
	var tickers, topics string
	var limit int

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, deduplicate and score news once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				params := models.FetchParams{
					Tickers: splitList(tickers),
					Topics:  splitList(topics),
					Limit:   limit,
				}
				if len(params.Tickers) == 0 {
					params.Tickers = a.cfg.News.Tickers
				}
				res, err := a.pipeline.FetchAndProcess(ctx, params)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&tickers, "tickers", "", "comma-separated tickers (default: configured tickers)")
	cmd.Flags().StringVar(&topics, "topics", "", "comma-separated provider topics")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum articles per provider")
	return cmd
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process ID",
		Short: "Re-score one article with the current ensemble",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid article id %q: %w", args[0], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.Reprocess(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func newReprocessBinaryCmd() *cobra.Command {
	var batch int
	var model string

	cmd := &cobra.Command{
		Use:   "reprocess-binary",
		Short: "Re-score articles stored with a legacy ±0.5 score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.pipeline.ReprocessBinary(ctx, batch, model)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 50, "articles per run")
	cmd.Flags().StringVar(&model, "model", pipeline.ModelEnsemble, "lexicon or ensemble")
	return cmd
}

func newRecentCmd() *cobra.Command {
	var hours, limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently published articles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				articles, err := a.query.RecentArticles(ctx, hours, limit)
				if err != nil {
					return err
				}
				return printJSON(articles)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "look back this many hours")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum articles")
	return cmd
}

func newCompanyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "company SYMBOL",
		Short: "List the latest news about one ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				articles, err := a.query.CompanyNews(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(articles)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum articles")
	return cmd
}

func newTrendsCmd() *cobra.Command {
	var ticker string
	var hours int

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show the sentiment trend, optionally for one ticker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				trends, err := a.query.SentimentTrends(ctx, ticker, hours)
				if err != nil {
					logger.Warn("trends are partial", zap.Error(err))
				}
				return printJSON(trends)
			})
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "restrict to one ticker")
	cmd.Flags().IntVar(&hours, "hours", 24, "window in hours")
	return cmd
}

func newSimilarCmd() *cobra.Command {
	var limit int
	var articleID string

	cmd := &cobra.Command{
		Use:   "similar [TEXT]",
		Short: "Find articles similar to a text or to a stored article",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if articleID == "" && len(args) == 0 {
				return errors.New("either TEXT or --article is required")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					hits []models.SimilarArticle
					err  error
				)
				if articleID != "" {
					id, perr := uuid.Parse(articleID)
					if perr != nil {
						return fmt.Errorf("invalid article id %q: %w", articleID, perr)
					}
					hits, err = a.search.SimilarTo(ctx, id, limit)
				} else {
					hits, err = a.search.Similar(ctx, search.Query{Text: strings.Join(args, " ")}, limit)
				}
				if err != nil {
					return err
				}
				return printJSON(hits)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&articleID, "article", "", "search around a stored article instead of TEXT")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.query.Stats(ctx, hours)
				if err != nil {
					logger.Warn("stats are partial", zap.Error(err))
				}
				return printJSON(stats)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "window in hours, 0 for all time")
	return cmd
}

func newCorrelateCmd() *cobra.Command {
	var ticker string
	var window int

	cmd := &cobra.Command{
		Use:   "correlate ID",
		Short: "Measure the market impact of one article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid article id %q: %w", args[0], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				windows := a.cfg.Impact.WindowHours
				if window > 0 {
					windows = []int{window}
				}

				impacts := make([]*models.MarketImpact, 0, len(windows))
				for _, w := range windows {
					imp, err := a.correlator.Correlate(ctx, id, ticker, w)
					if err != nil {
						return fmt.Errorf("window %dh: %w", w, err)
					}
					impacts = append(impacts, imp)
				}
				return printJSON(impacts)
			})
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "ticker to correlate (default: the article's ticker)")
	cmd.Flags().IntVar(&window, "window", 0, "window in hours (default: every configured window)")
	return cmd
}

func newCorrelateTickerCmd() *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "correlate-ticker SYMBOL",
		Short: "Pearson correlation between sentiment and price change for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.correlator.CorrelateTicker(ctx, args[0], window)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().IntVar(&window, "window", 24, "window in hours")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Flag articles older than the retention as archived",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if days == 0 {
					days = a.cfg.Archive.RetentionDays
				}
				n, err := a.pipeline.Archive(ctx, days)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"archived": n, "days": days})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	return cmd
}
