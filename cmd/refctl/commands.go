package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"referral_engine/internal/bootstrap"
	"referral_engine/internal/model"
	"referral_engine/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type openFunc func(configPath, logLevel string) (*bootstrap.Runtime, error)

type cli struct {
	out  io.Writer
	open openFunc

	configPath string
	logLevel   string
}

func newRootCmd(out io.Writer, open openFunc) *cobra.Command {
	c := &cli{out: out, open: open}

	cmd := &cobra.Command{
		Use:           "refctl",
		Short:         "Referral engine maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level, defaults to the configured one")

	cmd.AddCommand(
		c.validateCmd(),
		c.reconcileCmd(),
		c.catalogCmd(),
		c.leaderboardCmd(),
	)
	return cmd
}

func (c *cli) withRuntime(fn func(rt *bootstrap.Runtime) error) error {
	rt, err := c.open(c.configPath, c.logLevel)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer logger.Sync()

	return fn(rt)
}

func (c *cli) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

func (c *cli) validateCmd() *cobra.Command {
	var sample int

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report aggregate drift on a sample of users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(func(rt *bootstrap.Runtime) error {
				inconsistencies, err := rt.Service.Reconciler.Validate(cmd.Context(), sample)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]any{
					"consistent":      len(inconsistencies) == 0,
					"inconsistencies": inconsistencies,
				})
			})
		},
	}

	cmd.Flags().IntVar(&sample, "sample", 100, "Number of users to check")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reconcile [user ids...]",
		Short: "Recompute user aggregates from their source records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass user ids or --all")
			}

			return c.withRuntime(func(rt *bootstrap.Runtime) error {
				ids := args
				if all {
					var err error
					if ids, err = rt.Service.Reconciler.ListUserIDs(cmd.Context()); err != nil {
						return err
					}
				}

				result := rt.Service.Reconciler.BatchReconcile(cmd.Context(), ids)
				for _, item := range result.Items {
					if item.Err != nil {
						fmt.Fprintf(c.out, "%s: %v\n", item.UserID, item.Err)
					}
				}
				fmt.Fprintf(c.out, "reconciled %d users, %d failed\n", result.Succeeded, result.Failed)

				if result.Failed > 0 {
					return errors.Errorf("%d users failed to reconcile", result.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Reconcile every user")
	return cmd
}

func (c *cli) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Quest catalog maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Remove duplicate quests and insert missing defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(func(rt *bootstrap.Runtime) error {
				report, err := rt.Service.Quests.EnsureQuestCatalogIntegrity(cmd.Context())
				if err != nil {
					return err
				}
				return c.printJSON(report)
			})
		},
	})
	return cmd
}

func (c *cli) leaderboardCmd() *cobra.Command {
	var (
		dimension string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the ranking for a dimension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dim, err := model.ParseDimension(dimension)
			if err != nil {
				return err
			}

			return c.withRuntime(func(rt *bootstrap.Runtime) error {
				entries, err := rt.Service.Leaderboard.Rank(cmd.Context(), dim, limit)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RANK\tUSER\tSCORE\tLEVEL")
				for _, e := range entries {
					fmt.Fprintf(tw, "%d\t%s\t%g\t%d\n", e.Rank, e.UserID, e.Score, e.Level)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&dimension, "dimension", string(model.DimensionOverall), "referrals, earnings, quests, xp or overall")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of entries, 0 for all")
	return cmd
}
