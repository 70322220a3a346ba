package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/example/availability-orchestrator/internal/config"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

func newStaleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Inspect or clear stale availability flags",
	}
	cmd.AddCommand(newStaleShowCmd(v))
	cmd.AddCommand(newStaleClearCmd(v))
	return cmd
}

// withApp loads configuration, wires the app with its stale flags loaded,
// and runs fn.
func withApp(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.StaleStore == config.StaleStoreMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: STALE_STORE=memory keeps flags inside the server process only")
	}
	if err := a.detector.Hydrate(ctx); err != nil {
		return fmt.Errorf("load stale flags: %w", err)
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// staleReport is the flag of one restaurant with its generated slot count.
type staleReport struct {
	availability.StaleFlag
	Slots int `json:"slots"`
}

func newStaleShowCmd(v *viper.Viper) *cobra.Command {
	var restaurant string
	c := &cobra.Command{
		Use:   "show",
		Short: "Show the stale flag of one restaurant, or list every stale restaurant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				if restaurant != "" {
					slots, err := a.slots.Count(ctx, restaurant)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), staleReport{
						StaleFlag: a.detector.CurrentState(restaurant),
						Slots:     slots,
					})
				}
				ids := a.detector.ActiveRestaurants()
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no stale restaurants")
					return nil
				}
				for _, id := range ids {
					flag := a.detector.CurrentState(id)
					desc := ""
					if flag.LastEvent != nil {
						desc = availability.Describe(flag.LastEvent.Kind, flag.LastEvent.Action)
					}
					slots, err := a.slots.Count(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d slots\t%s\n", id, slots, desc)
				}
				return nil
			})
		},
	}
	c.Flags().StringVar(&restaurant, "restaurant", "", "restaurant id")
	return c
}

func newStaleClearCmd(v *viper.Viper) *cobra.Command {
	var restaurant string
	c := &cobra.Command{
		Use:   "clear",
		Short: "Clear a restaurant's stale flag without regenerating",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				if err := a.detector.Clear(ctx, restaurant); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", restaurant)
				return nil
			})
		},
	}
	c.Flags().StringVar(&restaurant, "restaurant", "", "restaurant id")
	_ = c.MarkFlagRequired("restaurant")
	return c
}
