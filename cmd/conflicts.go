package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/example/availability-orchestrator/internal/application/notify"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

func newConflictsCmd(v *viper.Viper) *cobra.Command {
	var (
		restaurant string
		closeDays  string
		protect    bool
	)

	c := &cobra.Command{
		Use:   "conflicts",
		Short: "List reservations on weekdays a schedule change would close",
		RunE: func(cmd *cobra.Command, args []string) error {
			closed, parseErr := parseWeekdays(closeDays)
			if parseErr != nil {
				return parseErr
			}
			if len(closed) == 0 {
				return errors.New("--close needs at least one weekday")
			}

			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				current, err := a.schedules.WeeklyHours(ctx, restaurant)
				if err != nil {
					return err
				}
				conflicts, err := a.protector.FindConflicts(ctx, restaurant, closeWeekdays(current, closed), current)
				if err != nil {
					return err
				}
				if len(conflicts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no reservations are affected")
					return nil
				}
				msg := notify.Render(availability.Event{Type: availability.EventConfirmationRequired, Conflicts: conflicts})
				fmt.Fprintln(cmd.OutOrStdout(), msg.Body)

				if !protect {
					return nil
				}
				exceptions, err := a.protector.Protect(ctx, restaurant, conflicts, current)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "kept %d date(s) open\n", len(exceptions))
				return nil
			})
		},
	}

	c.Flags().StringVar(&restaurant, "restaurant", "", "restaurant id")
	c.Flags().StringVar(&closeDays, "close", "", "comma-separated weekdays to close, e.g. monday,sunday")
	c.Flags().BoolVar(&protect, "protect", false, "write open exceptions for every conflicting date")
	_ = c.MarkFlagRequired("restaurant")
	return c
}
