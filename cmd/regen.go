package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/example/availability-orchestrator/internal/application/notify"
	"github.com/example/availability-orchestrator/internal/application/regeneration"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

func newRegenCmd(v *viper.Viper) *cobra.Command {
	var (
		restaurant string
		mode       string
		start, end string
		closeDays  string
		confirm    bool
	)

	c := &cobra.Command{
		Use:   "regen",
		Short: "Run one regeneration for a restaurant",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, parseErr := availability.ParseMode(mode)
			if parseErr != nil {
				return parseErr
			}
			closed, parseErr := parseWeekdays(closeDays)
			if parseErr != nil {
				return parseErr
			}

			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				period, err := resolvePeriod(ctx, a, restaurant, start, end)
				if err != nil {
					return err
				}
				return runRegen(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), a.coord, a.schedules, regenRequest{
					Restaurant: restaurant,
					Mode:       m,
					Period:     period,
					Close:      closed,
					Confirm:    confirm,
				})
			})
		},
	}

	c.Flags().StringVar(&restaurant, "restaurant", "", "restaurant id")
	c.Flags().StringVar(&mode, "mode", string(availability.ModeCleanupAndRegenerate), "generate, cleanup_only or cleanup_and_regenerate")
	c.Flags().StringVar(&start, "start", "", "first date (YYYY-MM-DD); defaults to today")
	c.Flags().StringVar(&end, "end", "", "last date (YYYY-MM-DD); defaults to the booking horizon")
	c.Flags().StringVar(&closeDays, "close", "", "comma-separated weekdays the new schedule closes, e.g. monday,tuesday")
	c.Flags().BoolVar(&confirm, "confirm", false, "accept reservation conflicts and keep their dates open")
	_ = c.MarkFlagRequired("restaurant")
	return c
}

// regenRunner is the part of the coordinator the regen command drives.
type regenRunner interface {
	Run(ctx context.Context, mode availability.Mode, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error)
	RunWithProtection(ctx context.Context, r regeneration.ProtectedRun) (availability.RegenerationOutcome, []availability.ReservationConflict, error)
}

type regenRequest struct {
	Restaurant string
	Mode       availability.Mode
	Period     availability.Period
	Close      []time.Weekday
	Confirm    bool
}

// runRegen runs one regeneration, protected when days are being closed, and
// prints the outcome as JSON to out and a readable summary to errOut.
func runRegen(ctx context.Context, out, errOut io.Writer, coord regenRunner, schedules availability.ScheduleSource, req regenRequest) error {
	var (
		outcome   availability.RegenerationOutcome
		conflicts []availability.ReservationConflict
		err       error
	)
	if len(req.Close) > 0 {
		var current availability.WeeklyHours
		current, err = schedules.WeeklyHours(ctx, req.Restaurant)
		if err != nil {
			return err
		}
		outcome, conflicts, err = coord.RunWithProtection(ctx, regeneration.ProtectedRun{
			RestaurantID: req.Restaurant,
			Mode:         req.Mode,
			Start:        req.Period.Start,
			End:          req.Period.End,
			Proposed:     closeWeekdays(current, req.Close),
			Current:      current,
			Confirmed:    req.Confirm,
		})
	} else {
		outcome, err = coord.Run(ctx, req.Mode, req.Restaurant, req.Period.Start, req.Period.End)
	}
	if err != nil {
		return err
	}

	msg := notify.Render(eventFor(outcome, conflicts))
	fmt.Fprintf(errOut, "%s\n", msg.Title)
	if msg.Body != "" {
		fmt.Fprintf(errOut, "%s\n", msg.Body)
	}
	if outcome.Status == availability.StatusNeedsConfirmation {
		fmt.Fprintln(errOut, "re-run with --confirm to keep those dates open and regenerate")
	}
	return printJSON(out, outcome)
}

// resolvePeriod parses the requested dates, filling either side from the
// default period.
func resolvePeriod(ctx context.Context, a *app, restaurant, start, end string) (availability.Period, error) {
	def, err := a.coord.DefaultPeriod(ctx, restaurant, a.cfg.Location, a.cfg.HorizonDays)
	if err != nil {
		return availability.Period{}, err
	}
	s, e := def.Start, def.End
	if start != "" {
		if s, err = availability.ParseDate(start); err != nil {
			return availability.Period{}, err
		}
	}
	if end != "" {
		if e, err = availability.ParseDate(end); err != nil {
			return availability.Period{}, err
		}
	}
	return availability.NewPeriod(s, e)
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := availability.ParseWeekday(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// closeWeekdays returns a copy of current with the given days closed.
func closeWeekdays(current availability.WeeklyHours, days []time.Weekday) availability.WeeklyHours {
	out := make(availability.WeeklyHours, len(current)+len(days))
	for d, h := range current {
		out[d] = h
	}
	for _, d := range days {
		out[d] = availability.DayHours{Closed: true}
	}
	return out
}

func eventFor(out availability.RegenerationOutcome, conflicts []availability.ReservationConflict) availability.Event {
	e := availability.Event{RestaurantID: out.RestaurantID, Outcome: &out, Conflicts: conflicts}
	switch out.Status {
	case availability.StatusZeroResult:
		e.Type = availability.EventRegenerationZero
	case availability.StatusAlreadyRunning:
		e.Type = availability.EventAlreadyRunning
	case availability.StatusNeedsConfirmation:
		e.Type = availability.EventConfirmationRequired
	default:
		e.Type = availability.EventRegenerationDone
	}
	return e
}
