package main

import (
	"errors"
	"fmt"
	"time"

	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/report"

	"github.com/spf13/cobra"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin <name>",
	Short: "Record attendance by hand, following the same rules as the camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.store()
		if err != nil {
			return err
		}
		svc := attendance.NewService(repo, app.cfg.Attendance, app.loc)
		person, event, outcome, err := svc.Manual(cmd.Context(), args[0], time.Now())
		if errors.Is(err, attendance.ErrUnknownPerson) {
			return fmt.Errorf("unknown person %q", args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch outcome {
		case attendance.CheckedIn, attendance.CheckedOut:
			at := event.Timestamp.In(app.loc)
			fmt.Fprintf(out, "%s: %s at %s\n", person.Name, event.Kind, report.FormatClock(&at))
		case attendance.Debounced:
			fmt.Fprintf(out, "%s checked in less than %ds ago, nothing recorded\n", person.Name, app.cfg.Attendance.MinSessionSeconds)
		case attendance.DayComplete:
			fmt.Fprintf(out, "%s has already checked out today, nothing recorded\n", person.Name)
		default:
			fmt.Fprintf(out, "%s: %s\n", person.Name, outcome)
		}
		return nil
	},
}
