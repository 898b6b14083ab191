package main

import (
	"fmt"

	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/report"

	"github.com/spf13/cobra"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "List persons with today's status and sample count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.store()
		if err != nil {
			return err
		}
		gallery, err := app.loadGallery(cmd.Context(), repo)
		if err != nil {
			return err
		}

		svc := attendance.NewService(repo, app.cfg.Attendance, app.loc)
		roster, err := svc.Roster(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-5s %-24s %-10s %-16s %-12s %-8s %-8s %s\n",
			"ID", "NAME", "EMPLOYEE", "DEPARTMENT", "STATUS", "IN", "OUT", "SAMPLES")
		for _, day := range roster {
			fmt.Fprintf(out, "%-5d %-24s %-10s %-16s %-12s %-8s %-8s %d\n",
				day.Person.ID, day.Person.Name, optional(day.Person.EmployeeID), optional(day.Person.Department),
				day.Status, report.FormatClock(day.CheckIn), report.FormatClock(day.CheckOut),
				gallery.SampleCount(day.Person.ID))
		}
		return nil
	},
}

func optional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
