package main

import (
	"fmt"
	"time"

	"face-attendance-go/internal/core/report"
	"face-attendance-go/internal/util/timezone"

	"github.com/spf13/cobra"
)

var reportOpts struct {
	from   string
	to     string
	month  string
	format string
	out    string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Create attendance reports",
}

var reportDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Daily report per person and day (default: today)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := app.reportFormat(reportOpts.format)
		if err != nil {
			return err
		}
		from, to, err := parseRange(reportOpts.from, reportOpts.to)
		if err != nil {
			return err
		}
		repo, err := app.store()
		if err != nil {
			return err
		}
		reporter := report.NewReporter(repo, app.reportOptions())

		if reportOpts.out != "" {
			path, err := reporter.ExportDaily(cmd.Context(), reportOpts.out, from, to, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}
		rep, err := reporter.Daily(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		return report.WriteDaily(cmd.OutOrStdout(), rep, format)
	},
}

var reportMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Monthly summary per person (default: current month)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := app.reportFormat(reportOpts.format)
		if err != nil {
			return err
		}
		month := time.Now().In(app.loc)
		if reportOpts.month != "" {
			month, err = report.ParseMonth(reportOpts.month, app.loc)
			if err != nil {
				return fmt.Errorf("invalid --month %q, expected YYYY-MM", reportOpts.month)
			}
		}
		repo, err := app.store()
		if err != nil {
			return err
		}
		reporter := report.NewReporter(repo, app.reportOptions())

		if reportOpts.out != "" {
			path, err := reporter.ExportMonthly(cmd.Context(), reportOpts.out, month, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}
		rep, err := reporter.Monthly(cmd.Context(), month)
		if err != nil {
			return err
		}
		return report.WriteMonthly(cmd.OutOrStdout(), rep, format)
	},
}

// parseRange liest --from/--to; fehlende Werte sind heute bzw. from
func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Now().In(app.loc)
	if fromStr != "" {
		d, err := timezone.ParseDate(fromStr, app.loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q, expected YYYY-MM-DD", fromStr)
		}
		from = d
	}
	to := from
	if toStr != "" {
		d, err := timezone.ParseDate(toStr, app.loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q, expected YYYY-MM-DD", toStr)
		}
		to = d
	}
	return from, to, nil
}

func init() {
	for _, c := range []*cobra.Command{reportDailyCmd, reportMonthlyCmd} {
		c.Flags().StringVar(&reportOpts.format, "format", "", "output format: csv, xlsx or json (default from config)")
		c.Flags().StringVar(&reportOpts.out, "out", "", "write the report into this directory instead of stdout")
	}
	reportDailyCmd.Flags().StringVar(&reportOpts.from, "from", "", "first day (YYYY-MM-DD)")
	reportDailyCmd.Flags().StringVar(&reportOpts.to, "to", "", "last day (YYYY-MM-DD)")
	reportMonthlyCmd.Flags().StringVar(&reportOpts.month, "month", "", "month (YYYY-MM)")
	reportCmd.AddCommand(reportDailyCmd, reportMonthlyCmd)
}
