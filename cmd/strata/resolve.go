package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/strata/internal/calendar"
	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/types"
	"github.com/hyperengineering/strata/internal/validation"
)

func newResolveCmd() *cobra.Command {
	var (
		timeframe     string
		referenceYear int
		jsonOutput    bool
		pos           positionFlags
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the chain an item would cascade into, without creating it",
		Example: `  strata resolve --timeframe yearly --year-index 0
  strata resolve --timeframe monthly --month 12 --year 2025 --reference-year 2025`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := parseTimeframe(timeframe)
			if err != nil {
				return err
			}

			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var engineOpts []cascade.Option
			if cmd.Flags().Changed("reference-year") {
				if err := calendar.ValidateYear(referenceYear); err != nil {
					return fmt.Errorf("--reference-year: %w", err)
				}
				// Midyear, so the zone cannot move it into a neighbouring year.
				fixed := time.Date(referenceYear, time.July, 1, 12, 0, 0, 0, time.UTC)
				engineOpts = append(engineOpts, cascade.WithClock(func() time.Time { return fixed }))
			}
			engine, err := newEngine(cfg, engineOpts...)
			if err != nil {
				return err
			}

			key, err := pos.key(cmd, tf, engine.ReferenceYear())
			if err != nil {
				return err
			}
			if verr := validation.ValidatePosition("position_key", tf, key); verr != nil {
				return validationError([]validation.ValidationError{*verr})
			}

			item := &types.Item{Timeframe: tf}
			item.SetPositionKey(key)
			targets, err := engine.Preview(item)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, types.PreviewResponse{
					ReferenceYear: engine.ReferenceYear(),
					Targets:       targets,
				})
			}

			fmt.Fprintf(out, "Reference year: %d\n", engine.ReferenceYear())
			tw := newTabWriter(out)
			fmt.Fprintln(tw, "LEVEL\tTIMEFRAME\tKEY\tPOSITION")
			fmt.Fprintf(tw, "0\t%s\t%d\t%s\n", tf, key, describePosition(tf, key))
			for _, t := range targets {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", t.CascadeLevel, t.Timeframe, t.PositionKey,
					describePosition(t.Timeframe, t.PositionKey))
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&timeframe, "timeframe", "", "Timeframe: yearly, monthly, weekly, or daily")
	f.IntVar(&referenceYear, "reference-year", 0, "Resolve as if this were the current year")
	f.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	pos.register(cmd)
	_ = cmd.MarkFlagRequired("timeframe")

	return cmd
}
