// Package cli is the locctl command tree: one-off analyses and upstream checks
// against the same pipeline the service runs.
package cli

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/location-analysis-service/internal/models"
)

type Analyzer interface {
	Analyze(ctx context.Context, location string) (models.LocationAnalysis, error)
}

// Checker probes upstream reachability and reports breaker states.
type Checker interface {
	ValidateAPIKey(ctx context.Context) error
	BreakerStates() map[string]string
}

func New(analyzer Analyzer, checker Checker) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "locctl",
		Short:         "Location analysis from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var summary bool
	analyze := &cobra.Command{
		Use:   "analyze <location>",
		Args:  cobra.ExactArgs(1),
		Short: "Analyze a postal code or address and print the composite",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := analyzer.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if summary {
				printSummary(cmd, result)
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	analyze.Flags().BoolVar(&summary, "summary", false, "print a short table instead of JSON")

	check := &cobra.Command{
		Use:   "check-upstreams",
		Args:  cobra.NoArgs,
		Short: "Validate the weather API key and show circuit breaker states",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checker.ValidateAPIKey(cmd.Context()); err != nil {
				cmd.Printf("WEATHER\t\t unhealthy (%v)\n", err)
				return err
			}
			cmd.Printf("WEATHER\t\t healthy\n")

			states := checker.BreakerStates()
			names := make([]string, 0, len(states))
			for name := range states {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				cmd.Printf("BREAKER\t\t %s=%s\n", name, states[name])
			}
			return nil
		},
	}

	root.AddCommand(analyze, check)
	return root, nil
}

func printSummary(cmd *cobra.Command, a models.LocationAnalysis) {
	cmd.Printf("LOCATION\t %s\n", a.Location)
	if g := a.Geographic; g != nil {
		cmd.Printf("PLACE\t\t %s %s (%s)\n", g.City, g.State, g.Source)
	}
	if e := a.Economic; e != nil {
		cmd.Printf("SELIC\t\t %.2f\n", e.InterestRate)
		cmd.Printf("IPCA\t\t %.2f\n", e.Inflation)
	}
	if c := a.Climate; c != nil {
		cmd.Printf("TEMP\t\t %.1f\n", c.Temperature)
		cmd.Printf("HUMIDITY\t %d\n", c.Humidity)
		cmd.Printf("AQI\t\t %d %s\n", c.AirQuality.AQI, c.AirQuality.AQIDescription)
	}
}
