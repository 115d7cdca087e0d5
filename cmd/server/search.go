package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/storage"
)

var searchOpts struct {
	start, end                         string
	startLat, startLon, endLat, endLon float64
	passengers, luggage                int
	at                                 string
	diagnostics                        bool
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one search against the configured providers and print the result as JSON",
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchOpts.start, "start", "", "start address")
	f.StringVar(&searchOpts.end, "end", "", "end address")
	f.Float64Var(&searchOpts.startLat, "start-lat", 0, "start latitude")
	f.Float64Var(&searchOpts.startLon, "start-lon", 0, "start longitude")
	f.Float64Var(&searchOpts.endLat, "end-lat", 0, "end latitude")
	f.Float64Var(&searchOpts.endLon, "end-lon", 0, "end longitude")
	f.IntVarP(&searchOpts.passengers, "passengers", "p", 1, "number of passengers")
	f.IntVarP(&searchOpts.luggage, "luggage", "l", models.LuggageNone, "luggage level 0..3")
	f.StringVar(&searchOpts.at, "at", "", "trip start time (RFC 3339), defaults to now")
	f.BoolVar(&searchOpts.diagnostics, "diagnostics", false, "include per-provider outcomes")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	when := time.Now().UTC()
	if searchOpts.at != "" {
		t, err := time.Parse(time.RFC3339, searchOpts.at)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		when = t
	}
	c := models.Criteria{
		Start:        models.Location{Address: searchOpts.start},
		End:          models.Location{Address: searchOpts.end},
		Passengers:   searchOpts.passengers,
		LuggageLevel: searchOpts.luggage,
		DateTime:     when,
	}
	flags := cmd.Flags()
	if flags.Changed("start-lat") && flags.Changed("start-lon") {
		c.Start.Latitude, c.Start.Longitude = models.Float(searchOpts.startLat), models.Float(searchOpts.startLon)
	}
	if flags.Changed("end-lat") && flags.Changed("end-lon") {
		c.End.Latitude, c.End.Longitude = models.Float(searchOpts.endLat), models.Float(searchOpts.endLon)
	}

	engine := newEngine(cfg, storage.NewMemoryVehicleStore(storage.DefaultFleet()...), log)
	res, err := engine.SearchDetailed(cmd.Context(), c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if searchOpts.diagnostics {
		return enc.Encode(res)
	}
	return enc.Encode(res.Vehicles)
}
