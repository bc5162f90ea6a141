package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/cleanspace/airquest/internal/controlplane"
	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Query environmental data through the daemon",
}

var envGetCmd = &cobra.Command{
	Use:       "get [data-type]",
	Short:     "Fetch one data type (realtime_aqi, fires, precipitation, ground_stations, imagery, airs, weather)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: dataTypeNames(),
	RunE:      runEnvGet,
}

var envSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show current conditions with health guidance",
	RunE:  runEnvSnapshot,
}

var (
	envLat float64
	envLon float64
	envRaw bool
)

func init() {
	envCmd.AddCommand(envGetCmd, envSnapshotCmd)

	for _, c := range []*cobra.Command{envGetCmd, envSnapshotCmd} {
		c.Flags().Float64Var(&envLat, "lat", 0, "Latitude (defaults to the configured location)")
		c.Flags().Float64Var(&envLon, "lon", 0, "Longitude (defaults to the configured location)")
		c.Flags().BoolVar(&envRaw, "json", false, "Print the raw JSON response")
	}
}

func dataTypeNames() []string {
	names := make([]string, len(gateway.DataTypes))
	for i, dt := range gateway.DataTypes {
		names[i] = string(dt)
	}
	return names
}

// locationQuery returns the lat/lon query string when either flag was set.
func locationQuery(cmd *cobra.Command) string {
	if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") {
		return ""
	}
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(envLat, 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(envLon, 'f', -1, 64))
	return "?" + v.Encode()
}

func runEnvGet(cmd *cobra.Command, args []string) error {
	dt, err := gateway.ParseDataType(args[0])
	if err != nil {
		return err
	}

	resp, err := apiGet("/env/" + string(dt) + locationQuery(cmd))
	if err != nil {
		return err
	}
	if envRaw {
		fmt.Println(string(resp))
		return nil
	}

	var r gateway.Reading
	if err := json.Unmarshal(resp, &r); err != nil {
		return err
	}

	cached := ""
	if r.Cached {
		cached = " (cached)"
	}
	fmt.Printf("%s at %.4f, %.4f from %s%s\n", r.DataType, r.Location.Latitude, r.Location.Longitude, r.Source, cached)
	fmt.Printf("Fetched: %s\n", r.FetchedAt.Local().Format("2006-01-02 15:04:05"))

	if aq := r.AirQuality; aq != nil {
		fmt.Printf("AQI %d  PM2.5 %.1f  PM10 %.1f  NO2 %.1f  O3 %.1f\n", aq.AQI, aq.PM25, aq.PM10, aq.NO2, aq.O3)
	}
	if wx := r.Weather; wx != nil {
		fmt.Printf("%.1f°C  %.0f%% humidity  wind %.1f m/s  %s\n", wx.TemperatureC, wx.HumidityPct, wx.WindSpeedMS, wx.Condition)
	}
	if len(r.Fires) > 0 {
		fmt.Printf("%d active fire detections\n", len(r.Fires))
	}
	if len(r.Metrics) > 0 {
		keys := make([]string, 0, len(r.Metrics))
		for k := range r.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\t%.3f\n", k, r.Metrics[k])
		}
		w.Flush()
	}
	return nil
}

func runEnvSnapshot(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/snapshot" + locationQuery(cmd))
	if err != nil {
		return err
	}
	if envRaw {
		fmt.Println(string(resp))
		return nil
	}

	var snap controlplane.SnapshotResponse
	if err := json.Unmarshal(resp, &snap); err != nil {
		return err
	}

	aq := snap.Snapshot.AirQuality
	fmt.Printf("AQI %d - %s (source %s)\n", aq.AQI, snap.Category.Name, snap.Snapshot.Source)
	if snap.Cached {
		state := "fresh"
		if snap.Stale {
			state = "stale"
		}
		fmt.Printf("Showing cached data (%s), captured %s\n", state, snap.Snapshot.CapturedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%s\n", snap.Precautions.Message)
	for _, rec := range snap.Precautions.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
	if snap.Precautions.MaskRequired {
		fmt.Println("  Mask recommended outdoors.")
	}
	return nil
}
