package main

import (
	"encoding/json"
	"fmt"

	"github.com/cleanspace/airquest/internal/controlplane"
	"github.com/cleanspace/airquest/internal/offline"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and sync state",
	RunE:  runStatus,
}

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Mark the daemon as online and trigger a sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConnectivity(true)
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Mark the daemon as offline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConnectivity(false)
	},
}

func init() {
	statusCmd.AddCommand(onlineCmd, offlineCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if health == nil {
		return err
	}
	fmt.Printf("Daemon:   %s (version %s)\n", okLabel(health.OK), health.Version)
	fmt.Printf("Database: %s\n", health.DB)
	if err != nil {
		return err
	}

	resp, err := apiGet("/status")
	if err != nil {
		return err
	}
	var st controlplane.StatusResponse
	if err := json.Unmarshal(resp, &st); err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func setConnectivity(online bool) error {
	resp, err := apiPost("/connectivity", map[string]bool{"online": online})
	if err != nil {
		return err
	}
	var st controlplane.StatusResponse
	if err := json.Unmarshal(resp, &st); err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func printStatus(st controlplane.StatusResponse) {
	conn := "online"
	if st.Offline {
		conn = "offline"
	}
	fmt.Printf("Network:  %s\n", conn)
	fmt.Printf("Queued:   %d\n", st.QueuedCount)
	fmt.Printf("Dropped:  %d\n", st.DroppedCount)
	if st.LastSyncAt.IsZero() {
		fmt.Println("Synced:   never")
	} else {
		fmt.Printf("Synced:   %s\n", st.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
	}
	if st.HasCachedData {
		fmt.Printf("Cache:    %s old\n", offline.FormatAge(st.CacheAge))
	}
	if st.Message != "" {
		fmt.Printf("\n%s\n", st.Message)
	}
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "unhealthy"
}
