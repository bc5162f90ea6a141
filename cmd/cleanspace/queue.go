package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/queue"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the offline action queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add [kind] [payload-json]",
	Short: "Queue a mutation (telemetry, achievement, game_session, mission_progress)",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions",
	RunE:  runQueueList,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver pending actions now",
	RunE:  runQueueDrain,
}

var queueDroppedCmd = &cobra.Command{
	Use:   "dropped",
	Short: "Show actions dropped without delivery",
	RunE:  runQueueDropped,
}

var droppedLimit int

func init() {
	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueDrainCmd, queueDroppedCmd)

	queueDroppedCmd.Flags().IntVar(&droppedLimit, "limit", 20, "Maximum entries to show")
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	kind := models.ActionKind(args[0])
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", queue.ErrUnknownKind, args[0])
	}
	if !json.Valid([]byte(args[1])) {
		return fmt.Errorf("payload is not valid JSON")
	}

	body := map[string]interface{}{
		"kind":    kind,
		"payload": json.RawMessage(args[1]),
	}
	resp, err := apiPost("/actions", body)
	if err != nil {
		return err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Printf("Queued action: %s\n", result.ID)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/actions")
	if err != nil {
		return err
	}

	var actions []models.QueuedAction
	if err := json.Unmarshal(resp, &actions); err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			shortID(a.ID), a.Kind, a.Attempts, a.EnqueuedAt.Local().Format("01-02 15:04:05"), truncate(a.LastError, 40))
	}
	return w.Flush()
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/sync", struct{}{})
	if err != nil {
		return err
	}

	var res queue.DrainResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}
	fmt.Printf("Delivered: %d\n", len(res.Succeeded))
	fmt.Printf("Failed:    %d\n", len(res.Failed))
	fmt.Printf("Dropped:   %d\n", len(res.Dropped))
	if len(res.Deferred) > 0 {
		fmt.Printf("Deferred:  %d\n", len(res.Deferred))
	}
	return nil
}

func runQueueDropped(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(fmt.Sprintf("/actions/dropped?limit=%d", droppedLimit))
	if err != nil {
		return err
	}

	var items []models.DroppedAction
	if err := json.Unmarshal(resp, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No dropped actions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tKIND\tATTEMPTS\tDROPPED\tREASON")
	for _, d := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			shortID(d.ActionID), d.Kind, d.Attempts, d.DroppedAt.Local().Format("01-02 15:04:05"), truncate(d.Reason, 50))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
