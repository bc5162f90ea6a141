package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cleanspace/airquest/internal/app"
	"github.com/cleanspace/airquest/internal/assistant"
	"github.com/cleanspace/airquest/internal/sim"
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run AirQuest simulations",
}

var simRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session locally, applying recommended actions",
	Long: `Runs a mission against the configured location without the daemon.
Accepted actions and the final result are queued and synced like any other
session.`,
	RunE: runSim,
}

var simCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List available actions",
	RunE:  runSimCatalog,
}

var (
	simMission  string
	simTarget   int
	simSpeed    float64
	simInterval time.Duration
	simPlan     time.Duration
	simAuto     bool
)

func init() {
	simCmd.AddCommand(simRunCmd, simCatalogCmd)

	simRunCmd.Flags().StringVar(&simMission, "mission", "", "Mission id to report progress against")
	simRunCmd.Flags().IntVar(&simTarget, "target", 0, "Target AQI (default 25% below baseline)")
	simRunCmd.Flags().Float64Var(&simSpeed, "speed", 60, "Simulated seconds per wall-clock second")
	simRunCmd.Flags().DurationVar(&simInterval, "interval", 250*time.Millisecond, "Wall-clock tick interval")
	simRunCmd.Flags().DurationVar(&simPlan, "plan-every", time.Second, "How often to apply the top recommendation")
	simRunCmd.Flags().BoolVar(&simAuto, "auto", true, "Apply recommended actions automatically")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.Start(ctx)

	engine, err := a.NewSession(ctx, cfg.Location, app.Mission{ID: simMission, TargetAQI: simTarget})
	if err != nil {
		return err
	}
	st := engine.Snapshot()
	fmt.Printf("Session %s: baseline AQI %d, target %d, %s on the clock\n",
		shortID(st.SessionID), st.BaselineAQI, st.TargetAQI, st.TimeRemaining)

	runner := sim.NewRunner(engine, simInterval, simSpeed)
	runner.Start()
	defer runner.Stop()

	plan := time.NewTicker(simPlan)
	defer plan.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			return nil
		case <-runner.Done():
			printResult(engine.Snapshot(), a.Assistant.Analyze(ctx, engine.Snapshot()))
			flush(a)
			return nil
		case <-plan.C:
			if simAuto {
				applyPlan(ctx, a.Assistant, engine)
			}
		}
	}
}

// applyPlan applies the highest-priority recommendation that the engine
// accepts.
func applyPlan(ctx context.Context, adv *assistant.Client, e *sim.Engine) {
	st := e.Snapshot()
	if st.Phase.Terminal() {
		return
	}
	for _, rec := range adv.Recommend(ctx, st) {
		action, rej := e.ApplyAction(sim.Proposal{Type: rec.Action, ParcelID: firstEligible(st, rec.Action)})
		if rej != nil {
			continue
		}
		after := e.Snapshot()
		fmt.Printf("[%s] %s (-%d credits), AQI %d\n",
			formatClock(after.Elapsed), rec.Title, action.Cost, after.CurrentAQI)
		return
	}
}

// firstEligible picks the first parcel t can target. Relocation only
// targets a safe zone the player is not already in.
func firstEligible(st sim.State, t sim.ActionType) string {
	spec, ok := sim.Lookup(t)
	if !ok {
		return ""
	}
	for _, p := range st.Parcels {
		if spec.Placement == sim.PlaceMove && (!p.SafeZone || p.ID == st.Player.Location) {
			continue
		}
		if spec.CanPlaceOn(p) {
			return p.ID
		}
	}
	return ""
}

func printResult(st sim.State, an assistant.Analysis) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Result:\t%s\n", st.Phase)
	fmt.Fprintf(w, "AQI:\t%d -> %d (target %d)\n", st.BaselineAQI, st.CurrentAQI, st.TargetAQI)
	fmt.Fprintf(w, "Score:\t%d\n", st.Player.Score)
	fmt.Fprintf(w, "Health:\t%.0f\n", st.Player.Health)
	fmt.Fprintf(w, "Credits left:\t%d\n", st.Player.Credits)
	fmt.Fprintf(w, "Actions:\t%d\n", len(st.Actions))
	w.Flush()

	if an.Summary != "" {
		fmt.Printf("\n%s\n", an.Summary)
	}
	for _, tip := range an.Tips {
		fmt.Printf("  - %s\n", tip)
	}
}

// flush makes one delivery attempt before exit so a short session does not
// wait for the next daemon run.
func flush(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := a.Sync.ForceSync(ctx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("Sync skipped: %v", err)
		}
		fmt.Printf("%d action(s) kept for the next sync\n", a.Queue.Len())
		return
	}
	fmt.Printf("Synced %d action(s), %d pending\n", len(res.Succeeded), a.Queue.Len())
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func runSimCatalog(cmd *cobra.Command, args []string) error {
	specs := sim.Catalog()
	// Prefer the daemon's view when it is up.
	if resp, err := apiGet("/sim/catalog"); err == nil {
		var remote []sim.ActionSpec
		if json.Unmarshal(resp, &remote) == nil && len(remote) > 0 {
			specs = remote
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tPARCEL\tCOST\tENERGY\tCOOLDOWN\tPM2.5\tDURATION")
	for _, s := range specs {
		place := string(s.Placement)
		if place == "" {
			place = "any"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.0f\t%s\t%+.1f\t%s\n",
			s.Type, place, s.Cost, s.EnergyCost, s.Cooldown, s.Effect.PM25Change, s.Effect.Duration)
	}
	return w.Flush()
}
