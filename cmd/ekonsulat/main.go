// Command ekonsulat drives the polling/booking engine from the terminal.
// Subcommand dispatch is a hand-rolled switch rather than cobra/viper,
// keeping the dependency footprint of the CLI shell minimal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/egorovli/ekonsulat-engine/internal/config"
	"github.com/egorovli/ekonsulat-engine/internal/monitoring"
	"github.com/egorovli/ekonsulat-engine/internal/utils"
	"github.com/egorovli/ekonsulat-engine/pkg/api"
	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "run":
		err = runEngine(args)
	case "validate":
		err = validateConfig(args)
	case "template":
		err = generateTemplate(args)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runEngine(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ekonsulat run <params.yaml>")
	}
	paramsPath := args[0]

	p, err := config.Load(paramsPath)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}

	log := utils.NewLogger()

	solver, err := buildSolver(p.Solver)
	if err != nil {
		return err
	}

	engine := api.New(solver, log)
	if err := engine.Configure(p); err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := monitoring.NewMetrics(monitoring.Config{})
	server := monitoring.NewServer(":9090", statusAdapter{engine}, metrics)
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Errorf("status server: %v", err)
		}
	}()

	var lastSnap types.Snapshot
	engine.Subscribe(func(snap types.Snapshot) {
		metrics.Observe(lastSnap, snap)
		log.WithFields(map[string]interface{}{
			"phase":    snap.Phase,
			"attempts": snap.Search.Attempts,
		}).Info("snapshot")
		lastSnap = snap
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}

	final := engine.Snapshot()
	if final.Phase != types.PhaseSuccess {
		return fmt.Errorf("engine stopped without a reservation (phase=%s)", final.Phase)
	}

	fmt.Printf("reserved: ticketId=%s date=%s\n", final.Reservation.Result.PrimaryTicket.TicketID, final.Reservation.Result.PrimaryTicket.Date)
	if d := final.Reservation.ConsulateDetails; d != nil {
		fmt.Printf("consulate: %s, %s\n", d.ConsulateName, d.CountryName)
	}
	return nil
}

func validateConfig(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ekonsulat validate <params.yaml>")
	}
	if _, err := config.Load(args[0]); err != nil {
		return err
	}
	fmt.Println("params file is valid")
	return nil
}

func generateTemplate(args []string) error {
	out, err := config.GenerateTemplate()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return os.WriteFile(args[0], out, 0o644)
	}
	fmt.Print(string(out))
	return nil
}

func printVersion() {
	fmt.Printf("ekonsulat %s (build %s, commit %s)\n", version, buildTime, gitCommit)
}

func printUsage() {
	fmt.Println(`ekonsulat - e-konsulat appointment search/booking engine

Usage:
  ekonsulat run <params.yaml>       Start the engine and block until success or interrupt
  ekonsulat validate <params.yaml>  Validate a params file without running
  ekonsulat template [path]         Emit an example params file (stdout if path omitted)
  ekonsulat version                 Print version information`)
}

// statusAdapter adapts *api.Engine to monitoring.SnapshotSource without
// pulling internal/engine into the api package's public surface.
type statusAdapter struct{ e *api.Engine }

func (s statusAdapter) Snapshot() types.Snapshot { return s.e.Snapshot() }
