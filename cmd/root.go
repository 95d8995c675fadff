package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/asic-sim/asic-sim/api"
	"github.com/asic-sim/asic-sim/sim"
	"github.com/asic-sim/asic-sim/sim/trace"
)

var (
	// CLI flags for the serve command
	host         string  // Bind host for the HTTP API
	port         int     // Bind port for the HTTP API
	count        int     // How many miners to create at startup
	model        string  // Model preset id (used when --models is not set)
	models       string  // Comma-separated model preset ids to cycle across miners
	scenario     string  // Scenario preset id
	tickHz       float64 // Fleet tick rate
	seed         int64   // Master PRNG seed (0 = derive from wall clock)
	maxMiners    int     // Creation cap (0 = unbounded)
	presetsFile  string  // Optional YAML preset overlay
	traceLevel   string  // Telemetry trace level (none|ticks)
	noCompatAPI  bool    // Disable the /api/system/* compatibility endpoints
	logLevel     string  // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "asic-sim",
	Short: "Virtual ASIC miner fleet simulator",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet and its HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if !trace.IsValidLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}

		catalog := sim.NewCatalog()
		if presetsFile != "" {
			if err := catalog.LoadOverlayFile(presetsFile); err != nil {
				logrus.Fatalf("Load presets: %v", err)
			}
		}

		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		if tickHz <= 0 {
			tickHz = 1
		}

		var fleetTrace *trace.FleetTrace
		if trace.Level(traceLevel) == trace.LevelTicks {
			fleetTrace = trace.NewFleetTrace(trace.Config{Level: trace.LevelTicks, MaxRecords: 100000})
		}

		fleet := sim.NewFleetRuntime(sim.FleetOptions{
			Catalog:    catalog,
			MasterSeed: seed,
			TickPeriod: time.Duration(float64(time.Second) / tickHz),
			MaxMiners:  maxMiners,
			Trace:      fleetTrace,
		})

		for _, modelID := range cycleModels(models, count, model) {
			id, err := fleet.Create(modelID, scenario)
			if err != nil {
				logrus.Fatalf("Create startup miner: %v", err)
			}
			logrus.Infof("created %s (model=%s scenario=%s)", id, modelID, scenario)
		}

		fleet.Start()
		defer fleet.Stop()

		server := api.NewServer(fleet, api.Options{
			DefaultModelID:    model,
			DefaultScenarioID: scenario,
			EnableCompat:      !noCompatAPI,
		})

		addr := fmt.Sprintf("%s:%d", host, port)
		httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

		go func() {
			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			<-sigc
			logrus.Info("shutting down")
			_ = httpServer.Close()
		}()

		logrus.Infof("serving fleet of %d miners on %s (seed=%d, tick=%.2fHz)",
			fleet.Len(), addr, seed, tickHz)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server: %v", err)
		}
	},
}

// cycleModels expands the --models list across count miners, falling back to
// the single --model id. Enables mixed 5V/12V fleets from one flag.
func cycleModels(modelsArg string, count int, fallback string) []string {
	ids := make([]string, 0)
	for _, part := range strings.Split(modelsArg, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		ids = []string{fallback}
	}
	if count < 1 {
		count = 1
	}
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = ids[i%len(ids)]
	}
	return out
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", "0.0.0.0", "Bind host for the HTTP API")
	serveCmd.Flags().IntVar(&port, "port", 8081, "Bind port for the HTTP API")
	serveCmd.Flags().IntVar(&count, "count", 1, "How many miners to create at startup")
	serveCmd.Flags().StringVar(&model, "model", "bm1370_4chip", "Model preset id (used when --models is not set)")
	serveCmd.Flags().StringVar(&models, "models", "", "Comma-separated model preset ids to cycle across miners")
	serveCmd.Flags().StringVar(&scenario, "scenario", "healthy", "Scenario preset id")
	serveCmd.Flags().Float64Var(&tickHz, "tick-hz", 1.0, "Fleet tick rate")
	serveCmd.Flags().Int64Var(&seed, "seed", 0, "Master PRNG seed (0 = derive from wall clock)")
	serveCmd.Flags().IntVar(&maxMiners, "max-miners", 0, "Cap on concurrently existing miners (0 = unbounded)")
	serveCmd.Flags().StringVar(&presetsFile, "presets", "", "YAML file with extra model/scenario presets")
	serveCmd.Flags().StringVar(&traceLevel, "trace", "none", "Telemetry trace level (none|ticks)")
	serveCmd.Flags().BoolVar(&noCompatAPI, "no-compat-api", false, "Disable /api/system/* compatibility endpoints")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log verbosity level")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
