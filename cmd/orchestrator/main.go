package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fleetops-ai/incident-orchestrator/internal/agents"
	"github.com/fleetops-ai/incident-orchestrator/internal/audit"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/executors"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/executors/k8sexec"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/llm"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/notify"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/observability"
	"github.com/fleetops-ai/incident-orchestrator/internal/config"
	"github.com/fleetops-ai/incident-orchestrator/internal/coordinator"
	"github.com/fleetops-ai/incident-orchestrator/internal/events"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
	"github.com/fleetops-ai/incident-orchestrator/internal/metrics"
	"github.com/fleetops-ai/incident-orchestrator/internal/patterns"
	"github.com/fleetops-ai/incident-orchestrator/internal/workflow"
)

// Version information (set at build time with -ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "AIOps incident-response orchestrator",
	Long:    "orchestrator drives infrastructure incidents from detection through automated remediation via a fixed agent roster.",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchestrator %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Info().Str("config", configPath).Msg("starting orchestrator")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	store, err := incident.Open(filepath.Join(cfg.DataDir, cfg.IncidentTable+".db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open incident store")
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	auditLog := audit.New(cfg.DataDir)

	roster := buildRoster(cfg, store)
	eng := &workflow.Engine{
		Store:       store,
		Gate:        incident.NewGate(store, cfg.CooldownMinutes),
		Coordinator: coordinator.New(roster),
		Config:      cfg,
		Audit:       auditLog,
		Metrics:     m,
	}

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		*cfg = *next
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to start config watcher, config changes require a restart")
	} else {
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrentIncidents))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/audit/stream", auditLog.ServeTail)
	mux.HandleFunc("/events", eventsHandler(ctx, eng, sem))

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	log.Info().Msg("orchestrator stopped")
}

// eventsHandler accepts one event envelope per request and runs it through
// the engine, bounded by sem so a burst of events never exceeds
// MaxConcurrentIncidents in-flight incidents (spec §5). The handler returns
// as soon as the incident is admitted; the run itself happens in the
// background, observable via /audit/stream.
func eventsHandler(ctx context.Context, eng *workflow.Engine, sem *semaphore.Weighted) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var env events.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "invalid envelope: "+err.Error(), http.StatusBadRequest)
			return
		}

		correlationID := incident.NewCorrelationID()
		eventTime := time.Now().UTC().Format(time.RFC3339)

		if !sem.TryAcquire(1) {
			http.Error(w, "too many in-flight incidents", http.StatusServiceUnavailable)
			return
		}

		go func() {
			defer sem.Release(1)
			if _, err := eng.Handle(ctx, env, correlationID, eventTime); err != nil {
				log.Error().Err(err).Str("correlation_id", correlationID).Msg("incident handling failed")
			}
		}()

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"correlation_id": correlationID})
	}
}

// buildRoster wires the five agents against their collaborators. Observability,
// the LLM vendor, and the notification transports are external collaborators
// (spec Non-goals) — this binary ships fail-open/fail-soft stand-ins for
// them and expects an operator to inject real ones by swapping these
// constructors for a vendor-specific binary. The Kubernetes executor adapter
// is the one collaborator this repo implements concretely, since the
// cluster it targets is this engine's own deployment target, not a separate
// vendor product.
func buildRoster(cfg *config.Config, store *incident.Store) []agents.Agent {
	obsPool := observability.NewPool(func(region string, resolver *dnscache.Resolver) observability.Client {
		return observability.StubClient{}
	})

	llmProvider := llm.Provider(&llm.StubProvider{})

	execBundle := buildExecutorBundle()

	notifyBundle := notify.Bundle{
		Email:     notify.StubEmail{},
		Broadcast: notify.StubBroadcast{},
	}

	patternDetector := patterns.NewDetector(cfg.DataDir)

	return []agents.Agent{
		&agents.Triage{Store: store, Patterns: patternDetector},
		&agents.Telemetry{Pool: obsPool, HomeRegion: cfg.CentralRegion},
		&agents.Risk{Store: store, Config: cfg},
		&agents.Remediation{LLM: llmProvider, Executors: execBundle},
		&agents.Communications{
			LLM:              llmProvider,
			Notify:           notifyBundle,
			Report:           notify.ReportExporter{},
			DefaultEmail:     cfg.DefaultEmail,
			SenderEmail:      cfg.SenderEmail,
			EscalationEmails: cfg.EscalationEmails,
		},
	}
}

// buildExecutorBundle tries in-cluster config first, then the operator's
// kubeconfig, and logs a warning rather than failing startup when neither is
// available — Remediation's dispatchStep already fails a single step
// gracefully ("no build/command executor configured") rather than crashing
// the process when a runbook tries to use a missing executor.
func buildExecutorBundle() executors.Bundle {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			if home, herr := os.UserHomeDir(); herr == nil {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		log.Warn().Err(err).Msg("no kubernetes config available, remediation steps will fail closed")
		return executors.Bundle{}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build kubernetes clientset, remediation steps will fail closed")
		return executors.Bundle{}
	}

	adapter := k8sexec.New(clientset, "orchestrator")
	return executors.Bundle{
		Build:   k8sexec.BuildAdapter{Adapter: adapter},
		Command: k8sexec.CommandAdapter{Adapter: adapter},
	}
}
