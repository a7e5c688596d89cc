// Command taskdaemon wires the core engines (C1-C13) into a running
// process: a tick loop, a Prometheus /metrics endpoint and an in-process
// event hub (no websocket endpoint is served here). Argument parsing, config-file loading and every external
// collaborator (OAuth, calendar sync, notification delivery) are out of
// scope per spec §1 — this binary only reads a handful of environment
// variables, exactly the way the teacher's control_plane/main.go does
// (os.Getenv + fmt.Sscanf, no flag/viper layer).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbitflow/taskdaemon/internal/clock"
	"github.com/orbitflow/taskdaemon/internal/eventhub"
	"github.com/orbitflow/taskdaemon/internal/gatekeeper"
	"github.com/orbitflow/taskdaemon/internal/journal"
	"github.com/orbitflow/taskdaemon/internal/orchestrator"
	"github.com/orbitflow/taskdaemon/internal/sessionstore"
	"github.com/orbitflow/taskdaemon/internal/switchcost"
	"github.com/orbitflow/taskdaemon/internal/taskstore"
	"github.com/orbitflow/taskdaemon/internal/timer"
	"github.com/orbitflow/taskdaemon/internal/tuner"
)

func main() {
	focusMinutes := envInt("FOCUS_MINUTES", 25)
	shortBreakMinutes := envInt("SHORT_BREAK_MINUTES", 5)
	longBreakMinutes := envInt("LONG_BREAK_MINUTES", 15)
	pomodorosBeforeLongBreak := envInt("POMODOROS_BEFORE_LONG_BREAK", 4)
	tickIntervalMs := envInt("TICK_INTERVAL_MS", 250)
	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}

	schedule := buildSchedule(focusMinutes, shortBreakMinutes, longBreakMinutes, pomodorosBeforeLongBreak)

	journalStore := openJournal()
	taskStore := openTaskStore()
	sessions := sessionstore.NewStore()
	timerEngine := timer.NewEngine(schedule)
	gate := gatekeeper.New(gatekeeper.DefaultConfig())
	hub := eventhub.New()
	realClock := clock.Real{}

	orch := orchestrator.New(journalStore, taskStore, sessions, timerEngine, gate, realClock, hub)
	orch.ConfigureLearning(switchcost.New(switchcost.DefaultMinutes), tuner.New(tuner.DefaultConfig(), nil), openLearnedStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.LoadLearned(ctx); err != nil {
		log.Printf("failed to load learned switch-cost data: %v", err)
	}

	bootResult, err := orch.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	log.Printf("bootstrap complete: recovered=%d expired=%d reconciled=%d",
		bootResult.Recovery.RecoveredCount, bootResult.Recovery.ExpiredCount, bootResult.Reconciliation.ReconciledCount())

	go persistLearnedLoop(ctx, orch, 5*time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		log.Printf("metrics server listening on %s", metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	go tickLoop(ctx, orch, time.Duration(tickIntervalMs)*time.Millisecond)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := orch.PersistLearned(shutdownCtx); err != nil {
		log.Printf("failed to persist learned switch-cost data: %v", err)
	}
	_ = server.Shutdown(shutdownCtx)
}

// persistLearnedLoop periodically flushes the switch-cost matrix (break
// tuner stats are not persisted) so a crash loses at most one interval of
// learning, mirroring the teacher's checkpoint-on-interval pattern used
// elsewhere for the journal.
func persistLearnedLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orch.PersistLearned(ctx); err != nil {
				log.Printf("failed to persist learned switch-cost data: %v", err)
			}
		}
	}
}

// openLearnedStore wires the Redis-backed learned store when REDIS_ADDR is
// set, falling back to the in-memory-only mode exactly like
// idempotency.Store does when its backend is unreachable.
func openLearnedStore() *switchcost.RedisLearnedStore {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Println("learned store backend: memory")
		return switchcost.NewRedisLearnedStore(nil)
	}
	client, err := switchcost.NewRedisClient(addr, os.Getenv("REDIS_PASSWORD"), envInt("REDIS_DB", 0))
	if err != nil {
		log.Printf("redis unavailable (%v), learned store falling back to memory", err)
		return switchcost.NewRedisLearnedStore(nil)
	}
	log.Println("learned store backend: redis")
	return switchcost.NewRedisLearnedStore(client)
}

func tickLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orch.Tick(ctx); err != nil {
				log.Printf("tick error: %v", err)
			}
		}
	}
}

func buildSchedule(focusMin, shortBreakMin, longBreakMin, pomodorosBeforeLongBreak int) []timer.Step {
	steps := make([]timer.Step, 0, pomodorosBeforeLongBreak*2)
	for i := 0; i < pomodorosBeforeLongBreak; i++ {
		steps = append(steps, timer.Step{Type: timer.Focus, DurationMs: int64(focusMin) * 60_000, Label: fmt.Sprintf("Focus %d", i+1)})
		if i == pomodorosBeforeLongBreak-1 {
			steps = append(steps, timer.Step{Type: timer.LongBreak, DurationMs: int64(longBreakMin) * 60_000, Label: "Long break"})
		} else {
			steps = append(steps, timer.Step{Type: timer.Break, DurationMs: int64(shortBreakMin) * 60_000, Label: "Break"})
		}
	}
	return steps
}

func openJournal() journal.Store {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := journal.NewPostgresStore(context.Background(), dsn)
		if err != nil {
			log.Fatalf("failed to open postgres journal: %v", err)
		}
		log.Println("journal backend: postgres")
		return pg
	}
	log.Println("journal backend: memory")
	return journal.NewMemoryStore()
}

func openTaskStore() taskstore.Store {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := taskstore.NewPostgresStore(context.Background(), dsn)
		if err != nil {
			log.Fatalf("failed to open postgres task store: %v", err)
		}
		log.Println("task store backend: postgres")
		return pg
	}
	log.Println("task store backend: memory")
	return taskstore.NewMemoryStore()
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil || v <= 0 {
		return def
	}
	return v
}
