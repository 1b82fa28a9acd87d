// Command paceline-calibrate measures the optimal concurrency level for a
// workload type on this host and records it as a baseline. The server then
// prefers the recorded baseline over heuristics for matching runs.
//
// Usage:
//
//	paceline-calibrate -workload test -candidates 1,2,4,8 -iterations 3
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stratus-tools/paceline/internal/baseline"
	"github.com/stratus-tools/paceline/internal/config"
	"github.com/stratus-tools/paceline/internal/model"
	"github.com/stratus-tools/paceline/internal/store"
)

func main() {
	var (
		workloadType = flag.String("workload", model.WorkloadGeneral, "workload type to calibrate (test, build, analysis, general)")
		candidatesCS = flag.String("candidates", "1,2,4,8", "comma-separated thread counts to try (must include 1)")
		iterations   = flag.Int("iterations", 3, "measurement passes per candidate")
		items        = flag.Int("items", 32, "synthetic work items per pass")
		itemMS       = flag.Int("item-ms", 50, "target duration of one synthetic item in milliseconds")
		dryRun       = flag.Bool("dry-run", false, "measure without persisting the baseline")
	)
	flag.Parse()

	if !model.ValidWorkloadType(*workloadType) {
		log.Fatalf("unknown workload type %q", *workloadType)
	}
	candidates, err := parseCandidates(*candidatesCS)
	if err != nil {
		log.Fatalf("invalid -candidates: %v", err)
	}

	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	var writer baseline.Writer
	if !*dryRun {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		writer = db
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec := baseline.NewRecorder(writer, logger)
	b, err := rec.CreateBaseline(ctx, *workloadType, candidates, *iterations,
		syntheticWorkload(*items, time.Duration(*itemMS)*time.Millisecond))
	if err != nil {
		log.Fatalf("calibration failed: %v", err)
	}

	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		log.Fatalf("encode baseline: %v", err)
	}
	fmt.Println(string(out))
}

func parseCandidates(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	candidates := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		candidates = append(candidates, n)
	}
	return candidates, nil
}

// syntheticWorkload builds a factory producing items that mix CPU work with a
// short sleep, approximating an I/O-bound test suite. Each item targets
// roughly itemDur of wall time.
func syntheticWorkload(n int, itemDur time.Duration) baseline.WorkloadFactory {
	return func() []model.WorkItem {
		out := make([]model.WorkItem, n)
		for i := range out {
			seed := i
			out[i] = model.WorkItem{
				ID: fmt.Sprintf("synthetic-%d", i),
				Action: func(ctx context.Context) error {
					deadline := time.Now().Add(itemDur / 2)
					sum := sha256.Sum256([]byte{byte(seed)})
					for time.Now().Before(deadline) {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						sum = sha256.Sum256(sum[:])
					}
					_ = sum

					select {
					case <-time.After(itemDur / 2):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			}
		}
		return out
	}
}
