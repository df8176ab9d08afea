package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

const benchScript = `[SCENE: Training Hall - Morning]
[CHARACTER: Ren - a young swordsman, Hana]
[ACTION: Ren swings his wooden sword]
[DIALOGUE: Hana] "Again, and faster!"
[SCENE: River Bank - Sunset]
[ACTION: Ren sits alone, tears in his eyes]
[DIALOGUE: Ren] "I must get stronger."`

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type benchReport struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Server         string           `json:"server"`
	Results        []scenarioResult `json:"results"`
	Checks         map[string]bool  `json:"checks"`
}

func newBenchCommand(ctx *commandContext) *cobra.Command {
	var (
		total       int
		concurrency int
		statusP95   time.Duration
		output      string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure API latency for parse, schedule and status polling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := ctx.client()
			runCtx := cmd.Context()

			seed, err := api.ParseScript(runCtx, "bench seed", benchScript, "")
			if err != nil {
				return fmt.Errorf("seed script: %w", err)
			}

			var (
				jobsMu sync.Mutex
				jobIDs []string
			)
			parse := runScenario(runCtx, "scripts_parse", total, concurrency, func(ctx context.Context, index int) error {
				_, err := api.ParseScript(ctx, fmt.Sprintf("bench %d", index), benchScript, "")
				return err
			})
			storyboard := runScenario(runCtx, "scripts_storyboard", total, concurrency, func(ctx context.Context, _ int) error {
				_, err := api.Storyboard(ctx, seed.ID)
				return err
			})
			generate := runScenario(runCtx, "generate_enqueue", total, concurrency, func(ctx context.Context, _ int) error {
				accepted, err := api.Generate(ctx, seed.ID, "", nil, "")
				if err != nil {
					return err
				}
				jobsMu.Lock()
				jobIDs = append(jobIDs, accepted.JobID)
				jobsMu.Unlock()
				return nil
			})
			if len(jobIDs) == 0 {
				return fmt.Errorf("no job was scheduled, cannot measure status polling")
			}
			statusScenario := runScenario(runCtx, "generate_status", total, concurrency, func(ctx context.Context, index int) error {
				_, err := api.Status(ctx, jobIDs[index%len(jobIDs)])
				return err
			})

			report := benchReport{
				GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
				Server:         ctx.server,
				Results:        []scenarioResult{parse, storyboard, generate, statusScenario},
				Checks: map[string]bool{
					"status_p95_within_budget": statusScenario.P95MS <= float64(statusP95.Milliseconds()),
					"no_errors":                parse.Errors+storyboard.Errors+generate.Errors+statusScenario.Errors == 0,
				},
			}

			rows := make([][]string, 0, len(report.Results))
			for _, result := range report.Results {
				rows = append(rows, []string{
					result.Name,
					fmt.Sprint(result.Total),
					fmt.Sprint(result.Errors),
					fmt.Sprintf("%.2f", result.P50MS),
					fmt.Sprintf("%.2f", result.P95MS),
					fmt.Sprintf("%.2f", result.P99MS),
					fmt.Sprintf("%.2f", result.MaxMS),
					fmt.Sprintf("%.2f", result.ThroughputRPS),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Scenario", "Total", "Errors", "p50 ms", "p95 ms", "p99 ms", "max ms", "req/s"},
				rows, 2, 3, 4, 5, 6, 7, 8,
			))
			for name, ok := range report.Checks {
				fmt.Fprintf(out, "%-26s %v\n", name, ok)
			}

			if output != "" {
				encoded, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, encoded, 0o644); err != nil {
					return fmt.Errorf("write bench report: %w", err)
				}
			}
			// Cancel what the bench scheduled so it does not occupy the renderer.
			for _, jobID := range jobIDs {
				_, _ = api.Cancel(context.WithoutCancel(runCtx), jobID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&total, "total", 100, "Requests per scenario")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "Concurrent requests per scenario")
	cmd.Flags().DurationVar(&statusP95, "status-p95", 250*time.Millisecond, "Latency budget for status polling at p95")
	cmd.Flags().StringVar(&output, "output", "", "Optional path for the JSON report")
	return cmd
}

func runScenario(
	ctx context.Context,
	name string,
	total int,
	concurrency int,
	requestFn func(ctx context.Context, index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	type sample struct {
		durationMS float64
		err        string
	}

	startedAt := time.Now()
	indexes := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexes {
				if ctx.Err() != nil {
					results <- sample{err: ctx.Err().Error()}
					continue
				}
				requestStart := time.Now()
				err := requestFn(ctx, index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	result := scenarioResult{Name: name, Total: total}
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			result.Success++
			continue
		}
		result.Errors++
		if len(result.ErrorSamples) < 5 {
			result.ErrorSamples = append(result.ErrorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	result.P50MS = percentile(durations, 0.50)
	result.P95MS = percentile(durations, 0.95)
	result.P99MS = percentile(durations, 0.99)
	result.MaxMS = percentile(durations, 1.00)
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
		result.ThroughputRPS = round2(float64(total) / elapsed)
	}
	return result
}

// percentile expects sorted values and uses the nearest-rank method.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(values)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
