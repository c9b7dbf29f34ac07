package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/dtnsim/config"
	"github.com/malbeclabs/dtnsim/internal/router"
	"github.com/malbeclabs/dtnsim/internal/sim"
)

var (
	cfg         config.Config
	routerKind  string
	debug       bool
	jsonOutput  bool
	determinism bool
)

var rootCmd = &cobra.Command{
	Use:   "dtnsim",
	Short: "Discrete-event DTN/LTP bundle-layer network simulator",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single simulation and print its summary report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.RouterKind = router.Kind(routerKind)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := sim.NewLogger(debug)

		result := sim.New(cfg, log, prometheus.NewRegistry()).Run()

		if determinism {
			rerun := sim.New(cfg, log, prometheus.NewRegistry()).Run()
			if diff := cmp.Diff(result.Summary, rerun.Summary); diff != "" {
				log.Warn("determinism check failed", "diff", diff)
			}
		}

		if jsonOutput {
			return emitJSON(result)
		}
		return emitTable(result)
	},
}

func emitJSON(r sim.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Summary          interface{} `json:"summary"`
		EventsDispatched int         `json:"events_dispatched"`
		EventsDiscarded  int         `json:"events_discarded"`
	}{r.Summary, r.EventsDispatched, r.EventsDiscarded})
}

func emitTable(r sim.Result) error {
	fmt.Printf("generated=%d delivered=%d delivery_ratio=%.4f avg_latency=%s retransmissions=%d\n",
		r.Summary.Generated, r.Summary.Delivered, r.Summary.DeliveryRatio,
		r.Summary.AverageLatency.Round(time.Millisecond), r.Summary.Retransmissions)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"node", "generated", "delivered", "tx", "rx", "evicted", "expired", "retx", "occupancy"})
	for id, nc := range r.NodeReports {
		table.Append([]string{
			fmt.Sprintf("%d", id),
			fmt.Sprintf("%d", nc.Generated),
			fmt.Sprintf("%d", nc.Delivered),
			fmt.Sprintf("%d", nc.Transmitted),
			fmt.Sprintf("%d", nc.Received),
			fmt.Sprintf("%d", nc.DroppedEviction),
			fmt.Sprintf("%d", nc.DroppedExpiry),
			fmt.Sprintf("%d", nc.Retransmissions),
			fmt.Sprintf("%d", nc.FinalOccupancy),
		})
	}
	table.Render()
	return nil
}

func init() {
	d := config.Default()
	cfg = d

	runCmd.Flags().IntVar(&cfg.NumNodes, "num-nodes", d.NumNodes, "number of simulated nodes")
	runCmd.Flags().DurationVar(&cfg.SimulationTime, "simulation-time", d.SimulationTime, "simulation horizon")
	runCmd.Flags().IntVar(&cfg.MaxBufferSize, "max-buffer-size", d.MaxBufferSize, "per-node store capacity")
	runCmd.Flags().IntVar(&cfg.LTPSegmentSize, "ltp-segment-size", d.LTPSegmentSize, "LTP segment size in bytes")
	runCmd.Flags().Float64Var(&cfg.BundleGenerationRate, "bundle-generation-rate", d.BundleGenerationRate, "mean bundles/sec/node")
	runCmd.Flags().Float64Var(&cfg.BundleSizeRange.Min, "bundle-size-min", d.BundleSizeRange.Min, "minimum bundle size in bytes")
	runCmd.Flags().Float64Var(&cfg.BundleSizeRange.Max, "bundle-size-max", d.BundleSizeRange.Max, "maximum bundle size in bytes")
	runCmd.Flags().DurationVar(&cfg.BundleTTL, "bundle-ttl", d.BundleTTL, "bundle time-to-live")
	runCmd.Flags().Float64Var(&cfg.ContactProbability, "contact-probability", d.ContactProbability, "probability a node pair gets a contact")
	runCmd.Flags().DurationVar(&cfg.MinContactDuration, "min-contact-duration", d.MinContactDuration, "minimum contact duration")
	runCmd.Flags().DurationVar(&cfg.MaxContactDuration, "max-contact-duration", d.MaxContactDuration, "maximum contact duration")
	runCmd.Flags().Float64Var(&cfg.BaseErrorRate, "base-error-rate", d.BaseErrorRate, "per-segment loss probability")
	runCmd.Flags().Float64Var(&cfg.BandwidthRange.Min, "bandwidth-min", d.BandwidthRange.Min, "minimum contact bandwidth in bps")
	runCmd.Flags().Float64Var(&cfg.BandwidthRange.Max, "bandwidth-max", d.BandwidthRange.Max, "maximum contact bandwidth in bps")
	runCmd.Flags().DurationVar(&cfg.PropagationDelay, "propagation-delay", d.PropagationDelay, "fixed propagation delay")
	runCmd.Flags().StringVar(&routerKind, "router", string(d.RouterKind), "routing policy: epidemic, spray_and_wait, predictive")
	runCmd.Flags().IntVar(&cfg.SprayTokenBudget, "spray-token-budget", d.SprayTokenBudget, "spray-and-wait token budget L")
	runCmd.Flags().IntVar(&cfg.MaxLTPRetries, "max-ltp-retries", d.MaxLTPRetries, "max LTP per-segment retries")
	runCmd.Flags().DurationVar(&cfg.MetricsSnapshotInterval, "metrics-snapshot-interval", d.MetricsSnapshotInterval, "interval between metrics snapshots")
	runCmd.Flags().Int64Var(&cfg.RandomSeed, "random-seed", d.RandomSeed, "seed for plan/traffic/loss RNG streams")
	runCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of a table")
	runCmd.Flags().BoolVar(&determinism, "determinism-check", false, "re-run once and diff summaries")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
