package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/colthorp/convcache-go/internal/api"
	"github.com/colthorp/convcache-go/internal/cache"
	"github.com/colthorp/convcache-go/internal/core"
	"github.com/colthorp/convcache-go/internal/fetch"
	"github.com/colthorp/convcache-go/internal/output"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rangeCmd)
	rootCmd.AddCommand(todayCmd)
	rootCmd.AddCommand(yesterdayCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statsCmd)

	rangeCmd.Flags().IntP("parallel", "p", 3, "Max days to fetch in parallel")
	rangeCmd.Flags().String("direction", "asc", "Sort direction (asc/desc)")
}

// getCmd handles flexible date specifications
var getCmd = &cobra.Command{
	Use:   "get [date_spec]",
	Short: "Get conversations for a flexible date spec (e.g. 2024-03-05, d-1, 7/15)",
	Args:  cobra.ExactArgs(1),
	RunE:  handleGet,
}

// rangeCmd handles date range queries
var rangeCmd = &cobra.Command{
	Use:   "range [start] [end]",
	Short: "Fetch conversations for a date range",
	Args:  cobra.ExactArgs(2),
	RunE:  handleRange,
}

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Fetch today's conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return handleRelativeDay(0)
	},
}

var yesterdayCmd = &cobra.Command{
	Use:   "yesterday",
	Short: "Fetch yesterday's conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return handleRelativeDay(-1)
	},
}

// sweepCmd runs the eviction pass explicitly
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the cache eviction sweep on both tiers",
	RunE:  handleSweep,
}

// statsCmd reports per-tier cache usage
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache record counts and sizes per tier",
	RunE:  handleStats,
}

// stack bundles the wired-up components behind a command.
type stack struct {
	cfg     core.Config
	manager *cache.Manager
	orch    *fetch.Orchestrator
	owner   string
}

// buildStack loads config and wires the cache tiers, manager, API client,
// and orchestrator.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}

	effectiveOwner := owner
	if effectiveOwner == "" {
		effectiveOwner = cfg.Owner
	}

	structured := cache.NewSQLiteStore(filepath.Join(cfg.Dir, "cache.db"), verbose)
	flat := cache.NewFlatStore(filepath.Join(cfg.Dir, "flat"), cfg.FlatQuotaBytes, verbose)
	manager := cache.NewManager(structured, flat, verbose)
	if err := manager.Initialize(ctx); err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.APIKey, cfg.BaseURL, verbose)
	orch := fetch.NewOrchestrator(api.NewConversationAPI(client), manager, verbose)

	return &stack{cfg: cfg, manager: manager, orch: orch, owner: effectiveOwner}, nil
}

func (s *stack) fetchOptions() fetch.Options {
	return fetch.Options{
		Owner:     s.owner,
		Quiet:     quiet,
		Refresh:   refresh,
		CacheOnly: cacheOnly,
	}
}

func requireOwner(s *stack) error {
	if s.owner == "" {
		return fmt.Errorf("no owner given (use --owner or CONVCACHE_OWNER)")
	}
	return nil
}

func handleGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.manager.Close()
	if err := requireOwner(s); err != nil {
		return err
	}

	loc := core.GetTZ(tzName(s))
	targetDate, err := core.ParseDateSpec(args[0], loc)
	if err != nil {
		return err
	}

	core.ProgressPrint(fmt.Sprintf("Fetching conversations for %s", core.FormatDate(targetDate)), quiet)

	items := s.orch.FetchDay(ctx, targetDate, s.fetchOptions())
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	if raw {
		output.StreamJSONSlice(items)
	} else {
		output.PrintSummarySlice(items)
	}
	return nil
}

func handleRange(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	parallel, _ := cmd.Flags().GetInt("parallel")
	direction, _ := cmd.Flags().GetString("direction")

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.manager.Close()
	if err := requireOwner(s); err != nil {
		return err
	}

	startDate, err := core.ParseDate(args[0])
	if err != nil {
		return err
	}
	endDate, err := core.ParseDate(args[1])
	if err != nil {
		return err
	}
	if endDate.Before(startDate) {
		return fmt.Errorf("end must not be before start")
	}

	core.ProgressPrint(fmt.Sprintf("Processing conversations from %s to %s…",
		core.FormatDate(startDate), core.FormatDate(endDate)), quiet)

	opts := s.fetchOptions()
	opts.Direction = direction
	itemsCh := s.orch.StreamRange(ctx, startDate, endDate, opts, limit, parallel)

	if raw {
		output.StreamJSON(itemsCh)
	} else {
		output.PrintSummaries(itemsCh)
	}
	return nil
}

func handleRelativeDay(offsetDays int) error {
	ctx := context.Background()
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.manager.Close()
	if err := requireOwner(s); err != nil {
		return err
	}

	loc := core.GetTZ(tzName(s))
	day := core.DateOnly(time.Now().In(loc).AddDate(0, 0, offsetDays))

	items := s.orch.FetchDay(ctx, day, s.fetchOptions())
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	if raw {
		output.StreamJSONSlice(items)
	} else {
		output.PrintSummarySlice(items)
	}
	return nil
}

func handleSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.manager.Close()

	s.manager.Sweep(ctx)
	core.ProgressPrint("Sweep complete.", quiet)
	return nil
}

func handleStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.manager.Close()

	structured, flat, err := s.manager.Stats(ctx)
	if err != nil {
		return err
	}

	if structured != nil {
		fmt.Printf("structured: %d records, %d bytes\n", structured.Records, structured.TotalBytes)
	} else {
		fmt.Println("structured: unavailable")
	}
	fmt.Printf("flat:       %d records, %d bytes\n", flat.Records, flat.TotalBytes)
	return nil
}

func tzName(s *stack) string {
	if timezone != "" {
		return timezone
	}
	return s.cfg.Timezone
}
