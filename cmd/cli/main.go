package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/repopulse/repopulse/internal/collector"
	"github.com/repopulse/repopulse/internal/config"
	"github.com/repopulse/repopulse/internal/domain"
	"github.com/repopulse/repopulse/internal/logging"
	"github.com/repopulse/repopulse/internal/storage"
	"github.com/repopulse/repopulse/internal/storage/postgres"
	"github.com/repopulse/repopulse/internal/storage/sqlite"
	"github.com/repopulse/repopulse/pkg/client"
)

var (
	outputJSON    bool
	startDate     string
	endDate       string
	trendDays     int
	retentionDays int
)

var rootCmd = &cobra.Command{
	Use:   "repopulse",
	Short: "GitHub repository metrics tool",
	Long: `A CLI tool for collecting and inspecting GitHub repository metrics.

This tool collects stars, forks, contributors, commits, releases, issue and
pull request counts for the configured repository and stores them as daily
snapshots.`,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect a snapshot now",
	Long:  `Collect the current repository statistics from GitHub and store them as today's snapshot.`,
	RunE:  runCollect,
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent snapshot",
	RunE:  runLatest,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show snapshots in a date range",
	Long:  `Display stored snapshots between --start and --end, oldest first. Defaults to the last 30 days.`,
	RunE:  runHistory,
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Compare current metrics against an earlier snapshot",
	RunE:  runTrend,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshots older than the retention window",
	RunE:  runCleanup,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status of a running API server",
	Long:  `Query a running API server for its scheduler statistics, configuration, and health.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	historyCmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	trendCmd.Flags().IntVar(&trendDays, "days", 30, "comparison window in days")
	cleanupCmd.Flags().IntVar(&retentionDays, "days", 0, "retention window in days (default from config)")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// dateRange resolves the --start/--end flags, defaulting to the last 30 days.
// Unparsable values fall back to the defaults.
func dateRange() (string, string) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30).Format(domain.SnapshotDateLayout)
	end := now.Format(domain.SnapshotDateLayout)

	if startDate != "" {
		if _, err := time.Parse(domain.SnapshotDateLayout, startDate); err == nil {
			start = startDate
		}
	}
	if endDate != "" {
		if _, err := time.Parse(domain.SnapshotDateLayout, endDate); err == nil {
			end = endDate
		}
	}
	return start, end
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	logger := logging.New(cfg.LogLevel, "collect")
	github := collector.NewGitHubClient(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo,
		cfg.PageSize, cfg.MaxPages, time.Duration(cfg.RequestTimeoutSeconds)*time.Second,
		logger)
	coll := collector.NewService(github, store, logger)

	if !outputJSON {
		fmt.Printf("Collecting metrics for %s/%s\n", cfg.GitHubOwner, cfg.GitHubRepo)
	}

	snapshot, err := coll.CollectCurrentMetrics(context.Background())
	if err != nil {
		return fmt.Errorf("failed to collect metrics: %w", err)
	}

	if outputJSON {
		return printJSON(snapshot)
	}

	fmt.Printf("Stored snapshot for %s\n\n", snapshot.Date)
	printSnapshotTable(snapshot)
	return nil
}

func runLatest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	snapshot, err := store.GetLatestMetrics(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if snapshot == nil {
		if outputJSON {
			return printJSON(nil)
		}
		fmt.Println("No snapshots stored yet. Run `repopulse collect` first.")
		return nil
	}

	if outputJSON {
		return printJSON(snapshot)
	}

	fmt.Printf("\nLatest snapshot: %s\n\n", snapshot.Date)
	printSnapshotTable(snapshot)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	start, end := dateRange()

	snapshots, err := store.GetMetricsInRange(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if outputJSON {
		return printJSON(snapshots)
	}

	fmt.Printf("\nSnapshots from %s to %s: %d\n\n", start, end, len(snapshots))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Date", "Stars", "Forks", "Commits", "Open Issues", "Open PRs", "Merged PRs"})
	for _, s := range snapshots {
		table.Append([]string{
			s.Date,
			fmt.Sprintf("%d", s.Stars),
			fmt.Sprintf("%d", s.Forks),
			fmt.Sprintf("%d", s.Commits),
			fmt.Sprintf("%d", s.OpenIssues),
			fmt.Sprintf("%d", s.OpenPRs),
			fmt.Sprintf("%d", s.MergedPRs),
		})
	}
	table.Render()

	return nil
}

func runTrend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	trend, err := store.GetTimeRangeMetrics(context.Background(), trendDays)
	if err != nil {
		return fmt.Errorf("failed to read trend: %w", err)
	}
	if trend == nil {
		if outputJSON {
			return printJSON(nil)
		}
		fmt.Printf("No snapshots in the last %d days. Run `repopulse collect` first.\n", trendDays)
		return nil
	}

	if outputJSON {
		return printJSON(trend)
	}

	fmt.Printf("\nTrend over the last %d days (%s vs %s)\n\n", trendDays, trend.Previous.Date, trend.Current.Date)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Previous", "Current", "Change"})
	appendTrendRow(table, "Stars", trend.Previous.Stars, trend.Current.Stars, trend.Change.Stars)
	appendTrendRow(table, "Forks", trend.Previous.Forks, trend.Current.Forks, trend.Change.Forks)
	appendTrendRow(table, "Contributors", trend.Previous.Contributors, trend.Current.Contributors, trend.Change.Contributors)
	appendTrendRow(table, "Commits", trend.Previous.Commits, trend.Current.Commits, trend.Change.Commits)
	appendTrendRow(table, "Releases", trend.Previous.Releases, trend.Current.Releases, trend.Change.Releases)
	appendTrendRow(table, "Open Issues", trend.Previous.OpenIssues, trend.Current.OpenIssues, trend.Change.OpenIssues)
	appendTrendRow(table, "Closed Issues", trend.Previous.ClosedIssues, trend.Current.ClosedIssues, trend.Change.ClosedIssues)
	appendTrendRow(table, "Open PRs", trend.Previous.OpenPRs, trend.Current.OpenPRs, trend.Change.OpenPRs)
	appendTrendRow(table, "Closed PRs", trend.Previous.ClosedPRs, trend.Current.ClosedPRs, trend.Change.ClosedPRs)
	appendTrendRow(table, "Merged PRs", trend.Previous.MergedPRs, trend.Current.MergedPRs, trend.Change.MergedPRs)
	table.Render()

	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	days := retentionDays
	if days <= 0 {
		days = cfg.RetentionDays
	}

	removed, err := store.CleanupOldMetrics(context.Background(), days)
	if err != nil {
		return fmt.Errorf("failed to clean up old snapshots: %w", err)
	}

	if outputJSON {
		return printJSON(map[string]interface{}{"removed": removed, "retention_days": days})
	}

	fmt.Printf("Removed %d snapshots older than %d days\n", removed, days)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	api := client.NewClient(cfg.APIEndpoint)

	status, err := api.GetSchedulerStatus()
	if err != nil {
		return fmt.Errorf("failed to reach API server at %s: %w", cfg.APIEndpoint, err)
	}

	if outputJSON {
		return printJSON(status)
	}

	fmt.Printf("\nScheduler status (%s)\n\n", cfg.APIEndpoint)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Running", fmt.Sprintf("%t", status.Stats.Running)})
	table.Append([]string{"Healthy", fmt.Sprintf("%t", status.Healthy)})
	table.Append([]string{"Total Collections", fmt.Sprintf("%d", status.Stats.TotalCollections)})
	table.Append([]string{"Total Errors", fmt.Sprintf("%d", status.Stats.TotalErrors)})
	table.Append([]string{"Consecutive Errors", fmt.Sprintf("%d", status.Stats.ConsecutiveErrors)})
	if status.Stats.LastSuccessfulCollection != nil {
		table.Append([]string{"Last Success", status.Stats.LastSuccessfulCollection.Format(time.RFC3339)})
	}
	if status.Stats.LastFailedCollection != nil {
		table.Append([]string{"Last Failure", status.Stats.LastFailedCollection.Format(time.RFC3339)})
	}
	table.Append([]string{"Metrics Cron", status.Config.MetricsCron})
	table.Append([]string{"Cleanup Cron", status.Config.CleanupCron})
	table.Append([]string{"Retention Days", fmt.Sprintf("%d", status.Config.RetentionDays)})
	table.Render()

	return nil
}

func appendTrendRow(table *tablewriter.Table, name string, previous, current, change int) {
	table.Append([]string{
		name,
		fmt.Sprintf("%d", previous),
		fmt.Sprintf("%d", current),
		fmt.Sprintf("%+d", change),
	})
}

func printSnapshotTable(s *domain.MetricsSnapshot) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Stars", fmt.Sprintf("%d", s.Stars)})
	table.Append([]string{"Forks", fmt.Sprintf("%d", s.Forks)})
	table.Append([]string{"Contributors", fmt.Sprintf("%d", s.Contributors)})
	table.Append([]string{"Commits", fmt.Sprintf("%d", s.Commits)})
	table.Append([]string{"Releases", fmt.Sprintf("%d", s.Releases)})
	table.Append([]string{"Open Issues", fmt.Sprintf("%d", s.OpenIssues)})
	table.Append([]string{"Closed Issues", fmt.Sprintf("%d", s.ClosedIssues)})
	table.Append([]string{"Open PRs", fmt.Sprintf("%d", s.OpenPRs)})
	table.Append([]string{"Closed PRs", fmt.Sprintf("%d", s.ClosedPRs)})
	table.Append([]string{"Merged PRs", fmt.Sprintf("%d", s.MergedPRs)})
	table.Render()
}

func printJSON(v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
