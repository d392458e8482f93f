package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/navsense/navsense/internal/api"
	"github.com/navsense/navsense/internal/bandwidth"
	"github.com/navsense/navsense/internal/cache"
	"github.com/navsense/navsense/internal/clock"
	"github.com/navsense/navsense/internal/engine"
	"github.com/navsense/navsense/internal/pattern"
	"github.com/navsense/navsense/internal/prefetch"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay <logfile>",
		Short: "Replay a navigation log through the prefetch engine",
		Long:  "Reads routes (one per line), records each transition, prefetches predicted routes, and loads each visited route through the cache. Prints engine counters as JSON. Fetches are synthetic unless --live is set.",
		Args:  cobra.ExactArgs(1),
		Run:   runReplay,
	}

	cmd.Flags().Bool("live", false, "Fetch over HTTP from the configured base URL instead of synthesizing responses")

	RootCmd.AddCommand(cmd)
}

// offlineClient fabricates responses so a replay never needs a backend.
type offlineClient struct{}

func (offlineClient) Get(_ context.Context, path string) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"path":%q,"replayed":true}`, path)), nil
}

func runReplay(cmd *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		exitErr("open log", err)
	}
	defer f.Close()

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	cfg := loadConfig()
	log := newLogger()
	clk := clock.Real{}

	var client engine.Fetcher = offlineClient{}
	if live, _ := cmd.Flags().GetBool("live"); live {
		client = api.New(cfg.API.BaseURL, cfg.API.Timeout.Std(), log)
	}

	tr := pattern.NewTracker(pattern.Config{
		MaxEdgesPerRoute:     cfg.Pattern.MaxEdgesPerRoute,
		ProbabilityThreshold: cfg.Pattern.ProbabilityThreshold,
		RecencyWeight:        cfg.Pattern.RecencyWeight,
		FlushInterval:        cfg.Pattern.FlushInterval.Std(),
	}, s, clk, log)

	qc := cache.New(cache.Config{
		DefaultStaleTime: cfg.Cache.DefaultStaleTime.Std(),
		MaxRetries:       cfg.Cache.MaxRetries,
		InitialBackoff:   cfg.Cache.InitialBackoff.Std(),
		MaxBackoff:       cfg.Cache.MaxBackoff.Std(),
	}, clk, log)

	bw := bandwidth.NewWindow(cfg.Bandwidth.BudgetBytes, cfg.Bandwidth.Window.Std(), clk.Now())

	q := prefetch.NewQueue(prefetch.Config{
		MaxConcurrent:  cfg.Prefetch.MaxConcurrent,
		MaxRetries:     cfg.Prefetch.MaxRetries,
		InitialBackoff: cfg.Prefetch.InitialBackoff.Std(),
		MaxBackoff:     cfg.Prefetch.MaxBackoff.Std(),
		StaleTime:      cfg.Prefetch.StaleTime.Std(),
		WasteThreshold: cfg.Prefetch.WasteThreshold.Std(),
	}, bw, qc, clk, log)

	e := engine.New(engine.Options{
		Tracker: tr,
		Queue:   q,
		Cache:   qc,
		Client:  client,
		Clock:   clk,
		Logger:  log,
		TopN:    cfg.Prefetch.TopN,
	})

	ctx := cmd.Context()
	prev := ""
	visits := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		route := strings.TrimSpace(scanner.Text())
		if route == "" || strings.HasPrefix(route, "#") {
			continue
		}
		e.OnNavigate(ctx, prev, route)
		if _, err := e.Load(ctx, route); err != nil {
			exitErr(fmt.Sprintf("load %s", route), err)
		}
		e.Tick(ctx, clk.Now())
		prev = route
		visits++
	}
	if err := scanner.Err(); err != nil {
		exitErr("read log", err)
	}

	if err := e.Close(ctx); err != nil {
		exitErr("close engine", err)
	}

	out := struct {
		Visits int          `json:"visits"`
		Stats  engine.Stats `json:"stats"`
	}{visits, e.Stats()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		exitErr("marshal", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}
