// Command replay feeds a recorded bar history through the decision engine
// and prints what it would have traded. Useful for sanity-checking threshold
// and risk settings against past sessions before pointing the engine at a
// live feed.
//
// The input file is JSON lines, one bar per line:
//
//	{"time":"2024-05-07T09:00:00Z","open":1.0845,"high":1.0850,"low":1.0842,"close":1.0848,"volume":1200}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"fx-signal-engine/internal/confluence"
	"fx-signal-engine/internal/engine"
	"fx-signal-engine/internal/lifecycle"
	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/performance"
)

type barLine struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

func main() {
	var (
		file          = flag.String("file", "", "bar history file (JSON lines)")
		symbol        = flag.String("symbol", "EURUSD", "instrument symbol")
		balance       = flag.Float64("balance", 10000, "starting balance")
		confluenceReq = flag.Int("confluence", 4, "base confluence threshold")
		verbose       = flag.Bool("v", false, "log every engine decision")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -file bars.jsonl [-symbol EURUSD] [-balance 10000]")
		os.Exit(1)
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	store := performance.NewMemoryStore()
	eng, err := engine.New(engine.Config{
		Symbol:          *symbol,
		BaseConfluence:  *confluenceReq,
		StartingBalance: *balance,
	}, engine.Deps{
		Port:  lifecycle.NewPaperPort(logger),
		Store: store,
		// Replay has no session or news calendar; assume a clean context
		// so structure and pattern quality drive the decisions.
		Provider: engine.StaticContext{F: confluence.ContextFlags{
			VolumeAboveAverage: true,
			SpreadAcceptable:   true,
			SessionTradeable:   true,
			NewsClear:          true,
			MTFAligned:         true,
			CorrelationOK:      true,
		}},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init failed: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", *file, err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	bars := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var b barLine
		if err := json.Unmarshal(line, &b); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed line %d: %v\n", bars+1, err)
			continue
		}
		eng.OnBar(ctx, market.Bar{
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Timestamp: b.Time,
		})
		bars++
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", *file, err)
		os.Exit(1)
	}

	printReport(ctx, eng, store, bars, *balance)
}

func printReport(ctx context.Context, eng *engine.Engine, store performance.Store, bars int, startBalance float64) {
	status := eng.Status()

	fmt.Println("================================================================")
	fmt.Printf("REPLAY REPORT: %s\n", status.Symbol)
	fmt.Println("================================================================")
	fmt.Printf("Bars processed:      %d\n", bars)
	fmt.Printf("Final trend:         %s\n", status.Trend)
	fmt.Printf("Required confluence: %d\n", status.RequiredConfluence)
	fmt.Printf("Balance:             %.2f (%.2f%%)\n", status.Balance, (status.Balance-startBalance)/startBalance*100)
	fmt.Printf("Open trades:         %d\n", len(status.OpenTrades))
	if status.RecentWinRate > 0 || status.RecentAvgR != 0 {
		fmt.Printf("Recent win rate:     %.1f%%\n", status.RecentWinRate*100)
		fmt.Printf("Recent avg R:        %.2f\n", status.RecentAvgR)
	}

	records, err := store.All(ctx)
	if err != nil || len(records) == 0 {
		fmt.Println("\nNo closed trades.")
		return
	}

	fmt.Println("\nPattern performance:")
	fmt.Printf("%-24s %-10s %7s %8s %8s %8s\n", "PATTERN", "REGIME", "TRADES", "WINRATE", "PNL", "AVG R")
	for _, rec := range records {
		fmt.Printf("%-24s %-10s %7d %7.1f%% %8.2f %8.2f\n",
			rec.PatternName, rec.Regime, rec.TotalTrades, rec.WinRate*100, rec.TotalPnL, rec.AvgRMultiple)
	}
}
