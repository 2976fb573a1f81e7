package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"barbot-go/internal/config"
)

const defaultConfigPath = "configs/barbot.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)
	path := locateConfig()

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Barbot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit balance and risk guards")
		fmt.Println("3) Edit exit cascade")
		fmt.Println("4) Edit instruments and strategy")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch backtest")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(os.Stdout, cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editExits(reader, cfg)
		case "4":
			editUniverse(reader, cfg)
		case "5":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := config.Save(path, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launch(reader, path, "backtest")
		case "7":
			reloaded, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	r, x := cfg.Risk, cfg.Exits
	fmt.Fprintln(w, "\n--- Configuration Summary ---")
	fmt.Fprintf(w, "Instruments: %s (%s, %s)\n", strings.Join(cfg.Data.Instruments, ", "), cfg.Data.Provider, cfg.Data.Interval)
	fmt.Fprintf(w, "Strategy: %s | broker: %s\n", cfg.Strategy.Name, cfg.Execution.Broker)
	fmt.Fprintf(w, "Start balance: $%.2f | risk per trade: %.2f%%\n", r.StartBalance, r.RiskPerTrade*100)
	fmt.Fprintf(w, "Max positions: %d | max open risk: %.2f%%\n", r.MaxOpenPositions, r.MaxOpenRisk*100)
	fmt.Fprintf(w, "Daily DD: %.2f%% | total DD: %.2f%% (margin %.2f%%)\n", r.MaxDailyDrawdown*100, r.MaxTotalDrawdown*100, r.TotalSafetyMargin*100)
	fmt.Fprintf(w, "Daily trades: %d | cooldown bars: %d\n", r.MaxDailyTrades, r.CooldownBars)
	fmt.Fprintf(w, "Break-even: %.2fR (+%.2fR) | giveback: %.2fR retain %.0f%%\n", x.BreakevenTrigger, x.BreakevenOffset, x.GivebackMinMFE, x.GivebackRetain*100)
	fmt.Fprintf(w, "Deadfish: %d bars < %.2fR | time stop: %d bars\n", x.DeadfishBars, x.DeadfishRange, x.TimeStopBars)
	for _, s := range x.ROI {
		fmt.Fprintf(w, "ROI: after %d bars take %.2fR\n", s.Bars, s.MinR)
	}
	for _, t := range x.Tiers {
		fmt.Fprintf(w, "Trail: from %.2fR MFE keep %.2fR\n", t.MFE, t.Distance)
	}
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Balance / Risk ---")
	r := &cfg.Risk
	r.StartBalance = promptFloat(reader, "Start balance", r.StartBalance)
	r.RiskPerTrade = promptPercent(reader, "Risk per trade (%)", r.RiskPerTrade)
	r.MaxOpenPositions = promptInt(reader, "Max open positions", r.MaxOpenPositions)
	r.MaxOpenRisk = promptPercent(reader, "Max open risk (%)", r.MaxOpenRisk)
	r.MaxDailyDrawdown = promptPercent(reader, "Max daily drawdown (%)", r.MaxDailyDrawdown)
	r.MaxTotalDrawdown = promptPercent(reader, "Max total drawdown (%)", r.MaxTotalDrawdown)
	r.TotalSafetyMargin = promptPercent(reader, "Total drawdown safety margin (%)", r.TotalSafetyMargin)
	r.MaxDailyTrades = promptInt(reader, "Max trades per day", r.MaxDailyTrades)
	r.CooldownBars = promptInt(reader, "Cooldown bars after a loss", r.CooldownBars)
}

func editExits(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Exit Cascade (0 disables a rule) ---")
	x := &cfg.Exits
	x.BreakevenTrigger = promptFloat(reader, "Break-even trigger (R)", x.BreakevenTrigger)
	x.BreakevenOffset = promptFloat(reader, "Break-even offset (R)", x.BreakevenOffset)
	x.GivebackMinMFE = promptFloat(reader, "Giveback arms at MFE (R)", x.GivebackMinMFE)
	x.GivebackRetain = promptPercent(reader, "Giveback retain (%)", x.GivebackRetain)
	x.DeadfishBars = promptInt(reader, "Deadfish bars", x.DeadfishBars)
	x.DeadfishRange = promptFloat(reader, "Deadfish range (R)", x.DeadfishRange)
	x.TimeStopBars = promptInt(reader, "Time stop bars", x.TimeStopBars)
}

func editUniverse(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Instruments / Strategy ---")
	fmt.Printf("Current instruments: %s\n", strings.Join(cfg.Data.Instruments, ", "))
	fmt.Print("Enter instruments comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Data.Instruments = nil
		for _, p := range strings.Split(strings.TrimSpace(line), ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cfg.Data.Instruments = append(cfg.Data.Instruments, trimmed)
			}
		}
	}
	cfg.Strategy.Name = promptString(reader, "Strategy (combined|mean_reversion|trend|breakout)", cfg.Strategy.Name)
}

func launch(reader *bufio.Reader, path, mode string) {
	fmt.Printf("Launching %s (Ctrl+C to stop)...\n", mode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/barbot", mode, "--config", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", mode, err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line == "" {
		return current
	}
	return line
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.4g]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.4g\n", current)
		return current
	}
	return val
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	return int(promptFloat(reader, label, float64(current)))
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	if pct == current*100 {
		return current
	}
	return pct / 100
}

func locateConfig() string {
	if p := os.Getenv("BARBOT_CONFIG"); p != "" {
		return filepath.Clean(p)
	}
	return filepath.Clean(defaultConfigPath)
}
