// Agent entrypoint: fetch weather for one or more cities, buying a credential
// on the way when the service denies access.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wxpass/internal/agent"
	"wxpass/internal/ledger"
	"wxpass/internal/platform/logger"
	"wxpass/pkg/domain"
)

func main() {
	var (
		serverURL     = flag.String("server", envOr("WXPASS_SERVER_URL", "http://localhost:8080"), "weather service base URL")
		identityFlag  = flag.String("identity", os.Getenv("AGENT_IDENTITY"), "ledger address the agent acts as")
		citiesFlag    = flag.String("cities", "", "comma-separated cities to fetch")
		ledgerURL     = flag.String("ledger", envOr("LEDGER_URL", "http://localhost:4001"), "ledger node base URL")
		ledgerToken   = flag.String("ledger-token", os.Getenv("LEDGER_TOKEN"), "ledger node API token")
		settleTimeout = flag.Duration("settle-timeout", 30*time.Second, "how long to wait for payment settlement")
	)
	flag.Parse()

	log := logger.New()

	identity, err := domain.ParseAddress(*identityFlag)
	if err != nil {
		log.Error("invalid agent identity", "error", err)
		os.Exit(1)
	}

	cities := splitCities(*citiesFlag)
	if len(cities) == 0 {
		cities = flag.Args()
	}
	if len(cities) == 0 {
		log.Error("no cities given: pass -cities or positional arguments")
		os.Exit(1)
	}

	node := ledger.NewHTTPNode(*ledgerURL, *ledgerToken, 10*time.Second)
	ledgerClient := ledger.NewClient(node, log)

	a := agent.New(
		agent.NewClient(*serverURL),
		ledgerClient,
		agent.Config{
			Identity:      identity,
			SettleTimeout: *settleTimeout,
		},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := a.Run(ctx, cities)
	if err != nil {
		log.Error("fetch failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Error("encode results", "error", err)
		os.Exit(1)
	}
}

func splitCities(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	cities := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cities = append(cities, trimmed)
		}
	}
	return cities
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
