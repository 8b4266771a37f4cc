package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/steam-billing-api/internal/app"
	"github.com/ksred/steam-billing-api/internal/config"
	"github.com/ksred/steam-billing-api/internal/steam"
)

const (
	simAPIKey    = "simulation"
	simAPISecret = "simulation-secret"
)

var currencies = []string{"USD", "EUR", "GBP", "JPY"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks latency and failures for one API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate returns min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]
	return
}

// simulationClient drives the billing API over HTTP and records per-route stats
type simulationClient struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
	order []string
}

func newSimulationClient(baseURL string) *simulationClient {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   make(map[string]*routeStats),
	}
	for _, r := range []struct{ key, name string }{
		{"ticket", "Authenticate Ticket"},
		{"ownership", "Check Ownership"},
		{"init", "Init Purchase"},
		{"status", "Purchase Status"},
		{"finalize", "Finalize Purchase"},
		{"agreement", "Agreement Info"},
		{"token", "Internal Token"},
		{"reconcile", "Reconcile"},
		{"lookup", "Transaction Lookup"},
	} {
		sc.stats[r.key] = &routeStats{name: r.name}
		sc.order = append(sc.order, r.key)
	}
	return sc
}

func (sc *simulationClient) record(key string, d time.Duration, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st := sc.stats[key]
	st.addDuration(d)
	if failed {
		st.failures++
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call sends body as JSON and decodes the envelope's data into out. A
// success:false envelope with a 200 status is returned, not treated as an
// error.
func (sc *simulationClient) call(key, method, path, token string, body, out interface{}) (*envelope, error) {
	start := time.Now()
	failed := true
	defer func() { sc.record(key, time.Since(start), failed) }()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", key).Str("response", string(respBody)).Msg("api response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &env, fmt.Errorf("%s failed with status %d: %s", key, resp.StatusCode, string(respBody))
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &env, fmt.Errorf("failed to decode %s data: %w", key, err)
		}
	}
	failed = false
	return &env, nil
}

type purchase struct {
	OrderID string `json:"orderid"`
	TransID string `json:"transid"`
}

type simStats struct {
	mu         sync.Mutex
	players    int
	initiated  int
	approved   int
	declined   int
	finalized  int
	failed     int
	recurring  int
	currencies map[string]int
	purchases  []purchase
}

func (s *simStats) add(f func(*simStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// runPlayer walks one player through ticket auth, ownership, purchase and
// finalize, then looks at their agreement
func runPlayer(sc *simulationClient, stats *simStats, steamID string, items []int) {
	var session struct {
		Session struct {
			Token string `json:"jwt_token"`
		} `json:"session"`
	}
	if _, err := sc.call("ticket", http.MethodPost, "/api/v1/auth/ticket", "", map[string]string{
		"ticket": steam.SandboxTicketPrefix + steamID, "steamId": steamID,
	}, &session); err != nil {
		log.Error().Err(err).Str("steam_id", steamID).Msg("ticket authentication failed")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}
	token := session.Session.Token
	stats.add(func(s *simStats) { s.players++ })

	if _, err := sc.call("ownership", http.MethodPost, "/api/v1/users/ownership", token, map[string]string{"steamId": steamID}, nil); err != nil {
		log.Warn().Err(err).Str("steam_id", steamID).Msg("ownership check failed")
		return
	}

	itemID := items[rand.Intn(len(items))]
	currency := currencies[rand.Intn(len(currencies))]

	var opened purchase
	if _, err := sc.call("init", http.MethodPost, "/api/v1/purchases", token, map[string]interface{}{
		"steamId": steamID, "itemId": itemID, "currency": currency,
	}, &opened); err != nil {
		log.Error().Err(err).Str("steam_id", steamID).Int("item_id", itemID).Msg("init purchase failed")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}
	stats.add(func(s *simStats) {
		s.initiated++
		s.currencies[currency]++
		s.purchases = append(s.purchases, opened)
	})

	var details struct {
		Status string `json:"status"`
	}
	if _, err := sc.call("status", http.MethodPost, "/api/v1/purchases/status", token, map[string]string{
		"orderId": opened.OrderID, "transId": opened.TransID,
	}, &details); err != nil {
		log.Error().Err(err).Str("order_id", opened.OrderID).Msg("status check failed")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}
	if details.Status != "Approved" {
		stats.add(func(s *simStats) { s.declined++ })
		return
	}
	stats.add(func(s *simStats) { s.approved++ })

	var final struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if _, err := sc.call("finalize", http.MethodPost, "/api/v1/purchases/finalize", token, map[string]string{"orderId": opened.OrderID}, &final); err != nil || !final.Success {
		log.Error().Err(err).Str("order_id", opened.OrderID).Str("platform_error", final.Error).Msg("finalize failed")
		stats.add(func(s *simStats) { s.failed++ })
		return
	}
	stats.add(func(s *simStats) { s.finalized++ })

	env, err := sc.call("agreement", http.MethodPost, "/api/v1/agreements/info", token, map[string]string{"steamId": steamID}, nil)
	if err == nil && env.Success {
		stats.add(func(s *simStats) { s.recurring++ })
	}
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-22s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-22s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

func writeProducts(dir string) (string, []int, error) {
	products := []map[string]interface{}{
		{"id": 1, "description": "Gem pack", "price_per_currency": map[string]int64{"USD": 99, "EUR": 89, "GBP": 79}},
		{"id": 2, "description": "Starter bundle", "price_per_currency": map[string]int64{"USD": 499, "EUR": 449}},
		{"id": 3, "description": "Premium membership", "price_per_currency": map[string]int64{"USD": 999, "EUR": 899, "GBP": 799}, "period": "Month", "frequency": 1},
	}
	raw, err := json.Marshal(products)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "products.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", nil, err
	}
	return path, []int{1, 2, 3}, nil
}

func main() {
	players := flag.Int("players", 50, "Number of simulated players")
	workers := flag.Int("workers", 5, "Concurrent players")
	approval := flag.Float64("approval", 0.85, "Probability a player approves the purchase overlay")
	port := flag.String("port", "8089", "Port of the in-process API")
	flag.Parse()

	dir, err := os.MkdirTemp("", "billing-simulation")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create work directory")
	}
	defer os.RemoveAll(dir)

	productsFile, items, err := writeProducts(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write product catalog")
	}

	cfg := &config.Config{
		Env:      "simulation",
		Port:     *port,
		Steam:    config.SteamConfig{Mock: true, AppID: "480", Currency: "USD", ItemLocale: "en"},
		Products: config.ProductsConfig{File: productsFile},
		Order:    config.OrderConfig{Shard: 1},
		Report:   config.ReportConfig{Interval: time.Minute, SafetyMargin: 5 * time.Second, MaxResults: 10000},
		DB:       config.DBConfig{Driver: "sqlite", DSN: filepath.Join(dir, "billing.db")},
		Store:    config.StoreConfig{Backend: config.BackendSQL},
		JWT:      config.JWTConfig{Secret: "simulation", TTL: time.Hour},
		API:      config.APIConfig{Key: simAPIKey, Secret: simAPISecret},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	billing, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer billing.Close()

	if sb, ok := billing.Gateway.(*steam.Sandbox); ok {
		sb.ApprovalRate = *approval
		sb.MinLatency = 5 * time.Millisecond
		sb.MaxLatency = 40 * time.Millisecond
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: billing.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	defer srv.Shutdown(context.Background())

	time.Sleep(500 * time.Millisecond)

	sc := newSimulationClient("http://localhost:" + cfg.Port)
	stats := &simStats{currencies: make(map[string]int)}
	startTime := time.Now()

	log.Info().Int("players", *players).Int("workers", *workers).Float64("approval", *approval).Msg("Starting simulation")

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for steamID := range jobs {
				runPlayer(sc, stats, steamID, items)
			}
		}()
	}
	for i := 0; i < *players; i++ {
		jobs <- fmt.Sprintf("7656119800%07d", i)
	}
	close(jobs)
	wg.Wait()

	var internal struct {
		Token string `json:"jwt_token"`
	}
	if _, err := sc.call("token", http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"api_key": simAPIKey, "api_secret": simAPISecret,
	}, &internal); err != nil {
		log.Fatal().Err(err).Msg("Failed to obtain internal token")
	}

	var tick struct {
		Reported int `json:"reported"`
		Upserted int `json:"upserted"`
		Failed   int `json:"failed"`
	}
	if _, err := sc.call("reconcile", http.MethodPost, "/api/v1/internal/reconcile", internal.Token, map[string]string{
		"since": startTime.Add(-time.Minute).UTC().Format(time.RFC3339),
	}, &tick); err != nil {
		log.Fatal().Err(err).Msg("Reconciliation failed")
	}

	missing := 0
	for _, p := range stats.purchases {
		if _, err := sc.call("lookup", http.MethodGet, "/api/v1/internal/transactions/"+p.OrderID+"/"+p.TransID, internal.Token, nil, nil); err != nil {
			missing++
		}
	}

	duration := time.Since(startTime)

	fmt.Println("\nSimulation Summary")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Duration:            %s\n", duration.Round(time.Millisecond))
	fmt.Printf("Players:             %d\n", stats.players)
	fmt.Printf("Purchases opened:    %d\n", stats.initiated)
	fmt.Printf("Approved:            %d\n", stats.approved)
	fmt.Printf("Declined:            %d\n", stats.declined)
	fmt.Printf("Finalized:           %d\n", stats.finalized)
	fmt.Printf("With agreements:     %d\n", stats.recurring)
	fmt.Printf("Failures:            %d\n", stats.failed)
	fmt.Printf("Reported / upserted: %d / %d (%d failed)\n", tick.Reported, tick.Upserted, tick.Failed)
	fmt.Printf("Missing after sync:  %d\n", missing)
	fmt.Println("\nCurrencies requested:")
	for _, c := range currencies {
		fmt.Printf("  %-4s %d\n", c, stats.currencies[c])
	}

	sc.printPerformanceStats()
}
