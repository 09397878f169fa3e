package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	headerUserID         = "X-User-Id"

	scenarioMethod = "scenario"
	seedPassword   = "loadtest"
)

type loadMode string

const (
	modePurchase       loadMode = "purchase"
	modePurchaseReplay loadMode = "purchase-replay"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	seed        bool
	consumerID  int
	productID   int
	quantity    int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector накапливает результаты вызовов по имени операции. Код 0 означает сетевую ошибку.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[codeLabel(code)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func codeLabel(code int) string {
	if code == 0 {
		return "transport_error"
	}
	return strconv.Itoa(code)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods[scenarioMethod]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "marketplace HTTP base URL")
	fs.IntVar(&cfg.total, "total", 200, "total scenarios in count mode; with -duration only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "max HTTP connections to the server")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modePurchase), "load mode: purchase | purchase-replay")
	fs.BoolVar(&cfg.seed, "seed", true, "register a seller, a consumer and a product before the run")
	fs.IntVar(&cfg.consumerID, "consumer-id", 0, "existing consumer id (required with -seed=false)")
	fs.IntVar(&cfg.productID, "product-id", 0, "existing product id (required with -seed=false)")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units bought per purchase")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case !cfg.seed && (cfg.consumerID <= 0 || cfg.productID <= 0):
		return cfg, errors.New("consumer-id and product-id are required when seeding is disabled")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePurchase:
		return modePurchase, nil
	case modePurchaseReplay:
		return modePurchaseReplay, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg, newHTTPClient(cfg))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections
	return &http.Client{Transport: transport, Timeout: cfg.timeout}
}

func run(ctx context.Context, cfg config, client *http.Client) (report, error) {
	lt := &loadTester{cfg: cfg, client: client, col: newCollector()}
	if cfg.seed {
		if err := lt.seedFixtures(ctx); err != nil {
			return report{}, fmt.Errorf("seed fixtures: %w", err)
		}
	}

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				lt.runScenario(ctx, id)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	return lt.col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

type loadTester struct {
	cfg    config
	client *http.Client
	col    *collector
}

type callResult struct {
	status   int
	replayed bool
	body     []byte
}

func (lt *loadTester) call(ctx context.Context, method, path string, body any, headers map[string]string) (callResult, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return callResult{}, err
		}
		reader = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, lt.cfg.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, lt.cfg.baseURL+path, reader)
	if err != nil {
		return callResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := lt.client.Do(req)
	if err != nil {
		return callResult{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return callResult{status: resp.StatusCode}, err
	}
	return callResult{
		status:   resp.StatusCode,
		replayed: resp.Header.Get(headerReplayed) == "true",
		body:     payload,
	}, nil
}

// seedFixtures регистрирует продавца и покупателя с уникальными email и заводит товар с запасом на весь прогон.
func (lt *loadTester) seedFixtures(ctx context.Context) error {
	runID := uuid.NewString()

	sellerID, err := lt.registerUser(ctx, "seller", runID)
	if err != nil {
		return err
	}
	consumerID, err := lt.registerUser(ctx, "consumer", runID)
	if err != nil {
		return err
	}

	stock := lt.cfg.total * lt.cfg.quantity
	if lt.cfg.duration > 0 && !lt.cfg.totalSet {
		stock = math.MaxInt32
	}
	res, err := lt.call(ctx, http.MethodPost, "/v1/products", map[string]any{
		"title":       "Load test item " + runID[:8],
		"price":       "9.90",
		"description": "seeded by loadtest",
		"stock":       stock,
	}, map[string]string{headerUserID: strconv.Itoa(sellerID)})
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	if res.status != http.StatusCreated {
		return fmt.Errorf("create product: unexpected status %d: %s", res.status, res.body)
	}
	var product struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(res.body, &product); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}

	lt.cfg.consumerID = consumerID
	lt.cfg.productID = product.ID
	return nil
}

func (lt *loadTester) registerUser(ctx context.Context, userType, runID string) (int, error) {
	res, err := lt.call(ctx, http.MethodPost, "/v1/users", map[string]any{
		"type":     userType,
		"name":     "loadtest " + userType,
		"email":    fmt.Sprintf("%s-%s@loadtest.local", userType, runID),
		"password": seedPassword,
		"address":  "Load street, 1",
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", userType, err)
	}
	if res.status != http.StatusCreated {
		return 0, fmt.Errorf("register %s: unexpected status %d: %s", userType, res.status, res.body)
	}
	var user struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(res.body, &user); err != nil {
		return 0, fmt.Errorf("decode %s: %w", userType, err)
	}
	return user.ID, nil
}

func (lt *loadTester) runScenario(ctx context.Context, _ int) {
	start := time.Now()
	key := uuid.NewString()

	res, ok := lt.purchase(ctx, "Purchase", key)
	if ok && lt.cfg.mode == modePurchaseReplay {
		replay, replayOK := lt.purchase(ctx, "PurchaseReplay", key)
		ok = replayOK && replay.replayed && bytes.Equal(replay.body, res.body)
		res = replay
	}
	lt.col.record(scenarioMethod, time.Since(start), res.status, ok)
}

func (lt *loadTester) purchase(ctx context.Context, method, key string) (callResult, bool) {
	start := time.Now()
	res, err := lt.call(ctx, http.MethodPost, "/v1/orders", map[string]any{
		"consumerId": lt.cfg.consumerID,
		"items": []map[string]int{
			{"productId": lt.cfg.productID, "quantity": lt.cfg.quantity},
		},
	}, map[string]string{headerIdempotencyKey: key})
	ok := err == nil && res.status == http.StatusCreated
	lt.col.record(method, time.Since(start), res.status, ok)
	return res, ok
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min, result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50, result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99, result.ScenarioLatencyMs.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms codes=%v\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95, stats.Codes)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
