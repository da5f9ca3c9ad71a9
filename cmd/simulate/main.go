package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/api"
	"github.com/hackgods/clinic-booking-engine/internal/logging"
)

// SimConfig drives a booking storm: many workers racing for one slot.
type SimConfig struct {
	APIBaseURL string
	Workers    int
	Rounds     int
	DoctorID   string
	Date       string
	Time       string
	Timeout    time.Duration
}

type outcomeCounter struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (c *outcomeCounter) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&c.Total, 1)
	switch {
	case err == nil && status == http.StatusCreated:
		atomic.AddInt64(&c.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&c.Conflict, 1)
	default:
		atomic.AddInt64(&c.Error, 1)
	}

	c.mu.Lock()
	c.Latencies = append(c.Latencies, latency)
	c.mu.Unlock()
}

func (c *outcomeCounter) Percentiles() (p50, p95, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.Latencies) == 0 {
		return 0, 0, 0
	}
	l := make([]time.Duration, len(c.Latencies))
	copy(l, c.Latencies)
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })

	at := func(pct int) time.Duration {
		idx := len(l) * pct / 100
		if idx >= len(l) {
			idx = len(l) - 1
		}
		return l[idx]
	}
	return at(50), at(95), l[len(l)-1]
}

func main() {
	_ = godotenv.Load()
	logger := logging.New("simulate", false, getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Str("doctor_id", cfg.DoctorID).
		Str("date", cfg.Date).
		Str("time", cfg.Time).
		Int("workers", cfg.Workers).
		Int("rounds", cfg.Rounds).
		Msg("booking storm starting")

	client := &http.Client{Timeout: cfg.Timeout}
	counters := make([]*outcomeCounter, cfg.Rounds)
	for round := range counters {
		counters[round] = storm(context.Background(), client, cfg, logger)
	}

	printReport(cfg, counters)

	// Every round races for the same slot, so at most one booking may ever win.
	var wins int64
	for _, c := range counters {
		wins += atomic.LoadInt64(&c.Success)
	}
	if wins > 1 {
		logger.Error().Int64("successes", wins).Msg("slot was double booked")
		os.Exit(1)
	}
}

func storm(ctx context.Context, client *http.Client, cfg SimConfig, logger zerolog.Logger) *outcomeCounter {
	var (
		counter outcomeCounter
		wg      sync.WaitGroup
		ready   = make(chan struct{})
	)

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := bookingRequest(cfg)
			<-ready

			start := time.Now()
			status, err := post(ctx, client, cfg.APIBaseURL+"/appointments", body)
			counter.Record(time.Since(start), status, err)
			if err != nil {
				logger.Debug().Err(err).Msg("booking request failed")
			}
		}()
	}

	close(ready)
	wg.Wait()
	return &counter
}

func bookingRequest(cfg SimConfig) api.AppointmentRequest {
	return api.AppointmentRequest{
		DoctorID:    cfg.DoctorID,
		PatientName: gofakeit.Name(),
		Email:       gofakeit.Email(),
		Phone:       gofakeit.Phone(),
		Date:        cfg.Date,
		Time:        cfg.Time,
		Status:      "SCHEDULED",
	}
}

func post(ctx context.Context, client *http.Client, url string, body any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func printReport(cfg SimConfig, counters []*outcomeCounter) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("BOOKING STORM REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Slot: doctor=%s date=%s time=%s\n", cfg.DoctorID, cfg.Date, cfg.Time)
	fmt.Printf("Workers per round: %d\n\n", cfg.Workers)

	for i, c := range counters {
		p50, p95, max := c.Percentiles()
		fmt.Printf("Round %d:\n", i+1)
		fmt.Printf("  Total: %d  Created: %d  Conflicts: %d  Errors: %d\n",
			atomic.LoadInt64(&c.Total), atomic.LoadInt64(&c.Success),
			atomic.LoadInt64(&c.Conflict), atomic.LoadInt64(&c.Error))
		fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
			p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Workers:    getInt("SIM_WORKERS", 50),
		Rounds:     getInt("SIM_ROUNDS", 1),
		DoctorID:   os.Getenv("SIM_DOCTOR_ID"),
		Date:       os.Getenv("SIM_DATE"),
		Time:       getEnv("SIM_TIME", "09:00"),
		Timeout:    getDuration("SIM_TIMEOUT", 10*time.Second),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.DoctorID == "" {
		return fmt.Errorf("SIM_DOCTOR_ID is required")
	}
	if cfg.Date == "" {
		return fmt.Errorf("SIM_DATE is required (YYYY-MM-DD)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
