package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/api"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/booking"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/config"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/db"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/logging"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Date        string
	ClientLimit int
	ReadRatio   float64
	PostgresDSN string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	i := n * p / 100
	if i >= n {
		i = n - 1
	}
	return i
}

type Simulator struct {
	config  SimConfig
	clients []uuid.UUID
	slots   []string
	client  *http.Client
	log     zerolog.Logger

	booking OperationMetrics
	reads   OperationMetrics

	mu    sync.Mutex
	wins  map[string]int // slot time -> 201 responses
	stray int64          // responses other than 201/409 on booking
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel)

	sim := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 20*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		Date:        getEnv("SIM_DATE", nextOpenDay(time.Now().In(cfg.Location))),
		ClientLimit: getInt("SIM_CLIENT_LIMIT", 500),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.3),
		PostgresDSN: cfg.PostgresDSN,
	}
	if err := validateConfig(sim); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Str("date", sim.Date).
		Dur("duration", sim.Duration).
		Int("workers", sim.Workers).
		Msg("simulator starting; run the API with RATE_LIMIT_RPS=0 or most bookings will be throttled")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, sim.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	clients, err := loadClients(ctx, pool, sim.ClientLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load clients")
	}

	s := &Simulator{
		config:  sim,
		clients: clients,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		wins:    make(map[string]int),
	}

	s.slots, err = s.freeSlots(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load free slots")
	}
	if len(s.slots) == 0 {
		log.Fatal().Str("date", sim.Date).Msg("no free slot left on that date")
	}
	log.Info().Int("clients", len(clients)).Strs("slots", s.slots).Msg("data loaded")

	s.Run()

	doubles, err := countDoubleBookings(context.Background(), pool, sim.Date)
	if err != nil {
		log.Error().Err(err).Msg("double booking check failed")
	}
	s.PrintReport(doubles)
	if doubles > 0 || s.maxWins() > 1 {
		os.Exit(1)
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if !schedule.IsOpenSlot(cfg.Date, "10:00") {
		return fmt.Errorf("SIM_DATE %q is not an open day", cfg.Date)
	}
	return nil
}

func loadClients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'CLIENT' LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no clients found, run cmd/seed first")
	}
	return ids, nil
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool, date string) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_time
			FROM appointments
			WHERE slot_date = $1::date AND status <> 'CANCELLED'
			GROUP BY slot_time
			HAVING count(*) > 1
		) d
	`, date).Scan(&n)
	return n, err
}

func (s *Simulator) freeSlots(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/api/slots?date="+s.config.Date, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GET /api/slots: %d %s", resp.StatusCode, body)
	}

	var out api.SlotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	var free []string
	for _, v := range out.Slots {
		if v.State == availability.Available && !v.Past {
			free = append(free, v.Time)
		}
	}
	return free, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < s.config.ReadRatio {
				s.doReadSlots(ctx)
			} else {
				s.doBooking(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.slots[rng.Intn(len(s.slots))]
	clientID := s.clients[rng.Intn(len(s.clients))]
	reasons := booking.Reasons[:len(booking.Reasons)-1]

	body, _ := json.Marshal(api.BookAppointmentRequest{
		Date:   s.config.Date,
		Time:   slot,
		Reason: reasons[rng.Intn(len(reasons))],
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.UserIDHeader, clientID.String())

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		// The deadline ending the run is not a server failure.
		if ctx.Err() == nil {
			s.booking.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		s.mu.Lock()
		s.wins[slot]++
		s.mu.Unlock()
		s.booking.Record(latency, true, false)
	case http.StatusConflict:
		s.booking.Record(latency, false, true)
	default:
		atomic.AddInt64(&s.stray, 1)
		s.booking.Record(latency, false, false)
	}
}

func (s *Simulator) doReadSlots(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/api/slots?date="+s.config.Date, nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		success = resp.StatusCode == http.StatusOK
	} else if ctx.Err() != nil {
		return
	}

	s.reads.Record(latency, success, false)
}

func (s *Simulator) maxWins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := 0
	for _, n := range s.wins {
		if n > m {
			m = n
		}
	}
	return m
}

func (s *Simulator) PrintReport(doubles int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Date: %s (%d free slots at start)\n", s.config.Date, len(s.slots))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.booking)
	printOperationReport("Read slots", &s.reads)

	s.mu.Lock()
	times := make([]string, 0, len(s.wins))
	for t := range s.wins {
		times = append(times, t)
	}
	sort.Strings(times)
	fmt.Println("Successful bookings per slot:")
	for _, t := range times {
		fmt.Printf("  %s: %d\n", t, s.wins[t])
	}
	s.mu.Unlock()

	if n := atomic.LoadInt64(&s.stray); n > 0 {
		fmt.Printf("Unexpected booking responses: %d\n", n)
	}
	fmt.Printf("Double-booked slots in database: %d\n", doubles)
	if doubles == 0 && s.maxWins() <= 1 {
		fmt.Println("OK: no slot was booked twice")
	} else {
		fmt.Println("FAIL: a slot was booked more than once")
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// nextOpenDay is the first open day after now.
func nextOpenDay(now time.Time) string {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 7; i++ {
		next := d.AddDate(0, 0, i)
		if schedule.IsOpenDay(next) {
			return next.Format(schedule.DateLayout)
		}
	}
	return d.Format(schedule.DateLayout)
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

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
