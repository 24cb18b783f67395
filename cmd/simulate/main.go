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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ihealth/portal-sync/internal/config"
	"github.com/ihealth/portal-sync/internal/db"
)

// simulate drives concurrent portal traffic against a running api-server:
// patients booking and syncing, doctors confirming and cancelling. It reports
// per-operation latency and conflict rates, which is the interesting part when
// several actors race for the same slots.

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	SyncRatio       float64
	PatientLimit    int
	DoctorLimit     int
	JWTSecret       string
	PostgresDSN     string
}

type apptRef struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []apptRef
}

func (dp *DataPool) AddAppointment(ref apptRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (apptRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return apptRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return
}

type Simulator struct {
	cfg     SimConfig
	pool    *DataPool
	client  *http.Client
	log     zerolog.Logger
	tokens  sync.Map // actor id -> signed bearer token
	metrics map[string]*OperationMetrics
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	logger.Info().Msg("simulate starting")

	simCfg := loadSimConfig()
	if err := validateSimConfig(simCfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid simulation config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	// Only reads the actor ids for the data pool, a couple of conns is plenty.
	pgPool, err := db.ConnectPostgres(ctx, simCfg.PostgresDSN, 2)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	pool, err := loadDataPool(context.Background(), pgPool, simCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(pool.Patients)).
		Int("doctors", len(pool.Doctors)).
		Msg("data pool loaded")

	sim := &Simulator{
		cfg:    simCfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
		metrics: map[string]*OperationMetrics{
			"booking":    {},
			"transition": {},
			"sync":       {},
			"read":       {},
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	return SimConfig{
		APIBaseURL:      getEnv("SIM_API_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.4),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.3),
		SyncRatio:       getFloat("SIM_SYNC_RATIO", 0.2),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 100),
		DoctorLimit:     getInt("SIM_DOCTOR_LIMIT", 20),
		JWTSecret:       cfg.JWTSecret,
		PostgresDSN:     cfg.PostgresDSN,
	}
}

func validateSimConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be positive, got %d", cfg.Workers)
	}
	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.SyncRatio
	if total > 1.0 {
		return fmt.Errorf("operation ratios sum to %.2f, must be <= 1.0", total)
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	docRows, err := pool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		var id uuid.UUID
		if err := docRows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Doctors = append(dp.Doctors, id)
	}
	if err := docRows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Patients) == 0 || len(dp.Doctors) == 0 {
		return nil, fmt.Errorf("empty data pool, run the seed command first")
	}

	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	s.log.Info().
		Int("workers", s.cfg.Workers).
		Dur("duration", s.cfg.Duration).
		Msg("simulation running")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		roll := rng.Float64()
		switch {
		case roll < s.cfg.BookingRatio:
			s.doBooking(ctx, rng)
		case roll < s.cfg.BookingRatio+s.cfg.TransitionRatio:
			s.doTransition(ctx, rng)
		case roll < s.cfg.BookingRatio+s.cfg.TransitionRatio+s.cfg.SyncRatio:
			s.doSync(ctx, rng)
		default:
			s.doReadNotifications(ctx, rng)
		}

		time.Sleep(time.Duration(rng.Intn(50)) * time.Millisecond)
	}
}

var gridTimes = []string{
	"08:00", "08:30", "09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00", "17:30",
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	date := time.Now().AddDate(0, 0, 1+rng.Intn(14))
	for wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday; wd = date.Weekday() {
		date = date.AddDate(0, 0, 1)
	}

	body := map[string]string{
		"doctor_id": doctorID.String(),
		"date":      date.Format("2006-01-02"),
		"time":      gridTimes[rng.Intn(len(gridTimes))],
		"reason":    "Consultation de routine",
	}

	status, resp := s.post(ctx, "/appointments", s.token("patient", patientID), body, s.metrics["booking"])
	if status == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(resp, &created); err == nil {
			s.pool.AddAppointment(apptRef{ID: created.ID, DoctorID: doctorID, PatientID: patientID})
		}
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	path := fmt.Sprintf("/appointments/%s/confirm", ref.ID)
	var body any
	if rng.Float64() < 0.3 {
		path = fmt.Sprintf("/appointments/%s/cancel", ref.ID)
		body = map[string]string{"reason": "Agenda complet"}
	}

	s.post(ctx, path, s.token("doctor", ref.DoctorID), body, s.metrics["transition"])
}

func (s *Simulator) doSync(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.post(ctx, "/me/sync", s.token("patient", patientID), nil, s.metrics["sync"])
}

func (s *Simulator) doReadNotifications(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.APIBaseURL+"/me/notifications/unread-count", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.token("patient", patientID))

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics["read"].Record(time.Since(start), 0)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.metrics["read"].Record(time.Since(start), resp.StatusCode)
}

func (s *Simulator) post(ctx context.Context, path, token string, body any, om *OperationMetrics) (int, []byte) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+path, &buf)
	if err != nil {
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		om.Record(time.Since(start), 0)
		return 0, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	om.Record(time.Since(start), resp.StatusCode)
	return resp.StatusCode, data
}

// token signs (and caches) a bearer token for one actor, the same shape the
// portal's identity service issues.
func (s *Simulator) token(role string, actorID uuid.UUID) string {
	if cached, ok := s.tokens.Load(actorID); ok {
		return cached.(string)
	}

	claims := jwt.MapClaims{
		"role": role,
		"sub":  actorID.String(),
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(2 * time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		s.log.Error().Err(err).Msg("sign token")
		return ""
	}

	s.tokens.Store(actorID, signed)
	return signed
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 60))

	for _, name := range []string{"booking", "transition", "sync", "read"} {
		printOperationReport(name, s.metrics[name])
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		fmt.Printf("\n%s: no operations\n", name)
		return
	}

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("\n%s:\n", name)
	fmt.Printf("  total=%d success=%d conflict=%d error=%d\n",
		total,
		atomic.LoadInt64(&om.Success),
		atomic.LoadInt64(&om.Conflict),
		atomic.LoadInt64(&om.Error),
	)
	fmt.Printf("  latency avg=%s min=%s max=%s p50=%s p95=%s\n", avg, min, max, p50, p95)
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
