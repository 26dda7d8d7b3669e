package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-booking-engine/internal/api"
	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

// The simulator races many patients for the same slots through the HTTP API
// and checks that every slot was booked at most once.

type SimConfig struct {
	APIBaseURL  string
	DoctorID    string
	HospitalID  string
	Date        string
	Contenders  int
	SlotLimit   int
	JWTSecret   string
	HTTPTimeout time.Duration
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

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

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
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	auth    *api.JWTAuthenticator
	metrics OperationMetrics

	mu      sync.Mutex
	winners map[string]int // slot start -> successful bookings
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	sim := &Simulator{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		winners: make(map[string]int),
	}
	if cfg.JWTSecret != "" {
		sim.auth = api.NewJWTAuthenticator(cfg.JWTSecret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	slots, err := sim.fetchSlots(ctx)
	if err != nil {
		log.Fatalf("fetch availability: %v", err)
	}
	if len(slots) > cfg.SlotLimit {
		slots = slots[:cfg.SlotLimit]
	}
	log.Printf("racing %d contenders for each of %d slots", cfg.Contenders, len(slots))

	for _, slot := range slots {
		if err := sim.race(ctx, slot); err != nil {
			log.Fatalf("race %s: %v", slot.Start, err)
		}
	}

	if ok := sim.PrintReport(slots); !ok {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		DoctorID:    os.Getenv("SIM_DOCTOR_ID"),
		HospitalID:  os.Getenv("SIM_HOSPITAL_ID"),
		Date:        getEnv("SIM_DATE", time.Now().AddDate(0, 0, 1).Format(appointment.DateLayout)),
		Contenders:  getInt("SIM_CONTENDERS", 20),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 5),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		HTTPTimeout: getDuration("SIM_HTTP_TIMEOUT", 10*time.Second),
	}
}

func validateConfig(cfg SimConfig) error {
	if _, err := uuid.Parse(cfg.DoctorID); err != nil {
		return fmt.Errorf("SIM_DOCTOR_ID must be a UUID")
	}
	if _, err := uuid.Parse(cfg.HospitalID); err != nil {
		return fmt.Errorf("SIM_HOSPITAL_ID must be a UUID")
	}
	if cfg.Contenders <= 0 {
		return fmt.Errorf("SIM_CONTENDERS must be > 0")
	}
	return nil
}

func (s *Simulator) fetchSlots(ctx context.Context) ([]appointment.Slot, error) {
	url := fmt.Sprintf("%s/doctors/%s/hospitals/%s/availability?date=%s",
		s.config.APIBaseURL, s.config.DoctorID, s.config.HospitalID, s.config.Date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability returned %d", resp.StatusCode)
	}

	var av api.AvailabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&av); err != nil {
		return nil, err
	}
	return av.AvailableSlots, nil
}

func (s *Simulator) race(ctx context.Context, slot appointment.Slot) error {
	g, gctx := errgroup.WithContext(ctx)
	start := make(chan struct{})

	for i := 0; i < s.config.Contenders; i++ {
		g.Go(func() error {
			<-start
			return s.book(gctx, slot, uuid.New())
		})
	}

	close(start)
	return g.Wait()
}

func (s *Simulator) book(ctx context.Context, slot appointment.Slot, patientID uuid.UUID) error {
	body, _ := json.Marshal(api.CreateAppointmentRequest{
		DoctorID:   s.config.DoctorID,
		HospitalID: s.config.HospitalID,
		Date:       s.config.Date,
		Start:      slot.Start.String(),
		End:        slot.End.String(),
		Reason:     "simulated booking",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := s.authorize(req, patientID); err != nil {
		return err
	}

	begin := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(begin)
	if err != nil {
		s.metrics.Record(latency, false, false)
		return nil
	}
	defer resp.Body.Close()

	success := resp.StatusCode == http.StatusCreated
	s.metrics.Record(latency, success, resp.StatusCode == http.StatusConflict)

	if success {
		s.mu.Lock()
		s.winners[slot.Start.String()]++
		s.mu.Unlock()
	}
	return nil
}

func (s *Simulator) authorize(req *http.Request, patientID uuid.UUID) error {
	if s.auth == nil {
		req.Header.Set("X-User-ID", patientID.String())
		req.Header.Set("X-User-Role", string(appointment.RolePatient))
		return nil
	}

	token, err := s.auth.SignToken(patientID, appointment.RolePatient, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// PrintReport prints booking outcomes and reports whether every slot was
// booked at most once.
func (s *Simulator) PrintReport(slots []appointment.Slot) bool {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Println()

	ok := true
	for _, slot := range slots {
		n := s.winners[slot.Start.String()]
		verdict := "ok"
		if n > 1 {
			verdict = "DOUBLE BOOKED"
			ok = false
		}
		fmt.Printf("  %s-%s winners=%d %s\n", slot.Start, slot.End, n, verdict)
	}
	fmt.Println()

	total := atomic.LoadInt64(&s.metrics.Total)
	if total == 0 {
		return ok
	}
	avg, min, max, p50, p95 := s.metrics.Stats()
	fmt.Printf("Bookings: total=%d created=%d slot_unavailable=%d errors=%d\n",
		total, atomic.LoadInt64(&s.metrics.Success), atomic.LoadInt64(&s.metrics.Conflict), atomic.LoadInt64(&s.metrics.Error))
	fmt.Printf("Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))

	return ok
}

// Helper functions

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
