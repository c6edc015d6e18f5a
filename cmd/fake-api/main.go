// fake-api stands in for the remote CRM/booking API during local development
// and integration tests. It verifies request signatures and bearer tokens,
// keeps accepted records in memory, and can simulate flaky (FAIL_FIRST_N)
// and rejecting (REJECT_PATHS) behavior.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calebrowe/shop_sync/internal/auth"
	"github.com/calebrowe/shop_sync/internal/config"
	"github.com/calebrowe/shop_sync/internal/records"
	"github.com/calebrowe/shop_sync/internal/transport"
)

type server struct {
	cfg       config.FakeAPI
	validator *auth.Validator

	mu       sync.Mutex
	reqCount int
	byColl   map[string][]records.Record
}

func main() {
	cfg := config.FromEnv()

	srv := &server{
		cfg:    cfg.FakeAPI,
		byColl: make(map[string][]records.Record),
	}
	if cfg.FakeAPI.TokenSecret != "" {
		srv.validator = auth.NewValidator(cfg.FakeAPI.TokenSecret, cfg.Remote.TokenIssuer, cfg.Remote.TokenAudience)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("GET /records/{collection}", srv.handleList)
	mux.HandleFunc("POST /seed/{collection}", srv.handleSeed)
	mux.HandleFunc("/", srv.handleMutation)

	httpSrv := &http.Server{
		Addr:         cfg.FakeAPI.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeAPI.ReadTimeout,
		WriteTimeout: cfg.FakeAPI.WriteTimeout,
		IdleTimeout:  cfg.FakeAPI.IdleTimeout,
	}
	log.Printf("fake-api listening on %s", cfg.FakeAPI.Port)
	log.Fatal(httpSrv.ListenAndServe())
}

// handleMutation is the sink for every queued mutation the agent delivers.
func (s *server) handleMutation(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		http.NotFound(w, r)
		return
	}

	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if s.cfg.SigningSecret != "" {
		leeway := time.Duration(s.cfg.SigningLeewaySeconds) * time.Second
		if ok, msg := verifySignature(s.cfg.SigningSecret, b, r.Header.Get(transport.TSHeader), r.Header.Get(transport.SigHeader), leeway); !ok {
			log.Printf("fake-api rejected signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}
	if s.validator != nil {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := s.validator.ValidateToken(token); err != nil {
			log.Printf("fake-api rejected token: %v", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	// Permanent-rejection simulation
	for _, p := range strings.Split(s.cfg.RejectPaths, ",") {
		if p = strings.TrimSpace(p); p != "" && strings.Contains(r.URL.Path, p) {
			log.Printf("REJECTING %s body=%s", r.URL.Path, truncate(string(b), 160))
			http.Error(w, "validation failed", http.StatusUnprocessableEntity)
			return
		}
	}

	s.mu.Lock()
	s.reqCount++
	count := s.reqCount
	s.mu.Unlock()

	// Simulate flakiness: first N requests -> 500
	if count <= s.cfg.FailFirstN {
		log.Printf("FAILING (%d/%d) %s body=%s", count, s.cfg.FailFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	// Record-upsert mutations become visible through GET /records/{collection}
	if strings.HasPrefix(r.URL.Path, "/records/") {
		s.adoptUpsert(b)
	}

	log.Printf("fake-api OK %s %s body=%q", r.Method, r.URL.Path, truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	recs := s.byColl[r.PathValue("collection")]
	s.mu.Unlock()

	if recs == nil {
		recs = []records.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recs)
}

// handleSeed lets tests plant server-truth records directly.
func (s *server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var recs []records.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		http.Error(w, "bad seed payload", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.byColl[r.PathValue("collection")] = recs
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// adoptUpsert stores an accepted record-upsert mutation as server truth.
func (s *server) adoptUpsert(body []byte) {
	var upsert struct {
		Collection   string          `json:"collection"`
		RecordID     string          `json:"record_id"`
		LastModified time.Time       `json:"last_modified"`
		Data         json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &upsert); err != nil || upsert.RecordID == "" {
		return
	}

	rec := records.Record{
		ID:           upsert.RecordID,
		Origin:       records.OriginRemote,
		LastModified: upsert.LastModified,
		Data:         upsert.Data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.byColl[upsert.Collection]
	for i := range existing {
		if existing[i].ID == rec.ID {
			existing[i] = rec
			return
		}
	}
	s.byColl[upsert.Collection] = append(existing, rec)
}

func verifySignature(secret string, body []byte, ts, sigHeaderVal string, leeway time.Duration) (bool, string) {
	if ts == "" || sigHeaderVal == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	// reject if timestamp is too old/new
	now := time.Now().Unix()
	if abs64(now-unix) > int64(leeway.Seconds()) {
		return false, "timestamp too far from now (outside leeway)"
	}
	got := strings.TrimPrefix(sigHeaderVal, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(ts))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(got), []byte(want)) {
		return false, "sig mismatch"
	}
	return true, ""
}

// abs64 returns the absolute value of an int64
func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
