package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"pablodns/pkg/api"
	"pablodns/pkg/config"
	"pablodns/pkg/dns"
	"pablodns/pkg/forwarder"
	"pablodns/pkg/logging"
	"pablodns/pkg/rules"
	"pablodns/pkg/stats"
	"pablodns/pkg/storage"
	"pablodns/pkg/telemetry"

	mdns "github.com/miekg/dns"
)

// freeUDPAddr grabs an ephemeral loopback port for a test server.
func freeUDPAddr(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	addr := pc.LocalAddr().String()
	pc.Close()
	return addr
}

// startUpstream runs a mock upstream resolver answering A queries from the
// given map and NXDOMAIN for everything else.
func startUpstream(t *testing.T, answers map[string]string) (string, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start mock upstream: %v", err)
	}

	srv := &mdns.Server{
		PacketConn: pc,
		Handler: mdns.HandlerFunc(func(w mdns.ResponseWriter, r *mdns.Msg) {
			m := new(mdns.Msg)
			m.SetReply(r)
			if len(r.Question) == 1 {
				if ip, ok := answers[r.Question[0].Name]; ok && r.Question[0].Qtype == mdns.TypeA {
					rr, _ := mdns.NewRR(fmt.Sprintf("%s 300 IN A %s", r.Question[0].Name, ip))
					m.Answer = append(m.Answer, rr)
				} else {
					m.Rcode = mdns.RcodeNameError
				}
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()

	return pc.LocalAddr().String(), func() { _ = srv.Shutdown() }
}

// exchange retries a query while the server under test finishes binding.
func exchange(t *testing.T, client *mdns.Client, msg *mdns.Msg, addr string) *mdns.Msg {
	t.Helper()
	var lastErr error
	for i := 0; i < 20; i++ {
		resp, _, err := client.Exchange(msg.Copy(), addr)
		if err == nil {
			return resp
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Query to %s failed: %v", addr, lastErr)
	return nil
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

// TestIntegration_RuleActions exercises refuse, redirect, and pass-through
// over a real UDP socket with a mock upstream.
func TestIntegration_RuleActions(t *testing.T) {
	upstreamAddr, stopUpstream := startUpstream(t, map[string]string{
		"allowed.example.com.": "93.184.216.34",
	})
	defer stopUpstream()

	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddress: freeUDPAddr(t),
			UDPEnabled:    true,
			AnswerTTL:     60 * time.Second,
		},
		UpstreamDNSServers: []string{upstreamAddr},
	}

	logger := testLogger(t)
	ctx := context.Background()
	telem, _ := telemetry.New(ctx, &config.TelemetryConfig{Enabled: false}, logger)
	defer telem.Shutdown(ctx)
	metrics, _ := telem.InitMetrics()

	store := rules.NewStore("Estamos en mantenimiento")
	if err := store.AddRule("blocked.example.com", rules.Refuse(), rules.Window{}, true); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	target, _ := rules.ParseTarget("10.0.0.1")
	if err := store.AddRule("*.ads.example.com", target, rules.Window{}, true); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	handler := dns.NewHandler(store)
	handler.SetForwarder(forwarder.New(cfg, logger))
	handler.SetLogger(logger)

	server := dns.NewServer(cfg, handler, logger, metrics)
	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	go func() { _ = server.Start(serverCtx) }()
	defer server.Shutdown(context.Background())

	client := &mdns.Client{Timeout: 2 * time.Second}

	// Exact match is refused.
	msg := new(mdns.Msg)
	msg.SetQuestion("blocked.example.com.", mdns.TypeA)
	resp := exchange(t, client, msg, cfg.Server.ListenAddress)
	if resp.Rcode != mdns.RcodeRefused {
		t.Errorf("Expected REFUSED, got %s", mdns.RcodeToString[resp.Rcode])
	}

	// Wildcard match is redirected.
	msg = new(mdns.Msg)
	msg.SetQuestion("tracker.ads.example.com.", mdns.TypeA)
	resp = exchange(t, client, msg, cfg.Server.ListenAddress)
	if resp.Rcode != mdns.RcodeSuccess || len(resp.Answer) != 1 {
		t.Fatalf("Expected 1 answer, got rcode=%s answers=%d",
			mdns.RcodeToString[resp.Rcode], len(resp.Answer))
	}
	aRecord, ok := resp.Answer[0].(*mdns.A)
	if !ok {
		t.Fatalf("Expected A record, got %T", resp.Answer[0])
	}
	if aRecord.A.String() != "10.0.0.1" {
		t.Errorf("Expected redirect to 10.0.0.1, got %s", aRecord.A)
	}

	// The wildcard does not match its own base name, so it forwards upstream.
	msg = new(mdns.Msg)
	msg.SetQuestion("allowed.example.com.", mdns.TypeA)
	resp = exchange(t, client, msg, cfg.Server.ListenAddress)
	if resp.Rcode != mdns.RcodeSuccess || len(resp.Answer) != 1 {
		t.Fatalf("Expected forwarded answer, got rcode=%s answers=%d",
			mdns.RcodeToString[resp.Rcode], len(resp.Answer))
	}
}

// TestIntegration_MaintenanceOverride verifies maintenance mode answers every
// query with the notice TXT record, rules notwithstanding.
func TestIntegration_MaintenanceOverride(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddress: freeUDPAddr(t),
			UDPEnabled:    true,
			AnswerTTL:     60 * time.Second,
		},
	}

	logger := testLogger(t)
	ctx := context.Background()
	telem, _ := telemetry.New(ctx, &config.TelemetryConfig{Enabled: false}, logger)
	defer telem.Shutdown(ctx)
	metrics, _ := telem.InitMetrics()

	const notice = "PabloDNS: Estamos en mantenimiento"
	store := rules.NewStore(notice)
	if err := store.AddRule("blocked.example.com", rules.Refuse(), rules.Window{}, true); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	store.SetMaintenance(true)

	handler := dns.NewHandler(store)
	handler.SetLogger(logger)

	server := dns.NewServer(cfg, handler, logger, metrics)
	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	go func() { _ = server.Start(serverCtx) }()
	defer server.Shutdown(context.Background())

	client := &mdns.Client{Timeout: 2 * time.Second}

	msg := new(mdns.Msg)
	msg.SetQuestion("blocked.example.com.", mdns.TypeA)
	resp := exchange(t, client, msg, cfg.Server.ListenAddress)
	if resp.Rcode != mdns.RcodeSuccess || len(resp.Answer) != 1 {
		t.Fatalf("Expected TXT answer, got rcode=%s answers=%d",
			mdns.RcodeToString[resp.Rcode], len(resp.Answer))
	}
	txt, ok := resp.Answer[0].(*mdns.TXT)
	if !ok {
		t.Fatalf("Expected TXT record, got %T", resp.Answer[0])
	}
	if len(txt.Txt) != 1 || txt.Txt[0] != notice {
		t.Errorf("Expected notice %q, got %v", notice, txt.Txt)
	}

	// Leaving maintenance restores normal rule evaluation.
	store.SetMaintenance(false)
	resp = exchange(t, client, msg, cfg.Server.ListenAddress)
	if resp.Rcode != mdns.RcodeRefused {
		t.Errorf("Expected REFUSED after maintenance, got %s", mdns.RcodeToString[resp.Rcode])
	}
}

// TestIntegration_QueryLogging wires SQLite storage behind the async query
// logger and checks decisions land in the database.
func TestIntegration_QueryLogging(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddress: freeUDPAddr(t),
			UDPEnabled:    true,
			AnswerTTL:     60 * time.Second,
		},
	}

	logger := testLogger(t)
	ctx := context.Background()
	telem, _ := telemetry.New(ctx, &config.TelemetryConfig{Enabled: false}, logger)
	defer telem.Shutdown(ctx)
	metrics, _ := telem.InitMetrics()

	storCfg := storage.DefaultConfig()
	storCfg.Path = filepath.Join(t.TempDir(), "queries.db")
	storCfg.FlushInterval = 100 * time.Millisecond
	stor, err := storage.NewSQLiteStorage(&storCfg, nil)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer stor.Close()

	store := rules.NewStore("maintenance")
	if err := store.AddRule("blocked.example.com", rules.Refuse(), rules.Window{}, true); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	queryLogger := dns.NewQueryLogger(stor, logger, 100, 1)
	defer queryLogger.Close()

	handler := dns.NewHandler(store)
	handler.SetLogger(logger)
	handler.SetQueryLogger(queryLogger)
	handler.SetStats(stats.NewRecorder())

	server := dns.NewServer(cfg, handler, logger, metrics)
	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	go func() { _ = server.Start(serverCtx) }()
	defer server.Shutdown(context.Background())

	client := &mdns.Client{Timeout: 2 * time.Second}
	msg := new(mdns.Msg)
	msg.SetQuestion("blocked.example.com.", mdns.TypeA)
	exchange(t, client, msg, cfg.Server.ListenAddress)
	exchange(t, client, msg, cfg.Server.ListenAddress)

	deadline := time.Now().Add(5 * time.Second)
	var queries []*storage.QueryLog
	for time.Now().Before(deadline) {
		queries, err = stor.GetRecentQueries(ctx, 10, 0)
		if err != nil {
			t.Fatalf("GetRecentQueries: %v", err)
		}
		if len(queries) >= 2 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if len(queries) < 2 {
		t.Fatalf("Expected at least 2 logged queries, got %d", len(queries))
	}
	if queries[0].Domain != "blocked.example.com" || queries[0].Action != storage.ActionRefused {
		t.Errorf("Unexpected log entry: domain=%s action=%s", queries[0].Domain, queries[0].Action)
	}

	dbStats, err := stor.GetStatistics(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if dbStats.RefusedQueries < 2 {
		t.Errorf("Expected at least 2 refused queries, got %d", dbStats.RefusedQueries)
	}
}

// TestIntegration_APIManagesRules adds a rule over HTTP and verifies the DNS
// path picks it up immediately.
func TestIntegration_APIManagesRules(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddress: freeUDPAddr(t),
			UDPEnabled:    true,
			AnswerTTL:     60 * time.Second,
		},
	}

	logger := testLogger(t)
	ctx := context.Background()
	telem, _ := telemetry.New(ctx, &config.TelemetryConfig{Enabled: false}, logger)
	defer telem.Shutdown(ctx)
	metrics, _ := telem.InitMetrics()

	store := rules.NewStore("maintenance")
	recorder := stats.NewRecorder()

	handler := dns.NewHandler(store)
	handler.SetLogger(logger)
	handler.SetStats(recorder)

	dnsServer := dns.NewServer(cfg, handler, logger, metrics)
	dnsCtx, dnsCancel := context.WithCancel(ctx)
	defer dnsCancel()
	go func() { _ = dnsServer.Start(dnsCtx) }()
	defer dnsServer.Shutdown(context.Background())

	apiAddr := freeUDPAddr(t)
	apiServer := api.New(&api.Config{
		ListenAddress: apiAddr,
		Store:         store,
		Stats:         recorder,
		Logger:        logger.Logger,
		Version:       "test",
	})
	apiCtx, apiCancel := context.WithCancel(ctx)
	defer apiCancel()
	go func() { _ = apiServer.Start(apiCtx) }()
	defer apiServer.Shutdown(context.Background())

	baseURL := "http://" + apiAddr

	// The HTTP listener binds asynchronously.
	var resp *http.Response
	var err error
	body, _ := json.Marshal(api.RuleRequest{Pattern: "blocked.example.com", Target: "REFUSED"})
	for i := 0; i < 20; i++ {
		resp, err = http.Post(baseURL+"/api/rules", "application/json", bytes.NewReader(body))
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Failed to add rule via API: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	client := &mdns.Client{Timeout: 2 * time.Second}
	msg := new(mdns.Msg)
	msg.SetQuestion("blocked.example.com.", mdns.TypeA)
	dnsResp := exchange(t, client, msg, cfg.Server.ListenAddress)
	if dnsResp.Rcode != mdns.RcodeRefused {
		t.Errorf("Expected REFUSED, got %s", mdns.RcodeToString[dnsResp.Rcode])
	}

	getResp, err := http.Get(baseURL + "/api/rules")
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	defer getResp.Body.Close()

	var list api.RulesResponse
	if err := json.NewDecoder(getResp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode rules list: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("Expected 1 rule, got %d", list.Total)
	}
	if list.Total == 1 && list.Rules[0].Pattern != "blocked.example.com." {
		t.Errorf("Unexpected rule pattern %q", list.Rules[0].Pattern)
	}
}
