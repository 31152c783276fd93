package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pablodns/pkg/config"
	"pablodns/pkg/logging"
	"pablodns/pkg/rules"
	"pablodns/pkg/stats"
)

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())
	return addr
}

func TestServerLifecycle(t *testing.T) {
	cfg := config.LoadWithDefaults()
	cfg.Server.ListenAddress = freeUDPAddr(t)
	cfg.Server.TCPEnabled = false

	store := rules.NewStore("notice")
	h := NewHandler(store)
	h.SetStats(stats.NewRecorder())
	h.SetLogger(logging.NewDefault())

	srv := NewServer(cfg, h, logging.NewDefault(), nil)
	assert.False(t, srv.IsRunning())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, srv.IsRunning, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, srv.IsRunning())
}

func TestServerAnswersQueries(t *testing.T) {
	cfg := config.LoadWithDefaults()
	cfg.Server.ListenAddress = freeUDPAddr(t)
	cfg.Server.TCPEnabled = false

	store := rules.NewStore("notice")
	tgt, err := rules.ParseTarget("REFUSED")
	require.NoError(t, err)
	require.NoError(t, store.AddRule("*.blocked.example", tgt, rules.Window{}, true))

	h := NewHandler(store)
	h.SetStats(stats.NewRecorder())
	h.SetLogger(logging.NewDefault())

	srv := NewServer(cfg, h, logging.NewDefault(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Start(ctx) }()
	require.Eventually(t, srv.IsRunning, 2*time.Second, 10*time.Millisecond)

	req := new(dns.Msg)
	req.SetQuestion("www.blocked.example.", dns.TypeA)

	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}

	var resp *dns.Msg
	require.Eventually(t, func() bool {
		resp, _, err = client.Exchange(req, cfg.Server.ListenAddress)
		return err == nil && resp != nil
	}, 5*time.Second, 100*time.Millisecond)

	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func TestNewServerAppliesAnswerTTL(t *testing.T) {
	cfg := config.LoadWithDefaults()
	cfg.Server.AnswerTTL = 120 * time.Second

	h := NewHandler(rules.NewStore("notice"))
	NewServer(cfg, h, logging.NewDefault(), nil)

	assert.Equal(t, uint32(120), h.AnswerTTL)
}
