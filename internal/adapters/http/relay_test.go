package http

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/tribecall/internal/adapters/wsclient"
	"github.com/dkeye/tribecall/internal/app/hub"
	"github.com/dkeye/tribecall/internal/config"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (b *inbox) add(_ domain.Identity, m protocol.Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *inbox) wait(t *testing.T, typ protocol.Type) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		for _, m := range b.msgs {
			if m.Type == typ {
				b.mu.Unlock()
				return m
			}
		}
		b.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s message received", typ)
	return protocol.Message{}
}

func testConfig() *config.Config {
	return &config.Config{
		Mode: "test",
		Relay: config.RelayConfig{
			Secret:       "secret",
			ReadLimit:    1 << 16,
			PingPeriod:   time.Second,
			SendBuffer:   8,
			RateLimit:    100,
			RateInterval: time.Second,
		},
	}
}

func dialClient(t *testing.T, ctx context.Context, url string, id domain.Identity, h *hub.Hub) (*wsclient.Client, *inbox) {
	t.Helper()
	c, err := wsclient.New(wsclient.Options{RelayURL: url, Identity: id})
	if err != nil {
		t.Fatal(err)
	}
	box := &inbox{}
	c.OnMessage(box.add)
	if _, err := c.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	t.Cleanup(c.Close)

	deadline := time.Now().Add(3 * time.Second)
	for !h.Online(id) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never bound on the relay", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c, box
}

func TestRelayRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.New()
	srv := httptest.NewServer(SetupRelayRouter(ctx, testConfig(), h, prometheus.NewRegistry()))
	defer srv.Close()

	alice, aliceBox := dialClient(t, ctx, srv.URL, "alice", h)
	_, bobBox := dialClient(t, ctx, srv.URL, "bob", h)
	if !alice.Connected() {
		t.Fatal("alice not reported as connected")
	}

	if err := alice.Send("bob", protocol.Offer("call-1", "v=0", domain.MediaAudio)); err != nil {
		t.Fatal(err)
	}
	got := bobBox.wait(t, protocol.TypeOffer)
	if got.From != "alice" || got.CallID != "call-1" || got.SDP != "v=0" {
		t.Fatalf("unexpected offer %+v", got)
	}

	if err := alice.Send("carol", protocol.End("call-2", protocol.ReasonHangup)); err != nil {
		t.Fatal(err)
	}
	e := aliceBox.wait(t, protocol.TypeError)
	if e.Code != protocol.CodeOffline || e.CallID != "call-2" {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestRelayRejectsAnonymousSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := hub.New()
	srv := httptest.NewServer(SetupRelayRouter(context.Background(), testConfig(), h, prometheus.NewRegistry()))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/ws/signal")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestIdentityCookieOverPlainHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := hub.New()
	srv := httptest.NewServer(SetupRelayRouter(context.Background(), testConfig(), h, prometheus.NewRegistry()))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar}
	resp, err := client.Post(srv.URL+"/api/identity", "application/json", strings.NewReader(`{"identity":"alice"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "TribecallSessions" && c.Secure {
			t.Fatal("session cookie must not be Secure by default")
		}
	}

	resp, err = client.Get(srv.URL + "/api/identity")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("identity lookup status = %d, want 200", resp.StatusCode)
	}
}
