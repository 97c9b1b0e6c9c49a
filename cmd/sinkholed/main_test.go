package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-sinkhole/internal/dns/config"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist/bolt"
)

// blocklistServer serves a hosts list at /hosts and fails every other path.
func blocklistServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hosts" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// upstreamServer answers every A question with 198.51.100.1.
func upstreamServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if req.Unpack(buf[:n]) != nil || len(req.Question) == 0 {
				continue
			}
			resp := new(dns.Msg)
			resp.SetReply(req)
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 30},
				A:   net.IPv4(198, 51, 100, 1),
			})
			out, _ := resp.Pack()
			_, _ = pc.WriteTo(out, addr)
		}
	}()
	return pc.LocalAddr().String()
}

func testConfig(t *testing.T, sourceURL, upstreamAddr string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DEFAULT_APP_CONFIG
	cfg.Env = "dev"
	cfg.Log.Level = "error"
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Upstream.Server = upstreamAddr
	cfg.Upstream.Timeout = time.Second
	cfg.Blocklist.Sources = []string{"hosts:" + sourceURL}
	cfg.Blocklist.FetchTimeout = 5 * time.Second
	cfg.Blocklist.DB = filepath.Join(dir, "state", "blocklist.db")
	cfg.Allowlist.Path = filepath.Join(dir, "allowlist.txt")
	cfg.BlockedLog.Path = filepath.Join(dir, "log", "blocked.log")
	cfg.Admin.Listen = ""
	return &cfg
}

func query(t *testing.T, addr, name string, qtype uint16) *dns.Msg {
	t.Helper()
	c := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	resp, _, err := c.Exchange(m, addr)
	require.NoError(t, err)
	return resp
}

func TestApplication_ServeEndToEnd(t *testing.T) {
	src := blocklistServer(t, "0.0.0.0 ads.example.com\n0.0.0.0 tracker.example.net\n")
	cfg := testConfig(t, src.URL+"/hosts", upstreamServer(t))
	require.NoError(t, os.WriteFile(cfg.Allowlist.Path, []byte("tracker.example.net\n"), 0o644))

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.Start(ctx))

	require.Eventually(t, func() bool {
		return app.classifier.Classify("ads.example.com").IsBlocked()
	}, 5*time.Second, 20*time.Millisecond, "startup refresh should publish the blocklist")

	resp := query(t, app.Address(), "ads.example.com.", dns.TypeA)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "0.0.0.0", resp.Answer[0].(*dns.A).A.String())

	resp = query(t, app.Address(), "tracker.example.net.", dns.TypeA)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "198.51.100.1", resp.Answer[0].(*dns.A).A.String(), "allowlisted names are relayed")

	resp = query(t, app.Address(), "www.example.org.", dns.TypeA)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "198.51.100.1", resp.Answer[0].(*dns.A).A.String())

	cancel()
	app.Shutdown()

	logData, err := os.ReadFile(cfg.BlockedLog.Path)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "\tads.example.com\texample.com\t127.0.0.1\n")

	store, err := bolt.New(cfg.Blocklist.DB)
	require.NoError(t, err)
	defer store.Close()
	persisted, _, err := store.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ads.example.com", "tracker.example.net"}, persisted.Sorted())
}

func TestApplication_PersistedBlocklistServedBeforeRefresh(t *testing.T) {
	src := blocklistServer(t, "")
	cfg := testConfig(t, src.URL+"/missing", upstreamServer(t))

	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Blocklist.DB), 0o755))
	store, err := bolt.New(cfg.Blocklist.DB)
	require.NoError(t, err)
	require.NoError(t, store.Save(domain.NewDomainSet("persisted.example.com"), 7, time.Now()))
	require.NoError(t, store.Close())

	app, err := buildApplication(cfg)
	require.NoError(t, err)
	assert.True(t, app.classifier.Classify("persisted.example.com").IsBlocked())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.Start(ctx))

	require.Eventually(t, func() bool {
		_, ok := app.aggregator.LastReport()
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, app.classifier.Classify("persisted.example.com").IsBlocked(),
		"a failed refresh keeps the persisted blocklist")

	resp := query(t, app.Address(), "cdn.persisted.example.com.", dns.TypeAAAA)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "::", resp.Answer[0].(*dns.AAAA).AAAA.String())

	cancel()
	app.Shutdown()
}

func TestApplication_BindError(t *testing.T) {
	busy, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t, "http://127.0.0.1:1/hosts", "127.0.0.1:53")
	cfg.Server.Listen = busy.LocalAddr().String()

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start UDP transport")
}

func TestApplication_UnwritableBlockedLogStillSinkholes(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"path is a directory", func(t *testing.T) string { return t.TempDir() }},
		{"parent is a file", func(t *testing.T) string {
			parent := filepath.Join(t.TempDir(), "not-a-dir")
			require.NoError(t, os.WriteFile(parent, nil, 0o644))
			return filepath.Join(parent, "blocked.log")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := blocklistServer(t, "0.0.0.0 ads.example.com\n")
			cfg := testConfig(t, src.URL+"/hosts", upstreamServer(t))
			cfg.BlockedLog.Path = tt.path(t)

			app, err := buildApplication(cfg)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			require.NoError(t, app.Start(ctx))
			defer func() {
				cancel()
				app.Shutdown()
			}()

			require.Eventually(t, func() bool {
				return app.classifier.Classify("ads.example.com").IsBlocked()
			}, 5*time.Second, 20*time.Millisecond)

			resp := query(t, app.Address(), "ads.example.com.", dns.TypeA)
			require.Len(t, resp.Answer, 1)
			assert.Equal(t, "0.0.0.0", resp.Answer[0].(*dns.A).A.String())
		})
	}
}

func TestBuildApplication_InvalidAllowlist(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/hosts", "127.0.0.1:53")
	cfg.Allowlist.Path = t.TempDir() // a directory cannot be read as a list

	_, err := buildApplication(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load allowlist")
}

func writeConfigFile(t *testing.T, cfg *config.AppConfig) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sinkhole.yaml")
	content := fmt.Sprintf(`env: dev
log:
  level: error
server:
  listen: "127.0.0.1:5353"
upstream:
  server: "127.0.0.1:53"
blocklist:
  sources:
    - %q
  db: %q
allowlist:
  path: %q
blocked_log:
  path: ""
`, cfg.Blocklist.Sources[0], cfg.Blocklist.DB, cfg.Allowlist.Path)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_RefreshThenCheck(t *testing.T) {
	src := blocklistServer(t, "0.0.0.0 ads.example.com\n")
	cfg := testConfig(t, src.URL+"/hosts", "127.0.0.1:53")
	require.NoError(t, os.WriteFile(cfg.Allowlist.Path, []byte("good.ads.example.com\n"), 0o644))
	path := writeConfigFile(t, cfg)

	out, err := execute(t, "--config", path, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "hosts:"+src.URL+"/hosts")
	assert.Contains(t, out, "domains: 1")
	assert.Contains(t, out, "published: true")

	out, err = execute(t, "--config", path, "check", "ads.example.com", "x.ads.example.com.", "good.ads.example.com", "example.org")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"ads.example.com", "block", "exact", "ads.example.com"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"x.ads.example.com.", "block", "suffix", "ads.example.com"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"good.ads.example.com", "allow", "allowlist", "good.ads.example.com"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"example.org", "allow", "none", "-"}, strings.Fields(lines[4]))
}

func TestCommands_RefreshAllSourcesFailed(t *testing.T) {
	src := blocklistServer(t, "")
	cfg := testConfig(t, src.URL+"/missing", "127.0.0.1:53")
	path := writeConfigFile(t, cfg)

	out, err := execute(t, "--config", path, "refresh")
	require.Error(t, err)
	assert.Contains(t, out, "410")
	assert.Contains(t, out, "published: false")
}

func TestCommands_Errors(t *testing.T) {
	_, err := execute(t, "check")
	assert.Error(t, err, "check needs at least one name")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "check", "example.com")
	assert.Error(t, err)

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
