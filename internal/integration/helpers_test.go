//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"douyindl/internal/config"
	httprouter "douyindl/internal/infrastructure/delivery/http"
	"douyindl/internal/orchestrator"
	"douyindl/internal/pipeline"
	"douyindl/internal/settings"
	"douyindl/internal/storage"
	"douyindl/pkg/logger"
)

const (
	secUID   = "MS4wLjABAAAAintegration"
	videoID  = "7302000000000000001"
	settingsDoc = `cookie: "sessionid=integration"
download_folder: /videos
settings:
  max_concurrent: 2
  video_format: highest
`
)

var payload = bytes.Repeat([]byte("douyin"), 512)

// fakePlatform answers the detail and posts endpoints and serves the CDN.
type fakePlatform struct {
	srv      *httptest.Server
	cdnDelay atomic.Int64

	mu      sync.Mutex
	cookies []string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()

	p := &fakePlatform{}

	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/aweme/detail/", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.cookies = append(p.cookies, r.Header.Get("Cookie"))
		p.mu.Unlock()

		fmt.Fprintf(w, `{"aweme_detail":{"aweme_id":%q,"desc":"river","author":{"nickname":"carol"},
			"video":{"width":720,"height":1280,"play_addr":{"url_list":[%q],"height":720}}}}`,
			r.URL.Query().Get("aweme_id"), p.srv.URL+"/cdn/"+r.URL.Query().Get("aweme_id")+".mp4")
	})
	mux.HandleFunc("/aweme/v1/web/aweme/post/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sec_user_id") != secUID {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		fmt.Fprintf(w, `{"status_code":0,"has_more":0,"aweme_list":[
			{"aweme_id":"1","video":{"play_addr":{"url_list":[%q]}}},
			{"aweme_id":"2","video":{"play_addr":{"url_list":[%q]}}}]}`,
			p.srv.URL+"/cdn/p1.mp4", p.srv.URL+"/cdn/p2.mp4")
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Duration(p.cdnDelay.Load()))
		_, _ = w.Write(payload)
	})

	p.srv = httptest.NewTLSServer(mux)
	t.Cleanup(p.srv.Close)

	return p
}

type fixture struct {
	fs       afero.Fs
	platform *fakePlatform
	client   *http.Client
	url      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	plat := newFakePlatform(t)
	fs := afero.NewMemMapFs()

	if err := afero.WriteFile(fs, "/settings.yaml", []byte(settingsDoc), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg := &config.Config{
		HTTP: config.HTTP{HandlerTimeout: 5 * time.Second, EnumerateTimeout: 5 * time.Second},
		Run:  config.Run{Workers: 1, NamingMode: "video_id", VideoFormat: "auto", OrientationFilter: "all"},
		Transfer: config.Transfer{
			RequestTimeout: 5 * time.Second,
			StallWindow:    5 * time.Second,
			ChunkSize:      1024,
			StallDetection: true,
		},
		Resolver: config.Resolver{
			Domains:           []string{"douyin.com"},
			ShortHosts:        []string{"v.douyin.com"},
			FirstPartyTimeout: 2 * time.Second,
			PageTimeout:       2 * time.Second,
			PageBase:          plat.srv.URL,
		},
		Profile:  config.Profile{PageSize: 20, Timeout: 2 * time.Second, MaxErrors: 2},
		Settings: config.Settings{Backend: "file", File: "/settings.yaml"},
		Storage:  config.Storage{TTL: time.Hour},
	}

	log := logger.Discard()

	backend, closeBackend, err := settings.NewBackend(cfg.Settings, fs)
	if err != nil {
		t.Fatalf("settings backend: %v", err)
	}

	store := settings.NewCached(log, backend, cfg, fs, nil)
	storer := storage.New(ctx, log, cfg, fs, nil)
	transport := plat.srv.Client().Transport.(*http.Transport) //nolint:forcetypeassert
	factory := pipeline.NewFactory(log, cfg, fs, nil, nil, nil, pipeline.WithTransport(transport))
	orch := orchestrator.New(ctx, log, cfg, factory, storer, nil)

	router := httprouter.New(log, cfg.HTTP, httprouter.Deps{
		Runner:   orch,
		Store:    storer,
		Settings: store,
		Profiles: factory,
	})

	server := httptest.NewServer(router)
	client := server.Client()
	client.Timeout = 5 * time.Second

	t.Cleanup(func() {
		_ = orch.Wait(context.Background())
		cancel()
		server.Close()
		_ = closeBackend()
	})

	return &fixture{fs: fs, platform: plat, client: client, url: server.URL}
}

type apiResponse struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (fx *fixture) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}

		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, fx.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var decoded apiResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal body: %v body=%q", err, raw)
		}
	}

	return resp.StatusCode, decoded
}
