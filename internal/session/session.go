// Package session holds the HTTP session shared by all workers of a run.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"douyindl/internal/consts"
)

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Session is a read-only request factory carrying the platform headers and cookie.
// It is built once per run and shared across workers; nothing mutates it afterwards.
type Session struct {
	client  Doer
	cookie  string
	headers http.Header
}

// Options configure a Session.
type Options struct {
	// Cookie is cleaned before use.
	Cookie string
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Client overrides the HTTP client entirely. Used in tests.
	Client Doer
}

// New builds a session. An empty cookie is allowed but logged.
func New(log *slog.Logger, opt Options) *Session {
	cookie := CleanCookie(opt.Cookie)

	client := opt.Client
	if client == nil {
		transport := opt.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}

		client = &http.Client{Transport: transport}
	}

	headers := http.Header{}
	headers.Set("User-Agent", consts.UserAgent)
	headers.Set("Accept", consts.AcceptJSON)
	headers.Set("Accept-Language", consts.AcceptLanguage)
	headers.Set("Referer", consts.PlatformReferer)
	headers.Set("Origin", consts.PlatformOrigin)

	if cookie != "" {
		headers.Set("Cookie", cookie)
	}

	log = log.With(slog.String("package", "session"))

	switch {
	case cookie == "":
		log.Warn("session has no cookie")
	case !ValidateCookie(cookie):
		log.Warn("cookie lacks known session keys", slog.Int("cookie_len", len(cookie)))
	default:
		log.Debug("session cookie set", slog.Int("cookie_len", len(cookie)))
	}

	return &Session{client: client, cookie: cookie, headers: headers}
}

// NewRequest builds a request with the session's default headers applied.
// Callers may override individual headers on the returned request.
func (s *Session) NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	for k, v := range s.headers {
		req.Header[k] = append([]string(nil), v...)
	}

	return req, nil
}

// Do sends the request with the session's client.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	return s.client.Do(req) //nolint:wrapcheck
}

// Get is a shorthand for NewRequest + Do.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := s.NewRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	return s.Do(req)
}

// HasCookie reports whether the session carries a cookie.
func (s *Session) HasCookie() bool {
	return s.cookie != ""
}

// NewRedirectClient returns a cookie-less client for resolving short links.
// The stored cookie may carry characters other hosts reject.
func NewRedirectClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: redirectHeaders()},
	}
}

func redirectHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", consts.UserAgent)
	h.Set("Accept", consts.AcceptHTML)
	h.Set("Accept-Language", consts.AcceptLanguage)
	h.Set("Referer", consts.PlatformReferer)

	return h
}

// headerTransport adds headers to every request, including redirect hops.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = append([]string(nil), v...)
		}
	}

	return t.base.RoundTrip(req) //nolint:wrapcheck
}

// CleanCookie trims the cookie and removes line breaks; tabs become spaces.
func CleanCookie(raw string) string {
	c := strings.TrimSpace(raw)
	c = strings.NewReplacer("\n", "", "\r", "", "\t", " ").Replace(c)

	return c
}

var sessionKeys = []string{"sessionid", "sid_guard", "uid_tt", "sid_tt"}

const minCookieLen = 10

// ValidateCookie is a heuristic: a usable cookie carries at least one known session key.
func ValidateCookie(cookie string) bool {
	if len(strings.TrimSpace(cookie)) < minCookieLen {
		return false
	}

	lower := strings.ToLower(cookie)
	for _, k := range sessionKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}

	return false
}
