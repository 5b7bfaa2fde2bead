package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"douyindl/internal/consts"
	"douyindl/pkg/logger"
)

func TestCleanCookie(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trim", in: "  a=1; b=2  ", want: "a=1; b=2"},
		{name: "line breaks", in: "a=1;\r\n b=2", want: "a=1; b=2"},
		{name: "tabs", in: "a=1;\tb=2", want: "a=1; b=2"},
		{name: "empty", in: " \n ", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, CleanCookie(tc.in))
		})
	}
}

func TestValidateCookie(t *testing.T) {
	t.Parallel()

	require.True(t, ValidateCookie("sessionid=abcdef0123; ttwid=1"))
	require.True(t, ValidateCookie("foo=bar; SID_TT=xyz"))
	require.False(t, ValidateCookie("sid_tt=1"))
	require.False(t, ValidateCookie("foo=bar; baz=qux"))
}

func TestSessionHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New(logger.Discard(), Options{Cookie: " sessionid=1234567890\n"})
	require.True(t, s.HasCookie())

	resp, err := s.Get(t.Context(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	got := <-headers
	require.Equal(t, consts.UserAgent, got.Get("User-Agent"))
	require.Equal(t, consts.AcceptJSON, got.Get("Accept"))
	require.Equal(t, consts.PlatformReferer, got.Get("Referer"))
	require.Equal(t, "sessionid=1234567890", got.Get("Cookie"))
}

func TestNewRequestOverride(t *testing.T) {
	t.Parallel()

	s := New(logger.Discard(), Options{})
	require.False(t, s.HasCookie())

	req, err := s.NewRequest(t.Context(), http.MethodPost, "https://mirror.invalid/api", strings.NewReader("url=x"))
	require.NoError(t, err)

	req.Header.Set("Referer", consts.MirrorReferer)

	other, err := s.NewRequest(t.Context(), http.MethodGet, "https://www.douyin.com/", nil)
	require.NoError(t, err)

	require.Equal(t, consts.MirrorReferer, req.Header.Get("Referer"))
	require.Equal(t, consts.PlatformReferer, other.Header.Get("Referer"), "defaults must not be shared")
	require.Empty(t, other.Header.Get("Cookie"))
}

func TestRedirectClient(t *testing.T) {
	t.Parallel()

	final := make(chan http.Header, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/s/abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/video/42?share=1", http.StatusFound)
	})
	mux.HandleFunc("/video/42", func(w http.ResponseWriter, r *http.Request) {
		final <- r.Header.Clone()
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := NewRedirectClient(time.Second).Get(srv.URL + "/s/abc")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, srv.URL+"/video/42?share=1", resp.Request.URL.String())
	got := <-final
	require.Empty(t, got.Get("Cookie"))
	require.Equal(t, consts.AcceptHTML, got.Get("Accept"))
}

func TestLoadNetscapeFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	content := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		"",
		".douyin.com\tTRUE\t/\tTRUE\t1999999999\tsessionid\tabc123",
		"#HttpOnly_.douyin.com\tTRUE\t/\tTRUE\t1999999999\tsid_tt\tdef456",
		"broken line",
	}, "\n")
	require.NoError(t, afero.WriteFile(fs, "/cookies.txt", []byte(content), 0o600))

	cookie, err := LoadNetscapeFile(fs, "/cookies.txt")
	require.NoError(t, err)
	require.Equal(t, "sessionid=abc123; sid_tt=def456", cookie)

	_, err = LoadNetscapeFile(fs, "/missing.txt")
	require.Error(t, err)
}
