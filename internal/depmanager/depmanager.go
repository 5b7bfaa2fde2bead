// Package depmanager provisions the ffprobe binary used for post-download probing.
// The binary comes from PATH or from a verified .tar.xz build archive.
package depmanager

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ulikunitz/xz"

	"douyindl/internal/config"
	"douyindl/internal/errs"
)

// BinaryFFprobe is the only managed binary.
const BinaryFFprobe = "ffprobe"

// Platform operating system names and architectures.
const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading archives.
	downloadTimeout = 10 * time.Minute
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
	// sha256HexLength is the expected length of SHA256 hex string.
	sha256HexLength = 64
	// sha256SumsFieldCount is the expected field count in SHA256SUMS format.
	sha256SumsFieldCount = 2
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager resolves the ffprobe binary path.
type Manager struct {
	log      *slog.Logger
	cfg      config.Probe
	platform Platform
	client   *http.Client
	lookPath func(string) (string, error)

	mu   sync.RWMutex
	path string
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg config.Probe) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client:   &http.Client{Timeout: downloadTimeout},
		lookPath: exec.LookPath,
	}
}

// Start makes ffprobe available when probing with it is enabled.
// A failure leaves BinaryPath empty; callers fall back to the native reader.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.FFprobe {
		return nil
	}

	if m.cfg.UseSystemBinary {
		return m.SetSystemBinary()
	}

	return m.Install(ctx)
}

// BinaryPath returns the resolved ffprobe path, or "" if none is available.
func (m *Manager) BinaryPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.path
}

// SetSystemBinary looks ffprobe up in PATH.
func (m *Manager) SetSystemBinary() error {
	p, err := m.lookPath(BinaryFFprobe)
	if err != nil {
		return fmt.Errorf("%w: %s not in PATH: %w", errs.ErrBinaryNotFound, BinaryFFprobe, err)
	}

	m.setPath(p)

	return nil
}

// InstalledPath is where the downloaded binary lives.
func (m *Manager) InstalledPath() string {
	name := BinaryFFprobe
	if m.platform.OS == platformWindows {
		name += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, name)
}

// Install downloads the build archive, verifies its checksum and extracts ffprobe.
// An existing non-empty binary is reused.
func (m *Manager) Install(ctx context.Context) error {
	log := m.log.With(slog.String("func", "Install"))

	binPath := m.InstalledPath()
	if info, err := os.Stat(binPath); err == nil && info.Size() > 0 {
		m.setPath(binPath)
		log.DebugContext(ctx, "binary already exists", slog.String("path", binPath))

		return nil
	}

	archiveURL := m.archiveURL()
	if archiveURL == "" {
		return fmt.Errorf("%w: %s", errs.ErrUnsupportedPlatform, m.platform)
	}

	if err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	log.InfoContext(ctx, "downloading archive", slog.String("url", archiveURL))

	archive, sum, err := m.download(ctx, archiveURL)
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	if err := m.verify(ctx, archiveURL, sum); err != nil {
		return err
	}

	if err := extractFromTarXZ(archive, binPath); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	m.setPath(binPath)
	log.InfoContext(ctx, "binary installed successfully", slog.String("path", binPath))

	return nil
}

func (m *Manager) setPath(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.path = p
}

func (m *Manager) archiveURL() string {
	switch m.platform.String() {
	case platformLinux + "/" + archARM64:
		return m.cfg.FFmpegLinuxARM64
	case platformLinux + "/" + archAMD64:
		return m.cfg.FFmpegLinuxAMD64
	}

	return ""
}

// download stores the archive in a temp file and returns its path and SHA-256.
func (m *Manager) download(ctx context.Context, url string) (string, string, error) {
	resp, err := m.get(ctx, url)
	if err != nil {
		return "", "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(m.cfg.BinsDir, "download-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()

	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return "", "", fmt.Errorf("write file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", "", fmt.Errorf("close temp file: %w", err)
	}

	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

// verify compares sum against the published checksum of the archive.
// Without a configured checksum URL nothing is verified.
func (m *Manager) verify(ctx context.Context, archiveURL, sum string) error {
	if m.cfg.FFmpegSHA256SumsURL == "" {
		m.log.WarnContext(ctx, "no checksum url configured, skipping verification")

		return nil
	}

	resp, err := m.get(ctx, m.cfg.FFmpegSHA256SumsURL)
	if err != nil {
		return fmt.Errorf("fetch SHA sums: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read SHA sums: %w", err)
	}

	sums := ParseSHASums(string(body))
	filename := path.Base(archiveURL)

	want, ok := sums[filename]
	if !ok {
		return fmt.Errorf("%w: no published checksum for %s", errs.ErrChecksumMismatch, filename)
	}

	if !strings.EqualFold(want, sum) {
		return fmt.Errorf("%w: %s: want %s, got %s", errs.ErrChecksumMismatch, filename, want, sum)
	}

	return nil
}

func (m *Manager) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, &errs.StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	return resp, nil
}

// ParseSHASums parses content in the format "hash  filename".
// Lines that do not match are skipped.
func ParseSHASums(content string) map[string]string {
	sums := make(map[string]string)

	for line := range strings.SplitSeq(content, "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) != sha256SumsFieldCount || len(parts[0]) != sha256HexLength {
			continue
		}

		sums[strings.TrimPrefix(parts[1], "*")] = parts[0]
	}

	return sums
}

func extractFromTarXZ(archivePath, destPath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("create xz reader: %w", err)
	}

	tarReader := tar.NewReader(xzReader)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s not in archive", errs.ErrBinaryNotFound, BinaryFFprobe)
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != BinaryFFprobe {
			continue
		}

		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
		if err != nil {
			return fmt.Errorf("create dest file: %w", err)
		}

		_, err = io.Copy(out, tarReader)
		if cerr := out.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			return fmt.Errorf("extract file: %w", err)
		}

		return nil
	}
}
