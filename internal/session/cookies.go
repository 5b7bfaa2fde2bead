package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

const netscapeFields = 7

// ParseNetscape reads a Netscape cookies.txt and returns a Cookie header value.
// Format: domain flag path secure expiration name value
func ParseNetscape(r io.Reader) (string, error) {
	var pairs []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// "#HttpOnly_" prefixed lines are real cookies
		line = strings.TrimPrefix(line, "#HttpOnly_")

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < netscapeFields {
			continue
		}

		pairs = append(pairs, parts[5]+"="+parts[6])
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan cookies: %w", err)
	}

	return strings.Join(pairs, "; "), nil
}

// LoadNetscapeFile reads a cookies.txt from fs.
func LoadNetscapeFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()

	return ParseNetscape(f)
}
