// Package blacklist implements the ingestion pipeline: fetching
// third-party domain lists over HTTP or from S3, parsing the common list
// formats, and reducing them to a deduplicated set of normalized domains.
package blacklist

import (
	"bufio"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"hostguard/internal/policy"
)

// Format selects how list lines are interpreted.
type Format string

const (
	// FormatAuto sniffs each line: whitespace-separated lines are treated
	// as hosts-file entries, bare lines as plain domains.
	FormatAuto Format = "auto"
	// FormatHosts expects "0.0.0.0 domain" style lines.
	FormatHosts Format = "hosts"
	// FormatPlain expects one domain per line.
	FormatPlain Format = "plain"
)

// ParseFormat maps a config string to a Format, defaulting to auto.
func ParseFormat(s string) Format {
	switch Format(s) {
	case FormatHosts:
		return FormatHosts
	case FormatPlain:
		return FormatPlain
	default:
		return FormatAuto
	}
}

// ParseResult summarizes one parse pass.
type ParseResult struct {
	Domains   []string
	Malformed int
	Skipped   int
}

// Parse reads a blocklist and returns its deduplicated, normalized
// domains. Comments and blank lines are skipped; malformed entries are
// counted and logged, never fatal.
func Parse(r io.Reader, format Format) (*ParseResult, error) {
	result := &ParseResult{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") || strings.HasPrefix(line, ";") {
			result.Skipped++
			continue
		}
		// Inline comments.
		if i := strings.Index(line, "#"); i > 0 {
			line = strings.TrimSpace(line[:i])
		}

		raw, ok := extractDomain(line, format)
		if !ok {
			result.Skipped++
			continue
		}
		if raw == "localhost" || raw == "localhost.localdomain" || raw == "broadcasthost" {
			result.Skipped++
			continue
		}

		domain, err := policy.Normalize(raw)
		if err != nil {
			result.Malformed++
			logrus.WithField("entry", raw).Debug("Skipping malformed blocklist entry")
			continue
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true
		result.Domains = append(result.Domains, domain)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func extractDomain(line string, format Format) (string, bool) {
	fields := strings.Fields(line)
	switch format {
	case FormatHosts:
		if len(fields) < 2 {
			return "", false
		}
		return fields[1], true
	case FormatPlain:
		if len(fields) != 1 {
			return "", false
		}
		return fields[0], true
	default:
		if len(fields) >= 2 {
			return fields[1], true
		}
		if len(fields) == 1 {
			return fields[0], true
		}
		return "", false
	}
}

// Merge combines domain lists, dropping duplicates while preserving the
// order of first appearance.
func Merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, list := range lists {
		for _, domain := range list {
			if domain == "" || seen[domain] {
				continue
			}
			seen[domain] = true
			result = append(result, domain)
		}
	}
	return result
}
