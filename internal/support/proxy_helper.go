package support

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"proxypool/internal/domain"
)

var (
	ipRegex = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b|` +
		`\b(?:[A-Fa-f0-9]{1,4}:){7}[A-Fa-f0-9]{1,4}\b`)
	ipPortRegex = regexp.MustCompile(`\b((?:[0-9]{1,3}\.){3}[0-9]{1,3})\s*[:\s]\s*([0-9]{1,5})\b`)
)

// ParseTextToProxies extracts ip:port candidates from free-form text, one per
// line. Lines that do not hold a valid IPv4 address and port are skipped.
func ParseTextToProxies(text, source string) []domain.ProxyRecord {
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")
	proxies := make([]domain.ProxyRecord, 0, len(lines))

	for _, line := range lines {
		match := ipPortRegex.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		record, ok := NewCandidate(match[1], match[2], source)
		if !ok {
			continue
		}
		proxies = append(proxies, record)
	}

	return proxies
}

// NewCandidate normalizes ip and port into an unvalidated record, dropping
// leading zeros in both, and reports whether the result is usable.
func NewCandidate(ip, port, source string) (domain.ProxyRecord, bool) {
	ip = normalizeIPv4(strings.TrimSpace(ip))
	parsedPort, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return domain.ProxyRecord{}, false
	}

	record := domain.ProxyRecord{
		IP:     ip,
		Port:   strconv.Itoa(parsedPort),
		Source: source,
		Status: domain.StatusUnknown,
	}
	if err := record.Validate(); err != nil {
		return domain.ProxyRecord{}, false
	}
	return record, true
}

func normalizeIPv4(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	for i, part := range parts {
		trimmed := strings.TrimLeft(part, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		parts[i] = trimmed
	}
	normalized := strings.Join(parts, ".")
	if parsed := net.ParseIP(normalized); parsed != nil && parsed.To4() != nil {
		return normalized
	}
	return ip
}

// FindIP identifies the first IP address (IPv4 or IPv6) in a given string.
func FindIP(input string) string {
	return ipRegex.FindString(input)
}

func IsValidURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
