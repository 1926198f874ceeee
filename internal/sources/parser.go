package sources

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"proxypool/internal/domain"
	"proxypool/internal/support"
)

const (
	KindKuaidaili = "kuaidaili"
	KindIP3366    = "ip3366"
	KindText      = "text"
)

// Parser turns one fetched page into candidate records tagged with source.
type Parser func(body, source string) ([]domain.ProxyRecord, error)

func ParserFor(kind string) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindKuaidaili:
		return parseKuaidaili, nil
	case KindIP3366:
		return parseIP3366, nil
	case KindText, "":
		return parseText, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

var fpsListRegex = regexp.MustCompile(`const fpsList = (\[.*?\]);`)

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// parseKuaidaili reads the fpsList array embedded in a script tag and falls
// back to the IP/PORT table cells when the script is absent.
func parseKuaidaili(body, source string) ([]domain.ProxyRecord, error) {
	if match := fpsListRegex.FindStringSubmatch(body); match != nil {
		var entries []struct {
			IP   flexString `json:"ip"`
			Port flexString `json:"port"`
		}
		if err := json.Unmarshal([]byte(match[1]), &entries); err != nil {
			return nil, fmt.Errorf("decode fpsList: %w", err)
		}

		records := make([]domain.ProxyRecord, 0, len(entries))
		for _, e := range entries {
			if record, ok := support.NewCandidate(string(e.IP), string(e.Port), source); ok {
				records = append(records, record)
			}
		}
		return records, nil
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var ips, ports []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "td" {
			return
		}
		switch attr(n, "data-title") {
		case "IP":
			ips = append(ips, text(n))
		case "PORT":
			ports = append(ports, text(n))
		}
	})
	return zipCandidates(ips, ports, source), nil
}

// parseIP3366 takes the first two cells of every table row.
func parseIP3366(body, source string) ([]domain.ProxyRecord, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var ips, ports []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "tr" {
			return
		}
		var cells []string
		for c := n.FirstChild; c != nil && len(cells) < 2; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "td" {
				cells = append(cells, text(c))
			}
		}
		if len(cells) == 2 {
			ips = append(ips, cells[0])
			ports = append(ports, cells[1])
		}
	})
	return zipCandidates(ips, ports, source), nil
}

func parseText(body, source string) ([]domain.ProxyRecord, error) {
	return support.ParseTextToProxies(body, source), nil
}

func zipCandidates(ips, ports []string, source string) []domain.ProxyRecord {
	n := len(ips)
	if len(ports) < n {
		n = len(ports)
	}
	records := make([]domain.ProxyRecord, 0, n)
	for i := 0; i < n; i++ {
		if record, ok := support.NewCandidate(ips[i], ports[i], source); ok {
			records = append(records, record)
		}
	}
	return records
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return strings.TrimSpace(sb.String())
}
