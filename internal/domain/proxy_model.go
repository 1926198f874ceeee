package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusError   Status = "error"
)

type Anonymity string

const (
	AnonymityHigh Anonymity = "high"
	AnonymityLow  Anonymity = "low"
)

const ProtocolHTTP = "http"

var (
	ErrInvalidIP   = errors.New("invalid IP address")
	ErrInvalidPort = errors.New("invalid port")
)

// Identity names a proxy endpoint. Two records with the same identity are
// duplicates regardless of any other field.
type Identity struct {
	IP   string
	Port string
}

func (id Identity) String() string {
	return net.JoinHostPort(id.IP, id.Port)
}

func ParseIdentity(raw string) (Identity, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(raw))
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity %q: %w", raw, err)
	}
	return Identity{IP: host, Port: port}, nil
}

// ProxyRecord is the unit stored in the pool. Its JSON encoding is the store
// member; the score lives next to it in the store and is never serialized.
type ProxyRecord struct {
	IP           string    `json:"ip"`
	Port         string    `json:"port"`
	Source       string    `json:"source,omitempty"`
	Status       Status    `json:"status,omitempty"`
	LastCheck    int64     `json:"last_check,omitempty"`
	ResponseTime float64   `json:"response_time,omitempty"`
	CheckedURL   string    `json:"checked_url,omitempty"`
	Protocol     string    `json:"protocol,omitempty"`
	Anonymity    Anonymity `json:"anonymity,omitempty"`
	ErrorMsg     string    `json:"error_msg,omitempty"`

	Score int `json:"-"`
}

func (r ProxyRecord) Identity() Identity {
	return Identity{IP: r.IP, Port: r.Port}
}

func (r ProxyRecord) Address() string {
	return r.Identity().String()
}

// Validate reports whether the record names a dialable IPv4/IPv6 endpoint.
func (r ProxyRecord) Validate() error {
	if net.ParseIP(r.IP) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, r.IP)
	}
	port, err := strconv.Atoi(r.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, r.Port)
	}
	return nil
}

func EncodeRecord(r ProxyRecord) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode proxy record: %w", err)
	}
	return string(data), nil
}

func DecodeRecord(member string) (ProxyRecord, error) {
	var r ProxyRecord
	if err := json.Unmarshal([]byte(member), &r); err != nil {
		return ProxyRecord{}, fmt.Errorf("decode proxy record: %w", err)
	}
	if r.IP == "" || r.Port == "" {
		return ProxyRecord{}, errors.New("decode proxy record: missing ip or port")
	}
	return r, nil
}

// Verdict is the outcome of probing one proxy.
type Verdict struct {
	Record ProxyRecord
	// TimedOut is set when every check URL failed with a timeout.
	TimedOut bool
}

func (v Verdict) Status() Status {
	return v.Record.Status
}
