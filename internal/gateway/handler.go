package gateway

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"proxypool/internal/domain"
	"proxypool/internal/store"
)

const (
	connectEstablishedResponse = "HTTP/1.1 200 Connection Established\r\nProxy-Agent: proxypool\r\n\r\n"
	upstreamDialTimeout        = 10 * time.Second
	maxRequestBodyLength       = 10 << 20
)

var (
	dialUpstreamFunc           = dialUpstream
	performUpstreamConnectFunc = performUpstreamConnect
)

// Picker selects the upstream proxy for the next request.
type Picker interface {
	Next(ctx context.Context) (domain.ProxyRecord, int, int, error)
}

// Credentials enable Basic proxy authentication when Username is set.
// PasswordHash is a bcrypt hash.
type Credentials struct {
	Username     string
	PasswordHash string
}

type proxyHandler struct {
	picker Picker
	// scores, when set, is told about upstreams that could not be reached.
	scores store.Store
	creds  Credentials
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateClient(w, r) {
		return
	}

	switch strings.ToUpper(r.Method) {
	case http.MethodConnect:
		h.handleConnect(w, r)
	default:
		h.handleHTTP(w, r)
	}
}

func (h *proxyHandler) authenticateClient(w http.ResponseWriter, r *http.Request) bool {
	if h.creds.Username == "" {
		return true
	}

	header := strings.TrimSpace(r.Header.Get("Proxy-Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
		writeProxyAuthRequired(w)
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		writeProxyAuthRequired(w)
		return false
	}

	creds := strings.SplitN(string(decoded), ":", 2)
	if len(creds) != 2 {
		writeProxyAuthRequired(w)
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(creds[0]), []byte(h.creds.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.creds.PasswordHash), []byte(creds[1]))
	if !userOK || passErr != nil {
		writeProxyAuthRequired(w)
		return false
	}

	return true
}

func writeProxyAuthRequired(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", `Basic realm="proxypool"`)
	w.WriteHeader(http.StatusProxyAuthRequired)
	_, _ = w.Write([]byte("Proxy authentication required"))
}

func (h *proxyHandler) handleHTTP(w http.ResponseWriter, r *http.Request) {
	next, _, _, err := h.picker.Next(r.Context())
	if err != nil {
		http.Error(w, "failed to acquire upstream proxy", http.StatusBadGateway)
		return
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyLength))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	targetURL := r.URL
	if !targetURL.IsAbs() {
		targetURL = &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
	}

	newReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}

	newReq.Header = r.Header.Clone()
	newReq.Header.Del("Proxy-Authorization")

	transport := buildHTTPTransport(next)
	resp, err := transport.RoundTrip(newReq)
	if err != nil {
		h.reportFailure(next, err)
		http.Error(w, "upstream proxy request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn("gateway: failed to copy response body", "upstream", next.Address(), "error", err)
	}
}

func (h *proxyHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, buf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return
	}

	defer func() {
		if err := clientConn.Close(); err != nil {
			log.Debug("gateway: client connection close", "error", err)
		}
	}()

	next, _, _, err := h.picker.Next(r.Context())
	if err != nil {
		writeHijackedResponse(buf, http.StatusBadGateway, "Failed to acquire upstream proxy")
		return
	}

	upConn, err := dialUpstreamFunc(next)
	if err != nil {
		h.reportFailure(next, err)
		writeHijackedResponse(buf, http.StatusBadGateway, "Failed to connect to upstream proxy")
		return
	}

	if err := performUpstreamConnectFunc(upConn, r.Host); err != nil {
		_ = upConn.Close()
		h.reportFailure(next, err)
		writeHijackedResponse(buf, http.StatusBadGateway, "Upstream CONNECT failed")
		return
	}

	if _, err := clientConn.Write([]byte(connectEstablishedResponse)); err != nil {
		_ = upConn.Close()
		return
	}

	pipeConnections(clientConn, upConn)
}

func (h *proxyHandler) reportFailure(upstream domain.ProxyRecord, cause error) {
	log.Debug("gateway: upstream failed", "upstream", upstream.Address(), "error", cause)
	if h.scores == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.scores.DecreaseScore(ctx, upstream.Identity()); err != nil {
		log.Warn("gateway: failed to lower upstream score", "upstream", upstream.Address(), "error", err)
	}
}

func writeHijackedResponse(buf *bufio.ReadWriter, status int, message string) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status,
		http.StatusText(status),
		len(message),
		message,
	)
	_ = buf.Flush()
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func buildHTTPTransport(next domain.ProxyRecord) *http.Transport {
	proxyURL := &url.URL{
		Scheme: "http",
		Host:   next.Address(),
	}

	return &http.Transport{
		Proxy:               http.ProxyURL(proxyURL),
		DialContext:         (&net.Dialer{Timeout: upstreamDialTimeout}).DialContext,
		DisableKeepAlives:   true,
		MaxIdleConns:        0,
		IdleConnTimeout:     0,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func dialUpstream(next domain.ProxyRecord) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: upstreamDialTimeout}
	return dialer.Dial("tcp", next.Address())
}

func performUpstreamConnect(conn net.Conn, targetHost string) error {
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: Keep-Alive\r\n\r\n", targetHost, targetHost)
	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.New("upstream returned non-200 response")
	}

	return nil
}

func pipeConnections(left, right net.Conn) {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(left, right)
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(right, left)
		errCh <- err
	}()

	<-errCh
	left.Close()
	right.Close()
}
