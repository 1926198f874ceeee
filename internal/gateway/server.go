// Package gateway runs a forward proxy that sends every client request
// through the next pool proxy in rotation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"proxypool/internal/store"
)

type Gateway struct {
	handler *proxyHandler
}

func New(picker Picker, scores store.Store, creds Credentials) *Gateway {
	return &Gateway{handler: &proxyHandler{picker: picker, scores: scores, creds: creds}}
}

func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// ListenAndServe accepts proxy clients on port until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return g.Serve(ctx, listener)
}

func (g *Gateway) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Rotating gateway started", "address", listener.Addr().String(), "auth", g.handler.creds.Username != "")
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Rotating gateway shutdown", "error", err)
		}
		return nil
	}
}
