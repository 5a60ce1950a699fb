package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultCallbackPath = "/callback"
	shutdownDelay       = 100 * time.Millisecond
)

// callbackListener is a single-use HTTP listener that receives the
// authorization redirect on the loopback interface.
type callbackListener struct {
	server      *http.Server
	redirectURI string

	results     chan url.Values
	errs        chan error
	deliverOnce sync.Once
	closeOnce   sync.Once
}

// listenCallback binds the host:port of redirectURI and serves the callback
// route on it. Port 0 binds an ephemeral port; RedirectURI then reports the
// port actually bound.
func listenCallback(redirectURI string) (*callbackListener, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redirect URI %q has no host", redirectURI)
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding callback listener on %s: %w", addr, err)
	}

	if tcp, ok := ln.Addr().(*net.TCPAddr); ok && u.Port() == "0" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(tcp.Port))
	}

	l := &callbackListener{
		redirectURI: u.String(),
		results:     make(chan url.Values, 1),
		errs:        make(chan error, 1),
	}

	path := strings.ToLower(u.Path)
	if path == "" || path == "/" {
		path = defaultCallbackPath
	}

	r := chi.NewRouter()
	r.Use(lowercasePath)
	r.Get(path, l.handleCallback)

	l.server = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.errs <- fmt.Errorf("callback listener: %w", err)
		}
	}()

	slog.Debug("callback listener started", "addr", ln.Addr().String(), "path", path)

	return l, nil
}

// RedirectURI returns the redirect URI with the bound port.
func (l *callbackListener) RedirectURI() string {
	return l.redirectURI
}

// Results yields the query parameters of the first callback request.
func (l *callbackListener) Results() <-chan url.Values {
	return l.results
}

// Errors yields a listener failure, if any.
func (l *callbackListener) Errors() <-chan error {
	return l.errs
}

func (l *callbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	hasCode := params.Get("code") != ""

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Final Status: has_code=%t\nYou can close this window now", hasCode)

	l.deliverOnce.Do(func() {
		slog.Info("authorization callback received", "has_code", hasCode)
		l.results <- params
		time.AfterFunc(shutdownDelay, l.Close)
	})
}

// Close stops the listener. Safe to call more than once.
func (l *callbackListener) Close() {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			slog.Debug("callback listener shutdown", "error", err)
		}
	})
}

// lowercasePath makes route matching case-insensitive.
func lowercasePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ToLower(r.URL.Path)
		r.URL.RawPath = ""
		next.ServeHTTP(w, r)
	})
}
