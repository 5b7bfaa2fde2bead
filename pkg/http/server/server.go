// Package httpserver runs an http.Server in the background.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultAddr            = ":80"
	defaultShutdownTimeout = 3 * time.Second
)

type Server struct {
	server          *http.Server
	listener        net.Listener
	errCh           chan error
	shutdownTimeout time.Duration
}

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}

	return def
}

// New binds opt.Addr and starts serving. Bind errors are returned here; later
// serve errors arrive on Notify.
func New(handler http.Handler, opt Options) (*Server, error) {
	addr := opt.Addr
	if addr == "" {
		addr = defaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &Server{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: orDefault(opt.ReadTimeout, defaultReadTimeout),
			ReadTimeout:       orDefault(opt.ReadTimeout, defaultReadTimeout),
			WriteTimeout:      orDefault(opt.WriteTimeout, defaultWriteTimeout),
		},
		listener:        ln,
		errCh:           make(chan error, 1),
		shutdownTimeout: orDefault(opt.ShutdownTimeout, defaultShutdownTimeout),
	}

	go srv.start()

	return srv, nil
}

func (s *Server) start() {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errCh <- err
	}

	close(s.errCh)
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Notify delivers a serve failure. It is closed once the server stops.
func (s *Server) Notify() <-chan error {
	return s.errCh
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx) //nolint:wrapcheck
}
