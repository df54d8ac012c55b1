package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"wechat-gateway/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	tlsCert  string
	tlsKey   string
	listener net.Listener
	errCh    chan error
	logger   logging.Logger
}

// New creates a new server instance. HTTPS is served when both tlsCert and
// tlsKey are set.
func New(handler http.Handler, port, tlsCert, tlsKey string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// the platform waits five seconds for a webhook reply
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errCh:   make(chan error, 1),
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "server"}),
	}
}

// Start binds the listener and serves in the background. Errors after the
// bind are delivered on Errors.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	useTLS := s.tlsCert != "" && s.tlsKey != ""
	if useTLS {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	s.logger.Info("HTTP server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("tls", useTLS),
	)

	go func() {
		var err error
		if useTLS {
			err = s.srv.ServeTLS(listener, s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server stopped", err)
			s.errCh <- err
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors reports a serve failure after Start
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
