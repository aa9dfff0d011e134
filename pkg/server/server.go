package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/statnett/talk2powersystem/pkg/auth"
	"github.com/statnett/talk2powersystem/pkg/chat"
	"github.com/statnett/talk2powersystem/pkg/config"
	"github.com/statnett/talk2powersystem/pkg/health"
)

// EventLog is the background event router the server drives alongside HTTP.
type EventLog interface {
	Run(ctx context.Context) error
	Close() error
}

type Options struct {
	Addr     string
	RootPath string

	Service     *chat.Service
	Health      *health.Registry
	GTG         *health.GTGCache
	GTGInterval time.Duration
	About       config.About
	TroubleHTML []byte

	AuthConfig auth.Config
	// Verifier is nil when security is disabled.
	Verifier *auth.Verifier

	EventLog EventLog
	// Closers are closed after the HTTP server stopped, in order.
	Closers []io.Closer
}

// Server owns the HTTP server lifecycle plus the background tasks serving it.
type Server struct {
	opts    Options
	root    string
	httpSrv *http.Server
}

func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("server: chat service is nil")
	}
	if opts.Health == nil {
		opts.Health = health.NewRegistry(0)
	}
	if opts.GTG == nil {
		opts.GTG = health.NewGTGCache(opts.Health)
	}
	if opts.GTGInterval <= 0 {
		opts.GTGInterval = 30 * time.Second
	}
	s := &Server{opts: opts, root: config.NormalizeRootPath(opts.RootPath)}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed API, every route mounted below the root path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := auth.Middleware(s.opts.Verifier, writeError)

	mux.Handle(s.root+"rest/chat/conversations", protect(http.HandlerFunc(s.handleConversation)))
	mux.Handle(s.root+"rest/chat/conversations/explain", protect(http.HandlerFunc(s.handleExplain)))
	mux.HandleFunc(s.root+"rest/authentication/config", s.handleAuthConfig)
	mux.HandleFunc(s.root+"__health", s.handleHealth)
	mux.HandleFunc(s.root+"__gtg", s.handleGTG)
	mux.HandleFunc(s.root+"__about", s.handleAbout)
	mux.HandleFunc(s.root+"__trouble", s.handleTrouble)

	return withRequestID(mux)
}

func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg, egCtx := errgroup.WithContext(ctx)
	srvCtx, srvCancel := context.WithCancel(egCtx)
	defer srvCancel()

	s.httpSrv.BaseContext = func(net.Listener) context.Context { return log.Logger.WithContext(srvCtx) }

	if s.opts.EventLog != nil {
		eg.Go(func() error { return s.opts.EventLog.Run(srvCtx) })
	}
	eg.Go(func() error {
		return s.opts.GTG.Run(log.Logger.WithContext(srvCtx), s.opts.GTGInterval)
	})

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if s.opts.EventLog != nil {
			if err := s.opts.EventLog.Close(); err != nil {
				log.Error().Err(err).Msg("event log close error")
			} else {
				log.Info().Msg("event log closed")
			}
		}
		for _, c := range s.opts.Closers {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Msg("close error")
			}
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.opts.Addr).Str("root_path", s.root).Msg("starting talk2powersystem server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
