// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// Server is the HTTP surface receiving Telegram webhook deliveries.
//
// The webhook handler always answers 200: Telegram re-delivers an update
// on any other status, and a malformed or unprocessable update will not
// get better on retry. Processing outcomes are logged instead.
type Server struct {
	dispatcher *Dispatcher
	albums     *AlbumAggregator
	http       *http.Server
	log        zerolog.Logger
}

// NewServer builds the gin router and the underlying http.Server.
func NewServer(cfg *Config, dispatcher *Dispatcher, albums *AlbumAggregator, log zerolog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		albums:     albums,
		log:        log.With().Str("component", "server").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.handleHealth)
	router.POST(cfg.WebhookPath, s.handleWebhook)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWebhook(c *gin.Context) {
	var update models.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		s.log.Debug().Err(err).Msg("Ignoring malformed webhook payload")
		c.String(http.StatusOK, "ok")
		return
	}
	s.dispatcher.HandleUpdate(c.Request.Context(), &update)
	c.String(http.StatusOK, "ok")
}

// Run serves until ctx is cancelled, then shuts down gracefully and waits
// for in-flight album flushes so a pending batch is not dropped by the
// process exiting.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("Listening for webhook updates")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.albums.Wait()
	return err
}
