package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/pipeline/intake"
	"github.com/snapmagictest/snapmagic/internal/pipeline/status"
)

// Server wraps the HTTP layer over the pipeline services. Unlike the
// teacher's Server, which held a single *app.App indirection, this one
// depends directly on the handful of interfaces an HTTP handler actually
// needs — there is no app package in this domain.
type Server struct {
	config *common.Config
	logger *common.Logger

	intake    *intake.Service
	status    *status.Service
	queue     interfaces.Queue
	quota     interfaces.QuotaLedger
	blobStore interfaces.BlobStore
	wsHub     *AdminWSHub

	server       *http.Server
	shutdownChan chan struct{}
}

// NewServer wires the HTTP server over the already-constructed pipeline
// services. blobStore is only consulted to serve dev-mode /blobs/{key}
// reads when the configured backend is the local-disk FileBlobStore; a
// real S3 backend answers presigned URLs itself and never hits this route.
func NewServer(config *common.Config, logger *common.Logger, intakeSvc *intake.Service, statusSvc *status.Service, queue interfaces.Queue, quota interfaces.QuotaLedger, blobStore interfaces.BlobStore, wsHub *AdminWSHub) *Server {
	s := &Server{
		config:    config,
		logger:    logger,
		intake:    intakeSvc,
		status:    statusSvc,
		queue:     queue,
		quota:     quota,
		blobStore: blobStore,
		wsHub:     wsHub,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
