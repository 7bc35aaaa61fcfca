/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package lifecycle wires logging and process lifetime for relay binaries.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/camrelay/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// CreateLogger creates a logger instance from the provided configuration.
func CreateLogger(ctx context.Context, config *logger.Config) (logger.Logger, error) {
	log, err := logger.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return log, nil
}

// CreateComponentLogger creates a logger tagged with a component field.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	log, err := logger.NewComponentLogger(ctx, component, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return log, nil
}

// Service is a long-running background component tied to the server lifetime.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServerOptions configures RunHTTPServer.
type ServerOptions struct {
	ListenAddr  string
	ServiceName string
	Handler     http.Handler
	Services    []Service
	Logger      logger.Logger
}

// RunHTTPServer starts the HTTP server and any background services, then
// blocks until the context is canceled or a termination signal arrives.
// Shutdown is graceful with a bounded timeout.
func RunHTTPServer(ctx context.Context, opts *ServerOptions) error {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, svc := range opts.Services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           opts.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info().
			Str("service", opts.ServiceName).
			Str("listen_addr", opts.ListenAddr).
			Msg("HTTP server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Str("service", opts.ServiceName).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error

	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("http server shutdown: %w", err)
	}

	for _, svc := range opts.Services {
		if err := svc.Stop(shutdownCtx); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("service shutdown: %w", err)
		}
	}

	return shutdownErr
}
