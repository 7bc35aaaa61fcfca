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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/gorilla/mux"

	"github.com/carverauto/camrelay/pkg/config"
	srHTTP "github.com/carverauto/camrelay/pkg/http"
	"github.com/carverauto/camrelay/pkg/lifecycle"
	"github.com/carverauto/camrelay/pkg/logger"
	"github.com/carverauto/camrelay/pkg/relay"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/camrelay/relay.json", "Path to relay config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg relay.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	relayLogger, err := lifecycle.CreateComponentLogger(ctx, "relay", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	hub := relay.NewHub(cfg, nil, relayLogger) // nil clock defaults to the wall clock

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.ServeWS)
	router.HandleFunc("/api/health", relay.HealthHandler(hub, relayLogger)).Methods("GET")

	handler := srHTTP.CommonMiddleware(router, cfg.CORS, relayLogger)

	return lifecycle.RunHTTPServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: cfg.ServiceName,
		Handler:     handler,
		Services:    []lifecycle.Service{hub},
		Logger:      relayLogger,
	})
}
