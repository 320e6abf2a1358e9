/*
* Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpconfig"
	"github.com/voedger/reactord/pkg/ddpmetrics"
	"github.com/voedger/reactord/pkg/ddpserver"
	"github.com/voedger/reactord/pkg/ddptransport"
	"github.com/voedger/reactord/pkg/docstore"
	"github.com/voedger/reactord/pkg/docstore/bboltstore"
	"github.com/voedger/reactord/pkg/docstore/memstore"
	"github.com/voedger/reactord/pkg/ejson"
	"github.com/voedger/reactord/pkg/goutils/logger"
	"github.com/voedger/reactord/pkg/goutils/timeu"
	"github.com/voedger/reactord/pkg/livereg"
)

// serveParams binds the flags newServeCmd exposes over ddpconfig's
// environment-driven knobs, plus the pieces ddpconfig intentionally
// leaves out (listen address, storage backend choice).
type serveParams struct {
	addr        string
	storageFile string
}

func newServeCmd() *cobra.Command {
	var params serveParams

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reactive document server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, params)
		},
	}

	cmd.Flags().StringVar(&params.addr, "addr", ":3000", "HTTP listen address")
	cmd.Flags().StringVar(&params.storageFile, "storage-file", "",
		"bbolt database file path; empty uses an in-memory store that doesn't survive a restart")

	return cmd
}

func runServe(cmd *cobra.Command, params serveParams) error {
	cfg := ddpconfig.FromEnv()

	driver, closeDriver, err := openDriver(params.storageFile)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer closeDriver()

	bar := crossbar.New()
	store := docstore.New(driver, bar)
	metrics := ddpmetrics.New()
	registry := livereg.New(store, bar, timeu.NewITime(), cfg.PollingThrottle, cfg.PollingInterval)

	server := ddpserver.New(ddpserver.Config{
		Polling: cfg,
		Codec:   ejson.Codec{},
		Metrics: metrics,
	})
	registerDocuments(server, store, registry)

	mux := http.NewServeMux()
	mux.Handle("/websocket", ddptransport.NewHandler(server, cfg))
	mux.HandleFunc("/metrics", metricsHandler(metrics))

	httpServer := &http.Server{Addr: params.addr, Handler: mux}
	logger.Info("reactord listening on", params.addr, "collections rooted at", storeDescription(params.storageFile))

	go func() {
		<-cmd.Context().Done()
		_ = httpServer.Close()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func openDriver(storageFile string) (docstore.Driver, func(), error) {
	if storageFile == "" {
		return memstore.New(), func() {}, nil
	}
	s, err := bboltstore.Open(storageFile)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func storeDescription(storageFile string) string {
	if storageFile == "" {
		return "memory (not persisted)"
	}
	return storageFile
}

func metricsHandler(m *ddpmetrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	}
}
