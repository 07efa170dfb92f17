package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/astromechza/collab-ot/pkg/config"
	"github.com/astromechza/collab-ot/pkg/gateway"
	"github.com/astromechza/collab-ot/pkg/session"
	"github.com/astromechza/collab-ot/pkg/store"
	"github.com/astromechza/collab-ot/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	flags := pflag.NewFlagSet("collab-server", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a yaml or jsonc config file (default $"+config.EnvVar+")")
	addrVar := flags.String("addr", "", "the address to listen on, overrides listen_addr")
	logLevel := flags.String("log-level", "", "debug, info, warn or error, overrides log.level")
	renderHistory := flags.Bool("render-history", false, "render the history of every live session to svg on shutdown")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.ListenAddr = *addrVar
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := gateway.NewHub(logger, gateway.NewMetrics(promRegistry))
	registry := session.New(st, gateway.NewNotifier(hub),
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetrics(promRegistry)),
		session.WithHistoryCapacity(cfg.Session.HistoryCapacity),
		session.WithMaxPending(cfg.Session.MaxPending),
		session.WithWriteTimeout(time.Duration(cfg.Session.WriteTimeoutSeconds)*time.Second),
	)
	wsServer := gateway.NewServer(gateway.New(registry, hub, logger), hub, gateway.ServerOptions{
		ReadBufferSize:  cfg.Transport.ReadBufferSize,
		WriteBufferSize: cfg.Transport.WriteBufferSize,
		SendQueue:       cfg.Transport.SendQueue,
		SubmitRate:      rate.Limit(cfg.Transport.SubmitRate),
		SubmitBurst:     cfg.Transport.SubmitBurst,
		MaxMessageSize:  cfg.Transport.MaxMessageSize,
		PingInterval:    time.Duration(cfg.Transport.PingIntervalSeconds) * time.Second,
		AllowedOrigins:  cfg.Transport.AllowedOrigins,
	})

	s := &server{store: st, registry: registry, hub: hub, ws: wsServer, maxBody: cfg.Transport.MaxMessageSize}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/files/{fileId}/ws").HandlerFunc(s.connectFile)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.connect)
	r.Methods(http.MethodGet).Path("/files/{fileId}").HandlerFunc(s.getFile)
	r.Methods(http.MethodPut).Path("/files/{fileId}").HandlerFunc(s.createFile)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		logger.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "err", err)
	}
	wg.Wait()

	if *renderHistory {
		renderLiveHistories(logger, registry)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to close connections", "err", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		return fmt.Errorf("failed to flush pending writes: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	var st store.Store
	closeStore := func() {}
	switch cfg.Driver {
	case "memory":
		st = store.NewMemory()
	case "sqlite":
		compression, err := store.ParseCompression(cfg.Compression)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Opening database", "path", cfg.Path, "compression", compression)
		db, err := store.OpenSQLite(ctx, cfg.Path, compression)
		if err != nil {
			return nil, nil, err
		}
		st = db
		closeStore = func() {
			if err := db.Close(); err != nil {
				slog.Error("failed to close database", "err", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	// file 0 always exists so a fresh server can be edited straight away
	if err := st.Create(ctx, 0, ""); err != nil && !errors.Is(err, store.ErrExists) {
		closeStore()
		return nil, nil, fmt.Errorf("failed to create default file: %w", err)
	}
	return st, closeStore, nil
}

func renderLiveHistories(logger *slog.Logger, registry *session.Registry) {
	for _, fileID := range registry.FileIDs() {
		h, ok := registry.History(fileID)
		if !ok {
			continue
		}
		if svgPath, err := viz.RenderToTemp(h); err != nil {
			logger.Error("failed to render", "file", fileID, "err", err)
		} else {
			logger.Info("rendered", "file", fileID, "version", h.Version, "path", "file://"+svgPath)
		}
	}
}

type server struct {
	store    store.Store
	registry *session.Registry
	hub      *gateway.Hub
	ws       *gateway.Server
	maxBody  int64
}

type fileResponse struct {
	FileID      int64  `json:"fileId"`
	Version     int    `json:"version"`
	Content     string `json:"content"`
	Live        bool   `json:"live"`
	Connections int    `json:"connections"`
}

func fileIDVar(request *http.Request) (int64, error) {
	return gateway.ParseFileID(json.Number(mux.Vars(request)["fileId"]))
}

func (s *server) connect(writer http.ResponseWriter, request *http.Request) {
	s.ws.Serve(writer, request, nil)
}

func (s *server) connectFile(writer http.ResponseWriter, request *http.Request) {
	fileID, err := fileIDVar(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	s.ws.Serve(writer, request, fileID)
}

func (s *server) getFile(writer http.ResponseWriter, request *http.Request) {
	fileID, err := fileIDVar(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	resp := fileResponse{FileID: fileID}
	if snap, ok := s.registry.Snapshot(fileID); ok {
		resp.Version, resp.Content, resp.Live = snap.Version, snap.Content, true
		resp.Connections = len(s.hub.Members(fileID))
	} else if content, err := s.store.Load(request.Context(), fileID); errors.Is(err, store.ErrNotFound) {
		writer.WriteHeader(http.StatusNotFound)
		return
	} else if err != nil {
		slog.Error("failed to load file", "file", fileID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	} else {
		resp.Content = content
	}
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(resp); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *server) createFile(writer http.ResponseWriter, request *http.Request) {
	fileID, err := fileIDVar(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, s.maxBody))
	if err != nil {
		http.Error(writer, "failed to read body", http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.store.Create(request.Context(), fileID, string(raw)); errors.Is(err, store.ErrExists) {
		writer.WriteHeader(http.StatusConflict)
		return
	} else if err != nil {
		slog.Error("failed to create file", "file", fileID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	slog.Info("created file", "file", fileID, "size", len(raw))
	writer.WriteHeader(http.StatusCreated)
}
