// Command edge runs one cooperative-cache edge node: a peer-facing TCP
// transport (directory, write-lock, invalidation, and cooperative-GET
// traffic from other edges), a client-facing HTTP API (GET/PUT/DELETE for
// applications talking to this edge), a Prometheus metrics endpoint, and
// the background maintenance loop that decays popularity and reaps
// expired write-lock leases.
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│                  edge                      │
//	├───────────────────────────────────────────┤
//	│  Client HTTP API (CLIENT_ADDR):            │
//	│    GET/PUT/DELETE /object/{key}            │
//	├───────────────────────────────────────────┤
//	│  Peer transport (LISTEN_ADDR):             │
//	│    protocol frames, directory/writelock/   │
//	│    invalidation/placement traffic          │
//	├───────────────────────────────────────────┤
//	│  Metrics HTTP API (METRICS_ADDR):          │
//	│    /metrics (Prometheus exposition)        │
//	├───────────────────────────────────────────┤
//	│  edgemanager.Manager                       │
//	│    directory · popularity · victim ·       │
//	│    placement · local store · cloud store   │
//	└───────────────────────────────────────────┘
//
// Configuration is environment-driven; see internal/config for the full
// list. A HuJSON topology file (comments and trailing commas allowed) is
// passed as the command's first argument and must list every edge in the
// deployment, this one included.
//
// Example usage:
//
//	EDGE_INDEX=0 EDGE_COUNT=3 \
//	LISTEN_ADDR=:7701 CLIENT_ADDR=:7700 METRICS_ADDR=:7702 \
//	./edge topology.hujson
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/covered/internal/cloud"
	"github.com/dreamware/covered/internal/config"
	"github.com/dreamware/covered/internal/edgemanager"
	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/logging"
	"github.com/dreamware/covered/internal/metrics"
	"github.com/dreamware/covered/internal/reward"
	"github.com/dreamware/covered/internal/store"
	"github.com/dreamware/covered/internal/transport"
)

// logFatal is a variable so tests in this package can intercept a fatal
// startup error instead of exercising os.Exit.
var logFatal = log.Fatalf

func main() {
	var topologyPath string
	if len(os.Args) > 1 {
		topologyPath = os.Args[1]
	}

	cfg, err := config.Load(topologyPath)
	if err != nil {
		logFatal("edge: config: %v", err)
		return
	}

	zlog, err := logging.New(cfg.LogLevel, uint32(cfg.EdgeIndex))
	if err != nil {
		logFatal("edge: logging: %v", err)
		return
	}
	defer zlog.Sync()

	reg := prometheus.NewRegistry()
	mgr, err := buildManager(cfg, zlog, reg)
	if err != nil {
		logFatal("edge: %v", err)
		return
	}

	peer, err := transport.Listen(cfg.ListenAddr, mgr.Handler(), zlog)
	if err != nil {
		logFatal("edge: peer transport: %v", err)
		return
	}
	go func() {
		if err := peer.Serve(); err != nil {
			zlog.Error("edge: peer transport stopped", zap.Error(err))
		}
	}()

	clientAPI := &http.Server{
		Addr:              cfg.ClientAddr,
		Handler:           newClientMux(mgr, zlog),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info("edge: client API listening", zap.String("addr", cfg.ClientAddr))
		if err := clientAPI.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("edge: client API: %v", err)
		}
	}()

	metricsAPI := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info("edge: metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsAPI.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("edge: metrics server stopped", zap.Error(err))
		}
	}()

	maintCtx, cancelMaint := context.WithCancel(context.Background())
	go mgr.RunMaintenance(maintCtx, 30*time.Second, cfg.WriteLease()/2)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zlog.Info("edge: shutting down")
	cancelMaint()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clientAPI.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("edge: client API shutdown error", zap.Error(err))
	}
	if err := metricsAPI.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("edge: metrics shutdown error", zap.Error(err))
	}
	if err := peer.Close(); err != nil {
		zlog.Warn("edge: peer transport close error", zap.Error(err))
	}
	zlog.Info("edge: stopped")
}

// buildManager assembles the edgemanager.Manager for this process: the
// local store (bounded memory), the cloud backing store (memory or
// badger per CLOUD_BACKEND), and the reward/metrics plumbing every
// subsystem shares.
func buildManager(cfg config.CoreConfig, zlog *zap.Logger, reg *prometheus.Registry) (*edgemanager.Manager, error) {
	if len(cfg.Topology) == 0 {
		return nil, errors.New("edge: topology must be supplied (pass a HuJSON file as the first argument)")
	}
	topo, err := keyspace.NewTopology(cfg.Topology)
	if err != nil {
		return nil, fmt.Errorf("edge: topology: %w", err)
	}

	cloudStore, err := buildCloudStore(cfg)
	if err != nil {
		return nil, err
	}

	met := metrics.New(reg, prometheus.Labels{"edge": fmt.Sprintf("%d", cfg.EdgeIndex)})

	mgr := edgemanager.New(edgemanager.Config{
		Self:           cfg.EdgeIndex,
		Topology:       topo,
		Local:          store.NewBoundedMemoryStore(cfg.LocalCapacityBytes),
		Cloud:          cloudStore,
		Weights:        reward.NewWeightCell(reward.Weights{W1: cfg.RewardW1, W2: cfg.RewardW2}),
		RewardFn:       reward.Default,
		UncachedCap:    cfg.UncachedTrackerCap,
		SyncedVictims:  cfg.SyncedVictimCount,
		WriteLease:     cfg.WriteLease(),
		RequestTimeout: cfg.RequestTimeout(),
		MaxAdmits:      cfg.MaxConcurrentAdmits,
		Metrics:        met,
		Log:            zlog,
	})
	return mgr, nil
}

func buildCloudStore(cfg config.CoreConfig) (cloud.Store, error) {
	switch cfg.CloudBackend {
	case "", "memory":
		return cloud.NewMemoryStore(), nil
	case "badger":
		bs, err := cloud.OpenBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("edge: badger store: %w", err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("edge: unknown CLOUD_BACKEND %q", cfg.CloudBackend)
	}
}

// newClientMux builds the application-facing HTTP API: GET/PUT/DELETE on
// /object/{key}, mirroring torua's /shard/{id}/store/{key} raw-bytes
// convention but addressed by key alone (cooperative placement, not an
// explicit shard, decides which edge ends up holding a copy).
func newClientMux(mgr *edgemanager.Manager, zlog *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/object/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/object/")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			handleGet(mgr, zlog, w, r, key)
		case http.MethodPut:
			handlePut(mgr, zlog, w, r, key)
		case http.MethodDelete:
			handleDelete(mgr, zlog, w, r, key)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func handleGet(mgr *edgemanager.Manager, zlog *zap.Logger, w http.ResponseWriter, r *http.Request, key string) {
	v, hit, err := mgr.Get(r.Context(), keyspace.Key(key))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) || errors.Is(err, cloud.ErrKeyNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		zlog.Warn("edge: get failed", zap.String("key", key), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Covered-Hit", hitKindString(hit))
	if _, err := w.Write(v); err != nil {
		zlog.Warn("edge: write response failed", zap.Error(err))
	}
}

func handlePut(mgr *edgemanager.Manager, zlog *zap.Logger, w http.ResponseWriter, r *http.Request, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := mgr.Put(r.Context(), keyspace.Key(key), body); err != nil {
		zlog.Warn("edge: put failed", zap.String("key", key), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleDelete(mgr *edgemanager.Manager, zlog *zap.Logger, w http.ResponseWriter, r *http.Request, key string) {
	if err := mgr.Delete(r.Context(), keyspace.Key(key)); err != nil {
		zlog.Warn("edge: delete failed", zap.String("key", key), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func hitKindString(h edgemanager.HitKind) string {
	switch h {
	case edgemanager.HitLocal:
		return "local"
	case edgemanager.HitCooperative:
		return "cooperative"
	case edgemanager.HitCooperativeMiss:
		return "cooperative_invalid"
	case edgemanager.HitGlobalMiss:
		return "global_miss"
	default:
		return "unknown"
	}
}
