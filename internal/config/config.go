// Package config loads an edge's CoreConfig the way torua's cmd/node and
// cmd/coordinator do: required settings via environment variables with a
// mustGetenv-style fatal-at-startup check, optional settings via getenv
// with a default. COVERED adds an optional commented-JSON topology file
// (tailscale/hujson), since an edge's topology (the full address list of
// every other edge) is unwieldy to pass as individual env vars; the file
// supplies only the topology, and every other setting comes from the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tailscale/hujson"

	"github.com/dreamware/covered/internal/keyspace"
)

// CoreConfig is everything one edge process needs to start (spec.md §6,
// generalized into a static struct rather than individually-threaded
// constructor arguments).
type CoreConfig struct {
	EdgeIndex keyspace.EdgeIndex
	EdgeCount int
	Topology  []keyspace.EdgeAddr // must include every edge, this one included

	ListenAddr     string // peer transport
	ClientAddr     string // local GET/PUT/DEL API
	MetricsAddr    string

	LocalCapacityBytes uint64
	UncachedTrackerCap int
	SyncedVictimCount  int // k: victims advertised per syncset
	WriteLeaseSeconds  int

	RewardW1 float64
	RewardW2 float64

	CloudBackend string // "memory" or "badger"
	BadgerDir    string

	RequestTimeoutMS int
	MaxConcurrentAdmits int

	LogLevel string
}

// WriteLease returns the configured write-lock lease as a time.Duration.
func (c CoreConfig) WriteLease() time.Duration {
	return time.Duration(c.WriteLeaseSeconds) * time.Second
}

// RequestTimeout returns the configured peer-request timeout.
func (c CoreConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// topologyFile is the shape of the optional HuJSON topology document: a
// flat list of (index, addr) pairs, comments and trailing commas allowed.
type topologyFile struct {
	Edges []struct {
		Index int    `json:"index"`
		Addr  string `json:"addr"`
	} `json:"edges"`
}

// Load builds a CoreConfig from environment variables, optionally layered
// with a HuJSON topology file at topologyPath (pass "" to skip it). Missing
// required environment variables are a fatal error, matching torua's
// mustGetenv convention; the caller is expected to pass the result of a
// failed Load to log.Fatal-equivalent handling.
func Load(topologyPath string) (CoreConfig, error) {
	idx, err := strconv.Atoi(mustGetenv("EDGE_INDEX"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: EDGE_INDEX: %w", err)
	}
	count, err := strconv.Atoi(mustGetenv("EDGE_COUNT"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: EDGE_COUNT: %w", err)
	}
	if idx < 0 || idx >= count {
		return CoreConfig{}, fmt.Errorf("config: EDGE_INDEX %d out of range for EDGE_COUNT %d", idx, count)
	}

	capacityBytes, err := strconv.ParseUint(getenv("LOCAL_CAPACITY_BYTES", "67108864"), 10, 64)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: LOCAL_CAPACITY_BYTES: %w", err)
	}
	uncachedCap, err := strconv.Atoi(getenv("UNCACHED_TRACKER_CAP", "10000"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: UNCACHED_TRACKER_CAP: %w", err)
	}
	syncedVictims, err := strconv.Atoi(getenv("SYNCED_VICTIM_COUNT", "16"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: SYNCED_VICTIM_COUNT: %w", err)
	}
	writeLease, err := strconv.Atoi(getenv("WRITE_LEASE_SECONDS", "30"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: WRITE_LEASE_SECONDS: %w", err)
	}
	w1, err := strconv.ParseFloat(getenv("REWARD_W1", "1.0"), 64)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: REWARD_W1: %w", err)
	}
	w2, err := strconv.ParseFloat(getenv("REWARD_W2", "1.0"), 64)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: REWARD_W2: %w", err)
	}
	timeoutMS, err := strconv.Atoi(getenv("REQUEST_TIMEOUT_MS", "500"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: REQUEST_TIMEOUT_MS: %w", err)
	}
	maxAdmits, err := strconv.Atoi(getenv("MAX_CONCURRENT_ADMITS", "8"))
	if err != nil {
		return CoreConfig{}, fmt.Errorf("config: MAX_CONCURRENT_ADMITS: %w", err)
	}

	cfg := CoreConfig{
		EdgeIndex:           keyspace.EdgeIndex(idx),
		EdgeCount:           count,
		ListenAddr:          getenv("LISTEN_ADDR", ":7701"),
		ClientAddr:          getenv("CLIENT_ADDR", ":7700"),
		MetricsAddr:         getenv("METRICS_ADDR", ":7702"),
		LocalCapacityBytes:  capacityBytes,
		UncachedTrackerCap:  uncachedCap,
		SyncedVictimCount:   syncedVictims,
		WriteLeaseSeconds:   writeLease,
		RewardW1:            w1,
		RewardW2:            w2,
		CloudBackend:        getenv("CLOUD_BACKEND", "memory"),
		BadgerDir:           getenv("BADGER_DIR", "./data/cloud"),
		RequestTimeoutMS:    timeoutMS,
		MaxConcurrentAdmits: maxAdmits,
		LogLevel:            getenv("LOG_LEVEL", "info"),
	}

	if topologyPath != "" {
		edges, err := loadTopologyFile(topologyPath)
		if err != nil {
			return CoreConfig{}, err
		}
		cfg.Topology = edges
	}

	return cfg, nil
}

func loadTopologyFile(path string) ([]keyspace.EdgeAddr, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read topology file: %w", err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse topology file: %w", err)
	}

	var tf topologyFile
	if err := json.Unmarshal(std, &tf); err != nil {
		return nil, fmt.Errorf("config: decode topology file: %w", err)
	}

	out := make([]keyspace.EdgeAddr, len(tf.Edges))
	for i, e := range tf.Edges {
		out[i] = keyspace.EdgeAddr{Index: keyspace.EdgeIndex(e.Index), Addr: e.Addr}
	}
	return out, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return "" // caller turns a failed downstream parse into the fatal error
}
