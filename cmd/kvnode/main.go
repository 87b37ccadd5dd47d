// cmd/kvnode is the main entrypoint for a causal-kv node.
//
// Configuration is flags, or a YAML file via -config. Every node in a
// cluster is the same binary; which one it is comes entirely from -id.
//
// Example — 3-node cluster:
//
//	./kvnode -id 0 -addr :8080 -data-dir /tmp/n0 -peers 0=localhost:8080,1=localhost:8081,2=localhost:8082
//	./kvnode -id 1 -addr :8081 -data-dir /tmp/n1 -peers 0=localhost:8080,1=localhost:8081,2=localhost:8082
//	./kvnode -id 2 -addr :8082 -data-dir /tmp/n2 -peers 0=localhost:8080,1=localhost:8081,2=localhost:8082
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"causal-kv/internal/cluster"
	"causal-kv/internal/config"
	"causal-kv/internal/dispatcher"
	"causal-kv/internal/metrics"
	"causal-kv/internal/store"
	"causal-kv/internal/transport"

	"github.com/gin-gonic/gin"
)

func main() {
	// ── Flags ────────────────────────────────────────────────────────────
	nodeID := flag.Int("id", 0, "This node's id (index into -peers)")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/causal-kv", "Directory for WAL and snapshots")
	peersFlag := flag.String("peers", "", "Comma-separated peer list: id=host:port,id=host:port,...")
	wireFlag := flag.String("wire", "json", "Replication wire format: json or proto")
	configPath := flag.String("config", "", "Optional YAML config file (overrides other flags if set)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *nodeID, *addr, *dataDir, *peersFlag, *wireFlag)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// ── Storage ──────────────────────────────────────────────────────────
	s, err := store.New(cfg.DataDir, cfg.NodeID, cfg.N())
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer s.Close()

	// ── Replication ──────────────────────────────────────────────────────
	wire := cluster.WireJSON
	if cfg.Wire == "proto" {
		wire = cluster.WireProtobuf
	}
	peerClient := cluster.NewHTTPClient(5*time.Second, wire)
	replicator := cluster.NewReplicator(cfg.NodeID, cfg.Peers, peerClient, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replicator.Start(ctx)

	// ── Dispatcher + metrics ─────────────────────────────────────────────
	rec := metrics.New()
	d := dispatcher.New(s, replicator, rec, cfg.NodeID)

	// ── HTTP server ──────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	handler := transport.NewHandler(d, rec.Handler(), cfg.NodeID, cfg.N()-1)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("node %d listening on %s (peers=%d, wire=%s)", cfg.NodeID, cfg.Addr, cfg.N()-1, cfg.Wire)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Background snapshot every 60 seconds.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := s.SaveSnapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			}
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down node %d", cfg.NodeID)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := replicator.Close(); err != nil {
		log.Printf("replicator shutdown error: %v", err)
	}
	if err := s.SaveSnapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func loadConfig(configPath string, nodeID int, addr, dataDir, peersFlag, wire string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadYAML(configPath)
	}

	peers, err := config.ParsePeers(peersFlag)
	if err != nil {
		return nil, err
	}
	return &config.Config{
		NodeID:  nodeID,
		Addr:    addr,
		Peers:   peers,
		Wire:    wire,
		DataDir: dataDir,
	}, nil
}
