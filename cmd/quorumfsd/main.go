// quorumfsd is the replicated filesystem server. It joins the raft group
// named in the configuration, serves the command protocol on the RPC port and
// applies committed mutations to the local data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quorumfs/quorumfs/internal/logging"
	"github.com/quorumfs/quorumfs/pkg/config"
	"github.com/quorumfs/quorumfs/pkg/metrics"
	"github.com/quorumfs/quorumfs/pkg/rsm"
	"github.com/quorumfs/quorumfs/pkg/server"
	"github.com/quorumfs/quorumfs/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "quorumfsd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return err
	}
	log = log.With().Str("service", "quorumfsd").Logger()

	engine := storage.New(cfg.BasePath, log)
	if err := engine.Init(); err != nil {
		return err
	}

	node, err := rsm.NewNode(rsm.NodeConfig{
		RaftPath:          cfg.RaftPath,
		GroupID:           cfg.GroupID,
		PeerAddr:          cfg.PeerAddr,
		InitialConf:       cfg.InitialConf,
		ElectionTimeoutMs: cfg.ElectionTimeoutMs,
		SnapshotIntervalS: cfg.SnapshotIntervalS,
	}, engine, log)
	if err != nil {
		return err
	}

	exporter, err := rsm.NewExporter(context.Background(), rsm.ExporterConfig{
		Enabled:         cfg.SnapshotExport.Enabled,
		Bucket:          cfg.SnapshotExport.Bucket,
		Prefix:          cfg.SnapshotExport.Prefix,
		Region:          cfg.SnapshotExport.Region,
		Endpoint:        cfg.SnapshotExport.Endpoint,
		AccessKeyID:     cfg.SnapshotExport.AccessKeyID,
		SecretAccessKey: cfg.SnapshotExport.SecretAccessKey,
		Interval:        time.Duration(cfg.SnapshotExport.IntervalS) * time.Second,
	}, node.SnapshotStore(), log)
	if err != nil {
		_ = node.Shutdown()
		return err
	}
	exporter.Start()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	srv := server.New(server.Config{
		Addr:              cfg.RPCAddr,
		Port:              cfg.RPCPort,
		ReadTimeout:       time.Duration(cfg.Limits.ReadTimeoutS) * time.Second,
		WriteTimeout:      time.Duration(cfg.Limits.WriteTimeoutS) * time.Second,
		MaxConnections:    cfg.Limits.MaxConnections,
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
	}, node, engine, log)
	if err := srv.Start(); err != nil {
		_ = node.Shutdown()
		return err
	}

	log.Info().Str("peer", cfg.PeerAddr).Str("group", cfg.GroupID).Msg("node started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop taking requests before leaving the group, so no client observes a
	// half-dead node.
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("rpc server shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics endpoint shutdown failed")
		}
	}
	if err := exporter.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("snapshot exporter shutdown failed")
	}
	if err := node.Shutdown(); err != nil {
		log.Error().Err(err).Msg("raft shutdown failed")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
