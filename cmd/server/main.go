package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"conduit/api/grpcserver"
	"conduit/api/ws"
	"conduit/config"
	"conduit/infra/kafka"
	"conduit/infra/logger"
	"conduit/infra/metrics"
	"conduit/infra/outbox"
	"conduit/infra/sequence"
	"conduit/jobs/broadcaster"
	"conduit/jobs/ingest"
	"conduit/service"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "conduit:", err)
		os.Exit(1)
	}
}

func run(configPath string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- Outbox ----------------

	ob, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ob.Close()) }()

	// ---------------- Sequencer ----------------

	// resume above anything the outbox still holds so replayed and fresh
	// envelopes never share a sequence number
	last, err := ob.LastSeq()
	if err != nil {
		return fmt.Errorf("outbox last seq: %w", err)
	}
	seq := sequence.New(last)

	// ---------------- Hub ----------------

	m := metrics.New()
	hub := service.NewHub(seq, log, m)
	defer hub.Close()
	// envelopes that never reached the outbox still consumed numbers
	defer func() { err = multierr.Append(err, ob.Advance(hub.LastSeq())) }()

	g, ctx := errgroup.WithContext(ctx)

	// ---------------- Background Jobs ----------------

	if cfg.Kafka.OutTopic != "" {
		sink, serr := newSink(cfg.Kafka)
		if serr != nil {
			return serr
		}
		defer func() { err = multierr.Append(err, sink.Close()) }()

		bc := broadcaster.New(hub, ob, sink,
			broadcaster.WithRetryInterval(cfg.Kafka.RetryInterval),
			broadcaster.WithLogger(log),
			broadcaster.WithMetrics(m),
		)
		g.Go(func() error { return bc.Run(ctx) })
	}

	if cfg.Kafka.InTopic != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.InTopic, cfg.Kafka.GroupID)
		defer func() { err = multierr.Append(err, consumer.Close()) }()

		job := ingest.New(consumer, hub, cfg.Kafka.InTopic, log)
		g.Go(func() error { return job.Run(ctx) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(log)))
	grpcserver.RegisterFanoutServer(grpcSrv, grpcserver.NewServer(hub, log))

	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		stopGRPC(grpcSrv)
		return nil
	})

	// ---------------- HTTP ----------------

	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws.NewHandler(hub, log))
	mux.Handle("GET /metrics", m.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	log.Info("conduit running",
		zap.Uint64("resume_seq", last),
		zap.String("driver", cfg.Kafka.Driver),
		zap.String("out_topic", cfg.Kafka.OutTopic),
		zap.String("in_topic", cfg.Kafka.InTopic),
	)

	err = g.Wait()
	log.Info("conduit stopped", zap.Error(err))
	return err
}

func newSink(cfg config.Kafka) (broadcaster.Sink, error) {
	switch cfg.Driver {
	case config.DriverKafkaGo:
		return kafka.NewProducer(cfg.Brokers, cfg.OutTopic), nil
	default:
		p, err := kafka.NewSaramaProducer(cfg.Brokers, cfg.OutTopic)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// stopGRPC drains in-flight calls, cutting open subscribe streams after
// shutdownTimeout.
func stopGRPC(s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.Stop()
	}
}
