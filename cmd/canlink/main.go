package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-canlink/internal/bridge"
	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/transport"
	"github.com/kstaniek/go-canlink/internal/vbus"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canlink %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel, cfg.role)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	metrics.InitBuildInfo(version, commit, date, cfg.role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, l)
	stop()
	os.Exit(code)
}

// run wires nodes, backend, bridge and metrics, and blocks until ctx ends or
// a node asks the process to exit. It returns the process exit code.
func run(parent context.Context, cfg *appConfig, l *slog.Logger) int {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	roles := []string{cfg.role}
	if cfg.role == roleSim {
		roles = []string{roleController, roleResponder}
	}
	units := make([]*nodeUnit, 0, len(roles))
	defer func() {
		for _, u := range units {
			u.diag.Close()
		}
	}()
	for _, r := range roles {
		u, err := buildUnit(ctx, cfg, r, l)
		if err != nil {
			l.Error("node_init_error", "node", r, "error", err)
			return 1
		}
		units = append(units, u)
	}

	// Bridge clients share the node's bus when it is virtual; for hardware
	// backends they watch a monitor bus fed by the RX loop and the node's own
	// transmissions.
	bus := vbus.New()
	bus.OutBufSize = cfg.busBuffer
	var mon *vbus.Bus
	if cfg.backend != backendVirtual && cfg.listenAddr != "" {
		mon = vbus.New()
		mon.OutBufSize = cfg.busBuffer
	}

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	var hwTx transport.FrameSink
	for _, u := range units {
		tx, cleanup, err := initBackend(ctx, cfg, bus, u.input(mon), u.writerCallbacks(), l, &wg)
		if err != nil {
			l.Error("backend_init_error", "error", err)
			return 1
		}
		cleanups = append(cleanups, cleanup)
		if mon != nil {
			tx = transport.Tee(tx, mon.Broadcast)
		}
		u.tx.tx = tx
		hwTx = tx
	}

	var srv *bridge.Server
	if cfg.listenAddr != "" {
		opts := []bridge.ServerOption{
			bridge.WithListenAddr(cfg.listenAddr),
			bridge.WithLogger(l),
			bridge.WithMaxClients(cfg.maxClients),
			bridge.WithHandshakeTimeout(cfg.handshakeTO),
			bridge.WithReadDeadline(cfg.clientReadTO),
		}
		if mon != nil {
			u := units[0]
			opts = append(opts, bridge.WithBus(mon), bridge.WithSend(func(fr can.Frame) error {
				u.runner.FrameArrived(fr)
				return hwTx.SendFrame(fr)
			}))
		} else {
			opts = append(opts, bridge.WithBus(bus))
		}
		srv = bridge.NewServer(opts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				l.Error("bridge_error", "error", err)
			}
		}()
		go advertise(ctx, cfg, srv, l)
	}

	metrics.SetReadinessFunc(func() bool {
		if ctx.Err() != nil {
			return false
		}
		if srv != nil {
			select {
			case <-srv.Ready():
			default:
				return false
			}
		}
		for _, u := range units {
			if u.node.Fault() != nil {
				return false
			}
		}
		return true
	})
	if cfg.metricsAddr != "" {
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	exitCode := 0
	var exitOnce sync.Once
	var runWG sync.WaitGroup
	for _, u := range units {
		runWG.Add(1)
		go func() {
			defer runWG.Done()
			if err := u.run(ctx, cfg); err != nil {
				l.Error("node_exit", "node", u.name, "error", err)
				exitOnce.Do(func() { exitCode = 1 })
				cancel()
			}
		}()
	}

	<-ctx.Done()
	l.Info("shutdown")
	runWG.Wait()
	for _, u := range units {
		l.Info("node_final_state", statusOf(u)...)
	}
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		scancel()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
	wg.Wait()
	return exitCode
}

// advertise registers the bridge via mDNS once its listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *bridge.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	var port int
	if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
		port, _ = strconv.Atoi(p)
	}
	if port == 0 {
		l.Warn("mdns_no_port", "addr", srv.Addr())
		return
	}
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
	<-ctx.Done()
	cleanup()
}
