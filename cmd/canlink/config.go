package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-canlink/internal/board"
	"github.com/kstaniek/go-canlink/internal/protocol"
)

const (
	roleController = "controller"
	roleResponder  = "responder"
	roleSim        = "sim"

	backendSerial    = "serial"
	backendSocketCAN = "socketcan"
	backendVirtual   = "virtual"

	onFaultHalt  = "halt"
	onFaultReset = "reset"
	onFaultExit  = "exit"
)

type appConfig struct {
	role            string
	backend         string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	canIf           string
	tick            time.Duration
	requestEvery    int
	seed            int
	statusReply     [protocol.StatusLen]byte
	statusReplyHex  string
	ledPins         []string
	activityPin     string
	startPin        string
	diagBuffer      int
	txQueue         int
	busBuffer       int
	listenAddr      string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	onFault         string
	resetDelay      time.Duration
	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		role:           roleSim,
		backend:        backendVirtual,
		serialDev:      "/dev/ttyUSB0",
		baud:           115200,
		serialReadTO:   50 * time.Millisecond,
		canIf:          "can0",
		tick:           time.Second,
		requestEvery:   4,
		seed:           int(protocol.MinLED),
		statusReply:    protocol.DefaultStatusReply,
		statusReplyHex: "ABCD",
		diagBuffer:     256,
		txQueue:        txQueueSize,
		busBuffer:      64,
		handshakeTO:    3 * time.Second,
		clientReadTO:   60 * time.Second,
		onFault:        onFaultHalt,
		resetDelay:     time.Second,
		logFormat:      "text",
		logLevel:       "info",
	}
}

func parseFlags() (*appConfig, bool) {
	cfg := defaultConfig()
	fs := flag.CommandLine
	fs.StringVar(&cfg.role, "role", cfg.role, "Node role: controller|responder|sim (sim runs both on a virtual bus)")
	fs.StringVar(&cfg.backend, "backend", cfg.backend, "CAN backend: serial|socketcan|virtual")
	fs.StringVar(&cfg.serialDev, "serial", cfg.serialDev, "Serial device path")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface (when -backend=socketcan)")
	fs.DurationVar(&cfg.tick, "tick", cfg.tick, "Controller tick period")
	fs.IntVar(&cfg.requestEvery, "request-every", cfg.requestEvery, "Ticks between status requests")
	fs.IntVar(&cfg.seed, "seed", cfg.seed, "Initial LED selector 1..4 (first command carries the next one)")
	fs.StringVar(&cfg.statusReplyHex, "status-reply", cfg.statusReplyHex, "Responder status reply, 4 hex digits")
	ledPins := fs.String("led-pins", "", "Comma-separated GPIO names of the 4 responder LEDs (empty = in-memory)")
	fs.StringVar(&cfg.activityPin, "activity-pin", "", "GPIO name toggled per LED command (controller)")
	fs.StringVar(&cfg.startPin, "start-pin", "", "GPIO name of the start button (controller; empty = start immediately)")
	fs.IntVar(&cfg.diagBuffer, "diag-buffer", cfg.diagBuffer, "Diagnostic line queue size")
	fs.IntVar(&cfg.txQueue, "tx-queue", cfg.txQueue, "Backend transmit queue size (frames)")
	fs.IntVar(&cfg.busBuffer, "bus-buffer", cfg.busBuffer, "Per-endpoint virtual bus buffer (frames)")
	fs.StringVar(&cfg.listenAddr, "listen", "", "Cannelloni bridge TCP listen address (empty disables)")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous bridge clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", cfg.handshakeTO, "Bridge client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", cfg.clientReadTO, "Bridge per-connection read deadline")
	fs.StringVar(&cfg.onFault, "on-fault", cfg.onFault, "Transport fault policy: halt|reset|exit")
	fs.DurationVar(&cfg.resetDelay, "reset-delay", cfg.resetDelay, "Delay before clearing a fault (with -on-fault=reset)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the bridge via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default canlink-<role>-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.ledPins = splitPins(*ledPins)

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func splitPins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseStatusReply(s string) ([protocol.StatusLen]byte, error) {
	var v [protocol.StatusLen]byte
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return v, err
	}
	if len(b) != protocol.StatusLen {
		return v, fmt.Errorf("want %d bytes, got %d", protocol.StatusLen, len(b))
	}
	copy(v[:], b)
	return v, nil
}

// validate performs semantic validation of the parsed configuration. It does
// not open devices or listeners. It also fills derived fields.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.role {
	case roleController, roleResponder, roleSim:
	default:
		return fmt.Errorf("invalid role: %s", c.role)
	}
	switch c.backend {
	case backendSerial, backendSocketCAN, backendVirtual:
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.role == roleSim && c.backend != backendVirtual {
		return fmt.Errorf("role sim requires backend virtual (got %s)", c.backend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.onFault {
	case onFaultHalt, onFaultReset, onFaultExit:
	default:
		return fmt.Errorf("invalid on-fault: %s", c.onFault)
	}
	if c.tick <= 0 {
		return fmt.Errorf("tick must be > 0")
	}
	if c.requestEvery < 1 || c.requestEvery > 255 {
		return fmt.Errorf("request-every must be in 1..255 (got %d)", c.requestEvery)
	}
	if c.seed < int(protocol.MinLED) || c.seed > int(protocol.MaxLED) {
		return fmt.Errorf("seed must be in %d..%d (got %d)", protocol.MinLED, protocol.MaxLED, c.seed)
	}
	reply, err := parseStatusReply(c.statusReplyHex)
	if err != nil {
		return fmt.Errorf("invalid status-reply %q: %w", c.statusReplyHex, err)
	}
	c.statusReply = reply
	if len(c.ledPins) != 0 && len(c.ledPins) != board.NumLines {
		return fmt.Errorf("led-pins needs %d names (got %d)", board.NumLines, len(c.ledPins))
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.diagBuffer <= 0 {
		return fmt.Errorf("diag-buffer must be > 0 (got %d)", c.diagBuffer)
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.busBuffer <= 0 {
		return fmt.Errorf("bus-buffer must be > 0 (got %d)", c.busBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.resetDelay < 0 {
		return fmt.Errorf("reset-delay must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CANLINK_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations use time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	lookup := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := lookup(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, lo int, dst *int) {
		if v, ok := lookup(flagName, key); ok {
			n, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fail(key, err)
			case n < lo:
				fail(key, fmt.Errorf("%d < %d", n, lo))
			default:
				*dst = n
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := lookup(flagName, key); ok {
			d, err := time.ParseDuration(v)
			switch {
			case err != nil:
				fail(key, err)
			case d < 0:
				fail(key, fmt.Errorf("negative duration %v", d))
			default:
				*dst = d
			}
		}
	}

	str("role", "CANLINK_ROLE", &c.role)
	str("backend", "CANLINK_BACKEND", &c.backend)
	str("serial", "CANLINK_SERIAL", &c.serialDev)
	num("baud", "CANLINK_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "CANLINK_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("can-if", "CANLINK_IF", &c.canIf)
	dur("tick", "CANLINK_TICK", &c.tick)
	num("request-every", "CANLINK_REQUEST_EVERY", 1, &c.requestEvery)
	num("seed", "CANLINK_SEED", 1, &c.seed)
	str("status-reply", "CANLINK_STATUS_REPLY", &c.statusReplyHex)
	if v, ok := lookup("led-pins", "CANLINK_LED_PINS"); ok {
		c.ledPins = splitPins(v)
	}
	str("activity-pin", "CANLINK_ACTIVITY_PIN", &c.activityPin)
	str("start-pin", "CANLINK_START_PIN", &c.startPin)
	num("diag-buffer", "CANLINK_DIAG_BUFFER", 1, &c.diagBuffer)
	num("tx-queue", "CANLINK_TX_QUEUE", 1, &c.txQueue)
	num("bus-buffer", "CANLINK_BUS_BUFFER", 1, &c.busBuffer)
	str("listen", "CANLINK_LISTEN", &c.listenAddr)
	num("max-clients", "CANLINK_MAX_CLIENTS", 0, &c.maxClients)
	dur("handshake-timeout", "CANLINK_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "CANLINK_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	str("on-fault", "CANLINK_ON_FAULT", &c.onFault)
	dur("reset-delay", "CANLINK_RESET_DELAY", &c.resetDelay)
	if _, ok := set["metrics-addr"]; !ok {
		// empty value is meaningful here: it disables the endpoint
		if v, ok := os.LookupEnv("CANLINK_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	str("log-format", "CANLINK_LOG_FORMAT", &c.logFormat)
	str("log-level", "CANLINK_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "CANLINK_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	if v, ok := lookup("mdns-enable", "CANLINK_MDNS_ENABLE"); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.mdnsEnable = true
		case "0", "false", "no", "off":
			c.mdnsEnable = false
		}
	}
	str("mdns-name", "CANLINK_MDNS_NAME", &c.mdnsName)
	return firstErr
}
