package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canlink_rx_frames_total",
		Help: "Total CAN frames received from the backend.",
	}, []string{"backend"})
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canlink_tx_frames_total",
		Help: "Total CAN frames handed to the backend device.",
	}, []string{"backend"})
	LEDCommandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_led_commands_sent_total",
		Help: "LED command frames submitted by the controller.",
	})
	LEDCommandsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_led_commands_applied_total",
		Help: "LED commands applied to the output lines by the responder.",
	})
	StatusRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_status_requests_sent_total",
		Help: "Status remote frames submitted by the controller.",
	})
	StatusRepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_status_replies_sent_total",
		Help: "Status replies submitted by the responder.",
	})
	StatusRepliesRecv = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_status_replies_received_total",
		Help: "Status replies interpreted and logged.",
	})
	IgnoredFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_ignored_frames_total",
		Help: "Frames with unrecognized identifiers or kinds.",
	})
	Faults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canlink_faults_total",
		Help: "Protocol faults by kind.",
	}, []string{"kind"})
	DiagDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_diag_dropped_total",
		Help: "Diagnostic lines dropped because the queue was full.",
	})
	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_vbus_dropped_frames_total",
		Help: "Frames dropped by the virtual bus due to slow endpoints.",
	})
	BridgeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canlink_bridge_clients",
		Help: "Current number of connected bridge clients.",
	})
	NodeFaulted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_node_faulted",
		Help: "1 when the node is in the terminal fault state.",
	}, []string{"node"})
	ActiveLED = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canlink_active_led",
		Help: "Currently selected output line (0 = none).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canlink_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date", "role"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canlink_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canlink_malformed_frames_total",
		Help: "Total rejected malformed wire frames (bad checksum, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Backend labels.
const (
	BackendSerial    = "serial"
	BackendSocketCAN = "socketcan"
	BackendVirtual   = "virtual"
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrVirtualOver    = "virtual_tx_overflow"
	ErrBridgeRead     = "bridge_read"
	ErrBridgeWrite    = "bridge_write"
	ErrHandshake      = "handshake"
	ErrEventOverflow  = "event_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx          uint64
	localTx          uint64
	localLEDSent     uint64
	localLEDApplied  uint64
	localReqSent     uint64
	localReplySent   uint64
	localReplyRecv   uint64
	localIgnored     uint64
	localFaults      uint64
	localDiagDropped uint64
	localBusDropped  uint64
	localBridgeCl    uint64
	localErrors      uint64
	localMalformed   uint64
	localFaulted     uint64
	localActiveLED   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Rx            uint64
	Tx            uint64
	LEDSent       uint64
	LEDApplied    uint64
	RequestsSent  uint64
	RepliesSent   uint64
	RepliesRecv   uint64
	Ignored       uint64
	Faults        uint64 // sum across fault kinds
	DiagDropped   uint64
	BusDropped    uint64
	BridgeClients uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
	Faulted       bool
	FaultedNodes  uint64
	ActiveLED     uint64
}

func Snap() Snapshot {
	return Snapshot{
		Rx:            atomic.LoadUint64(&localRx),
		Tx:            atomic.LoadUint64(&localTx),
		LEDSent:       atomic.LoadUint64(&localLEDSent),
		LEDApplied:    atomic.LoadUint64(&localLEDApplied),
		RequestsSent:  atomic.LoadUint64(&localReqSent),
		RepliesSent:   atomic.LoadUint64(&localReplySent),
		RepliesRecv:   atomic.LoadUint64(&localReplyRecv),
		Ignored:       atomic.LoadUint64(&localIgnored),
		Faults:        atomic.LoadUint64(&localFaults),
		DiagDropped:   atomic.LoadUint64(&localDiagDropped),
		BusDropped:    atomic.LoadUint64(&localBusDropped),
		BridgeClients: atomic.LoadUint64(&localBridgeCl),
		Errors:        atomic.LoadUint64(&localErrors),
		Malformed:     atomic.LoadUint64(&localMalformed),
		Faulted:       atomic.LoadUint64(&localFaulted) != 0,
		FaultedNodes:  atomic.LoadUint64(&localFaulted),
		ActiveLED:     atomic.LoadUint64(&localActiveLED),
	}
}

// IncRx counts a frame read from backend.
func IncRx(backend string) {
	RxFrames.WithLabelValues(backend).Inc()
	atomic.AddUint64(&localRx, 1)
}

// IncTx counts a frame written to backend.
func IncTx(backend string) {
	TxFrames.WithLabelValues(backend).Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncLEDSent() {
	LEDCommandsSent.Inc()
	atomic.AddUint64(&localLEDSent, 1)
}

func IncLEDApplied(sel uint8) {
	LEDCommandsApplied.Inc()
	atomic.AddUint64(&localLEDApplied, 1)
	ActiveLED.Set(float64(sel))
	atomic.StoreUint64(&localActiveLED, uint64(sel))
}

func IncRequestSent() {
	StatusRequestsSent.Inc()
	atomic.AddUint64(&localReqSent, 1)
}

func IncReplySent() {
	StatusRepliesSent.Inc()
	atomic.AddUint64(&localReplySent, 1)
}

func IncReplyRecv() {
	StatusRepliesRecv.Inc()
	atomic.AddUint64(&localReplyRecv, 1)
}

func IncIgnored() {
	IgnoredFrames.Inc()
	atomic.AddUint64(&localIgnored, 1)
}

// IncFault counts a protocol fault of the given kind label.
func IncFault(kind string) {
	Faults.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localFaults, 1)
}

func IncDiagDropped() {
	DiagDropped.Inc()
	atomic.AddUint64(&localDiagDropped, 1)
}

func IncBusDropped() {
	BusDropped.Inc()
	atomic.AddUint64(&localBusDropped, 1)
}

func SetBridgeClients(n int) {
	BridgeClients.Set(float64(n))
	atomic.StoreUint64(&localBridgeCl, uint64(n))
}

var (
	faultedMu    sync.Mutex
	faultedNodes = map[string]bool{}
)

// SetFaulted mirrors the fault state of one node. The local snapshot reports
// how many nodes are currently faulted.
func SetFaulted(node string, v bool) {
	var g float64
	if v {
		g = 1
	}
	NodeFaulted.WithLabelValues(node).Set(g)
	faultedMu.Lock()
	if v {
		faultedNodes[node] = true
	} else {
		delete(faultedNodes, node)
	}
	atomic.StoreUint64(&localFaulted, uint64(len(faultedNodes)))
	faultedMu.Unlock()
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date, role string) {
	BuildInfo.WithLabelValues(version, commit, date, role).Set(1)
	// Pre-register common label series so the first increment does not pay registration latency.
	for _, lbl := range []string{
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrVirtualOver, ErrBridgeRead, ErrBridgeWrite, ErrHandshake, ErrEventOverflow,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, k := range []string{"transport", "decode", "invariant", "output"} {
		Faults.WithLabelValues(k).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
