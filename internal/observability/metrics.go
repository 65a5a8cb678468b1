package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "brainrot"

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Inbound frames by command and decode result.",
		},
		[]string{"command", "result"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Domain events emitted by kind.",
		},
		[]string{"kind"},
	)
	phaseGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "phase",
			Help:      "1 for the current connection phase, 0 otherwise.",
		},
		[]string{"phase"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "commands_total",
			Help:      "Outbound commands released to the transport.",
		},
		[]string{"verb", "success"},
	)
	throttleWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "wait_seconds",
			Help:      "Time a released command waited for a token.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "attempts_total",
			Help:      "Connection attempts by outcome.",
		},
		[]string{"outcome"},
	)
	busDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Events dropped from lagging consumer queues.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var phases = []session.Phase{
	session.PhaseDisconnected,
	session.PhaseConnecting,
	session.PhaseRegistering,
	session.PhaseReady,
}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			eventsTotal,
			phaseGauge,
			commandsTotal,
			throttleWait,
			reconnectsTotal,
			busDrops,
			httpRequests,
			httpDuration,
		)
	})
}

// RecordFrame counts one inbound line. Unknown or undecodable commands are
// folded into "other" to bound label cardinality.
func RecordFrame(command string, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	framesTotal.WithLabelValues(commandLabel(command), result).Inc()
}

func RecordEvent(kind session.Kind) {
	RegisterMetrics()
	eventsTotal.WithLabelValues(string(kind)).Inc()
}

func SetPhase(current session.Phase) {
	RegisterMetrics()
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		phaseGauge.WithLabelValues(p.String()).Set(v)
	}
}

func RecordCommand(verb string, success bool) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(commandLabel(verb), strconv.FormatBool(success)).Inc()
}

func ObserveThrottleWait(d time.Duration) {
	RegisterMetrics()
	throttleWait.Observe(d.Seconds())
}

// RecordReconnect counts one attempt outcome: "ready", "failed" or "exhausted".
func RecordReconnect(outcome string) {
	RegisterMetrics()
	reconnectsTotal.WithLabelValues(outcome).Inc()
}

func RecordBusDrop() {
	RegisterMetrics()
	busDrops.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

var knownCommands = map[string]bool{
	"PING": true, "PONG": true, "PASS": true, "NICK": true, "USER": true,
	"JOIN": true, "PART": true, "KICK": true, "QUIT": true, "PRIVMSG": true,
	"NOTICE": true, "MODE": true, "TOPIC": true, "ERROR": true, "CAP": true,
	"AWAY": true, "INVITE": true, "WHO": true, "WHOIS": true, "NAMES": true,
}

func commandLabel(command string) string {
	command = strings.ToUpper(strings.TrimSpace(command))
	if knownCommands[command] {
		return command
	}
	if len(command) == 3 && command[0] >= '0' && command[0] <= '9' {
		return "numeric"
	}
	return "other"
}
