package imapwire

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricCommands = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailcache_imap_command_duration_seconds",
		Help:    "IMAP client command duration and result.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	},
	[]string{
		"cmd",
		"result", // ok, no, bad, other, ioerror, protocol, canceled
	},
)

func observeCommand(cmd, tag string, start time.Time, resp string, err error) {
	metricCommands.WithLabelValues(cmd, commandResult(tag, resp, err)).Observe(time.Since(start).Seconds())
}

func commandResult(tag, resp string, err error) string {
	var pe *ProtocolError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		return "protocol"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "ioerror"
	}
	i := strings.LastIndex(resp, tag+" ")
	if i < 0 {
		return "ok"
	}
	fields := strings.Fields(resp[i:])
	if len(fields) < 2 {
		return "ok"
	}
	switch status := strings.ToLower(fields[1]); status {
	case "ok", "no", "bad":
		return status
	default:
		return "other"
	}
}

// commandName returns the metric label for a command line: the verb, and
// for UID commands the verb it prefixes.
func commandName(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "unknown"
	}
	name := strings.ToUpper(fields[1])
	if name == "UID" && len(fields) > 2 {
		name += " " + strings.ToUpper(fields[2])
	}
	return name
}
