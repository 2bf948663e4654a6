package portalloc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/config"
	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
)

// DefaultProbeTimeout bounds a single connect attempt.
const DefaultProbeTimeout = 400 * time.Millisecond

// Prober tells whether something already listens on host:port.
type Prober interface {
	InUse(ctx context.Context, host string, port int) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, host string, port int) (bool, error)

func (f ProberFunc) InUse(ctx context.Context, host string, port int) (bool, error) {
	return f(ctx, host, port)
}

// TCPProber connects to the port: an accepted connection means taken,
// refused or timed out means free. A host that does not resolve is a
// network error, since no port on it can be probed.
type TCPProber struct {
	Timeout time.Duration
}

func NewTCPProber() *TCPProber {
	return &TCPProber{Timeout: DefaultProbeTimeout}
}

func (p *TCPProber) InUse(ctx context.Context, host string, port int) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var dnsErr *net.DNSError
		if stderrors.As(err, &dnsErr) {
			return false, errors.NewNetworkError("failed to resolve probe host", err).
				WithContext("host", host).WithContext("port", port)
		}
		return false, nil
	}
	conn.Close()
	return true, nil
}

// FindFreePort returns the first port in [cfg.Port, cfg.MaxPort] on cfg.Host
// that the prober reports free. When that port differs from cfg.Port one
// "Switching to port" event is emitted. An exhausted window is a
// NoFreePortInRange error.
func FindFreePort(ctx context.Context, cfg config.DriverConfig, prober Prober, sink reporter.Sink) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	var lastErr error
	for port := cfg.Port; port <= cfg.MaxPort; port++ {
		if err := ctx.Err(); err != nil {
			return 0, errors.NewCancelledError("port scan cancelled", err).WithContext("port", port)
		}

		inUse, err := prober.InUse(ctx, cfg.Host, port)
		if err != nil {
			if ctx.Err() != nil {
				return 0, errors.NewCancelledError("port scan cancelled", err).WithContext("port", port)
			}
			// a port we cannot probe is not a safe bind target
			lastErr = err
			continue
		}
		if inUse {
			continue
		}

		if port != cfg.Port {
			sink.Emit(reporter.ChannelSystemLog, fmt.Sprintf("%s: Switching to port: %d", EventPrefix, port))
		}
		return port, nil
	}

	return 0, errors.NewNoFreePortError(
		fmt.Sprintf("no free port in range %d-%d on %s", cfg.Port, cfg.MaxPort, cfg.Host), lastErr,
	).WithContext("port", cfg.Port).WithContext("max_port", cfg.MaxPort).WithContext("host", cfg.Host)
}

// Allocate is ResolvePort followed by FindFreePort; the returned config
// carries the port the driver should bind.
func Allocate(ctx context.Context, defaults config.DriverConfig, overrides []config.BrowserOverrides, prober Prober, sink reporter.Sink) (config.DriverConfig, error) {
	resolved := ResolvePort(defaults, overrides, sink)
	port, err := FindFreePort(ctx, resolved, prober, sink)
	if err != nil {
		return resolved, err
	}
	resolved.Port = port
	return resolved, nil
}
