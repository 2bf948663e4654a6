// Package portalloc decides which TCP port the driver binds to: user
// overrides first, then a sequential scan of the port window for a port
// nobody else is using.
package portalloc

import (
	"fmt"

	"github.com/core-tools/hsu-iedriver/pkg/config"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
)

// EventPrefix tags every message emitted to the framework.
const EventPrefix = "hsu-iedriver"

// ResolvePort applies user overrides to defaults. A single port widens to
// [port, port+90]; a two element portRange is taken as is. Entries are
// applied in order, so the last one wins. Each applied override emits one
// event; no overrides, no events.
func ResolvePort(defaults config.DriverConfig, overrides []config.BrowserOverrides, sink reporter.Sink) config.DriverConfig {
	resolved := defaults
	for _, o := range overrides {
		switch {
		case o.Port != 0:
			resolved.Port = o.Port
			resolved.MaxPort = o.Port + config.SinglePortWindow
			sink.Emit(reporter.ChannelSystemLog,
				fmt.Sprintf("%s: Switching to user defined port: %d", EventPrefix, resolved.Port))
		case len(o.PortRange) == 2:
			resolved.Port = o.PortRange[0]
			resolved.MaxPort = o.PortRange[1]
			sink.Emit(reporter.ChannelSystemLog,
				fmt.Sprintf("%s: Switching to user defined port(s): %d -> %d", EventPrefix, resolved.Port, resolved.MaxPort))
		}
	}
	return resolved
}
