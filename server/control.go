// File: server/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control adapter implementing api.Control on top of the control package.

package server

import (
	"fmt"
	"maps"
	"math"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/control"
	"github.com/momentics/tinyws/transport/tcp"
)

const keyMaxConnections = "server.max_connections"

type controlAdapter struct {
	config   *control.ConfigStore
	debug    *control.DebugProbes
	listener *tcp.Listener
}

var _ api.Control = (*controlAdapter)(nil)

func newControlAdapter(cfg *control.Config, l *tcp.Listener) *controlAdapter {
	c := &controlAdapter{
		config:   control.NewConfigStore(cfg.Flatten()),
		debug:    control.NewDebugProbes(),
		listener: l,
	}
	control.RegisterPlatformProbes(c.debug)
	c.debug.RegisterProbe("listener.state", func() any { return l.State().String() })
	c.debug.RegisterProbe("listener.port", func() any { return l.Port() })
	c.debug.RegisterProbe("listener.connections", func() any { return l.CurrentConnections() })
	c.debug.RegisterProbe("listener.max_connections", func() any { return l.MaxConnections() })
	c.debug.RegisterProbe("listener.accept_cpu", func() any { return l.PinnedCPU() })
	c.debug.RegisterProbe("pool.read_buffers", func() any { return l.BufferStats() })
	return c
}

func (c *controlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig validates live-tunable keys, applies them and then publishes
// the change to reload listeners.
func (c *controlAdapter) SetConfig(cfg map[string]any) error {
	cfg = maps.Clone(cfg)
	if v, ok := cfg[keyMaxConnections]; ok {
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", api.ErrInvalidArgument, keyMaxConnections, err)
		}
		if err := c.listener.SetMaxConnections(n); err != nil {
			return err
		}
		cfg[keyMaxConnections] = n
	}
	c.config.SetConfig(cfg)
	return nil
}

func (c *controlAdapter) Stats() map[string]any {
	combined := map[string]any{
		"connections.current": c.listener.CurrentConnections(),
		"connections.max":     c.listener.MaxConnections(),
		"listener.state":      c.listener.State().String(),
	}
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *controlAdapter) OnReload(fn func()) {
	c.config.OnReload(func(map[string]any) { fn() })
}

func (c *controlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
