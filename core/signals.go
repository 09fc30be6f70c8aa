package core

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mlbond/config"
	"mlbond/wire"
)

// WatchSignals registers SIGHUP for config reload and SIGINT/SIGTERM/
// SIGQUIT for graceful shutdown (spec §6 "Signals"). reload is invoked
// with the configured path on SIGHUP; its error is logged, and the
// previous configuration is retained on failure (spec §7 "Config:
// reload failure — retain previous config, log"). On success the
// returned configuration is discarded: running tunnels, logging and
// metrics keep the settings they started with. shutdown is invoked
// once, synchronously, on any of the terminating signals.
func (c *Core) WatchSignals(configPath string, reload func(path string) (*config.Config, error), shutdown func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				if _, err := reload(configPath); err != nil {
					c.Log.Error("config reload failed, retaining previous config", zap.Error(err))
					continue
				}
				c.Log.Info("config re-read and validated; running tunnels unchanged")
			default:
				shutdown()
				return
			}
		}
	}()
}

// SendDisconnectAll enqueues DISCONNECT on every up-like tunnel's
// high-priority queue (spec §5 "Shutdown... send DISCONNECT on the
// high-priority queue"). It only touches tunnel state, never the
// reactor, so callers driving their own select loop can invoke it from
// the same goroutine that processes events, preserving the single-
// threaded contract (spec §5) even though the signal itself is caught
// on a background goroutine.
func (c *Core) SendDisconnectAll() {
	for _, t := range c.Tunnels {
		if !t.AuthOKOrLossy() {
			continue
		}
		frame, err := c.encodeFrame(t, &wire.Packet{Type: wire.TypeDisconnect, FlowID: t.FlowID})
		if err == nil {
			t.HPSbuf.Push(frame)
		}
	}
}

// Shutdown sends DISCONNECT on every tunnel's high-priority queue and
// cancels the reactor's timers (spec §5 "Shutdown on SIGTERM/SIGINT/
// SIGQUIT: iterate tunnels, send DISCONNECT on the high-priority queue,
// stop timers, break the loop"). Safe for tests and any caller that
// doesn't otherwise need to keep state mutation on a single goroutine.
func (c *Core) Shutdown(r *Reactor) {
	c.SendDisconnectAll()
	if r != nil {
		r.Stop()
	}
}
