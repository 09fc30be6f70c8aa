package main

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"mlbond/config"
	"mlbond/core"
	"mlbond/logging"
	"mlbond/metrics"
	"mlbond/tunio"
	"mlbond/tunnel"
	"mlbond/wire"
)

// udpEvent is one datagram read off a tunnel's socket, handed from that
// tunnel's dedicated reader goroutine to the single core-processing loop
// (spec §5: per-packet work is serialized through one goroutine; the
// reader goroutines here only perform the blocking syscall, mirroring how
// wireguard-go's own tun reader is the one sanctioned background reader).
type udpEvent struct {
	idx  int
	buf  []byte
	from *net.UDPAddr
}

const readBufSize = wire.HeaderSize + wire.DefaultMTU + 32

func buildTunnels(cfg *config.Config) ([]*tunnel.Tunnel, error) {
	tunnels := make([]*tunnel.Tunnel, 0, len(cfg.Tunnels))
	for i, tc := range cfg.Tunnels {
		var key [32]byte
		if !tc.CleartextData {
			k, err := tc.DecodeKey()
			if err != nil {
				return nil, fmt.Errorf("tunnel %s: %w", tc.Name, err)
			}
			key = k
		}
		codec, err := wire.NewCodec(key, tc.CleartextData)
		if err != nil {
			return nil, fmt.Errorf("tunnel %s: codec: %w", tc.Name, err)
		}

		var role tunnel.Role
		switch tc.Role {
		case "client":
			role = tunnel.RoleClient
		case "server":
			role = tunnel.RoleServer
		}

		t := tunnel.New(tc.Name, int32(i+1), role, codec)
		t.FallbackOnly = tc.FallbackOnly
		t.BindDevice = tc.BindDevice
		t.Quota = tc.Quota
		t.Permitted = tc.Permitted
		if tc.BindAddr != "" {
			addr, err := net.ResolveUDPAddr("udp", tc.BindAddr)
			if err != nil {
				return nil, fmt.Errorf("tunnel %s: %w", tc.Name, err)
			}
			t.BindAddr = addr
		}
		if tc.DestAddr != "" {
			addr, err := net.ResolveUDPAddr("udp", tc.DestAddr)
			if err != nil {
				return nil, fmt.Errorf("tunnel %s: %w", tc.Name, err)
			}
			t.DestAddr = addr
		}

		switch role {
		case tunnel.RoleClient:
			if err := t.Dial(); err != nil {
				return nil, err
			}
			t.BeginConnect()
			// Encoded directly (not via Core.encodeFrame): no loss sample
			// exists yet at initial connect, so sent_loss is correctly zero.
			authFrame, err := t.Codec.Encode(&wire.Packet{
				Type: wire.TypeAuth, Payload: wire.EncodeAuth(t.Permitted), FlowID: t.FlowID,
			})
			if err != nil {
				return nil, fmt.Errorf("tunnel %s: encode auth: %w", tc.Name, err)
			}
			t.HPSbuf.Push(authFrame)
		case tunnel.RoleServer:
			if err := t.Listen(); err != nil {
				return nil, err
			}
		}
		tunnels = append(tunnels, t)
	}
	return tunnels, nil
}

// runDaemon wires every ambient and domain component together and drives
// the single-threaded event loop until a terminating signal arrives
// (spec §5, §4.7, §4.9).
func runDaemon(cfg *config.Config, configPath, user string, quiet bool) error {
	log := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Path:    cfg.Log.Path,
		Console: cfg.Log.Console,
		Quiet:   quiet,
	})
	defer log.Sync()

	m := metrics.New()
	if err := m.Serve(cfg.Metrics.Listen); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var dev tunio.Device
	if cfg.Device.Name != "" {
		d, err := tunio.Open(cfg.Device.Name, cfg.Device.MTU)
		if err != nil {
			return fmt.Errorf("tun device: %w", err)
		}
		dev = d
	}

	tunnels, err := buildTunnels(cfg)
	if err != nil {
		return fmt.Errorf("tunnels: %w", err)
	}

	if user != "" {
		if err := dropPrivileges(user); err != nil {
			return fmt.Errorf("drop privileges: %w", err)
		}
	}

	c := core.New(tunnels, cfg.LossTolerence, log, m)
	c.RunScript = runLifecycleScript

	reactor := core.NewReactor()
	c.WirePeriodicTimers(reactor, dev)
	c.WatchSignals(configPath, func(path string) (*config.Config, error) {
		return config.Load(path)
	}, reactor.Stop)

	events := make(chan udpEvent, 256)
	for i, t := range tunnels {
		go readTunnelLoop(i, t, events)
	}

	var tunReads chan []byte
	if dev != nil {
		tunReads = make(chan []byte, 256)
		go readTunLoop(dev, tunReads)
	}

	log.Info("mlbond started", zap.Int("tunnels", len(tunnels)))
	eventLoop(c, dev, reactor, events, tunReads)
	log.Info("mlbond stopped")
	return nil
}

func eventLoop(c *core.Core, dev tunio.Device, r *core.Reactor, events <-chan udpEvent, tunReads <-chan []byte) {
	for {
		wait := 1 * time.Second
		if deadline, ok := r.NextDeadline(); ok {
			if d := time.Until(deadline); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)

		select {
		case <-r.Done():
			timer.Stop()
			c.SendDisconnectAll()
			flushQueues(c)
			return
		case ev, ok := <-events:
			timer.Stop()
			if !ok {
				return
			}
			_ = c.HandleTunnelRead(ev.idx, ev.buf, ev.from, dev)
			flushQueues(c)
		case pkt, ok := <-tunReads:
			timer.Stop()
			if !ok {
				return
			}
			_ = c.HandleTunRead(pkt)
			flushQueues(c)
		case now := <-timer.C:
			r.Tick(now)
			flushQueues(c)
		}
	}
}

func readTunnelLoop(idx int, t *tunnel.Tunnel, events chan<- udpEvent) {
	for {
		buf := make([]byte, readBufSize)
		var n int
		var from *net.UDPAddr
		var err error
		if t.Role == tunnel.RoleClient {
			n, err = t.Conn.Read(buf)
			from = t.Peer
		} else {
			n, from, err = t.Conn.ReadFromUDP(buf)
		}
		if err != nil {
			return
		}
		events <- udpEvent{idx: idx, buf: buf[:n], from: from}
	}
}

func readTunLoop(dev tunio.Device, out chan<- []byte) {
	for {
		buf := make([]byte, wire.DefaultMTU)
		n, err := dev.Read(buf, 0)
		if err != nil {
			return
		}
		out <- buf[:n]
	}
}

// flushQueues writes every frame queued on each tunnel's high-priority
// and normal send buffers since the last event was processed (spec §3
// "Sbuf/HPSbuf", §5 "drain priority queue first").
func flushQueues(c *core.Core) {
	for _, t := range c.Tunnels {
		if t.Conn == nil {
			continue
		}
		for _, frame := range t.HPSbuf.Drain() {
			writeFrame(t, frame)
		}
		for _, frame := range t.Sbuf.Drain() {
			writeFrame(t, frame)
		}
	}
}

func writeFrame(t *tunnel.Tunnel, frame []byte) {
	if t.Role == tunnel.RoleClient {
		_, _ = t.Conn.Write(frame)
		return
	}
	if t.Peer == nil {
		return
	}
	_, _ = t.Conn.WriteToUDP(frame, t.Peer)
}

// runLifecycleScript is the default RunScript hook; it runs nothing for
// any event (spec §6 "Privileged helper contract").
func runLifecycleScript(name string, env map[string]string) {}
