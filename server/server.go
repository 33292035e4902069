// Package server implements the daemon side: device registry, the
// control-socket accept loop, and the glue wiring streamlist/routing/
// serverstate/loopback/metrics into one running process (spec §4, §6).
//
// Grounded on rustyguts-bken/server/server.go's Server.Run (construct once,
// Run(ctx) blocks, shut down on ctx.Done()) adapted from an HTTPS/WebSocket
// listener to a raw AF_UNIX SOCK_SEQPACKET one, using golang.org/x/sys/unix
// directly rather than net.UnixListener so the accept loop's fds share the
// blocking-syscall semantics internal/wire's ReadMessage/WriteMessage
// already assume.
package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"audiosrv/internal/iodev"
	"audiosrv/internal/loopback"
	"audiosrv/internal/routing"
	"audiosrv/internal/serverstate"
	"audiosrv/internal/streamlist"
	"audiosrv/internal/wire"
)

// floopOutputBase / floopInputBase reserve device-index ranges for
// flexible-loopback pairs, well above any realistic number of real
// devices (spec §4.9, §6).
const (
	floopOutputBase = 1000
	floopInputBase  = 2000
)

// ShutdownTimeout bounds the graceful shutdown of cmd/audiosrvd's metrics
// HTTP server after ctx is cancelled. Run does not use it: it waits for
// in-flight connection handlers to return with no time limit.
const ShutdownTimeout = 500 * time.Millisecond

// listenBacklog is the SOCK_SEQPACKET backlog passed to unix.Listen.
const listenBacklog = 16

// Server is one running audiosrv daemon instance.
type Server struct {
	cfg Config

	mu         sync.Mutex
	devices    map[uint32]*iodev.Device
	nextDevIdx uint32
	listenFd   int
	clients    map[uint32]*rclient

	streams *streamlist.List
	state   *serverstate.State
	floop   *loopback.FloopManager
	policy  *routing.Policy
	metrics routing.MetricsSink
}

// New constructs a Server with its internal subsystems wired together but
// not yet listening.
func New(cfg Config, metrics routing.MetricsSink) *Server {
	s := &Server{
		cfg:        cfg,
		devices:    make(map[uint32]*iodev.Device),
		nextDevIdx: iodev.MaxSpecialDeviceIdx + 1,
		listenFd:   -1,
		clients:    make(map[uint32]*rclient),
		streams:    streamlist.New(),
		state:      serverstate.New(),
		floop:      loopback.NewFloopManager(floopOutputBase, floopInputBase),
		metrics:    metrics,
	}
	s.policy = routing.New(s.streams, s.state, s.floop, metrics, s, cfg.DefaultCBThreshold)
	s.streams.SetOnChanged(func() {
		s.state.SetNumActiveStreams(s.streams.Count())
	})
	return s
}

// AddDevice registers a device with both the server's own catalog (for
// SET_NODE_ATTR-style per-device dispatch) and the routing policy, and
// returns the assigned index.
func (s *Server) AddDevice(dir wire.Direction, name string, backend iodev.Backend, isFallback bool) *iodev.Device {
	s.mu.Lock()
	idx := s.nextDevIdx
	s.nextDevIdx++
	s.mu.Unlock()

	legacyDir := 0
	if dir == wire.Input {
		legacyDir = 1
	}
	dev := iodev.NewDevice(idx, legacyDir, name, backend)

	s.mu.Lock()
	s.devices[idx] = dev
	s.mu.Unlock()

	s.policy.RegisterDevice(dir, dev, isFallback)
	return dev
}

// Device returns the device registered at idx, or nil.
func (s *Server) Device(idx uint32) *iodev.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[idx]
}

// Run listens on cfg.SocketDir/audiosrv.sock and accepts client connections
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	sockPath, err := socketPath(s.cfg.SocketDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.cfg.SocketDir, 0755); err != nil {
		return fmt.Errorf("server: socket dir: %w", err)
	}
	os.Remove(sockPath) // stale socket left by a prior crashed run

	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.Bind(lfd, &unix.SockaddrUnix{Name: sockPath}); err != nil {
		unix.Close(lfd)
		return fmt.Errorf("server: bind %s: %w", sockPath, err)
	}
	if err := unix.Listen(lfd, listenBacklog); err != nil {
		unix.Close(lfd)
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	s.listenFd = lfd
	s.mu.Unlock()

	log.Printf("[server] listening on %s", sockPath)

	go func() {
		<-ctx.Done()
		unix.Close(lfd)
	}()

	var wg sync.WaitGroup
	for {
		connFd, _, err := unix.Accept4(lfd, 0)
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, connFd)
		}()
	}
}

func socketPath(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("server: empty socket dir")
	}
	return dir + "/audiosrv.sock", nil
}

// Policy exposes the routing policy for test harnesses and cmd wiring that
// need to drive device registration directly.
func (s *Server) Policy() *routing.Policy { return s.policy }

// State exposes the shared server-state region.
func (s *Server) State() *serverstate.State { return s.state }

// Streams exposes the canonical stream registry.
func (s *Server) Streams() *streamlist.List { return s.streams }
