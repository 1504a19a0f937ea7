// Package relay implements the UDP NAT relay: the flow table driven
// event loop that accepts datagrams on a single inside listener, forwards
// each to a fixed upstream destination through a per-client socket, and
// demultiplexes replies back to their originating client.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/postalsys/udprelay/internal/flow"
	"github.com/postalsys/udprelay/internal/logging"
	"github.com/postalsys/udprelay/internal/metrics"
	"github.com/postalsys/udprelay/internal/netaddr"
)

// DefaultMaxAge is the idle timeout after which a silent flow is reaped.
// A fixed, compile-time constant as required by spec.md §4.4; Config.MaxAge
// may override it.
const DefaultMaxAge = 45 * time.Second

// MaxDatagramSize is the largest UDP payload the engine will read or
// forward in one piece; covers the largest payload possible over either
// IPv4 or IPv6 UDP.
const MaxDatagramSize = 65535

// Config configures a relay Engine.
type Config struct {
	Destination  netaddr.Addr // fixed upstream destination every flow forwards to
	BindTemplate netaddr.Addr // local address template for new flows' upstream sockets
	MaxAge       time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics // optional; nil disables instrumentation
}

// Engine is the relay's event loop: listener, flow table, and the rules
// that translate addresses between the two. State is owned by the Engine
// value — there is no process-global mutable state (spec.md §9).
type Engine struct {
	listener *Listener
	table    *flow.Table

	destination  netaddr.Addr
	bindTemplate netaddr.Addr
	maxAge       time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an Engine bound to an already-open Listener.
func New(listener *Listener, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Engine{
		listener:     listener,
		table:        flow.NewTable(),
		destination:  cfg.Destination,
		bindTemplate: cfg.BindTemplate,
		maxAge:       maxAge,
		logger:       logger.With(slog.String(logging.KeyComponent, "relay")),
		metrics:      cfg.Metrics,
		stopCh:       make(chan struct{}),
	}
}

// FlowCount returns the number of live flows, for diagnostics/tests.
func (e *Engine) FlowCount() int { return e.table.Len() }

// Run drives the relay until ctx is cancelled or Stop is called, then
// tears down every flow and the listener before returning. It runs the
// listener's inbound loop, the idle-sweep ticker and a shutdown monitor
// under one errgroup; neither loop returns an error, so teardown is
// triggered only by ctx cancellation or Stop (if inboundLoop exits on a
// recv error, the sweep keeps running until then) — the Go-idiomatic
// analogue of spec.md §5's single
// suspension point, since both goroutines ultimately block only on I/O
// the runtime's poller drives (see SPEC_FULL.md §1).
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.inboundLoop(ctx)
		return nil
	})
	g.Go(func() error {
		e.sweepLoop(ctx)
		return nil
	})
	g.Go(func() error {
		// ReadFromUDP on the listener and on every flow's upstream socket
		// blocks indefinitely; the only way to wake them on shutdown is to
		// close the underlying sockets, which is what unblocks
		// inboundLoop and every outsideLoop goroutine below.
		select {
		case <-ctx.Done():
		case <-e.stopCh:
		}
		e.stopping.Store(true)
		e.listener.Close()
		expired := e.table.IterateExpire(time.Now(), e.maxAge, true)
		for range expired {
			e.recordExpired("shutdown")
		}
		cancel()
		return nil
	})

	err := g.Wait()
	e.wg.Wait() // every outsideLoop goroutine has observed its closed socket by now
	e.logger.Info("relay stopped")
	return err
}

// Stop requests a graceful shutdown: the termination flag is set and the
// run loop unwinds (spec.md §4.4, §5 — signal -> flag -> wake -> teardown).
// Safe to call more than once and from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

// inboundLoop is the inside handler (spec.md §4.4): it reads datagrams
// from the listener until the socket closes, looking up or creating a
// flow for each one.
func (e *Engine) inboundLoop(ctx context.Context) {
	buf := make([]byte, MaxDatagramSize)
	conn := e.listener.Conn()

	for {
		n, raw, err := conn.ReadFromUDP(buf)
		if err != nil {
			if e.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Go's runtime netpoller absorbs EINTR/EAGAIN internally;
			// anything that surfaces here is a genuine I/O error on the
			// listener socket. Per spec.md §7 this aborts the inside
			// loop rather than the whole process.
			e.logger.Error("inside recv error, stopping inside loop", logging.KeyError, err)
			return
		}
		if n == 0 {
			continue
		}

		client := netaddr.FromUDPAddr(raw)
		e.handleInbound(client, buf[:n])

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handleInbound processes one datagram received from a client.
func (e *Engine) handleInbound(client netaddr.Addr, payload []byte) {
	if entry, ok := e.table.FindByClient(client); ok {
		e.forwardToDestination(entry, payload)
		return
	}
	e.createFlow(client, payload)
}

// forwardToDestination sends payload from an existing flow's upstream
// socket to the configured destination (spec.md §4.4 step 4). Go's net
// package never surfaces EWOULDBLOCK to the caller of WriteToUDP — the
// runtime poller blocks internally until the socket is writable — so
// every error here falls into spec.md §4.4/§7's "other errors: log and
// keep the flow" branch rather than the WouldBlock-drop branch.
func (e *Engine) forwardToDestination(entry *flow.Entry, payload []byte) {
	if _, err := entry.Upstream.WriteToUDP(payload, e.destination.ToUDPAddr()); err != nil {
		e.logger.Warn("forward to destination failed, keeping flow",
			logging.KeyClientAddr, entry.ClientAddr.String(),
			logging.KeyError, err)
		e.recordDropped("inbound", "send_error")
		return
	}
	entry.Touch(time.Now())
	e.recordForwarded("inbound", len(payload))
}

// createFlow handles a datagram from a client not currently in the table
// (spec.md §4.4 step 5): pinned-port replacement, new upstream socket,
// first send, and registration.
func (e *Engine) createFlow(client netaddr.Addr, payload []byte) {
	if e.bindTemplate.Port() != 0 {
		// Only one socket can hold a pinned port at a time.
		expired := e.table.IterateExpire(time.Now(), e.maxAge, true)
		for range expired {
			e.recordExpired("pinned_port_replace")
		}
	}

	upstream, err := openSocket(e.bindTemplate)
	if err != nil {
		e.logger.Error("failed to create upstream socket, dropping datagram",
			logging.KeyClientAddr, client.String(), logging.KeyError, err)
		e.recordFlowSetupError()
		return
	}

	if _, err := upstream.WriteToUDP(payload, e.destination.ToUDPAddr()); err != nil {
		upstream.Close()
		e.logger.Warn("failed to forward first datagram, dropping",
			logging.KeyClientAddr, client.String(), logging.KeyError, err)
		e.recordDropped("inbound", "send_error")
		return
	}

	local := netaddr.FromUDPAddr(upstream.LocalAddr().(*net.UDPAddr))
	entry := &flow.Entry{
		ClientAddr:     client,
		Upstream:       upstream,
		LocalBoundAddr: local,
	}
	entry.Touch(time.Now())
	e.table.Insert(entry)
	e.recordFlowCreated()
	e.recordForwarded("inbound", len(payload))

	e.logger.Debug("flow created",
		logging.KeyClientAddr, client.String(),
		logging.KeyUpstreamAddr, local.String(),
		logging.KeyDestAddr, e.destination.String())

	e.wg.Add(1)
	go e.outsideLoop(entry)
}

// outsideLoop is the outside handler (spec.md §4.4): it reads replies from
// one flow's upstream socket and relays them back to the client, until
// the socket closes.
func (e *Engine) outsideLoop(entry *flow.Entry) {
	defer e.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, err := entry.Upstream.ReadFromUDP(buf)
		if err != nil {
			// spec.md §9 open question: a non-transient recvfrom error on
			// a flow's upstream socket is logged; the flow is left to
			// idle expiry rather than removed here.
			if !errors.Is(err, net.ErrClosed) {
				e.logger.Warn("outside recv error",
					logging.KeyUpstreamAddr, entry.LocalBoundAddr.String(),
					logging.KeyError, err)
			}
			return
		}
		if n == 0 {
			continue
		}

		// spec.md §9 open question, preserved as-is: the source address
		// of the reply is not checked against the destination, so a
		// spoofed reply from a third party on this socket would still be
		// forwarded.
		if _, err := e.listener.Conn().WriteToUDP(buf[:n], entry.ClientAddr.ToUDPAddr()); err != nil {
			e.logger.Warn("failed to deliver reply to client, closing flow",
				logging.KeyClientAddr, entry.ClientAddr.String(),
				logging.KeyError, err)
			e.table.Remove(entry)
			e.recordExpired("send_failure")
			return
		}
		e.recordForwarded("outbound", n)
	}
}

// sweepLoop periodically reaps idle flows, independent of socket
// readiness — the ticker-driven analogue of udp.Handler.cleanupLoop in
// the teacher repo, which guarantees forward progress even during a
// quiet period with no inbound or outbound traffic at all.
func (e *Engine) sweepLoop(ctx context.Context) {
	interval := e.maxAge / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := e.table.IterateExpire(time.Now(), e.maxAge, false)
			if e.metrics != nil {
				e.metrics.RecordSweep(len(expired))
			}
			for range expired {
				e.recordExpired("idle")
			}
		}
	}
}

func (e *Engine) recordFlowCreated() {
	if e.metrics != nil {
		e.metrics.RecordFlowCreated()
	}
}

func (e *Engine) recordExpired(reason string) {
	if e.metrics != nil {
		e.metrics.RecordFlowExpired(reason)
	}
}

func (e *Engine) recordFlowSetupError() {
	if e.metrics != nil {
		e.metrics.RecordFlowSetupError()
	}
}

func (e *Engine) recordForwarded(direction string, n int) {
	if e.metrics != nil {
		e.metrics.RecordForwarded(direction, n)
	}
}

func (e *Engine) recordDropped(direction, reason string) {
	if e.metrics != nil {
		e.metrics.RecordDropped(direction, reason)
	}
}
