// Package network implements the gossip transport: length-prefixed JSON
// framing over TCP, per-peer send queues, duplicate suppression, and fault
// injection (drop/delay), independent of what the frames mean.
package network

import (
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"
)

// dialTimeout bounds how long an outbound connection attempt waits before
// giving up.
const dialTimeout = 2 * time.Second

// sendQueueCapacity bounds the number of frames queued for one peer before
// the overflow policy kicks in.
const sendQueueCapacity = 64

// EventHandler is the tracing hook threaded through every package in this
// repo instead of a concrete logger dependency.
type EventHandler func(v string, args ...any)

// PeerInfo is the transport's weak back-reference to a connection, handed
// to the dispatcher so the node orchestrator can build its own Peer record
// (the transport itself does not own peer_id/host/port bookkeeping beyond
// what routing needs).
type PeerInfo struct {
	PeerID   string
	Host     string
	Port     int
	Outbound bool
}

// Dispatcher receives events from the transport: newly established and
// torn-down connections, and decoded inbound frames that survived fault
// injection and duplicate suppression.
type Dispatcher interface {
	PeerConnected(info PeerInfo)
	PeerDisconnected(peerID string)
	HandleFrame(fromPeerID string, env Envelope)
}

// peerConn is one live TCP connection plus its bounded outbound queue.
type peerConn struct {
	peerID   string
	host     string
	conn     net.Conn
	outbound bool

	mu    sync.Mutex
	queue []Envelope

	notify chan struct{}
	done   chan struct{}
}

func newPeerConn(conn net.Conn, outbound bool) *peerConn {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	return &peerConn{
		host:     host,
		conn:     conn,
		outbound: outbound,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// enqueue appends env to the connection's outbound queue, applying the
// spec's overflow policy when the queue is already at capacity: NEW_TX
// drops the oldest queued NEW_TX to make room; CHAIN_RESPONSE drops the
// new message outright, since re-requesting a chain is cheap. Kinds the
// spec does not name an overflow policy for (HELLO, NEW_BLOCK, GET_CHAIN)
// fall back to dropping the oldest entry overall.
func (pc *peerConn) enqueue(env Envelope) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if len(pc.queue) >= sendQueueCapacity {
		switch env.Kind {
		case KindNewTx:
			dropped := false
			for i, q := range pc.queue {
				if q.Kind == KindNewTx {
					pc.queue = append(pc.queue[:i], pc.queue[i+1:]...)
					dropped = true
					break
				}
			}
			if !dropped {
				return
			}
		case KindChainResponse:
			return
		default:
			pc.queue = pc.queue[1:]
		}
	}

	pc.queue = append(pc.queue, env)
	select {
	case pc.notify <- struct{}{}:
	default:
	}
}

func (pc *peerConn) drain() []Envelope {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	q := pc.queue
	pc.queue = nil
	return q
}

func (pc *peerConn) close() {
	pc.conn.Close()
	select {
	case <-pc.done:
	default:
		close(pc.done)
	}
}

// =============================================================================

// Transport is one node's gossip endpoint: it accepts inbound connections,
// dials outbound peers, and moves Envelopes between them and a Dispatcher.
type Transport struct {
	selfID     string
	listenPort int
	dispatcher Dispatcher
	evHandler  EventHandler
	seen       *seenSet

	mu              sync.RWMutex
	dropProbability float64
	delay           time.Duration
	conns           map[*peerConn]struct{}
	byPeerID        map[string]*peerConn

	listener net.Listener
	shut     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Transport identifying itself as selfID, listening (once
// Listen is called) on listenPort. evHandler may be nil.
func New(selfID string, listenPort int, dispatcher Dispatcher, evHandler EventHandler) *Transport {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Transport{
		selfID:     selfID,
		listenPort: listenPort,
		dispatcher: dispatcher,
		evHandler:  evHandler,
		seen:       newSeenSet(),
		conns:      make(map[*peerConn]struct{}),
		byPeerID:   make(map[string]*peerConn),
		shut:       make(chan struct{}),
	}
}

// SetDropProbability configures the fraction of inbound frames randomly
// discarded before processing, for fault-injection testing.
func (t *Transport) SetDropProbability(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropProbability = p
}

// SetDelay configures a fixed sleep applied to every inbound frame before
// processing, for fault-injection testing.
func (t *Transport) SetDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.delay = d
}

// Listen opens addr for inbound connections and begins accepting them in
// the background.
func (t *Transport) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.listener = listener

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

// Close tears down the listener and every live connection, and waits for
// all of the transport's goroutines to exit.
func (t *Transport) Close() {
	close(t.shut)
	if t.listener != nil {
		t.listener.Close()
	}

	t.mu.Lock()
	conns := make([]*peerConn, 0, len(t.conns))
	for pc := range t.conns {
		conns = append(conns, pc)
	}
	t.mu.Unlock()

	for _, pc := range conns {
		pc.close()
	}

	t.wg.Wait()
}

// Dial connects to addr, exchanges HELLO, and begins serving the
// connection. The remote peer_id is learned from its HELLO reply.
func (t *Transport) Dial(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}

	t.serve(conn, true)
	return nil
}

// Broadcast queues env for delivery to every connected peer except
// exceptPeerID.
func (t *Transport) Broadcast(env Envelope, exceptPeerID string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, pc := range t.byPeerID {
		if id == exceptPeerID {
			continue
		}
		pc.enqueue(env)
	}
}

// SendTo queues env for delivery to exactly one peer. It reports whether
// the peer was known.
func (t *Transport) SendTo(peerID string, env Envelope) bool {
	t.mu.RLock()
	pc, exists := t.byPeerID[peerID]
	t.mu.RUnlock()

	if !exists {
		return false
	}

	pc.enqueue(env)
	return true
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	t.evHandler("network: acceptLoop: started")
	defer t.evHandler("network: acceptLoop: completed")

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.shut:
				return
			default:
				t.evHandler("network: acceptLoop: ERROR: %s", err)
				return
			}
		}

		t.serve(conn, false)
	}
}

// serve registers conn, exchanges HELLO, and starts its read/write
// goroutines. The connection is not yet addressable by peer_id until its
// HELLO is received.
func (t *Transport) serve(conn net.Conn, outbound bool) {
	pc := newPeerConn(conn, outbound)

	t.mu.Lock()
	t.conns[pc] = struct{}{}
	t.mu.Unlock()

	hello, err := newEnvelope(KindHello, t.selfID, HelloPayload{PeerID: t.selfID, ListenPort: t.listenPort})
	if err != nil {
		t.evHandler("network: serve: ERROR building HELLO: %s", err)
		t.teardown(pc)
		return
	}
	if err := encodeFrame(conn, hello); err != nil {
		t.evHandler("network: serve: ERROR sending HELLO: %s", err)
		t.teardown(pc)
		return
	}

	t.wg.Add(2)
	go t.writeLoop(pc)
	go t.readLoop(pc)
}

func (t *Transport) writeLoop(pc *peerConn) {
	defer t.wg.Done()

	for {
		select {
		case <-pc.done:
			return
		case <-t.shut:
			return
		case <-pc.notify:
			for _, env := range pc.drain() {
				if err := encodeFrame(pc.conn, env); err != nil {
					t.evHandler("network: writeLoop: peer[%s]: ERROR: %s", pc.peerID, err)
					t.teardown(pc)
					return
				}
			}
		}
	}
}

func (t *Transport) readLoop(pc *peerConn) {
	defer t.wg.Done()
	defer t.teardown(pc)

	helloReceived := false

	for {
		env, err := decodeFrame(pc.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.evHandler("network: readLoop: peer[%s]: ERROR: %s", pc.peerID, err)
			}
			return
		}

		if !helloReceived {
			if env.Kind != KindHello {
				t.evHandler("network: readLoop: protocol error: expected HELLO first, got kind[%s]", env.Kind)
				return
			}

			var hello HelloPayload
			if err := json.Unmarshal(env.Payload, &hello); err != nil {
				t.evHandler("network: readLoop: protocol error: malformed HELLO: %s", err)
				return
			}

			t.registerPeerID(pc, hello)
			helloReceived = true
			continue
		}

		t.inbound(pc, env)
	}
}

func (t *Transport) registerPeerID(pc *peerConn, hello HelloPayload) {
	t.mu.Lock()
	pc.peerID = hello.PeerID
	t.byPeerID[hello.PeerID] = pc
	t.mu.Unlock()

	if t.dispatcher != nil {
		t.dispatcher.PeerConnected(PeerInfo{
			PeerID:   hello.PeerID,
			Host:     pc.host,
			Port:     hello.ListenPort,
			Outbound: pc.outbound,
		})
	}
}

// inbound runs one decoded frame through fault injection, duplicate
// suppression, dispatch, and re-broadcast, in that order.
func (t *Transport) inbound(pc *peerConn, env Envelope) {
	t.mu.RLock()
	dropProbability := t.dropProbability
	delay := t.delay
	t.mu.RUnlock()

	if dropProbability > 0 && rand.Float64() < dropProbability {
		t.evHandler("network: inbound: peer[%s]: dropped kind[%s] (fault injection)", pc.peerID, env.Kind)
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	if t.seen.SeenOrAdd(digestOf(env.Payload)) {
		return
	}

	if t.dispatcher != nil {
		t.dispatcher.HandleFrame(pc.peerID, env)
	}

	t.Broadcast(env, pc.peerID)
}

func (t *Transport) teardown(pc *peerConn) {
	t.mu.Lock()
	delete(t.conns, pc)
	if pc.peerID != "" && t.byPeerID[pc.peerID] == pc {
		delete(t.byPeerID, pc.peerID)
	}
	peerID := pc.peerID
	t.mu.Unlock()

	pc.close()

	if peerID != "" && t.dispatcher != nil {
		t.dispatcher.PeerDisconnected(peerID)
	}
}
