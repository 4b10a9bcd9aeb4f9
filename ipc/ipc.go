/*
Package ipc implements the inter-drone messaging fabric.

This implements fast, reliable point-to-point communications between this
drone and all other drones in the hive. Drone r listens on baseport+r and
dials every peer, so each ordered pair of drones has a dedicated stream.
A frame carries a [dest, src, tag] header and is demultiplexed on arrival
into a per (src, tag) queue; Recv drains exactly the queue it names and
gives up after a bounded wait instead of hanging on a dead peer. Close
flushes queued sends to the wire before the sockets come down.
*/
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

//how many frames to buffer on the send side and on each receive route
const combBufSize = 100

//frames larger than this are treated as stream corruption
const maxFrame = 1 << 24

//reserved tag for the frame a dialer sends to introduce itself
const tagHello uint8 = 0

//frame header layout
const (
	hdrDest = 0
	hdrSrc  = 1
	hdrTag  = 2
	hdrLen  = 3
)

//DefaultRecvWait bounds how long a receive may block before it is
//reported as a communication fault.
const DefaultRecvWait = 30 * time.Second

//Debug turns on the fabric's connection chatter
var Debug bool

func dbg(format string, args ...interface{}) {
	if Debug {
		fmt.Printf("[IPC] "+format+"\n", args...)
	}
}

// <ERROR DEFINITIONS>

//RecvTimeout reports a receive that no peer answered within the wait.
type RecvTimeout struct {
	Src, Tag uint8
	Wait     time.Duration
}

func (e *RecvTimeout) Error() string {
	return fmt.Sprintf("ipc: no frame from drone %d with tag %d within %v", e.Src, e.Tag, e.Wait)
}

//BadPeer reports an attempt to address a rank outside the hive.
type BadPeer struct {
	Rank uint8
}

func (e *BadPeer) Error() string {
	return fmt.Sprintf("ipc: no drone with rank %d in this hive", e.Rank)
}

//internal sentinel for an idle poll cycle on an inbound link
var errPollTimeout = errors.New("ipc: poll timeout")

//route is the demux key; every (sender, tag) pair waits on its own queue
type route struct {
	src, tag uint8
}

type peer struct {
	id   uint8
	addr string
	conn net.Conn
}

//Comb is the fabric joining one drone to the rest of the hive.
type Comb struct {
	id     uint8
	nrProc uint8
	port   int //base port, drone r listens on port+r

	//RecvWait bounds every blocking receive. The default covers startup
	//skew between drones; tests shorten it.
	RecvWait time.Duration

	listener net.Listener
	peers    []*peer //dialed links, indexed by rank
	tx       chan []byte

	mut     sync.RWMutex
	routes  map[route]chan []byte
	inbound []net.Conn

	closed   chan struct{}
	drained  chan struct{} //closed by sendTask once the queue is flushed
	closing  sync.Once
	attached sync.WaitGroup
}

//NewComb creates the fabric for drone id in a hive of nrProc drones.
func NewComb(id, nrProc uint8, basePort int) *Comb {
	return &Comb{
		id:       id,
		nrProc:   nrProc,
		port:     basePort,
		RecvWait: DefaultRecvWait,
		peers:    make([]*peer, nrProc),
		tx:       make(chan []byte, combBufSize),
		routes:   make(map[route]chan []byte),
		closed:   make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

//Listen opens this drone's port and starts the fabric tasks. Call before
//any peer dials in.
func (c *Comb) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprint(":", c.port+int(c.id)))
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	c.listener = ln
	go c.listenTask()
	go c.sendTask()
	return nil
}

//Connect dials every other drone. addrs is indexed by rank and holds
//host:port endpoints; dialing retries while the rest of the hive is
//still starting, but not forever.
func (c *Comb) Connect(addrs []string) error {
	if len(addrs) != int(c.nrProc) {
		return fmt.Errorf("ipc: got %d addresses for a hive of %d", len(addrs), c.nrProc)
	}
	for r := 0; r < int(c.nrProc); r++ {
		if uint8(r) == c.id {
			continue
		}
		conn, err := dialRetry(addrs[r])
		if err != nil {
			return fmt.Errorf("ipc: connect to drone %d at %s: %w", r, addrs[r], err)
		}
		c.peers[r] = &peer{id: uint8(r), addr: addrs[r], conn: conn}
		//introduce ourselves so the peer logs who attached
		if err := writeMsg(conn, []byte{uint8(r), c.id, tagHello}); err != nil {
			return fmt.Errorf("ipc: hello to drone %d: %w", r, err)
		}
		dbg("drone %d connected to drone %d at %s", c.id, r, addrs[r])
	}
	return nil
}

func dialRetry(addr string) (net.Conn, error) {
	var conn net.Conn
	var err error
	for i := 0; i < 40; i++ {
		conn, err = net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return conn, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return nil, err
}

//Send frames the payload for dest and hands it to the sender task. The
//payload is copied into the frame, so the caller may reuse its storage
//as soon as Send returns.
func (c *Comb) Send(dest, tag uint8, payload []byte) error {
	if int(dest) >= int(c.nrProc) {
		return &BadPeer{Rank: dest}
	}
	msg := make([]byte, hdrLen+len(payload))
	msg[hdrDest], msg[hdrSrc], msg[hdrTag] = dest, c.id, tag
	copy(msg[hdrLen:], payload)

	//a drone may send to itself, short of a socket
	if dest == c.id {
		c.deliver(msg)
		return nil
	}
	select {
	case c.tx <- msg:
		return nil
	case <-c.closed:
		return errors.New("ipc: fabric closed")
	}
}

//Recv blocks until the frame from src with tag arrives, or the bounded
//wait expires.
func (c *Comb) Recv(src, tag uint8) ([]byte, error) {
	if int(src) >= int(c.nrProc) {
		return nil, &BadPeer{Rank: src}
	}
	select {
	case msg := <-c.route(src, tag):
		return msg[hdrLen:], nil
	case <-time.After(c.RecvWait):
		return nil, &RecvTimeout{Src: src, Tag: tag, Wait: c.RecvWait}
	}
}

//route returns the queue for (src, tag), creating it on first use
func (c *Comb) route(src, tag uint8) chan []byte {
	k := route{src, tag}
	c.mut.RLock()
	ch, ok := c.routes[k]
	c.mut.RUnlock()
	if ok {
		return ch
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	if ch, ok = c.routes[k]; !ok {
		ch = make(chan []byte, combBufSize)
		c.routes[k] = ch
	}
	return ch
}

func (c *Comb) deliver(msg []byte) {
	if msg[hdrDest] != c.id {
		fmt.Println("[IPC] Dropping frame addressed to drone", msg[hdrDest], "but delivered to", c.id)
		return
	}
	c.route(msg[hdrSrc], msg[hdrTag]) <- msg
}

//sendTask drains tx and writes frames onto the dialed links. Once the
//fabric starts closing it keeps writing until the queue is empty, then
//signals Close that the wire is flushed.
func (c *Comb) sendTask() {
	defer close(c.drained)
	for {
		select {
		case msg := <-c.tx:
			c.writeFrame(msg)
		case <-c.closed:
			for {
				select {
				case msg := <-c.tx:
					c.writeFrame(msg)
				default:
					return
				}
			}
		}
	}
}

func (c *Comb) writeFrame(msg []byte) {
	p := c.peers[msg[hdrDest]]
	if p == nil {
		fmt.Println("[IPC] No link to drone", msg[hdrDest], "- frame dropped")
		return
	}
	if err := writeMsg(p.conn, msg); err != nil {
		fmt.Println("[IPC] Write to drone", p.id, "failed:", err)
	}
}

//listenTask accepts inbound links and spins a reader for each
func (c *Comb) listenTask() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			fmt.Println("[IPC] Accept failed:", err)
			continue
		}
		c.mut.Lock()
		c.inbound = append(c.inbound, conn)
		c.mut.Unlock()
		c.attached.Add(1)
		go c.receiveTask(conn)
	}
}

//receiveTask reads frames off one inbound link into the demux
func (c *Comb) receiveTask(conn net.Conn) {
	defer c.attached.Done()
	defer conn.Close()
	for {
		msg, err := readMsg(conn)
		if err != nil {
			if errors.Is(err, errPollTimeout) {
				select {
				case <-c.closed:
					return
				default:
					continue
				}
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				fmt.Println("[IPC] Read failed:", err)
			}
			return
		}
		if len(msg) < hdrLen {
			fmt.Println("[IPC] Malformed frame dropped")
			continue
		}
		if msg[hdrTag] == tagHello {
			dbg("drone %d attached to drone %d", msg[hdrSrc], c.id)
			continue
		}
		c.deliver(msg)
	}
}

//Close tears the fabric down. The sender flushes every queued frame to
//the wire first, so the last responses of a run still reach their drones,
//and only then do the sockets close. Frames delivered but never received
//are discarded.
func (c *Comb) Close() {
	c.closing.Do(func() {
		close(c.closed)
		if c.listener != nil {
			<-c.drained
			c.listener.Close()
		}
		for _, p := range c.peers {
			if p != nil {
				p.conn.Close()
			}
		}
		c.mut.Lock()
		for _, conn := range c.inbound {
			conn.Close()
		}
		c.mut.Unlock()
		c.attached.Wait()
	})
}

//writeMsg puts one length-prefixed frame on the wire. The deadline keeps
//a wedged peer from stalling the sender, and the shutdown flush with it.
func writeMsg(conn net.Conn, data []byte) error {
	ml := make([]byte, 8)
	binary.PutVarint(ml, int64(len(data)))
	msg := append(ml, data...)
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	for n := 0; n < len(msg); {
		w, err := conn.Write(msg[n:])
		if err != nil {
			return err
		}
		n += w
	}
	return nil
}

//readMsg reads one length-prefixed frame. An idle link reports
//errPollTimeout so the caller can check for shutdown; a timeout in the
//middle of a frame is stream corruption and fails the link.
func readMsg(conn net.Conn) ([]byte, error) {
	lbuf := make([]byte, 8)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := io.ReadFull(conn, lbuf)
	if err != nil {
		var ne net.Error
		if n == 0 && errors.As(err, &ne) && ne.Timeout() {
			return nil, errPollTimeout
		}
		return nil, err
	}
	ml, _ := binary.Varint(lbuf)
	if ml < int64(hdrLen) || ml > maxFrame {
		return nil, fmt.Errorf("ipc: bad frame length %d", ml)
	}
	msg := make([]byte, ml)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
