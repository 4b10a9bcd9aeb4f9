/*
Package swarm implements the drone runtime of a Honeycomb hive.

This file contains the runtime handle, the message vocabulary spoken
between drones, and the collectives the solvers hang off: the sweep
barrier, the max all-reduce behind every convergence decision, and the
run parameter broadcast. The rooted collectives are managed by drone 0;
the rest of the hive contributes and waits for its verdict. Payloads
cross the fabric in XDR, optionally wrapped with vector clock metadata
for ShiViz-style trace analysis.
*/
package swarm

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/DistributedClocks/GoVector/govec"
	"github.com/Workiva/go-datastructures/bitarray"
	xdr "github.com/davecgh/go-xdr/xdr2"

	"github.com/dashaylan/Honeycomb/ipc"
)

// List of Message IDs sent between the drones in the hive
const (
	EDGELEFT  = 10 /* Block Owner      ->    Lower Neighbor  */
	EDGERIGHT = 11 /* Block Owner      ->    Upper Neighbor  */
	REDCNTRB  = 20 /* Reduce Client    ->    Reduce Manager  */
	REDRSLT   = 21 /* Reduce Manager   ->    Reduce Client   */
	BCASTVAL  = 30 /* Broadcast Root   ->    Everyone Else   */
	BARRREQ   = 40 /* Barrier Client   ->    Barrier Manager */
	BARRRSP   = 41 /* Barrier Manager  ->    Barrier Client  */
	/* Tag 0 Reserved for the Connection Hello [IPC]         */
)

var msgName = map[uint8]string{
	EDGELEFT: "EDGELEFT", EDGERIGHT: "EDGERIGHT", REDCNTRB: "REDCNTRB",
	REDRSLT: "REDRSLT", BCASTVAL: "BCASTVAL", BARRREQ: "BARRREQ", BARRRSP: "BARRRSP",
}

var LogChan chan string = make(chan string, 100)

// Define the list of structures crossing the fabric

// EdgePush carries one boundary row (a single point in 1D) to the ghost
// layer of a neighbor. The sweep number guards the lockstep: a receiver
// never accepts a row from a different sweep than its own.
type EdgePush struct {
	Sweep int32
	Vals  []float64
}

type ReduceContribution struct {
	Delta float64
}

type ReduceResult struct {
	Delta float64
}

type BcastValue struct {
	Val int32
}

type BarrierRequest struct {
	BarrierID uint8
}

type BarrierResponse struct {
	BarrierID uint8
}

// Swarm is one drone's handle on the hive.
type Swarm struct {
	id         uint8             // this drone's rank
	nrProc     uint8             // number of drones in the hive
	comb       *ipc.Comb         // fabric to the rest of the hive
	contrib    bitarray.BitArray // manager bookkeeping: who reached the collective
	debugLevel int               // 0=None, 1=Error, 2=Info, 3=Msg, 4=Debug
	start      time.Time         // when the drone came up
	vecLog     *govec.GoLog      // vector clock tracer, nil when disabled
	logOpts    govec.GoLogOptions
}

// New creates the runtime for drone id in a hive of nrProc drones
// listening from basePort up.
func New(id, nrProc uint8, basePort int) *Swarm {
	s := new(Swarm)
	s.id = id
	s.nrProc = nrProc
	s.comb = ipc.NewComb(id, nrProc, basePort)
	s.contrib = bitarray.NewBitArray(uint64(nrProc))
	s.start = time.Now()
	return s
}

// SetDebug sets the debug message level. Lower levels are included in
// higher levels
// 0 - disable all output
// 1 - Enable Error messages
// 2 - Enable Info messages
// 3 - Enables fabric message trace
// 4 - Enable Debug messages
func (s *Swarm) SetDebug(level int) {
	s.debugLevel = level
}

// SetRecvWait bounds how long this drone waits on an unanswered
// receive before reporting a communication fault.
func (s *Swarm) SetRecvWait(d time.Duration) {
	s.comb.RecvWait = d
}

// Startup opens this drone's fabric port. A non-empty gvec name enables
// vector clock tracing with one log per drone.
func (s *Swarm) Startup(gvec string) error {
	if gvec != "" {
		process := gvec + strconv.Itoa(int(s.id))
		s.vecLog = govec.InitGoVector(process, process, govec.GetDefaultConfig())
		s.logOpts = govec.GetDefaultLogOptions()
	}
	return s.comb.Listen()
}

// Connect joins the rest of the hive. addrs holds one host:port per
// rank; every drone must already be listening.
func (s *Swarm) Connect(addrs []string) error {
	return s.comb.Connect(addrs)
}

// Exit is called to shut the drone down.
func (s *Swarm) Exit() {
	elapsed := time.Since(s.start)
	s.LogInfo("Elapsed Time: %s", elapsed)
	s.comb.Close()
}

// Rank gets the rank of this drone
func (s *Swarm) Rank() uint8 {
	return s.id
}

// Size gets the number of drones configured for this hive
func (s *Swarm) Size() uint8 {
	return s.nrProc
}

// the rooted collectives all run through drone 0
func (s *Swarm) manager() uint8 {
	return 0
}

/*---------------------------------------------------------------------*/
/*------------------------Messaging Functions--------------------------*/

// send encodes the message and hands the frame to the fabric
func (s *Swarm) send(dest, msgID uint8, msg interface{}) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, msg); err != nil {
		return fmt.Errorf("swarm: encode %s: %w", msgName[msgID], err)
	}
	payload := buf.Bytes()
	if s.vecLog != nil {
		event := "Tx " + msgName[msgID]
		payload = s.vecLog.PrepareSend(event, payload, s.logOpts)
	}
	s.LogMsg("Send[%d]:Msg[%s],%v", dest, msgName[msgID], msg)
	return s.comb.Send(dest, msgID, payload)
}

// recv blocks for the matching frame and decodes it into out
func (s *Swarm) recv(src, msgID uint8, out interface{}) error {
	raw, err := s.comb.Recv(src, msgID)
	if err != nil {
		return err
	}
	if s.vecLog != nil {
		event := "Rx " + msgName[msgID]
		var mbuf []byte
		s.vecLog.UnpackReceive(event, raw, &mbuf, s.logOpts)
		raw = mbuf
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), out); err != nil {
		return fmt.Errorf("swarm: decode %s from drone %d: %w", msgName[msgID], src, err)
	}
	s.LogMsg("Recv[%d]:Msg[%s]", src, msgName[msgID])
	return nil
}

// SendEdge pushes a boundary row toward a neighbor's ghost layer. dir
// names the direction of travel, EDGELEFT or EDGERIGHT. The row is
// copied into the frame, so the caller may keep mutating its storage.
func (s *Swarm) SendEdge(dest, dir uint8, sweep int, vals []float64) error {
	if dir != EDGELEFT && dir != EDGERIGHT {
		return fmt.Errorf("swarm: bad edge direction %d", dir)
	}
	return s.send(dest, dir, EdgePush{Sweep: int32(sweep), Vals: vals})
}

// RecvEdge blocks for the boundary row traveling in dir from src and
// checks it belongs to this sweep.
func (s *Swarm) RecvEdge(src, dir uint8, sweep int) ([]float64, error) {
	var e EdgePush
	if err := s.recv(src, dir, &e); err != nil {
		return nil, err
	}
	if int(e.Sweep) != sweep {
		return nil, fmt.Errorf("swarm: edge from drone %d out of step, got sweep %d want %d", src, e.Sweep, sweep)
	}
	return e.Vals, nil
}

/*---------------------------------------------------------------------*/
/*--------------------------- Collectives -----------------------------*/

// AllReduceMax folds every drone's value into the global maximum and
// hands the identical result back to all of them. No drone returns
// before every drone has contributed, so the call is also the sweep
// barrier of the hive.
func (s *Swarm) AllReduceMax(local float64) (float64, error) {
	if s.nrProc == 1 {
		return local, nil
	}
	if s.id != s.manager() {
		if err := s.send(s.manager(), REDCNTRB, ReduceContribution{Delta: local}); err != nil {
			return 0, err
		}
		var rsp ReduceResult
		if err := s.recv(s.manager(), REDRSLT, &rsp); err != nil {
			return 0, fmt.Errorf("swarm: drone %d awaiting reduce result: %w", s.id, err)
		}
		return rsp.Delta, nil
	}

	// manager folds the arrivals, tracking who has reached the reduce
	// so a timeout can name the drones that never did
	s.contrib.Reset()
	s.contrib.SetBit(uint64(s.id))
	max := local
	var r uint8
	for r = 0; r < s.nrProc; r++ {
		if r == s.id {
			continue
		}
		var c ReduceContribution
		if err := s.recv(r, REDCNTRB, &c); err != nil {
			return 0, fmt.Errorf("swarm: reduce stalled, missing drones %v: %w", s.missing(), err)
		}
		s.contrib.SetBit(uint64(r))
		max = math.Max(max, c.Delta)
	}
	for r = 0; r < s.nrProc; r++ {
		if r != s.id {
			if err := s.send(r, REDRSLT, ReduceResult{Delta: max}); err != nil {
				return 0, err
			}
		}
	}
	return max, nil
}

// Barrier blocks the calling drone until all other drones arrive at the
// same barrier.
func (s *Swarm) Barrier(b uint8) error {
	s.LogDebug("Barrier(%d)..Start", b)
	if s.nrProc > 1 {
		if err := s.barrier(b); err != nil {
			return err
		}
	}
	s.LogDebug("Barrier(%d)..Done", b)
	return nil
}

func (s *Swarm) barrier(b uint8) error {
	// Only the non-manager drones send out the Barrier Request to the
	// manager. The manager is the only drone receiving these messages.
	if s.id != s.manager() {
		if err := s.send(s.manager(), BARRREQ, BarrierRequest{BarrierID: b}); err != nil {
			return err
		}
		var rsp BarrierResponse
		if err := s.recv(s.manager(), BARRRSP, &rsp); err != nil {
			return fmt.Errorf("swarm: drone %d awaiting barrier release: %w", s.id, err)
		}
		if rsp.BarrierID != b {
			return fmt.Errorf("swarm: barrier skew, released from %d while waiting at %d", rsp.BarrierID, b)
		}
		return nil
	}

	s.contrib.Reset()
	s.contrib.SetBit(uint64(s.id))
	var r uint8
	for r = 0; r < s.nrProc; r++ {
		if r == s.id {
			continue
		}
		var req BarrierRequest
		if err := s.recv(r, BARRREQ, &req); err != nil {
			return fmt.Errorf("swarm: barrier %d stalled, missing drones %v: %w", b, s.missing(), err)
		}
		if req.BarrierID != b {
			return fmt.Errorf("swarm: barrier skew, drone %d arrived at %d while manager holds %d", r, req.BarrierID, b)
		}
		s.contrib.SetBit(uint64(r))
	}
	for r = 0; r < s.nrProc; r++ {
		if r != s.id {
			if err := s.send(r, BARRRSP, BarrierResponse{BarrierID: b}); err != nil {
				return err
			}
		}
	}
	return nil
}

// BcastInt distributes the root's value to the whole hive. Every drone
// passes its own val; only the root's survives.
func (s *Swarm) BcastInt(root uint8, val int) (int, error) {
	if s.nrProc == 1 {
		return val, nil
	}
	if s.id == root {
		var r uint8
		for r = 0; r < s.nrProc; r++ {
			if r == root {
				continue
			}
			if err := s.send(r, BCASTVAL, BcastValue{Val: int32(val)}); err != nil {
				return 0, err
			}
		}
		return val, nil
	}
	var m BcastValue
	if err := s.recv(root, BCASTVAL, &m); err != nil {
		return 0, fmt.Errorf("swarm: drone %d awaiting broadcast: %w", s.id, err)
	}
	return int(m.Val), nil
}

// missing names the drones whose arrival the manager is still waiting on
func (s *Swarm) missing() []uint8 {
	var out []uint8
	var r uint8
	for r = 0; r < s.nrProc; r++ {
		if ok, _ := s.contrib.GetBit(uint64(r)); !ok {
			out = append(out, r)
		}
	}
	return out
}

/*---------------------------------------------------------------------*/
/*---------------------------- Logging --------------------------------*/

// LogError used to log any error messages
func (s *Swarm) LogError(f string, a ...interface{}) {
	if s.debugLevel > 0 {
		s.Log(f, a...)
	}
}

// LogInfo used to log any info messages
func (s *Swarm) LogInfo(f string, a ...interface{}) {
	if s.debugLevel > 1 {
		s.Log(f, a...)
	}
}

// LogMsg used to log messages sent to and received from the fabric
func (s *Swarm) LogMsg(f string, a ...interface{}) {
	if s.debugLevel > 2 {
		s.Log(f, a...)
	}
}

// LogDebug used to log verbose debug info useful for debugging the hive
func (s *Swarm) LogDebug(f string, a ...interface{}) {
	if s.debugLevel > 3 {
		s.Log(f, a...)
	}
}

// Log is called by all of the log functions and formats the messages and
// puts them on the global Log channel
func (s *Swarm) Log(f string, a ...interface{}) {
	LogChan <- fmt.Sprintf("[%d]-", s.id) + fmt.Sprintf(f, a...) + "\n"
}

// DumpLog drains the log channel onto stdout. Run it as a goroutine
// before raising the debug level.
func DumpLog() {
	for s := range LogChan {
		fmt.Print(s)
	}
}
