// Package rsptest provides an in-process GDB stub for tests.
//
// The stub speaks enough of the remote serial protocol to be driven by
// rsp.Client: the handshake, register and memory packets, software
// breakpoints, continue/step, interrupt, detach and kill. The debuggee is a
// Machine whose instructions are Go functions.
package rsptest

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const defaultMaxSteps = 100000

// Option configures a Server.
type Option func(*Server)

// WithoutNoAck makes the stub refuse QStartNoAckMode.
func WithoutNoAck() Option {
	return func(s *Server) { s.noAckAllowed = false }
}

// WithoutTargetXML makes the stub refuse qXfer:features:read.
func WithoutTargetXML() Option {
	return func(s *Server) { s.targetXML = false }
}

// WithoutRegisterPackets makes the stub answer p and P with an empty packet.
func WithoutRegisterPackets() Option {
	return func(s *Server) { s.singleRegs = false }
}

// WithPacketSize sets the PacketSize advertised in qSupported.
func WithPacketSize(n int) Option {
	return func(s *Server) { s.packetSize = n }
}

// WithHang makes continue run until interrupted with ^C.
func WithHang() Option {
	return func(s *Server) { s.hang = true }
}

// WithLateInterrupt makes the stub wait d before answering ^C. Packets
// sent meanwhile are answered after the late stop reply.
func WithLateInterrupt(d time.Duration) Option {
	return func(s *Server) { s.interruptDelay = d }
}

// WithCorruptReplies sends the first n replies with a bad checksum.
// It only has an effect while acknowledgments are enabled.
func WithCorruptReplies(n int) Option {
	return func(s *Server) { s.corrupt = n }
}

// Server is a fake gdbserver listening on 127.0.0.1.
type Server struct {
	ln net.Listener

	noAckAllowed   bool
	targetXML      bool
	singleRegs     bool
	packetSize     int
	hang           bool
	interruptDelay time.Duration
	corrupt        int
	maxSteps       int

	mu          sync.Mutex
	machine     *Machine
	breakpoints map[uint64]bool
	packets     []string
	lastStop    string
	detaches    int
	kills       int
	conns       int
	active      net.Conn

	wg sync.WaitGroup
}

// NewServer starts a stub for m. It is closed when the test ends.
func NewServer(t testing.TB, m *Machine, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &Server{
		ln:           ln,
		noAckAllowed: true,
		targetXML:    true,
		singleRegs:   true,
		packetSize:   0x4000,
		maxSteps:     defaultMaxSteps,
		machine:      m,
		breakpoints:  make(map[uint64]bool),
		lastStop:     "S05",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Close stops the listener, drops the active connection and waits for the
// connection handler.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	if s.active != nil {
		_ = s.active.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Packets returns the decoded payloads received so far.
func (s *Server) Packets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.packets))
	copy(out, s.packets)
	return out
}

// CountPrefix counts received packets starting with prefix.
func (s *Server) CountPrefix(prefix string) int {
	n := 0
	for _, p := range s.Packets() {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

// Breakpoints returns the inserted breakpoint addresses in ascending order.
func (s *Server) Breakpoints() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.breakpoints))
	for addr := range s.breakpoints {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Detaches returns the number of D packets received.
func (s *Server) Detaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detaches
}

// Kills returns the number of k packets received.
func (s *Server) Kills() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kills
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Read reads debuggee memory.
func (s *Server) Read(addr uint64, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Read(addr, n)
}

// Reg reads a debuggee register.
func (s *Server) Reg(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Regs[name]
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.active = conn
		s.mu.Unlock()
		s.handle(conn)
	}
}

type session struct {
	conn      net.Conn
	rdr       *bufio.Reader
	ack       bool
	lastReply []byte
	running   bool
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	sess := &session{conn: conn, rdr: bufio.NewReader(conn), ack: true}
	for {
		b, err := sess.rdr.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case '+':
			continue
		case '-':
			if sess.lastReply != nil {
				_, _ = conn.Write(sess.lastReply)
			}
			continue
		case 0x03:
			if sess.running {
				sess.running = false
				time.Sleep(s.interruptDelay)
				s.mu.Lock()
				s.reply(sess, s.stop("T02thread:1;"))
				s.mu.Unlock()
			}
			continue
		case '$':
		default:
			continue
		}

		body, err := sess.rdr.ReadBytes('#')
		if err != nil {
			return
		}
		body = body[:len(body)-1]
		sum := make([]byte, 2)
		if _, err := io.ReadFull(sess.rdr, sum); err != nil {
			return
		}
		if want, err := strconv.ParseUint(string(sum), 16, 8); err != nil || checksum(body) != uint8(want) {
			if sess.ack {
				_, _ = conn.Write([]byte{'-'})
			}
			continue
		}
		if sess.ack {
			_, _ = conn.Write([]byte{'+'})
		}

		pkt := unescape(body)
		s.mu.Lock()
		s.packets = append(s.packets, pkt)
		s.mu.Unlock()

		if done := s.dispatch(sess, pkt); done {
			return
		}
	}
}

// dispatch handles one packet and reports whether the connection should close.
func (s *Server) dispatch(sess *session, pkt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case pkt == "QStartNoAckMode":
		if !s.noAckAllowed {
			s.reply(sess, "")
			return false
		}
		s.reply(sess, "OK")
		sess.ack = false

	case strings.HasPrefix(pkt, "qSupported"):
		features := fmt.Sprintf("PacketSize=%x;swbreak+;hwbreak+;vContSupported+", s.packetSize)
		if s.noAckAllowed {
			features += ";QStartNoAckMode+"
		}
		if s.targetXML {
			features += ";qXfer:features:read+"
		}
		s.reply(sess, features)

	case strings.HasPrefix(pkt, "qXfer:features:read:"):
		s.reply(sess, s.xfer(strings.TrimPrefix(pkt, "qXfer:features:read:")))

	case strings.HasPrefix(pkt, "H"):
		s.reply(sess, "OK")

	case pkt == "?":
		s.reply(sess, s.lastStop)

	case pkt == "g":
		s.reply(sess, s.registerBlock())

	case strings.HasPrefix(pkt, "G"):
		s.reply(sess, s.writeRegisterBlock(pkt[1:]))

	case strings.HasPrefix(pkt, "p"):
		if !s.singleRegs {
			s.reply(sess, "")
			return false
		}
		s.reply(sess, s.readRegister(pkt[1:]))

	case strings.HasPrefix(pkt, "P"):
		if !s.singleRegs {
			s.reply(sess, "")
			return false
		}
		s.reply(sess, s.writeRegister(pkt[1:]))

	case strings.HasPrefix(pkt, "m"):
		s.reply(sess, s.readMemory(pkt[1:]))

	case strings.HasPrefix(pkt, "M"):
		s.reply(sess, s.writeMemory(pkt[1:]))

	case strings.HasPrefix(pkt, "Z0,"), strings.HasPrefix(pkt, "z0,"):
		addr, err := parseBreakpoint(pkt[3:])
		if err != nil {
			s.reply(sess, "E01")
			return false
		}
		if pkt[0] == 'Z' {
			s.breakpoints[addr] = true
		} else {
			delete(s.breakpoints, addr)
		}
		s.reply(sess, "OK")

	case pkt == "vCont?":
		s.reply(sess, "vCont;c;C;s;S")

	case pkt == "c", strings.HasPrefix(pkt, "vCont;c"):
		if s.hang {
			sess.running = true
			return false
		}
		s.reply(sess, s.cont())

	case pkt == "s", strings.HasPrefix(pkt, "vCont;s"):
		s.reply(sess, s.step())

	case pkt == "D":
		s.detaches++
		s.reply(sess, "OK")
		return true

	case pkt == "k":
		s.kills++
		s.reply(sess, "X09")
		return true

	default:
		s.reply(sess, "")
	}
	return false
}

func (s *Server) reply(sess *session, payload string) {
	body := escape([]byte(payload))
	sum := checksum(body)
	wire := []byte("$" + string(body) + "#" + fmt.Sprintf("%02x", sum))
	sess.lastReply = wire
	if sess.ack && s.corrupt > 0 {
		s.corrupt--
		bad := []byte("$" + string(body) + "#" + fmt.Sprintf("%02x", sum+1))
		_, _ = sess.conn.Write(bad)
		return
	}
	_, _ = sess.conn.Write(wire)
}

func (s *Server) xfer(args string) string {
	// annex:offset,length
	colon := strings.LastIndexByte(args, ':')
	if colon < 0 {
		return "E00"
	}
	annex := args[:colon]
	data, ok := annexes[annex]
	if !ok {
		return "E00"
	}
	off, length, err := parseAddrLen(args[colon+1:])
	if err != nil {
		return "E00"
	}
	if off >= uint64(len(data)) {
		return "l"
	}
	end := off + uint64(length)
	if end >= uint64(len(data)) {
		return "l" + data[off:]
	}
	return "m" + data[off:end]
}

func (s *Server) registerBlock() string {
	var sb strings.Builder
	for _, r := range layout {
		sb.WriteString(encodeLE(s.machine.Regs[r.name], r.size))
	}
	return sb.String()
}

func (s *Server) writeRegisterBlock(data string) string {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return "E01"
	}
	off := 0
	for _, r := range layout {
		if off+r.size > len(raw) {
			break
		}
		s.machine.Regs[r.name] = decodeLE(raw[off : off+r.size])
		off += r.size
	}
	return "OK"
}

func (s *Server) readRegister(arg string) string {
	n, err := strconv.ParseUint(arg, 16, 32)
	if err != nil || int(n) >= len(layout) {
		return "E01"
	}
	r := layout[n]
	return encodeLE(s.machine.Regs[r.name], r.size)
}

func (s *Server) writeRegister(arg string) string {
	eq := strings.IndexByte(arg, '=')
	if eq < 0 {
		return "E01"
	}
	n, err := strconv.ParseUint(arg[:eq], 16, 32)
	if err != nil || int(n) >= len(layout) {
		return "E01"
	}
	raw, err := hex.DecodeString(arg[eq+1:])
	if err != nil {
		return "E01"
	}
	s.machine.Regs[layout[n].name] = decodeLE(raw)
	return "OK"
}

func (s *Server) readMemory(arg string) string {
	addr, n, err := parseAddrLen(arg)
	if err != nil {
		return "E01"
	}
	data, err := s.machine.Read(addr, n)
	if err != nil {
		return "E14"
	}
	return hex.EncodeToString(data)
}

func (s *Server) writeMemory(arg string) string {
	colon := strings.IndexByte(arg, ':')
	if colon < 0 {
		return "E01"
	}
	addr, n, err := parseAddrLen(arg[:colon])
	if err != nil {
		return "E01"
	}
	data, err := hex.DecodeString(arg[colon+1:])
	if err != nil || len(data) != n {
		return "E01"
	}
	if err := s.machine.Write(addr, data); err != nil {
		return "E14"
	}
	return "OK"
}

// exec runs the instruction at the program counter.
func (s *Server) exec() (Step, bool) {
	insn, ok := s.machine.Code[s.machine.PC()]
	if !ok {
		return Step{}, false
	}
	st := insn(s.machine)
	if !st.Exited {
		s.machine.Regs["rip"] = st.Next
	}
	return st, true
}

// cont runs until a breakpoint, a fault or exit. A breakpoint at the
// current program counter does not stop the first instruction.
func (s *Server) cont() string {
	for i := 0; i < s.maxSteps; i++ {
		st, ok := s.exec()
		if !ok {
			return s.stop("T0bthread:1;")
		}
		if st.Exited {
			return s.stop(fmt.Sprintf("W%02x", st.Status))
		}
		if s.breakpoints[s.machine.PC()] {
			return s.stop("T05swbreak:;thread:1;")
		}
	}
	return s.stop("T02thread:1;")
}

func (s *Server) step() string {
	st, ok := s.exec()
	if !ok {
		return s.stop("T0bthread:1;")
	}
	if st.Exited {
		return s.stop(fmt.Sprintf("W%02x", st.Status))
	}
	return s.stop("T05thread:1;")
}

// stop records a stop reply, appending the expedited frame registers to T replies.
func (s *Server) stop(reply string) string {
	if strings.HasPrefix(reply, "T") {
		reply += fmt.Sprintf("06:%s;07:%s;10:%s;",
			encodeLE(s.machine.Regs["rbp"], 8),
			encodeLE(s.machine.Regs["rsp"], 8),
			encodeLE(s.machine.Regs["rip"], 8))
	}
	s.lastStop = reply
	return reply
}

func parseAddrLen(arg string) (uint64, int, error) {
	comma := strings.IndexByte(arg, ',')
	if comma < 0 {
		return 0, 0, errors.New("missing length")
	}
	addr, err := strconv.ParseUint(arg[:comma], 16, 64)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.ParseUint(arg[comma+1:], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return addr, int(n), nil
}

func parseBreakpoint(arg string) (uint64, error) {
	comma := strings.IndexByte(arg, ',')
	if comma < 0 {
		return 0, errors.New("missing kind")
	}
	return strconv.ParseUint(arg[:comma], 16, 64)
}

func encodeLE(v uint64, size int) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return hex.EncodeToString(buf[:size])
}

func decodeLE(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func checksum(b []byte) uint8 {
	var sum uint8
	for _, c := range b {
		sum += c
	}
	return sum
}

func escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '$', '#', '}', '*':
			out = append(out, '}', c^0x20)
		default:
			out = append(out, c)
		}
	}
	return out
}

func unescape(b []byte) string {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '}' && i+1 < len(b) {
			out = append(out, b[i+1]^0x20)
			i++
			continue
		}
		out = append(out, b[i])
	}
	return string(out)
}
