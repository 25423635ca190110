package rsp

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// Config holds the configuration for a connection to a GDB stub.
type Config struct {
	// Host is the hostname/IP where the stub is listening.
	// Default: "127.0.0.1"
	Host string

	// Port is the port where the stub is listening.
	// Default: 9999
	Port int

	// DialTimeout bounds each connection attempt.
	// Default: 5 seconds
	DialTimeout time.Duration

	// ConnectAttempts is the number of connection attempts before giving up.
	// Attempts are spaced with exponential backoff.
	// Default: 5
	ConnectAttempts int

	// ContinueTimeout bounds the wait for a stop reply after continue or step.
	// Zero waits forever.
	ContinueTimeout time.Duration

	// InterruptGrace is how long to wait for the stop reply after
	// interrupting a continue that timed out.
	// Default: 2 seconds
	InterruptGrace time.Duration

	// ResyncQuiet is how long Resync waits for further replies before
	// treating the stream as drained.
	// Default: 250 milliseconds
	ResyncQuiet time.Duration

	// MaxTransmitAttempts is the number of retransmissions on a bad checksum
	// while acknowledgments are enabled.
	// Default: 3
	MaxTransmitAttempts int

	// NoAckMode requests QStartNoAckMode during the handshake.
	// Default: true
	NoAckMode bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:                "127.0.0.1",
		Port:                9999,
		DialTimeout:         5 * time.Second,
		ConnectAttempts:     5,
		InterruptGrace:      2 * time.Second,
		ResyncQuiet:         250 * time.Millisecond,
		MaxTransmitAttempts: 3,
		NoAckMode:           true,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

const (
	defaultPacketSize = 256
	minPacketSize     = 64 // smaller advertised sizes are raised to this
	qSupported        = "qSupported:swbreak+;hwbreak+;xmlRegisters=i386"
)

// Client is a GDB remote serial protocol client.
//
// A Client carries one request at a time and is not safe for concurrent use.
type Client struct {
	config Config
	logger *zap.Logger

	conn net.Conn
	rdr  *bufio.Reader

	ack        bool // acknowledgments are enabled
	packetSize int  // maximum packet size supported by the stub
	features   map[string]bool
	vCont      bool // vCont;c and vCont;s are supported
	gOnly      bool // stub does not support p/P

	regs     []Register
	regIndex map[string]int

	needsResync bool
	lastStop    StopEvent
	exited      bool
	closed      bool
}

// Dial connects to a GDB stub and performs the protocol handshake.
// Connection attempts are retried with exponential backoff because a freshly
// launched gdbserver may not be listening yet.
func Dial(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	attempts := config.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	logger.Info("connecting to gdb stub",
		zap.String("address", config.Address()),
		zap.Int("attempts", attempts),
	)

	var conn net.Conn
	dial := func() error {
		dialer := net.Dialer{Timeout: config.DialTimeout}
		c, err := dialer.DialContext(ctx, "tcp", config.Address())
		if err != nil {
			logger.Debug("connection attempt failed",
				zap.String("address", config.Address()),
				zap.Error(err),
			)
			return err
		}
		conn = c
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	if err := backoff.Retry(dial, retry); err != nil {
		return nil, &ConnectionError{Host: config.Host, Port: config.Port, Err: err}
	}

	client, err := NewClient(conn, config, logger)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Host: config.Host, Port: config.Port, Err: err}
	}
	return client, nil
}

// NewClient performs the handshake over an established connection.
func NewClient(conn net.Conn, config Config, logger *zap.Logger) (*Client, error) {
	if config.MaxTransmitAttempts < 1 {
		config.MaxTransmitAttempts = 1
	}
	if config.ResyncQuiet <= 0 {
		config.ResyncQuiet = 250 * time.Millisecond
	}
	c := &Client{
		config:     config,
		logger:     logger,
		conn:       conn,
		rdr:        bufio.NewReader(conn),
		ack:        true,
		packetSize: defaultPacketSize,
		features:   make(map[string]bool),
	}
	if err := c.handshake(); err != nil {
		return nil, err
	}

	logger.Info("connected to gdb stub",
		zap.String("address", conn.RemoteAddr().String()),
		zap.Int("packet_size", c.packetSize),
		zap.Int("registers", len(c.regs)),
		zap.Bool("ack", c.ack),
		zap.Bool("vcont", c.vCont),
	)
	return c, nil
}

func (c *Client) handshake() error {
	// This first ack is needed to start up the connection
	c.sendAck('+')

	if c.config.NoAckMode {
		if _, err := c.exec("init/noack", "QStartNoAckMode"); err == nil {
			c.ack = false
		} else if !IsUnsupported(err) {
			return err
		}
	}

	if err := c.qSupported(); err != nil {
		return err
	}

	// gdbserver won't serve target.xml before a thread is selected
	_, _ = c.exec("init/thread", "Hg0")

	regs, err := c.readRegisterLayout()
	if err != nil {
		return err
	}
	if err := validateLayout(regs); err != nil {
		return err
	}
	c.regs = regs
	c.regIndex = registerIndex(regs)

	resp, err := c.exec("init/vCont", "vCont?")
	switch {
	case err == nil:
		actions := strings.Split(string(resp), ";")
		var cont, step bool
		for _, a := range actions[1:] {
			cont = cont || a == "c"
			step = step || a == "s"
		}
		c.vCont = cont && step
	case IsUnsupported(err):
		c.vCont = false
	default:
		return err
	}
	return nil
}

// qSupported interprets the qSupported reply.
func (c *Client) qSupported() error {
	resp, err := c.exec("init/qSupported", qSupported)
	if err != nil {
		if IsUnsupported(err) {
			return nil
		}
		return err
	}
	for _, feature := range strings.Split(string(resp), ";") {
		if feature == "" {
			continue
		}
		if eq := strings.IndexByte(feature, '='); eq >= 0 {
			if feature[:eq] == "PacketSize" {
				if n, err := strconv.ParseInt(feature[eq+1:], 16, 64); err == nil && n > 0 {
					c.packetSize = max(int(n), minPacketSize)
				}
			}
			continue
		}
		switch feature[len(feature)-1] {
		case '+':
			c.features[feature[:len(feature)-1]] = true
		case '-':
			c.features[feature[:len(feature)-1]] = false
		}
	}
	return nil
}

// readRegisterLayout reads target.xml, following includes, or falls back to
// the built-in amd64 layout.
func (c *Client) readRegisterLayout() ([]Register, error) {
	if !c.features["qXfer:features:read"] {
		c.logger.Debug("stub does not serve target descriptions, using amd64 layout")
		return AMD64Registers(), nil
	}
	regs, err := c.readAnnex("target.xml", 0)
	if err != nil {
		c.logger.Warn("failed to read target description, using amd64 layout", zap.Error(err))
		return AMD64Registers(), nil
	}
	if len(regs) == 0 {
		return AMD64Registers(), nil
	}
	return layoutRegisters(regs), nil
}

func (c *Client) readAnnex(annex string, depth int) ([]Register, error) {
	if depth > 8 {
		return nil, fmt.Errorf("target description includes nested too deeply at %s", annex)
	}
	data, err := c.qXfer("features", annex)
	if err != nil {
		return nil, err
	}
	regs, includes, err := parseTargetDescription(data)
	if err != nil {
		return nil, err
	}
	for _, inc := range includes {
		more, err := c.readAnnex(inc, depth+1)
		if err != nil {
			return nil, err
		}
		regs = append(regs, more...)
	}
	return regs, nil
}

// qXfer reads an object with qXfer:<kind>:read.
func (c *Client) qXfer(kind, annex string) ([]byte, error) {
	var out []byte
	chunk := c.packetSize - 4
	for {
		resp, err := c.exec("qXfer "+annex, fmt.Sprintf("qXfer:%s:read:%s:%x,%x", kind, annex, len(out), chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, resp[1:]...)
		switch resp[0] {
		case 'l':
			return out, nil
		case 'm':
		default:
			return nil, fmt.Errorf("unexpected qXfer reply %q", truncateWire(resp))
		}
	}
}

// exec sends a packet and waits for its reply. Exx and empty replies are
// returned as ProtocolError.
func (c *Client) exec(op, pkt string) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.send(pkt); err != nil {
		return nil, err
	}
	resp, err := c.recv(op)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, &ProtocolError{Op: op, Packet: pkt}
	}
	if resp[0] == 'E' && len(resp) >= 3 {
		return nil, &ProtocolError{Op: op, Packet: pkt, Code: string(resp[1:3])}
	}
	return resp, nil
}

func (c *Client) send(pkt string) error {
	wire := encodePacket([]byte(pkt))
	for attempt := 0; ; attempt++ {
		c.logger.Debug("<-", zap.String("packet", truncateWire(wire)))
		if _, err := c.conn.Write(wire); err != nil {
			return err
		}
		if !c.ack {
			return nil
		}
		ok, err := c.readAck()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= c.config.MaxTransmitAttempts {
			return ErrTooManyAttempts
		}
	}
}

func (c *Client) recv(op string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		raw, ok, err := readPacket(c.rdr)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("->", zap.String("packet", truncateWire(raw)), zap.Bool("checksum_ok", ok))

		if !ok {
			if !c.ack {
				return nil, fmt.Errorf("bad checksum in reply during %s", op)
			}
			if attempt >= c.config.MaxTransmitAttempts {
				c.sendAck('+')
				return nil, ErrTooManyAttempts
			}
			c.sendAck('-')
			continue
		}
		if c.ack {
			c.sendAck('+')
		}
		return decodePayload(raw)
	}
}

// readAck reads one byte from the stub and reports whether it is '+'.
func (c *Client) readAck() (bool, error) {
	b, err := c.rdr.ReadByte()
	if err != nil {
		return false, err
	}
	c.logger.Debug("->", zap.String("ack", string(b)))
	return b == '+', nil
}

// sendAck writes an acknowledgment, c must be either '+' or '-'.
func (c *Client) sendAck(b byte) {
	c.logger.Debug("<-", zap.String("ack", string(b)))
	_, _ = c.conn.Write([]byte{b})
}

// ready reports whether the debuggee can execute more requests.
func (c *Client) ready() error {
	if c.closed {
		return ErrClosed
	}
	if c.exited {
		return c.lastStop.Err()
	}
	return nil
}

// Registers returns a copy of the register layout.
func (c *Client) Registers() []Register {
	out := make([]Register, len(c.regs))
	copy(out, c.regs)
	return out
}

// PacketSize returns the maximum packet size negotiated with the stub.
func (c *Client) PacketSize() int {
	return c.packetSize
}

// PointerSize returns the width of the program counter in bytes.
func (c *Client) PointerSize() int {
	if i, ok := c.regIndex["rip"]; ok {
		return c.regs[i].Size()
	}
	return 8
}

// NeedsResync reports whether a timed out continue left the client out of
// sync with the stub.
func (c *Client) NeedsResync() bool {
	return c.needsResync
}

// Exited reports whether the debuggee has exited.
func (c *Client) Exited() bool {
	return c.exited
}

// ReadRegister reads a single register by name.
func (c *Client) ReadRegister(name string) (uint64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	i, ok := c.regIndex[name]
	if !ok {
		return 0, &RegisterFault{Name: name, Reason: "unknown register"}
	}
	reg := c.regs[i]

	if !c.gOnly {
		resp, err := c.exec("register read", fmt.Sprintf("p%x", reg.Regnum))
		switch {
		case err == nil:
			if resp[0] == 'x' {
				return 0, &RegisterFault{Name: name, Reason: "value unavailable"}
			}
			v, err := decodeLittleEndian(resp)
			if err != nil {
				return 0, &RegisterFault{Name: name, Reason: "malformed reply", Err: err}
			}
			return v, nil
		case IsUnsupported(err):
			c.logger.Debug("stub does not support p packets, falling back to g")
			c.gOnly = true
		default:
			return 0, &RegisterFault{Name: name, Reason: "read failed", Err: err}
		}
	}

	raw, err := c.readRegisterBlock()
	if err != nil {
		return 0, &RegisterFault{Name: name, Reason: "read failed", Err: err}
	}
	if reg.Offset+reg.Size() > len(raw) {
		return 0, &RegisterFault{Name: name, Reason: "not present in register block"}
	}
	return littleEndian(raw[reg.Offset : reg.Offset+reg.Size()]), nil
}

// ReadRegisters reads every register of at most 64 bits with one 'g' packet.
func (c *Client) ReadRegisters() (map[string]uint64, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	raw, err := c.readRegisterBlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(c.regs))
	for _, reg := range c.regs {
		if reg.Size() == 0 || reg.Size() > 8 || reg.Offset+reg.Size() > len(raw) {
			continue
		}
		out[reg.Name] = littleEndian(raw[reg.Offset : reg.Offset+reg.Size()])
	}
	return out, nil
}

func (c *Client) readRegisterBlock() ([]byte, error) {
	resp, err := c.exec("registers read", "g")
	if err != nil {
		return nil, err
	}
	// unavailable registers are reported as 'x' digits
	clean := []byte(strings.ReplaceAll(string(resp), "x", "0"))
	return decodeHex(clean)
}

// WriteRegister writes a single register by name.
func (c *Client) WriteRegister(name string, value uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	i, ok := c.regIndex[name]
	if !ok {
		return &RegisterFault{Name: name, Reason: "unknown register"}
	}
	reg := c.regs[i]

	if !c.gOnly {
		_, err := c.exec("register write", fmt.Sprintf("P%x=%s", reg.Regnum, encodeLittleEndian(value, reg.Size())))
		switch {
		case err == nil:
			return nil
		case IsUnsupported(err):
			c.gOnly = true
		default:
			return &RegisterFault{Name: name, Reason: "write failed", Err: err}
		}
	}

	raw, err := c.readRegisterBlock()
	if err != nil {
		return &RegisterFault{Name: name, Reason: "write failed", Err: err}
	}
	if reg.Offset+reg.Size() > len(raw) {
		return &RegisterFault{Name: name, Reason: "not present in register block"}
	}
	patch, _ := decodeHex([]byte(encodeLittleEndian(value, reg.Size())))
	copy(raw[reg.Offset:], patch)
	if _, err := c.exec("registers write", "G"+hex.EncodeToString(raw)); err != nil {
		return &RegisterFault{Name: name, Reason: "write failed", Err: err}
	}
	return nil
}

// ReadMemory reads n bytes at addr, split into packets the stub accepts.
func (c *Client) ReadMemory(addr uint64, n int) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	chunk := (c.packetSize - 4) / 2
	if chunk < 16 {
		chunk = 16
	}
	for len(out) < n {
		sz := n - len(out)
		if sz > chunk {
			sz = chunk
		}
		at := addr + uint64(len(out))
		resp, err := c.exec("memory read", fmt.Sprintf("m%x,%x", at, sz))
		if err != nil {
			return nil, &MemoryFault{Addr: at, Len: sz, Err: err}
		}
		data, err := decodeHex(resp)
		if err != nil {
			return nil, &MemoryFault{Addr: at, Len: sz, Err: err}
		}
		out = append(out, data...)
		if len(data) < sz {
			// stubs return a short read when the range runs into unmapped memory
			return nil, &MemoryFault{
				Addr: at + uint64(len(data)),
				Len:  sz - len(data),
				Err:  errors.New("short read"),
			}
		}
	}
	return out, nil
}

// WriteMemory writes data at addr, split into packets the stub accepts.
func (c *Client) WriteMemory(addr uint64, data []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	chunk := (c.packetSize - 32) / 2
	if chunk < 16 {
		chunk = 16
	}
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		at := addr + uint64(off)
		pkt := fmt.Sprintf("M%x,%x:%s", at, end-off, hex.EncodeToString(data[off:end]))
		if _, err := c.exec("memory write", pkt); err != nil {
			return &MemoryFault{Addr: at, Len: end - off, Write: true, Err: err}
		}
	}
	return nil
}

// SetBreakpoint inserts a software breakpoint ('Z0') at addr.
func (c *Client) SetBreakpoint(addr uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.exec("set breakpoint", fmt.Sprintf("Z0,%x,1", addr))
	return err
}

// ClearBreakpoint removes a software breakpoint ('z0') at addr.
func (c *Client) ClearBreakpoint(addr uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.exec("clear breakpoint", fmt.Sprintf("z0,%x,1", addr))
	return err
}

// Continue resumes the debuggee and blocks until it stops.
//
// When ContinueTimeout (or the context deadline) expires the debuggee is
// interrupted, a TimeoutError is returned and the client refuses to resume
// again until Resync is called.
func (c *Client) Continue(ctx context.Context) (StopEvent, error) {
	pkt := "c"
	if c.vCont {
		pkt = "vCont;c"
	}
	return c.resume(ctx, "continue", pkt)
}

// Step executes a single instruction.
func (c *Client) Step(ctx context.Context) (StopEvent, error) {
	pkt := "s"
	if c.vCont {
		pkt = "vCont;s"
	}
	return c.resume(ctx, "step", pkt)
}

func (c *Client) resume(ctx context.Context, op, pkt string) (StopEvent, error) {
	if err := c.ready(); err != nil {
		return StopEvent{}, err
	}
	if c.needsResync {
		return StopEvent{}, ErrNeedsResync
	}
	if err := ctx.Err(); err != nil {
		return StopEvent{}, err
	}

	timeout := c.config.ContinueTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if rem := time.Until(deadline); timeout == 0 || rem < timeout {
			timeout = rem
		}
	}

	if err := c.send(pkt); err != nil {
		return StopEvent{}, err
	}
	return c.waitStop(op, timeout)
}

// waitStop reads replies until a stop reply arrives, printing console output.
func (c *Client) waitStop(op string, timeout time.Duration) (StopEvent, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}
	for {
		resp, err := c.recv(op)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return StopEvent{}, c.abortResume(op, timeout)
			}
			return StopEvent{}, err
		}
		if len(resp) >= 3 && resp[0] == 'E' {
			return StopEvent{}, &ProtocolError{Op: op, Code: string(resp[1:3])}
		}
		ev, output, err := parseStopReply(resp)
		if err != nil {
			return StopEvent{}, err
		}
		if output != nil {
			c.logger.Info("inferior output", zap.ByteString("data", output))
			continue
		}
		c.recordStop(ev)
		return ev, nil
	}
}

func (c *Client) recordStop(ev StopEvent) {
	c.lastStop = ev
	if ev.Exited() {
		c.exited = true
		c.logger.Info("debuggee exited",
			zap.Stringer("reason", ev.Reason),
			zap.Int("status", ev.ExitStatus),
			zap.Uint8("signal", ev.Signal),
		)
	}
}

// abortResume interrupts a debuggee that did not stop in time.
func (c *Client) abortResume(op string, timeout time.Duration) error {
	c.needsResync = true
	c.logger.Warn("debuggee did not stop in time, interrupting",
		zap.String("op", op),
		zap.Duration("timeout", timeout),
	)
	if err := c.Interrupt(); err != nil {
		c.logger.Warn("failed to send interrupt", zap.Error(err))
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.InterruptGrace))
		if resp, err := c.recv(op); err == nil {
			if ev, _, err := parseStopReply(resp); err == nil {
				c.recordStop(ev)
			}
		}
	}
	return &TimeoutError{Op: op, Timeout: timeout.String()}
}

// Interrupt sends ^C to stop a running debuggee.
func (c *Client) Interrupt() error {
	if c.closed {
		return ErrClosed
	}
	c.logger.Debug("<- interrupt")
	_, err := c.conn.Write([]byte{ctrlC})
	return err
}

// StopReason queries why the debuggee is stopped ('?').
func (c *Client) StopReason() (StopEvent, error) {
	if err := c.ready(); err != nil {
		return StopEvent{}, err
	}
	resp, err := c.exec("stop reason", "?")
	if err != nil {
		return StopEvent{}, err
	}
	ev, _, err := parseStopReply(resp)
	if err != nil {
		return StopEvent{}, err
	}
	c.recordStop(ev)
	return ev, nil
}

// Resync re-establishes a consistent view of the debuggee after a timeout.
//
// A stop reply to an interrupt may arrive after InterruptGrace. Pending
// replies are drained before '?' is sent, and any stop reply that follows
// the answer to '?' supersedes it, so later requests are paired with their
// own replies.
func (c *Client) Resync(ctx context.Context) (StopEvent, error) {
	if err := ctx.Err(); err != nil {
		return StopEvent{}, err
	}
	if err := c.ready(); err != nil {
		return StopEvent{}, err
	}
	if _, err := c.drainStops("resync"); err != nil {
		return StopEvent{}, err
	}
	ev, err := c.StopReason()
	if err != nil {
		return StopEvent{}, err
	}
	late, err := c.drainStops("resync")
	if err != nil {
		return StopEvent{}, err
	}
	if late != nil {
		ev = *late
	}
	c.needsResync = false
	c.logger.Info("resynchronized with debuggee", zap.Stringer("reason", ev.Reason))
	return ev, nil
}

// drainStops reads replies until none arrives for ResyncQuiet and returns
// the last stop reply among them.
func (c *Client) drainStops(op string) (*StopEvent, error) {
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	var last *StopEvent
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ResyncQuiet))
		resp, err := c.recv(op)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return last, nil
			}
			return nil, err
		}
		ev, output, err := parseStopReply(resp)
		if err != nil || output != nil {
			c.logger.Debug("discarded stale reply", zap.ByteString("packet", resp))
			continue
		}
		c.logger.Debug("stop reply while resynchronizing", zap.Stringer("reason", ev.Reason))
		c.recordStop(ev)
		last = &ev
	}
}

// Detach releases the debuggee and closes the connection. It is idempotent.
func (c *Client) Detach() error {
	if c.closed {
		return nil
	}
	var err error
	if !c.exited {
		_, err = c.exec("detach", "D")
	}
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Kill terminates the debuggee and closes the connection.
func (c *Client) Kill() error {
	if c.closed {
		return nil
	}
	if !c.exited {
		if err := c.send("k"); err != nil {
			c.Close()
			return err
		}
		// gdbserver may answer with an X reply or just drop the connection
		_ = c.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if resp, err := c.recv("kill"); err == nil {
			if ev, _, err := parseStopReply(resp); err == nil {
				c.recordStop(ev)
			}
		}
	}
	return c.Close()
}

// Close closes the connection without detaching. It is idempotent.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func littleEndian(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
