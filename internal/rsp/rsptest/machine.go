package rsptest

import (
	"encoding/binary"
	"fmt"
)

// Region is a mapped range of memory.
type Region struct {
	Addr uint64
	Data []byte
}

func (r *Region) contains(addr uint64, n int) bool {
	return addr >= r.Addr && addr+uint64(n) <= r.Addr+uint64(len(r.Data))
}

// Step is the effect of executing one instruction.
type Step struct {
	// Next is the program counter after the instruction
	Next uint64
	// Exited terminates the process with Status
	Exited bool
	Status int
}

// Instruction executes the instruction at the current program counter.
type Instruction func(m *Machine) Step

// Machine is a toy amd64 process. Code is a table of instructions keyed by
// address; executing an address without an entry raises SIGSEGV.
type Machine struct {
	Regs   map[string]uint64
	Memory []*Region
	Code   map[uint64]Instruction
}

// NewMachine returns a machine with every register zeroed.
func NewMachine() *Machine {
	m := &Machine{
		Regs: make(map[string]uint64),
		Code: make(map[uint64]Instruction),
	}
	for _, r := range layout {
		m.Regs[r.name] = 0
	}
	return m
}

// Map adds a zero filled region.
func (m *Machine) Map(addr uint64, size int) *Region {
	r := &Region{Addr: addr, Data: make([]byte, size)}
	m.Memory = append(m.Memory, r)
	return r
}

// PC returns the program counter.
func (m *Machine) PC() uint64 {
	return m.Regs["rip"]
}

// Read returns a copy of n bytes at addr.
func (m *Machine) Read(addr uint64, n int) ([]byte, error) {
	for _, r := range m.Memory {
		if r.contains(addr, n) {
			off := addr - r.Addr
			out := make([]byte, n)
			copy(out, r.Data[off:off+uint64(n)])
			return out, nil
		}
	}
	return nil, fmt.Errorf("unmapped read of %d bytes at %#x", n, addr)
}

// Write stores data at addr.
func (m *Machine) Write(addr uint64, data []byte) error {
	for _, r := range m.Memory {
		if r.contains(addr, len(data)) {
			copy(r.Data[addr-r.Addr:], data)
			return nil
		}
	}
	return fmt.Errorf("unmapped write of %d bytes at %#x", len(data), addr)
}

// ReadUint32 reads a little-endian 32-bit value, zero when unmapped.
func (m *Machine) ReadUint32(addr uint64) uint32 {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Jump is an instruction with no effect besides moving to next.
func Jump(next uint64) Instruction {
	return func(*Machine) Step {
		return Step{Next: next}
	}
}

// Exit is an instruction that terminates the process.
func Exit(status int) Instruction {
	return func(*Machine) Step {
		return Step{Exited: true, Status: status}
	}
}

// BranchNE32 compares the 32-bit value at rbp+offset with value and moves
// to taken when they differ, like cmp dword [rbp+offset], value; jne taken.
func BranchNE32(offset int64, value uint32, taken, fallthru uint64) Instruction {
	return func(m *Machine) Step {
		if m.ReadUint32(m.Regs["rbp"]+uint64(offset)) != value {
			return Step{Next: taken}
		}
		return Step{Next: fallthru}
	}
}

// Set is an instruction that stores value in a register and moves to next.
func Set(name string, value uint64, next uint64) Instruction {
	return func(m *Machine) Step {
		m.Regs[name] = value
		return Step{Next: next}
	}
}

type reg struct {
	name string
	size int
}

// layout is gdbserver's amd64 general register order followed by the
// segment base registers.
var layout = []reg{
	{"rax", 8}, {"rbx", 8}, {"rcx", 8}, {"rdx", 8},
	{"rsi", 8}, {"rdi", 8}, {"rbp", 8}, {"rsp", 8},
	{"r8", 8}, {"r9", 8}, {"r10", 8}, {"r11", 8},
	{"r12", 8}, {"r13", 8}, {"r14", 8}, {"r15", 8},
	{"rip", 8},
	{"eflags", 4}, {"cs", 4}, {"ss", 4}, {"ds", 4}, {"es", 4}, {"fs", 4}, {"gs", 4},
	{"fs_base", 8}, {"gs_base", 8},
}

const coreXML = `<?xml version="1.0"?>
<!DOCTYPE feature SYSTEM "gdb-target.dtd">
<feature name="org.gnu.gdb.i386.core">
  <reg name="rax" bitsize="64" type="int64" regnum="0"/>
  <reg name="rbx" bitsize="64" type="int64"/>
  <reg name="rcx" bitsize="64" type="int64"/>
  <reg name="rdx" bitsize="64" type="int64"/>
  <reg name="rsi" bitsize="64" type="int64"/>
  <reg name="rdi" bitsize="64" type="int64"/>
  <reg name="rbp" bitsize="64" type="data_ptr"/>
  <reg name="rsp" bitsize="64" type="data_ptr"/>
  <reg name="r8" bitsize="64" type="int64"/>
  <reg name="r9" bitsize="64" type="int64"/>
  <reg name="r10" bitsize="64" type="int64"/>
  <reg name="r11" bitsize="64" type="int64"/>
  <reg name="r12" bitsize="64" type="int64"/>
  <reg name="r13" bitsize="64" type="int64"/>
  <reg name="r14" bitsize="64" type="int64"/>
  <reg name="r15" bitsize="64" type="int64"/>
  <reg name="rip" bitsize="64" type="code_ptr"/>
  <reg name="eflags" bitsize="32" type="i386_eflags"/>
  <reg name="cs" bitsize="32" type="int32"/>
  <reg name="ss" bitsize="32" type="int32"/>
  <reg name="ds" bitsize="32" type="int32"/>
  <reg name="es" bitsize="32" type="int32"/>
  <reg name="fs" bitsize="32" type="int32"/>
  <reg name="gs" bitsize="32" type="int32"/>
</feature>
`

const segmentsXML = `<?xml version="1.0"?>
<!DOCTYPE feature SYSTEM "gdb-target.dtd">
<feature name="org.gnu.gdb.i386.linux">
  <reg name="fs_base" bitsize="64" type="int" regnum="24"/>
  <reg name="gs_base" bitsize="64" type="int"/>
</feature>
`

const targetXML = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target xmlns:xi="http://www.w3.org/2001/XInclude">
  <architecture>i386:x86-64</architecture>
  <osabi>GNU/Linux</osabi>
  <xi:include href="64bit-core.xml"/>
  <xi:include href="64bit-segments.xml"/>
</target>
`

var annexes = map[string]string{
	"target.xml":         targetXML,
	"64bit-core.xml":     coreXML,
	"64bit-segments.xml": segmentsXML,
}
