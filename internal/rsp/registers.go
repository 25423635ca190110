package rsp

import (
	"encoding/xml"
	"fmt"
)

// Register describes one register of the stub's register layout.
type Register struct {
	Name    string `xml:"name,attr"`
	Bitsize int    `xml:"bitsize,attr"`
	Regnum  int    `xml:"regnum,attr"`
	Group   string `xml:"group,attr"`

	// Offset is the byte offset of the register in a 'g' packet
	Offset int `xml:"-"`
}

// Size returns the register width in bytes.
func (r Register) Size() int {
	return r.Bitsize / 8
}

// targetDescription is used to parse target.xml and its includes.
type targetDescription struct {
	Includes  []targetInclude `xml:"include"`
	Features  []targetFeature `xml:"feature"`
	Registers []Register      `xml:"reg"`
}

type targetFeature struct {
	Registers []Register `xml:"reg"`
}

type targetInclude struct {
	Href string `xml:"href,attr"`
}

// parseTargetDescription parses one annex of a target description.
// Includes are returned for the caller to fetch.
func parseTargetDescription(data []byte) (regs []Register, includes []string, err error) {
	var tgt targetDescription
	if err := xml.Unmarshal(data, &tgt); err != nil {
		return nil, nil, fmt.Errorf("failed to parse target description: %w", err)
	}
	regs = append(regs, tgt.Registers...)
	for _, f := range tgt.Features {
		regs = append(regs, f.Registers...)
	}
	for _, inc := range tgt.Includes {
		includes = append(includes, inc.Href)
	}
	return regs, includes, nil
}

// layoutRegisters assigns register numbers and 'g' packet offsets.
// Registers without a regnum attribute follow the previous one.
func layoutRegisters(regs []Register) []Register {
	out := make([]Register, len(regs))
	copy(out, regs)
	var offset int
	regnum := 0
	for i := range out {
		if out[i].Regnum != 0 {
			regnum = out[i].Regnum
		}
		out[i].Regnum = regnum
		out[i].Offset = offset
		offset += out[i].Size()
		regnum++
	}
	return out
}

// AMD64Registers returns the general purpose register layout used by
// gdbserver on amd64. It is used when the stub does not serve target.xml.
func AMD64Registers() []Register {
	names := []string{
		"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"rip",
	}
	regs := make([]Register, 0, 24)
	for _, n := range names {
		regs = append(regs, Register{Name: n, Bitsize: 64, Group: "general"})
	}
	for _, n := range []string{"eflags", "cs", "ss", "ds", "es", "fs", "gs"} {
		regs = append(regs, Register{Name: n, Bitsize: 32, Group: "general"})
	}
	return layoutRegisters(regs)
}

// registerIndex maps register names to positions in a layout.
func registerIndex(regs []Register) map[string]int {
	idx := make(map[string]int, len(regs))
	for i, r := range regs {
		idx[r.Name] = i
	}
	return idx
}

// requiredRegisters must be present in any layout the client accepts.
var requiredRegisters = []string{"rip", "rsp", "rbp"}

func validateLayout(regs []Register) error {
	idx := registerIndex(regs)
	for _, name := range requiredRegisters {
		if _, ok := idx[name]; !ok {
			return fmt.Errorf("could not find %s register in target description", name)
		}
	}
	return nil
}
