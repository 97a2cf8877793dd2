// Package vm defines the Cinder VM target: the register file, the opcode
// table with encodings, per-instruction gas costs and version floors, and
// the stable revert codes the compiler emits. It is a pure description; the
// backend consumes it and inline asm is validated against it.
package vm

import "fmt"

// Reg is a register index. The instruction encodings carry registers in
// six-bit fields, so valid indices are 0..63.
type Reg uint8

// NumRegs is the size of the register file.
const NumRegs = 64

// Reserved registers. The VM maintains these; programs read them but only
// the defined instructions write them.
const (
	RegZero Reg = 0  // always zero
	RegOne  Reg = 1  // always one
	RegPC   Reg = 2  // program counter, in words
	RegSP   Reg = 3  // stack pointer, grows upward
	RegFP   Reg = 4  // frame pointer of the running call
	RegHP   Reg = 5  // heap pointer, grows downward
	RegErr  Reg = 6  // error latch of checked operations
	RegGGas Reg = 7  // gas remaining globally
	RegCGas Reg = 8  // gas remaining in this call frame
	RegRet  Reg = 9  // return value of the last call
	RegFlag Reg = 10 // flags of the last comparison-setting op
	RegDS   Reg = 11 // data section base address
	RegIS   Reg = 12 // instruction start address
)

// FirstGP is the first general-purpose register; everything below is
// reserved (13..15 are held back for future VM releases).
const FirstGP Reg = 16

// Calling convention. Arguments travel in the first general-purpose
// registers and the callee's result comes back in RegRet. Every
// general-purpose register is caller-saved.
const (
	RegArg0    Reg = 16
	NumArgRegs     = 8

	// RegScratch0..RegScratch3 are reserved by the backend for address
	// materialization and immediate staging between allocated values.
	RegScratch0 Reg = 24
	NumScratch      = 4

	// FirstAlloc..LastAlloc is the linear-scan allocation pool.
	FirstAlloc Reg = 28
	LastAlloc  Reg = 63
)

var reservedNames = [...]string{
	"$zero", "$one", "$pc", "$sp", "$fp", "$hp", "$err",
	"$ggas", "$cgas", "$ret", "$flag", "$ds", "$is",
}

// Name renders a register for listings: reserved registers by role, the
// rest as rNN.
func Name(r Reg) string {
	if int(r) < len(reservedNames) {
		return reservedNames[r]
	}
	return fmt.Sprintf("r%d", r)
}

// ReservedByName resolves a reserved register's listing name, e.g. "$hp".
// Asm blocks may read reserved registers without binding them.
func ReservedByName(name string) (Reg, bool) {
	for i, n := range reservedNames {
		if n == name {
			return Reg(i), true
		}
	}
	return 0, false
}

// Valid reports whether r fits the six-bit encoding field.
func Valid(r Reg) bool { return r < NumRegs }
