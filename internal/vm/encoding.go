package vm

import (
	"fmt"
	"strings"
)

// Immediate field capacities per format.
const (
	MaxImm12 = 1<<12 - 1
	MaxImm18 = 1<<18 - 1
	MaxImm24 = 1<<24 - 1
)

// Instr is one decoded instruction. Fields beyond the opcode's format
// are ignored by Encode and zero after Decode.
type Instr struct {
	Op  Opcode
	A   Reg
	B   Reg
	C   Reg
	D   Reg
	Imm uint32
}

// Instruction words are 32 bits: the opcode in the top byte, then
// register fields packed as 6-bit groups from the high end of the
// remaining 24 bits, immediates filling the low bits.
//
//	R4:  op[31:24] a[23:18] b[17:12] c[11:6] d[5:0]
//	RI:  op[31:24] a[23:18] b[17:12] imm12[11:0]
//	I18: op[31:24] a[23:18] imm18[17:0]
//	I24: op[31:24] imm24[23:0]
const (
	shiftOp = 24
	shiftA  = 18
	shiftB  = 12
	shiftC  = 6
	regMask = 1<<6 - 1
)

// Encode packs the instruction into a word, validating register and
// immediate ranges against the opcode's format.
func (in Instr) Encode() (uint32, error) {
	info := Describe(in.Op)
	w := uint32(in.Op) << shiftOp

	checkReg := func(name string, r Reg) error {
		if !Valid(r) {
			return fmt.Errorf("%s: register %s out of range", info.Name, name)
		}
		return nil
	}

	switch info.Fmt {
	case FmtN:
	case FmtR1:
		if err := checkReg("a", in.A); err != nil {
			return 0, err
		}
		w |= uint32(in.A) << shiftA
	case FmtR2:
		if err := checkReg("a", in.A); err != nil {
			return 0, err
		}
		if err := checkReg("b", in.B); err != nil {
			return 0, err
		}
		w |= uint32(in.A)<<shiftA | uint32(in.B)<<shiftB
	case FmtR3:
		if err := checkReg("a", in.A); err != nil {
			return 0, err
		}
		if err := checkReg("b", in.B); err != nil {
			return 0, err
		}
		if err := checkReg("c", in.C); err != nil {
			return 0, err
		}
		w |= uint32(in.A)<<shiftA | uint32(in.B)<<shiftB | uint32(in.C)<<shiftC
	case FmtR4:
		if err := checkReg("a", in.A); err != nil {
			return 0, err
		}
		if err := checkReg("b", in.B); err != nil {
			return 0, err
		}
		if err := checkReg("c", in.C); err != nil {
			return 0, err
		}
		if err := checkReg("d", in.D); err != nil {
			return 0, err
		}
		w |= uint32(in.A)<<shiftA | uint32(in.B)<<shiftB | uint32(in.C)<<shiftC | uint32(in.D)
	case FmtRI:
		if err := checkReg("a", in.A); err != nil {
			return 0, err
		}
		if err := checkReg("b", in.B); err != nil {
			return 0, err
		}
		if in.Imm > MaxImm12 {
			return 0, fmt.Errorf("%s: immediate %d exceeds 12 bits", info.Name, in.Imm)
		}
		w |= uint32(in.A)<<shiftA | uint32(in.B)<<shiftB | in.Imm
	case FmtI18:
		if err := checkReg("a", in.A); err != nil {
			return 0, err
		}
		if in.Imm > MaxImm18 {
			return 0, fmt.Errorf("%s: immediate %d exceeds 18 bits", info.Name, in.Imm)
		}
		w |= uint32(in.A)<<shiftA | in.Imm
	case FmtI24:
		if in.Imm > MaxImm24 {
			return 0, fmt.Errorf("%s: immediate %d exceeds 24 bits", info.Name, in.Imm)
		}
		w |= in.Imm
	}
	return w, nil
}

// Decode unpacks an instruction word. Unknown opcodes decode with
// format FmtN; callers that care should check Describe.
func Decode(w uint32) Instr {
	in := Instr{Op: Opcode(w >> shiftOp)}
	switch Describe(in.Op).Fmt {
	case FmtR1:
		in.A = Reg(w >> shiftA & regMask)
	case FmtR2:
		in.A = Reg(w >> shiftA & regMask)
		in.B = Reg(w >> shiftB & regMask)
	case FmtR3:
		in.A = Reg(w >> shiftA & regMask)
		in.B = Reg(w >> shiftB & regMask)
		in.C = Reg(w >> shiftC & regMask)
	case FmtR4:
		in.A = Reg(w >> shiftA & regMask)
		in.B = Reg(w >> shiftB & regMask)
		in.C = Reg(w >> shiftC & regMask)
		in.D = Reg(w & regMask)
	case FmtRI:
		in.A = Reg(w >> shiftA & regMask)
		in.B = Reg(w >> shiftB & regMask)
		in.Imm = w & MaxImm12
	case FmtI18:
		in.A = Reg(w >> shiftA & regMask)
		in.Imm = w & MaxImm18
	case FmtI24:
		in.Imm = w & MaxImm24
	}
	return in
}

// String renders the instruction in listing form, e.g. "add r28 r16 r17"
// or "movi r24 1000".
func (in Instr) String() string {
	info := Describe(in.Op)
	var sb strings.Builder
	sb.WriteString(info.Name)
	switch info.Fmt {
	case FmtR1:
		fmt.Fprintf(&sb, " %s", Name(in.A))
	case FmtR2:
		fmt.Fprintf(&sb, " %s %s", Name(in.A), Name(in.B))
	case FmtR3:
		fmt.Fprintf(&sb, " %s %s %s", Name(in.A), Name(in.B), Name(in.C))
	case FmtR4:
		fmt.Fprintf(&sb, " %s %s %s %s", Name(in.A), Name(in.B), Name(in.C), Name(in.D))
	case FmtRI:
		fmt.Fprintf(&sb, " %s %s %d", Name(in.A), Name(in.B), in.Imm)
	case FmtI18:
		fmt.Fprintf(&sb, " %s %d", Name(in.A), in.Imm)
	case FmtI24:
		fmt.Fprintf(&sb, " %d", in.Imm)
	}
	return sb.String()
}
