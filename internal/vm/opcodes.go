package vm

import "strings"

// Opcode is the high byte of an encoded instruction word.
type Opcode uint8

const (
	NOOP Opcode = iota

	// Register moves and immediates.
	MOV  // mov a b: a := b
	MOVI // movi a imm18: a := imm
	NOT  // not a b: a := ^b

	// Arithmetic and bitwise, wrapping at 64 bits. a := b op c.
	ADD
	SUB
	MUL
	DIV // traps the VM on zero divisor; the compiler guards first
	MOD
	AND
	OR
	XOR
	SLL
	SRL

	// Immediate forms. a := b op imm12.
	ADDI
	MULI
	SLLI
	SRLI

	// Comparisons. a := b op c, producing 0 or 1.
	EQ
	NE
	LT
	LE
	GT
	GE

	// Loads: a := mem[b+imm12], zero-extended, big-endian.
	LB
	LH
	LW
	LD

	// Stores: mem[b+imm12] := a, truncated to the width.
	SB
	SH
	SW
	SD

	// Bulk memory.
	MCP  // mcp a b c: copy c bytes from b to a
	MCPI // mcpi a b imm12: copy imm bytes from b to a
	MEQ  // meq a b c d: a := mem[b..b+d) == mem[c..c+d)

	// 256-bit operations on 32-byte memory operands.
	WADD
	WSUB
	WMUL
	WDIV
	WMOD
	WLT // wlt a b c: a := mem256[b] < mem256[c]

	// Control flow. Jump targets are absolute word indices.
	JI   // ji imm24
	JNZI // jnzi a imm18: jump when a != 0
	CALL // call imm24: push frame, jump
	RET  // ret a: $ret := a, pop frame
	RVRT // rvrt a: abort the program with code a
	CFEI // cfei imm24: extend the call frame by imm bytes

	// Addressing.
	DADR // dadr a imm18: a := $ds + imm
	CDW  // cdw a imm18: a := calldata word at byte offset imm

	numOpcodes
)

// Format describes which operand fields an opcode encodes.
type Format uint8

const (
	FmtN   Format = iota // no operands
	FmtR1                // ra
	FmtR2                // ra rb
	FmtR3                // ra rb rc
	FmtR4                // ra rb rc rd
	FmtRI                // ra rb imm12
	FmtI18               // ra imm18
	FmtI24               // imm24
)

// Info is the static description of one opcode.
type Info struct {
	Name  string
	Fmt   Format
	Gas   uint16 // base gas cost charged by the VM
	MinVM string // first CVM release carrying the opcode
}

var table = [numOpcodes]Info{
	NOOP: {"noop", FmtN, 1, "1.0.0"},
	MOV:  {"mov", FmtR2, 1, "1.0.0"},
	MOVI: {"movi", FmtI18, 1, "1.0.0"},
	NOT:  {"not", FmtR2, 1, "1.0.0"},
	ADD:  {"add", FmtR3, 1, "1.0.0"},
	SUB:  {"sub", FmtR3, 1, "1.0.0"},
	MUL:  {"mul", FmtR3, 3, "1.0.0"},
	DIV:  {"div", FmtR3, 3, "1.0.0"},
	MOD:  {"mod", FmtR3, 3, "1.0.0"},
	AND:  {"and", FmtR3, 1, "1.0.0"},
	OR:   {"or", FmtR3, 1, "1.0.0"},
	XOR:  {"xor", FmtR3, 1, "1.0.0"},
	SLL:  {"sll", FmtR3, 1, "1.0.0"},
	SRL:  {"srl", FmtR3, 1, "1.0.0"},
	ADDI: {"addi", FmtRI, 1, "1.0.0"},
	MULI: {"muli", FmtRI, 3, "1.0.0"},
	SLLI: {"slli", FmtRI, 1, "1.0.0"},
	SRLI: {"srli", FmtRI, 1, "1.0.0"},
	EQ:   {"eq", FmtR3, 1, "1.0.0"},
	NE:   {"ne", FmtR3, 1, "1.0.0"},
	LT:   {"lt", FmtR3, 1, "1.0.0"},
	LE:   {"le", FmtR3, 1, "1.0.0"},
	GT:   {"gt", FmtR3, 1, "1.0.0"},
	GE:   {"ge", FmtR3, 1, "1.0.0"},
	LB:   {"lb", FmtRI, 2, "1.0.0"},
	LH:   {"lh", FmtRI, 2, "1.0.0"},
	LW:   {"lw", FmtRI, 2, "1.0.0"},
	LD:   {"ld", FmtRI, 2, "1.0.0"},
	SB:   {"sb", FmtRI, 2, "1.0.0"},
	SH:   {"sh", FmtRI, 2, "1.0.0"},
	SW:   {"sw", FmtRI, 2, "1.0.0"},
	SD:   {"sd", FmtRI, 2, "1.0.0"},
	MCP:  {"mcp", FmtR3, 4, "1.0.0"},
	MCPI: {"mcpi", FmtRI, 4, "1.1.0"},
	MEQ:  {"meq", FmtR4, 4, "1.0.0"},
	WADD: {"wadd", FmtR3, 6, "1.2.0"},
	WSUB: {"wsub", FmtR3, 6, "1.2.0"},
	WMUL: {"wmul", FmtR3, 10, "1.2.0"},
	WDIV: {"wdiv", FmtR3, 10, "1.2.0"},
	WMOD: {"wmod", FmtR3, 10, "1.2.0"},
	WLT:  {"wlt", FmtR3, 6, "1.2.0"},
	JI:   {"ji", FmtI24, 1, "1.0.0"},
	JNZI: {"jnzi", FmtI18, 1, "1.0.0"},
	CALL: {"call", FmtI24, 8, "1.0.0"},
	RET:  {"ret", FmtR1, 4, "1.0.0"},
	RVRT: {"rvrt", FmtR1, 4, "1.0.0"},
	CFEI: {"cfei", FmtI24, 2, "1.0.0"},
	DADR: {"dadr", FmtI18, 1, "1.0.0"},
	CDW:  {"cdw", FmtI18, 2, "1.1.0"},
}

var byName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op := Opcode(0); op < numOpcodes; op++ {
		m[table[op].Name] = op
	}
	return m
}()

// Describe returns the static description of op.
func Describe(op Opcode) Info {
	if op >= numOpcodes {
		return Info{Name: "invalid", Fmt: FmtN}
	}
	return table[op]
}

// Mnemonic returns the lowercase listing name of op.
func Mnemonic(op Opcode) string { return Describe(op).Name }

// ByName resolves an asm-block mnemonic, case-insensitively.
func ByName(name string) (Opcode, bool) {
	op, ok := byName[strings.ToLower(name)]
	return op, ok
}

// WritesA reports whether the opcode writes its A register field. Stores,
// bulk copies and the wide arithmetic group read A as a destination address
// instead; branches, ret and rvrt read it as a plain source.
func WritesA(op Opcode) bool {
	switch op {
	case SB, SH, SW, SD, MCP, MCPI, WADD, WSUB, WMUL, WDIV, WMOD, JNZI, RET, RVRT:
		return false
	}
	return Describe(op).Fmt.NumOperandRegs() > 0
}

// NumOperandRegs returns how many register names the format mentions,
// which asm-block validation checks against the written operands.
func (f Format) NumOperandRegs() int {
	switch f {
	case FmtR1, FmtI18:
		return 1
	case FmtR2, FmtRI:
		return 2
	case FmtR3:
		return 3
	case FmtR4:
		return 4
	default:
		return 0
	}
}

// HasImm reports whether the format carries an immediate field.
func (f Format) HasImm() bool {
	return f == FmtRI || f == FmtI18 || f == FmtI24
}
