package vm

// Revert codes the compiler plants for implicit aborts. The high word
// keeps them clear of user-chosen codes, which in practice stay small.
const (
	RevertAssert      uint64 = 0xffff_ffff_0000_0000 + iota // failed assert
	RevertArith                                             // division or modulo by zero
	RevertBounds                                            // index outside array bounds
	RevertMatch                                             // match subject carried an unknown tag
	RevertBadSelector                                       // calldata named no entry function
)

// RevertName describes a compiler-planted revert code, or "" when the
// code is user-defined.
func RevertName(code uint64) string {
	switch code {
	case RevertAssert:
		return "assertion failure"
	case RevertArith:
		return "division by zero"
	case RevertBounds:
		return "index out of bounds"
	case RevertMatch:
		return "invalid union tag"
	case RevertBadSelector:
		return "unknown entry selector"
	default:
		return ""
	}
}
