package symerrors

import (
	"errors"
	"strings"
)

// State (S) Errors
var (
	ErrAddressResolution      = errors.New("S1|AddressResolution: Program counter set to an address with no registered method or code region.")
	ErrMemoryAccess           = errors.New("S2|MemoryAccess: Read of an uninitialized or unknown symbol.")
	ErrUnsupportedInstruction = errors.New("S3|UnsupportedInstruction: Native instruction outside the supported subset.")
	ErrDecode                 = errors.New("S4|Decode: Native bytes could not be decoded.")
	ErrUnsupportedStatement   = errors.New("S5|UnsupportedStatement: Bytecode statement or value the interpreter does not handle.")
	ErrTypeMismatch           = errors.New("S6|TypeMismatch: Value of the wrong kind for the operation.")
	ErrStackOverflow          = errors.New("S7|StackOverflow: Native stack pointer moved below the configured stack.")
)

// Array (A) Errors
var (
	ErrInvalidLength      = errors.New("A1|InvalidLength: Array length cannot be constrained to [0, 2^31-1].")
	ErrIndexOutOfRange    = errors.New("A2|IndexOutOfRange: Array index cannot be inside the array bounds.")
	ErrUnknownHandle      = errors.New("A3|UnknownHandle: Reference handle does not name a heap object.")
	ErrSymbolicIndexWidth = errors.New("A4|SymbolicIndexWidth: Symbolic index admits more candidates than the configured fan-out.")
)

// Bridge (B) Errors
var (
	ErrBorrowLeak     = errors.New("B1|BorrowLeak: Call frame destroyed with a pending-release array handle.")
	ErrUnborrowed     = errors.New("B2|Unborrowed: Release of an array handle that was never borrowed.")
	ErrNoCallFrame    = errors.New("B3|NoCallFrame: Foreign return without a matching call frame.")
	ErrBadSignature   = errors.New("B4|BadSignature: Argument count or kind does not match the native signature.")
	ErrUnknownJNISlot = errors.New("B5|UnknownJNISlot: Hook address is not bound to a JNI function.")
)

// Exploration (E) Errors
var (
	ErrUnsatisfiable   = errors.New("E1|Unsatisfiable: Path constraints are infeasible.")
	ErrAmbiguity       = errors.New("E2|Ambiguity: Expected exactly one successor or winning path.")
	ErrBudgetExhausted = errors.New("E3|BudgetExhausted: Step or path budget reached before exploration finished.")
)

// Solver (V) Errors
var (
	ErrNotUnique           = errors.New("V1|NotUnique: Expression is not uniquely determined by the constraints.")
	ErrTooManySolutions    = errors.New("V2|TooManySolutions: Expression has more feasible values than requested.")
	ErrWidthMismatch       = errors.New("V3|WidthMismatch: Operands have different bit widths.")
	ErrUnsupportedWidth    = errors.New("V4|UnsupportedWidth: Bit width outside 1..256.")
	ErrSolverIndeterminate = errors.New("V5|Indeterminate: Solver gave no answer.")
)

var catalogue = []error{
	ErrAddressResolution, ErrMemoryAccess, ErrUnsupportedInstruction, ErrDecode,
	ErrUnsupportedStatement, ErrTypeMismatch, ErrStackOverflow,
	ErrInvalidLength, ErrIndexOutOfRange, ErrUnknownHandle, ErrSymbolicIndexWidth,
	ErrBorrowLeak, ErrUnborrowed, ErrNoCallFrame, ErrBadSignature, ErrUnknownJNISlot,
	ErrUnsatisfiable, ErrAmbiguity, ErrBudgetExhausted,
	ErrNotUnique, ErrTooManySolutions, ErrWidthMismatch, ErrUnsupportedWidth, ErrSolverIndeterminate,
}

// sentinel finds the catalogued error err wraps, or err itself.
func sentinel(err error) error {
	for _, c := range catalogue {
		if errors.Is(err, c) {
			return c
		}
	}
	return err
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := sentinel(err).Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameDesc := parts[1]
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(nameDesc, ":", 2)
	if len(nameParts) < 1 {
		return errStr
	}
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := sentinel(err).Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
