package sim

import "fmt"

// Arch is the execution model selected by the current address.
type Arch uint8

const (
	ArchBytecode Arch = iota
	ArchAMD64
)

func (a Arch) String() string {
	if a == ArchAMD64 {
		return "amd64"
	}
	return "bytecode"
}

// Address is either a NativeAddr or a BytecodeAddr.
type Address interface {
	fmt.Stringer
	isAddress()
}

// NativeAddr is an instruction pointer value.
type NativeAddr uint64

// BytecodeAddr names a statement inside a method.
type BytecodeAddr struct {
	Method string
	Block  int
	Stmt   int
}

func (NativeAddr) isAddress()   {}
func (BytecodeAddr) isAddress() {}

func (a NativeAddr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

func (a BytecodeAddr) String() string {
	return fmt.Sprintf("%s[%d:%d]", a.Method, a.Block, a.Stmt)
}

// MethodEntry is the first statement of method.
func MethodEntry(method string) BytecodeAddr {
	return BytecodeAddr{Method: method}
}
