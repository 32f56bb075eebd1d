package program

import "fmt"

// Type is a Java primitive or reference type.
type Type uint8

const (
	Void Type = iota
	Boolean
	Byte
	Char
	Short
	Int
	Long
	Ref
)

var typeNames = [...]string{
	Void:    "void",
	Boolean: "boolean",
	Byte:    "byte",
	Char:    "char",
	Short:   "short",
	Int:     "int",
	Long:    "long",
	Ref:     "reference",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// Bits is the natural storage width, used for array elements and for
// values crossing into native code.
func (t Type) Bits() uint {
	switch t {
	case Boolean, Byte:
		return 8
	case Char, Short:
		return 16
	case Int, Ref:
		return 32
	case Long:
		return 64
	}
	return 0
}

// SlotBits is the width of a local holding a value of this type. Every
// sub-int type is widened to 32 bits.
func (t Type) SlotBits() uint {
	if t == Long {
		return 64
	}
	if t == Void {
		return 0
	}
	return 32
}

// Signed reports whether widening sign-extends.
func (t Type) Signed() bool {
	return t == Byte || t == Short || t == Int || t == Long
}

// Descriptor is the JVM type letter.
func (t Type) Descriptor() byte {
	return "VZBCSIJL"[t]
}

// ParseType accepts Java source names and JVM descriptor letters.
func ParseType(s string) (Type, error) {
	switch s {
	case "void", "V":
		return Void, nil
	case "boolean", "Z":
		return Boolean, nil
	case "byte", "B":
		return Byte, nil
	case "char", "C":
		return Char, nil
	case "short", "S":
		return Short, nil
	case "int", "I":
		return Int, nil
	case "long", "J":
		return Long, nil
	case "reference", "ref", "L":
		return Ref, nil
	}
	return Void, fmt.Errorf("program: unknown type %q", s)
}
