package program

// Value is an expression operand of a bytecode statement.
type Value interface{ isValue() }

// Stmt is a bytecode statement.
type Stmt interface{ isStmt() }

type BinKind uint8

const (
	OpAdd BinKind = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpUshr
)

var binNames = [...]string{"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>", ">>>"}

func (k BinKind) String() string { return binNames[k] }

type CmpKind uint8

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

var cmpNames = [...]string{"==", "!=", "<", "<=", ">", ">="}

func (k CmpKind) String() string { return cmpNames[k] }

type (
	// Const is a literal of the given type.
	Const struct {
		Type Type
		V    int64
	}
	// Local names a method local or parameter.
	Local struct{ Name string }
	BinOp struct {
		Op   BinKind
		A, B Value
	}
	// Cmp is a signed comparison producing a truth value.
	Cmp struct {
		Op   CmpKind
		A, B Value
	}
	// Cast converts between primitive types; To Boolean tests for non-zero.
	Cast struct {
		To Type
		V  Value
	}
	NewArray struct {
		Elem   Type
		Length Value
	}
	ArrayRef struct {
		Array, Index Value
	}
	ArrayLength struct{ Array Value }
	NewInstance struct{ Class string }
	FieldRef    struct {
		Object Value
		Field  string
	}
	// ReadStdin reads one symbolic byte, zero-extended to an int.
	ReadStdin struct{}
)

func (Const) isValue()       {}
func (Local) isValue()       {}
func (BinOp) isValue()       {}
func (Cmp) isValue()         {}
func (Cast) isValue()        {}
func (NewArray) isValue()    {}
func (ArrayRef) isValue()    {}
func (ArrayLength) isValue() {}
func (NewInstance) isValue() {}
func (FieldRef) isValue()    {}
func (ReadStdin) isValue()   {}

type (
	Assign struct {
		Dst string
		Src Value
	}
	ArrayStore struct {
		Array, Index, Src Value
	}
	FieldStore struct {
		Object Value
		Field  string
		Src    Value
	}
	// If jumps to block Target when Cond holds, otherwise falls through.
	If struct {
		Cond   Value
		Target int
	}
	Goto struct{ Target int }
	// Invoke calls a bytecode or native method; Dst is empty for void calls
	// or discarded results.
	Invoke struct {
		Dst    string
		Method string
		Args   []Value
	}
	// Return leaves the method; Value is nil for void.
	Return struct{ Value Value }
	// Print writes the low byte of Value to stdout.
	Print struct{ Value Value }
	Nop   struct{}
)

func (Assign) isStmt()     {}
func (ArrayStore) isStmt() {}
func (FieldStore) isStmt() {}
func (If) isStmt()         {}
func (Goto) isStmt()       {}
func (Invoke) isStmt()     {}
func (Return) isStmt()     {}
func (Print) isStmt()      {}
func (Nop) isStmt()        {}

// I, L, Z are shorthands used when assembling programs.
func I(v int32) Const { return Const{Type: Int, V: int64(v)} }
func L(v int64) Const { return Const{Type: Long, V: v} }
func Z(v bool) Const {
	if v {
		return Const{Type: Boolean, V: 1}
	}
	return Const{Type: Boolean}
}
func Var(name string) Local { return Local{Name: name} }
