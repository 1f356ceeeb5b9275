// Package il defines a small structured intermediate language and lowers
// it to EVM instructions with symbolic labels.
package il

import (
	"fmt"
	"strings"
)

// Term is a node of the term tree. Statements and expressions share the
// same interface; which positions accept which nodes is checked by the
// compiler.
type Term interface {
	fmt.Stringer
	term()
}

// Region names an addressable area of the machine.
type Region uint8

const (
	Memory Region = iota
	Storage
	CallData
)

func (r Region) String() string {
	switch r {
	case Memory:
		return "memory"
	case Storage:
		return "storage"
	case CallData:
		return "calldata"
	}
	return fmt.Sprintf("region(%d)", uint8(r))
}

// BinOp is a binary operator.
type BinOp uint8

const (
	Add BinOp = iota
	Subtract
	Multiply
	Divide
	Remainder
	Equals
	NotEquals
	LessThan
	LessThanOrEquals
	GreaterThan
	GreaterThanOrEquals
	LogicalAnd
	LogicalOr
)

var binOpSymbols = [...]string{
	Add:                 "+",
	Subtract:            "-",
	Multiply:            "*",
	Divide:              "/",
	Remainder:           "%",
	Equals:              "==",
	NotEquals:           "!=",
	LessThan:            "<",
	LessThanOrEquals:    "<=",
	GreaterThan:         ">",
	GreaterThanOrEquals: ">=",
	LogicalAnd:          "&&",
	LogicalOr:           "||",
}

func (op BinOp) String() string {
	if int(op) < len(binOpSymbols) {
		return binOpSymbols[op]
	}
	return fmt.Sprintf("binop(%d)", uint8(op))
}

// ParseBinOp maps an operator symbol back to its BinOp.
func ParseBinOp(s string) (BinOp, bool) {
	for i, sym := range binOpSymbols {
		if sym == s {
			return BinOp(i), true
		}
	}
	return 0, false
}

// Statements

type Assert struct{ Cond Term }

type Assignment struct {
	LHS Term
	RHS Term
}

type Fail struct{}

type Goto struct{ Label string }

type IfGoto struct {
	Cond  Term
	Label string
}

type Label struct{ Name string }

type Revert struct{ Exprs []Term }

type Succeed struct{ Exprs []Term }

type Stop struct{}

// Expressions

type Binary struct {
	Op  BinOp
	LHS Term
	RHS Term
}

// ArrayAccess indexes Src, which must be a MemoryAccess.
type ArrayAccess struct {
	Src   Term
	Index Term
}

// MemoryAccess names a region. It is only meaningful as the source of an
// ArrayAccess.
type MemoryAccess struct{ Region Region }

// Int is a decimal literal held as big-endian digit values.
type Int struct{ Digits []byte }

// Hex is a hexadecimal literal held as big-endian digit values.
type Hex struct{ Digits []byte }

func (Assert) term()       {}
func (Assignment) term()   {}
func (Fail) term()         {}
func (Goto) term()         {}
func (IfGoto) term()       {}
func (Label) term()        {}
func (Revert) term()       {}
func (Succeed) term()      {}
func (Stop) term()         {}
func (Binary) term()       {}
func (ArrayAccess) term()  {}
func (MemoryAccess) term() {}
func (Int) term()          {}
func (Hex) term()          {}

func (t Assert) String() string     { return "assert " + t.Cond.String() }
func (t Assignment) String() string { return t.LHS.String() + " = " + t.RHS.String() }
func (Fail) String() string         { return "fail" }
func (t Goto) String() string       { return "goto " + t.Label }
func (t IfGoto) String() string     { return "if " + t.Cond.String() + " goto " + t.Label }
func (t Label) String() string      { return "." + t.Name }
func (t Revert) String() string     { return "revert " + joinTerms(t.Exprs) }
func (t Succeed) String() string    { return "succeed " + joinTerms(t.Exprs) }
func (Stop) String() string         { return "stop" }

func (t Binary) String() string {
	return "(" + t.LHS.String() + " " + t.Op.String() + " " + t.RHS.String() + ")"
}

func (t ArrayAccess) String() string  { return t.Src.String() + "[" + t.Index.String() + "]" }
func (t MemoryAccess) String() string { return t.Region.String() }
func (t Int) String() string          { return digitString(t.Digits) }
func (t Hex) String() string          { return "0x" + digitString(t.Digits) }

func joinTerms(ts []Term) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func digitString(digits []byte) string {
	if len(digits) == 0 {
		return "0"
	}
	var sb strings.Builder
	for _, d := range digits {
		sb.WriteByte("0123456789abcdef"[d&0xf])
	}
	return sb.String()
}
