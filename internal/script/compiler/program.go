package compiler

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// Op is a VM opcode.
type Op uint8

const (
	OpConst       Op = iota // push Constants[A]
	OpLoad                  // push slot A
	OpStore                 // pop into slot A
	OpPop                   // discard top
	OpAdd                   // a + b
	OpSub                   // a - b
	OpMul                   // a * b
	OpDiv                   // a / b
	OpMod                   // a % b
	OpEq                    // a == b
	OpNotEq                 // a != b
	OpLess                  // a < b
	OpLessEq                // a <= b
	OpGreater               // a > b
	OpGreaterEq             // a >= b
	OpNot                   // !a
	OpNeg                   // -a
	OpBool                  // truthiness of a as bool
	OpCount                 // validate a repeat count, push floor(a)
	OpJump                  // ip = A
	OpJumpIfFalse           // pop; if falsy ip = A
	OpCall                  // call intrinsic A with B arguments
)

var opNames = [...]string{
	OpConst:       "CONST",
	OpLoad:        "LOAD",
	OpStore:       "STORE",
	OpPop:         "POP",
	OpAdd:         "ADD",
	OpSub:         "SUB",
	OpMul:         "MUL",
	OpDiv:         "DIV",
	OpMod:         "MOD",
	OpEq:          "EQ",
	OpNotEq:       "NE",
	OpLess:        "LT",
	OpLessEq:      "LE",
	OpGreater:     "GT",
	OpGreaterEq:   "GE",
	OpNot:         "NOT",
	OpNeg:         "NEG",
	OpBool:        "BOOL",
	OpCount:       "COUNT",
	OpJump:        "JUMP",
	OpJumpIfFalse: "JUMP_IF_FALSE",
	OpCall:        "CALL",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

// Instruction is one VM step. Line is the source line it came from.
type Instruction struct {
	_    struct{} `cbor:",toarray"`
	Op   Op
	A    int32
	B    int32
	Line int32
}

// Program is the compiled, immutable form of one fragment. It holds no
// reference to the syntax tree or the source text.
type Program struct {
	Code       []Instruction
	Constants  []value.Value
	Slots      []string // variable names by slot; hidden slots start with '#'
	Intrinsics []string // qualified intrinsic names in first-call order
	Globals    []string // sorted capability globals the program calls through
}

// wireProgram is the canonical encoding of a Program.
type wireProgram struct {
	Code       []Instruction `cbor:"1,keyasint"`
	Constants  []interface{} `cbor:"2,keyasint"`
	Slots      []string      `cbor:"3,keyasint"`
	Intrinsics []string      `cbor:"4,keyasint"`
	Globals    []string      `cbor:"5,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// MarshalBinary encodes p as canonical CBOR. Equal programs encode to
// identical bytes.
func (p *Program) MarshalBinary() ([]byte, error) {
	w := wireProgram{
		Code:       p.Code,
		Constants:  make([]interface{}, len(p.Constants)),
		Slots:      p.Slots,
		Intrinsics: p.Intrinsics,
		Globals:    p.Globals,
	}
	for i, c := range p.Constants {
		w.Constants[i] = c.Interface()
	}
	return encMode.Marshal(w)
}

// UnmarshalBinary decodes a program produced by MarshalBinary.
func (p *Program) UnmarshalBinary(data []byte) error {
	var w wireProgram
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("compiler: unmarshal program: %w", err)
	}
	consts := make([]value.Value, len(w.Constants))
	for i, c := range w.Constants {
		v, err := value.FromLiteral(c)
		if err != nil {
			return fmt.Errorf("compiler: constant %d: %w", i, err)
		}
		consts[i] = v
	}
	*p = Program{
		Code:       w.Code,
		Constants:  consts,
		Slots:      w.Slots,
		Intrinsics: w.Intrinsics,
		Globals:    w.Globals,
	}
	return nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of the canonical
// encoding.
func (p *Program) Fingerprint() (string, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Disassemble renders the program one instruction per line.
func (p *Program) Disassemble() string {
	var b strings.Builder
	for i, in := range p.Code {
		fmt.Fprintf(&b, "%04d %4d  %-13s", i, in.Line, in.Op)
		switch in.Op {
		case OpConst:
			fmt.Fprintf(&b, " %d (%s)", in.A, p.Constants[in.A])
		case OpLoad, OpStore:
			fmt.Fprintf(&b, " %d (%s)", in.A, p.Slots[in.A])
		case OpJump, OpJumpIfFalse:
			fmt.Fprintf(&b, " -> %04d", in.A)
		case OpCall:
			fmt.Fprintf(&b, " #%d argc=%d", in.A, in.B)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
