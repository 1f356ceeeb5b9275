package disasm

import (
	"errors"
	"fmt"
)

var (
	ErrUnboundLabel   = errors.New("label used but never placed")
	ErrDuplicateLabel = errors.New("label placed twice")
	ErrCodeTooLarge   = errors.New("label address exceeds push width")
)

// Bytecode accumulates instructions with symbolic labels. Labels are
// allocated with FreshLabel and resolved to byte offsets by Assemble.
// A Bytecode must not be shared between concurrent compilations.
type Bytecode struct {
	insns  Stream
	labels int
}

func NewBytecode() *Bytecode {
	return &Bytecode{}
}

// FreshLabel allocates a new, unique label id.
func (b *Bytecode) FreshLabel() int {
	l := b.labels
	b.labels++
	return l
}

// Push appends an instruction.
func (b *Bytecode) Push(insn Inst) {
	b.insns = append(b.insns, insn)
}

// Instructions returns the instructions appended so far.
func (b *Bytecode) Instructions() Stream {
	return b.insns
}

// Labels is the number of labels allocated so far.
func (b *Bytecode) Labels() int {
	return b.labels
}

// Offsets computes the byte offset of every placed label.
func (b *Bytecode) Offsets() (map[int]int, error) {
	offsets := make(map[int]int)
	pc := 0
	for _, insn := range b.insns {
		if insn.Kind == KindLabel {
			if _, ok := offsets[insn.Label]; ok {
				return nil, fmt.Errorf("L%d: %w", insn.Label, ErrDuplicateLabel)
			}
			offsets[insn.Label] = pc
		}
		pc += insn.Length()
	}
	return offsets, nil
}

// Assemble resolves labels and encodes the instruction stream. Label
// pushes are always LabelWidth bytes wide so that offsets can be fixed in
// a single pass.
func (b *Bytecode) Assemble() ([]byte, error) {
	offsets, err := b.Offsets()
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, insn := range b.insns {
		switch insn.Kind {
		case KindPushLabel:
			target, ok := offsets[insn.Label]
			if !ok {
				return nil, fmt.Errorf("L%d: %w", insn.Label, ErrUnboundLabel)
			}
			if target >= 1<<(8*LabelWidth) {
				return nil, fmt.Errorf("L%d at %d: %w", insn.Label, target, ErrCodeTooLarge)
			}
			out = append(out, byte(insn.Op), byte(target>>8), byte(target))
		case KindLabel:
			out = append(out, byte(insn.Op))
		case KindData:
			out = append(out, insn.Args...)
		default:
			out = append(out, byte(insn.Op))
			out = append(out, insn.Args...)
		}
	}
	return out, nil
}
