package analysis

import (
	"errors"
	"fmt"
	"sort"

	"evmil/internal/disasm"
	"evmil/internal/logging"
)

// ErrInvalidAddress is returned for a byte offset outside the scanned code.
var ErrInvalidAddress = errors.New("invalid bytecode address")

// Block is a half-open byte range [Start, End) of straight-line code. A
// block contains no jump destination except possibly at Start, and ends at
// a terminating instruction, before the next JUMPDEST, or at the end of
// the code.
type Block struct {
	Start int
	End   int
}

// NewBlock panics unless start < end.
func NewBlock(start, end int) Block {
	if start >= end {
		panic(fmt.Sprintf("invalid block [%d,%d)", start, end))
	}
	return Block{Start: start, End: end}
}

// Encloses reports whether pc lies inside the block.
func (b Block) Encloses(pc int) bool {
	return b.Start <= pc && pc < b.End
}

func (b Block) String() string {
	return fmt.Sprintf("[%#x,%#x)", b.Start, b.End)
}

// Disassembly holds the blocks of a bytecode program and one entry state
// per block. contexts[i] is the state on entry to blocks[i]. Only the
// contexts change after construction.
type Disassembly[T AbstractState[T]] struct {
	bytes    []byte
	blocks   []Block
	contexts []T
}

// NewDisassembly scans bytes into blocks. Block 0 starts at Origin, all
// other blocks at Bottom.
func NewDisassembly[T AbstractState[T]](bytes []byte) *Disassembly[T] {
	blocks := scanBlocks(bytes)
	var zero T
	contexts := make([]T, len(blocks))
	for i := range contexts {
		contexts[i] = zero.Bottom()
	}
	if len(contexts) > 0 {
		contexts[0] = zero.Origin()
	}
	return &Disassembly[T]{bytes: bytes, blocks: blocks, contexts: contexts}
}

// Disassemble runs plain block discovery over bytes.
func Disassemble(bytes []byte) *Disassembly[Unit] {
	return NewDisassembly[Unit](bytes)
}

// Refine converts every context of d into a new domain. The blocks and
// bytes move to the result and d must not be used afterwards. Origin of
// the new domain is merged into block 0 so the program entry stays
// reachable whatever the conversion does.
func Refine[T AbstractState[T], S AbstractState[S]](d *Disassembly[T], conv func(T) S) *Disassembly[S] {
	contexts := make([]S, len(d.contexts))
	for i, ctx := range d.contexts {
		contexts[i] = conv(ctx)
	}
	if len(contexts) > 0 {
		var zero S
		contexts[0], _ = contexts[0].Merge(zero.Origin())
	}
	r := &Disassembly[S]{bytes: d.bytes, blocks: d.blocks, contexts: contexts}
	d.bytes, d.blocks, d.contexts = nil, nil, nil
	return r
}

// Bytes returns the underlying code.
func (d *Disassembly[T]) Bytes() []byte {
	return d.bytes
}

// Blocks returns the scanned blocks in address order.
func (d *Disassembly[T]) Blocks() []Block {
	out := make([]Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}

// Context returns the entry state of block id.
func (d *Disassembly[T]) Context(id int) T {
	return d.contexts[id]
}

// EnclosingBlock returns the id of the block containing pc.
func (d *Disassembly[T]) EnclosingBlock(pc int) (int, bool) {
	i := sort.Search(len(d.blocks), func(i int) bool {
		return d.blocks[i].End > pc
	})
	if i < len(d.blocks) && d.blocks[i].Encloses(pc) {
		return i, true
	}
	return 0, false
}

// IsBlockReachable reports whether block id has been reached. The root
// block is always reachable.
func (d *Disassembly[T]) IsBlockReachable(id int) bool {
	return id == 0 || d.contexts[id].IsReachable()
}

// GetState replays the enclosing block up to (but excluding) loc and
// returns the state just before loc executes.
func (d *Disassembly[T]) GetState(loc int) (T, error) {
	id, ok := d.EnclosingBlock(loc)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%#x: %w", loc, ErrInvalidAddress)
	}
	ctx := d.contexts[id]
	for pc := d.blocks[id].Start; pc < loc; {
		insn, n := disasm.Decode(pc, d.bytes)
		ctx = ctx.Transfer(insn)
		pc += n
	}
	return ctx, nil
}

// ReadBytes returns bytes[start:end], zero padded past the end of the code.
// An empty range, including start > end, yields an empty slice.
func (d *Disassembly[T]) ReadBytes(start, end int) []byte {
	start = max(start, 0)
	if end <= start {
		return []byte{}
	}
	out := make([]byte, end-start)
	if start < len(d.bytes) {
		copy(out, d.bytes[start:min(end, len(d.bytes))])
	}
	return out
}

// ToVec flattens the disassembly. Unreachable blocks are emitted as a
// single data instruction.
func (d *Disassembly[T]) ToVec() disasm.Stream {
	var insns disasm.Stream
	for i, blk := range d.blocks {
		if d.IsBlockReachable(i) {
			insns = d.disassembleInto(blk, insns)
		} else {
			insns = append(insns, disasm.Data(d.ReadBytes(blk.Start, blk.End)))
		}
	}
	return insns
}

// Build runs the dataflow analysis to a fixed point. Termination is only
// guaranteed when Merge is monotone over a finite-height domain.
func (d *Disassembly[T]) Build() *Disassembly[T] {
	var lg *logging.LoggerCloser
	if logging.IsDebug() {
		lg = logging.NewLogger()
		defer lg.Close()
	}

	passes := 0
	for changed := true; changed; {
		changed = false
		passes++
		for i, blk := range d.blocks {
			if !d.IsBlockReachable(i) {
				continue
			}
			ctx := d.contexts[i]
			for pc := blk.Start; pc < blk.End; {
				insn, n := disasm.Decode(pc, d.bytes)
				if insn.CanBranch() {
					if target, ok := d.branchTarget(ctx); ok {
						id, _ := d.EnclosingBlock(target)
						merged, ch := d.contexts[id].Merge(ctx.Branch(target, insn))
						d.contexts[id] = merged
						changed = changed || ch
						if lg != nil && ch {
							lg.Debug("branch", "pc", fmt.Sprintf("%#x", pc), "target", fmt.Sprintf("%#x", target), "block", id, "state", merged.String())
						}
					} else if lg != nil && ctx.Peek(0).IsKnown() {
						lg.Debug("jump outside code", "pc", fmt.Sprintf("%#x", pc), "target", ctx.Peek(0).String())
					}
				}
				ctx = ctx.Transfer(insn)
				pc += n
			}
			if i+1 < len(d.blocks) {
				merged, ch := d.contexts[i+1].Merge(ctx)
				d.contexts[i+1] = merged
				changed = changed || ch
			}
		}
	}

	if lg != nil {
		lg.Debug("fixed point reached", "passes", passes, "blocks", len(d.blocks))
	}
	return d
}

// branchTarget resolves the static jump target on top of the stack, if it
// lies inside the code.
func (d *Disassembly[T]) branchTarget(ctx T) (int, bool) {
	v, ok := ctx.Peek(0).Uint64()
	if !ok || v >= uint64(len(d.bytes)) {
		return 0, false
	}
	return int(v), true
}

func (d *Disassembly[T]) disassembleInto(blk Block, insns disasm.Stream) disasm.Stream {
	for pc := blk.Start; pc < blk.End; {
		insn, n := disasm.Decode(pc, d.bytes)
		insns = append(insns, insn)
		pc += n
	}
	return insns
}

// scanBlocks splits code into blocks in a single linear pass. The result
// over-approximates the real code: some blocks may turn out to be data.
func scanBlocks(code []byte) []Block {
	var blocks []Block
	start, pc := 0, 0
	for pc < len(code) {
		insn, n := disasm.Decode(pc, code)
		switch {
		case insn.IsJumpDest():
			if pc != start {
				blocks = append(blocks, NewBlock(start, pc))
				start = pc
			}
			pc += n
		case insn.IsTerminator():
			pc += n
			blocks = append(blocks, NewBlock(start, pc))
			start = pc
		default:
			pc += n
		}
	}
	// a truncated push may step past the end
	pc = min(pc, len(code))
	if start < pc {
		blocks = append(blocks, NewBlock(start, pc))
	}
	return blocks
}
