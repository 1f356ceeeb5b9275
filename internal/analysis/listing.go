package analysis

import (
	"fmt"
	"strings"

	"evmil/internal/disasm"
)

// AnnotatedInst is a disassembled instruction with annotations
type AnnotatedInst struct {
	PC          int
	Block       int
	Inst        disasm.Inst
	Mnemonic    string
	Operands    string
	Annotations []string // Comments to display
}

// String formats the instruction with annotations padded to ListingColumn.
// This returns plain text; colorization happens after formatting.
func (a AnnotatedInst) String() string {
	// Block headers are emitted as label lines
	if strings.HasSuffix(a.Mnemonic, ":") {
		return fmt.Sprintf("%04x  %s", a.PC, a.Mnemonic)
	}

	operands := a.Operands
	if len(operands) > 66 {
		operands = operands[:63] + "..."
	}
	base := fmt.Sprintf("%04x %-14s %s", a.PC, a.Mnemonic, operands)
	if len(a.Annotations) > 0 {
		return fmt.Sprintf("%-*s ; %s", ListingColumn, base, strings.Join(a.Annotations, ", "))
	}
	return strings.TrimRight(base, " ")
}

// Listing renders d as an annotated listing. Every block starts with a
// header line; unreachable blocks are shown as a single data line, and
// branch instructions with a statically known target are annotated with
// it.
func Listing[T AbstractState[T]](d *Disassembly[T]) []AnnotatedInst {
	var out []AnnotatedInst
	for id, blk := range d.blocks {
		reachable := d.IsBlockReachable(id)
		header := AnnotatedInst{PC: blk.Start, Block: id, Mnemonic: fmt.Sprintf("block_%d:", id)}
		out = append(out, header)

		if !reachable {
			data := disasm.Data(d.ReadBytes(blk.Start, blk.End))
			out = append(out, AnnotatedInst{
				PC:          blk.Start,
				Block:       id,
				Inst:        data,
				Mnemonic:    data.Mnemonic(),
				Operands:    data.Operands(),
				Annotations: []string{fmt.Sprintf("unreachable, %d bytes", blk.End-blk.Start)},
			})
			continue
		}

		ctx := d.contexts[id]
		for pc := blk.Start; pc < blk.End; {
			insn, n := disasm.Decode(pc, d.bytes)
			ai := AnnotatedInst{
				PC:       pc,
				Block:    id,
				Inst:     insn,
				Mnemonic: insn.Mnemonic(),
				Operands: insn.Operands(),
			}
			if insn.CanBranch() {
				if target, ok := d.branchTarget(ctx); ok {
					ai.Annotations = append(ai.Annotations, describeTarget(d, target))
				} else {
					ai.Annotations = append(ai.Annotations, "target unknown")
				}
			}
			out = append(out, ai)
			ctx = ctx.Transfer(insn)
			pc += n
		}
	}
	return out
}

func describeTarget[T AbstractState[T]](d *Disassembly[T], target int) string {
	id, _ := d.EnclosingBlock(target)
	if d.blocks[id].Start == target {
		return fmt.Sprintf("-> block_%d", id)
	}
	return fmt.Sprintf("-> %#x (inside block_%d)", target, id)
}

// FormatListing joins the listing into text, one line per entry.
func FormatListing(listing []AnnotatedInst) string {
	var sb strings.Builder
	for _, ai := range listing {
		sb.WriteString(ai.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
