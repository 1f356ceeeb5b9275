// Package detectors reports notable control-flow patterns in analysed
// EVM bytecode: jumps whose target is not a constant, constant jumps
// that cannot succeed, and code regions that are never reached.
package detectors

import (
	"fmt"

	"evmil/internal/analysis"
	"evmil/internal/disasm"
)

const (
	KindDynamicJump = "dynamic-jump"
	KindInvalidJump = "invalid-jump"
	KindDataBlock   = "data-block"
)

// jumpSite is a reachable JUMP or JUMPI with the state just before it.
type jumpSite struct {
	pc    int
	block int
	insn  disasm.Inst
	state analysis.CfaState
}

// reachableJumps replays every reachable block and collects its jumps.
func reachableJumps(d *analysis.Disassembly[analysis.CfaState]) []jumpSite {
	var sites []jumpSite
	code := d.Bytes()
	for id, blk := range d.Blocks() {
		if !d.IsBlockReachable(id) {
			continue
		}
		for pc := blk.Start; pc < blk.End; {
			insn, n := disasm.Decode(pc, code)
			if insn.CanBranch() {
				st, err := d.GetState(pc)
				if err == nil && st.IsReachable() {
					sites = append(sites, jumpSite{pc: pc, block: id, insn: insn, state: st})
				}
			}
			pc += n
		}
	}
	return sites
}

// DynamicJumpDetector reports reachable jumps whose target is not a
// constant.
type DynamicJumpDetector struct{}

func NewDynamicJumpDetector() *DynamicJumpDetector {
	return &DynamicJumpDetector{}
}

func (DynamicJumpDetector) Detect(d *analysis.Disassembly[analysis.CfaState], findings []analysis.Finding) []analysis.Finding {
	for _, site := range reachableJumps(d) {
		if site.state.Peek(0).IsKnown() {
			continue
		}
		findings = append(findings, analysis.Finding{
			PC:      site.pc,
			Block:   site.block,
			Kind:    KindDynamicJump,
			Comment: fmt.Sprintf("%s target depends on runtime values", site.insn.Mnemonic()),
			Metadata: map[string]interface{}{
				"opcode":      site.insn.Mnemonic(),
				"stack_depth": site.state.Depth(),
			},
		})
	}
	return findings
}

// InvalidJumpDetector reports constant jump targets that do not land on a
// JUMPDEST instruction. Executing such a jump always fails.
type InvalidJumpDetector struct{}

func NewInvalidJumpDetector() *InvalidJumpDetector {
	return &InvalidJumpDetector{}
}

func (InvalidJumpDetector) Detect(d *analysis.Disassembly[analysis.CfaState], findings []analysis.Finding) []analysis.Finding {
	dests := disasm.JumpDests(d.Bytes())
	for _, site := range reachableJumps(d) {
		v := site.state.Peek(0)
		if !v.IsKnown() {
			continue
		}
		target, ok := v.Uint64()
		if ok && target < uint64(len(dests)) && dests[target] {
			continue
		}
		reason := "target is not a JUMPDEST"
		if !ok || target >= uint64(len(dests)) {
			reason = "target is outside the code"
		}
		findings = append(findings, analysis.Finding{
			PC:      site.pc,
			Block:   site.block,
			Kind:    KindInvalidJump,
			Comment: fmt.Sprintf("%s to %s: %s", site.insn.Mnemonic(), v, reason),
			Metadata: map[string]interface{}{
				"opcode": site.insn.Mnemonic(),
				"target": v.String(),
			},
		})
	}
	return findings
}
