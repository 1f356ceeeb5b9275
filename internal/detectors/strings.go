package detectors

import (
	"fmt"

	"evmil/internal/analysis"
	"evmil/internal/disasm"
)

const KindString = "string"

// StringDetector reports printable text embedded in the bytecode: revert
// reasons pushed as immediates by reachable code, and text inside blocks
// that are never executed.
type StringDetector struct {
	MinLength int
}

func NewStringDetector() *StringDetector {
	return &StringDetector{MinLength: 6}
}

func (sd *StringDetector) Detect(d *analysis.Disassembly[analysis.CfaState], findings []analysis.Finding) []analysis.Finding {
	code := d.Bytes()
	for id, blk := range d.Blocks() {
		if !d.IsBlockReachable(id) {
			raw := d.ReadBytes(blk.Start, blk.End)
			for _, s := range analysis.ScanStrings(raw, blk.Start, sd.MinLength) {
				findings = append(findings, stringFinding(s, id, "data"))
			}
			continue
		}
		for pc := blk.Start; pc < blk.End; {
			insn, n := disasm.Decode(pc, code)
			if len(insn.Args) > 0 {
				for _, s := range analysis.ScanStrings(insn.Args, pc+1, sd.MinLength) {
					findings = append(findings, stringFinding(s, id, "push"))
				}
			}
			pc += n
		}
	}
	return findings
}

func stringFinding(s analysis.StringResult, block int, source string) analysis.Finding {
	return analysis.Finding{
		PC:      s.Offset,
		Block:   block,
		Kind:    KindString,
		Comment: fmt.Sprintf("%q", s.Value),
		Metadata: map[string]interface{}{
			"length": s.Len,
			"source": source,
		},
	}
}
