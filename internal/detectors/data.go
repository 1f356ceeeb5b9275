package detectors

import (
	"fmt"

	"evmil/internal/analysis"
)

// DataBlockDetector reports blocks that are never reached. These usually
// hold embedded data such as constructor arguments or metadata, or dead
// code after a halting instruction.
type DataBlockDetector struct {
	// MinSize skips unreachable blocks shorter than this many bytes.
	MinSize int
}

func NewDataBlockDetector() *DataBlockDetector {
	return &DataBlockDetector{MinSize: 1}
}

func (dd *DataBlockDetector) Detect(d *analysis.Disassembly[analysis.CfaState], findings []analysis.Finding) []analysis.Finding {
	for id, blk := range d.Blocks() {
		if d.IsBlockReachable(id) {
			continue
		}
		size := blk.End - blk.Start
		if size < dd.MinSize {
			continue
		}
		preview := d.ReadBytes(blk.Start, blk.Start+min(size, 8))
		findings = append(findings, analysis.Finding{
			PC:      blk.Start,
			Block:   id,
			Kind:    KindDataBlock,
			Comment: fmt.Sprintf("%d unreachable bytes at %#x", size, blk.Start),
			Metadata: map[string]interface{}{
				"size":    size,
				"end":     blk.End,
				"preview": fmt.Sprintf("%x", preview),
			},
		})
	}
	return findings
}

// Default returns the detectors run by the disassembler front end.
func Default() *analysis.DetectorChain {
	return analysis.NewDetectorChain(
		NewDynamicJumpDetector(),
		NewInvalidJumpDetector(),
		NewDataBlockDetector(),
		NewStringDetector(),
	)
}
