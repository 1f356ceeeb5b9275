package analysis

// Finding is a notable location in a disassembly
type Finding struct {
	PC       int                    // Byte offset the finding refers to
	Block    int                    // Enclosing block id
	Kind     string                 // Short machine-readable category
	Comment  string                 // Human-readable summary
	Metadata map[string]interface{} // Detector-specific metadata
}

// Detector interface for pattern detection over a built disassembly
type Detector interface {
	// Detect inspects d and returns findings, possibly extending or
	// rewriting the findings of earlier detectors
	Detect(d *Disassembly[CfaState], findings []Finding) []Finding
}

// DetectorChain runs multiple detectors in sequence
type DetectorChain struct {
	detectors []Detector
}

// NewDetectorChain creates a new detector chain
func NewDetectorChain(detectors ...Detector) *DetectorChain {
	return &DetectorChain{
		detectors: detectors,
	}
}

// Detect runs all detectors in sequence
func (dc *DetectorChain) Detect(d *Disassembly[CfaState]) []Finding {
	var result []Finding
	for _, detector := range dc.detectors {
		result = detector.Detect(d, result)
	}
	return result
}
