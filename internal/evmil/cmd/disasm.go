package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/x/term"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"evmil/internal/analysis"
	"evmil/internal/detectors"
	"evmil/internal/ui/colorize"
)

// JSONOutput is the machine-readable form of a disassembly report.
type JSONOutput struct {
	CodeHash string        `json:"code_hash"`
	Size     int           `json:"size"`
	Blocks   []BlockInfo   `json:"blocks"`
	Findings []FindingInfo `json:"findings"`
	Listing  []string      `json:"listing"`
}

type BlockInfo struct {
	ID        int    `json:"id"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Reachable bool   `json:"reachable"`
	State     string `json:"state"`
}

type FindingInfo struct {
	PC       int                    `json:"pc"`
	Block    int                    `json:"block"`
	Kind     string                 `json:"kind"`
	Comment  string                 `json:"comment"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// report is everything the front ends show about one piece of bytecode.
type report struct {
	name     string
	codeHash common.Hash
	size     int
	blocks   []BlockInfo
	listing  []analysis.AnnotatedInst
	findings []analysis.Finding
}

func blockInfos[T analysis.AbstractState[T]](d *analysis.Disassembly[T]) []BlockInfo {
	blocks := d.Blocks()
	out := make([]BlockInfo, len(blocks))
	for id, blk := range blocks {
		out[id] = BlockInfo{
			ID:        id,
			Start:     blk.Start,
			End:       blk.End,
			Reachable: d.IsBlockReachable(id),
			State:     d.Context(id).String(),
		}
	}
	return out
}

// analyze disassembles code. With cfa the blocks are refined into the
// control-flow domain, solved and run through the default detectors;
// otherwise only block discovery runs.
func analyze(name string, code []byte, cfa bool) report {
	r := report{name: name, codeHash: crypto.Keccak256Hash(code), size: len(code)}
	if cfa {
		d := analysis.Analyze(code)
		r.blocks = blockInfos(d)
		r.listing = analysis.Listing(d)
		r.findings = detectors.Default().Detect(d)
	} else {
		d := analysis.Disassemble(code)
		r.blocks = blockInfos(d)
		r.listing = analysis.Listing(d)
	}
	slog.Debug("Analysed bytecode",
		"name", name,
		"bytes", r.size,
		"blocks", len(r.blocks),
		"findings", len(r.findings))
	return r
}

func (r report) reachableBlocks() int {
	n := 0
	for _, b := range r.blocks {
		if b.Reachable {
			n++
		}
	}
	return n
}

func (r report) listingText() string {
	return analysis.FormatListing(r.listing)
}

func formatFinding(f analysis.Finding, full bool) string {
	line := fmt.Sprintf("%#06x %-13s %s", f.PC, f.Kind, f.Comment)
	if !full || len(f.Metadata) == 0 {
		return line
	}
	var kv []string
	for _, k := range slices.Sorted(maps.Keys(f.Metadata)) {
		kv = append(kv, fmt.Sprintf("%s=%v", k, f.Metadata[k]))
	}
	return line + " (" + strings.Join(kv, " ") + ")"
}

// writeText prints the listing followed by a findings section. full adds
// block entry states and finding metadata.
func writeText(w io.Writer, r report, full, color bool) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; %s\n; %d bytes, %d blocks (%d reachable), code hash %s\n",
		r.name, r.size, len(r.blocks), r.reachableBlocks(), r.codeHash.Hex())
	if full {
		for _, b := range r.blocks {
			fmt.Fprintf(&sb, "; block_%d [%#x, %#x) %s\n", b.ID, b.Start, b.End, b.State)
		}
	}
	sb.WriteString("\n")

	listing := r.listingText()
	if color {
		listing = colorize.Listing(listing)
	}
	sb.WriteString(listing)

	if len(r.findings) > 0 {
		sb.WriteString("\n; findings\n")
		for _, f := range r.findings {
			sb.WriteString("; " + formatFinding(f, full) + "\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeJSON(w io.Writer, r report) error {
	out := JSONOutput{
		CodeHash: r.codeHash.Hex(),
		Size:     r.size,
		Blocks:   r.blocks,
		Findings: make([]FindingInfo, 0, len(r.findings)),
		Listing:  make([]string, 0, len(r.listing)),
	}
	for _, f := range r.findings {
		out.Findings = append(out.Findings, FindingInfo(f))
	}
	for _, ai := range r.listing {
		out.Listing = append(out.Listing, ai.String())
	}
	bts, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(bts))
	return err
}

func init() {
	disasmCmd.Flags().String("code", "", "Hex bytecode to analyse instead of a file")
	disasmCmd.Flags().BoolP("no-tui", "n", false, "Print the listing without the TUI")
	disasmCmd.Flags().BoolP("full", "f", false, "Include block entry states and finding metadata (implies --no-tui)")
	disasmCmd.Flags().BoolP("json", "j", false, "Output the report as JSON")
	disasmCmd.Flags().Bool("cfa", true, "Run the control-flow analysis and detectors")
}

var disasmCmd = &cobra.Command{
	Use:   "disasm [file]",
	Short: "Disassemble and analyse EVM bytecode",
	Long: `Disassemble EVM bytecode into basic blocks and run the control-flow
analysis. The input is hex text (with or without 0x) or raw bytes, read from
a file, from --code or from stdin.`,
	Example: `
# Interactive viewer
evmil disasm contract.hex

# Plain listing with entry states
evmil disasm --full --code 0x6003565b00

# JSON report
cat contract.hex | evmil disasm --json
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := loadCode(cmd, args)
		if err != nil {
			return err
		}
		name := "<stdin>"
		if inline, _ := cmd.Flags().GetString("code"); inline != "" {
			name = "<code>"
		} else if len(args) > 0 {
			name = args[0]
		}

		cfa, _ := cmd.Flags().GetBool("cfa")
		jsonOut, _ := cmd.Flags().GetBool("json")
		noTUI, _ := cmd.Flags().GetBool("no-tui")
		full, _ := cmd.Flags().GetBool("full")
		interactive := term.IsTerminal(os.Stdout.Fd())

		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), analyze(name, code, cfa))
		}
		if noTUI || full || !interactive {
			return writeText(cmd.OutOrStdout(), analyze(name, code, cfa), full, interactive && !colorize.Disabled())
		}

		program := tea.NewProgram(
			newModel(name, code, cfa),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}
