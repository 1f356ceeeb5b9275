package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"evmil/internal/disasm"
	"evmil/internal/il"
)

// compileTerms parses a term file and lowers it into an unassembled
// instruction stream.
func compileTerms(src []byte) (*disasm.Bytecode, error) {
	terms, err := il.ParseTerms(src)
	if err != nil {
		return nil, err
	}
	bytecode := disasm.NewBytecode()
	if err := il.NewCompiler(bytecode).TranslateAll(terms); err != nil {
		return nil, err
	}
	slog.Debug("Compiled terms",
		"terms", len(terms),
		"instructions", len(bytecode.Instructions()),
		"labels", bytecode.Labels())
	return bytecode, nil
}

func writeCompiled(w io.Writer, bytecode *disasm.Bytecode, asm bool) error {
	if asm {
		_, err := io.WriteString(w, bytecode.Instructions().String())
		return err
	}
	code, err := bytecode.Assemble()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hexutil.Encode(code))
	return err
}

func init() {
	compileCmd.Flags().StringP("out", "o", "", "Write the hex bytecode to this file")
	compileCmd.Flags().Bool("asm", false, "Print the instruction stream instead of bytecode")
}

var compileCmd = &cobra.Command{
	Use:   "compile [file.yaml]",
	Short: "Compile a term file into EVM bytecode",
	Long: `Compile a YAML term file into EVM bytecode. Statements are assert,
assign, goto, ifgoto, label, fail, stop, succeed and revert; expressions
are literals, memory, storage and calldata accesses and binary operators.`,
	Example: `
evmil compile program.yaml
evmil compile program.yaml --out program.hex
evmil compile --asm < program.yaml
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		src, err := readInput(path, cmd.InOrStdin())
		if err != nil {
			return err
		}
		bytecode, err := compileTerms(src)
		if err != nil {
			return err
		}

		asm, _ := cmd.Flags().GetBool("asm")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return writeCompiled(cmd.OutOrStdout(), bytecode, asm)
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		if err := writeCompiled(f, bytecode, asm); err != nil {
			return err
		}
		slog.Info("Wrote bytecode", "path", out)
		return nil
	},
}
