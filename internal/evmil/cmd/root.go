package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"evmil/internal/evmil/log"
)

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("config", "", "YAML file with flag defaults")

	rootCmd.AddCommand(disasmCmd, compileCmd, runCmd)
}

var rootCmd = &cobra.Command{
	Use:   "evmil",
	Short: "EVM bytecode disassembler, analyser and IL compiler",
	Long: `evmil disassembles EVM bytecode into basic blocks, runs a control-flow
analysis over them and reports what it finds. It also compiles a small
intermediate language into bytecode and runs bytecode on a minimal
interpreter.`,
	Example: `
# Disassemble a contract in the interactive viewer
evmil disasm contract.hex

# Compile a term file and run the result
evmil compile program.yaml --out program.hex
evmil run program.hex --calldata 0x01
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			cfg, err := LoadConfig(path)
			if err != nil {
				return err
			}
			if err := applyConfig(cmd, cfg); err != nil {
				return err
			}
		}
		debug, _ := cmd.Flags().GetBool("debug")
		logFile, _ := cmd.Flags().GetString("log-file")
		log.Setup(logFile, debug)
		return nil
	},
}

// Execute runs the root command. Plain cobra is used when the output is
// not an interactive terminal so nothing is rendered as markdown.
func Execute() {
	plain := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			plain = true
			break
		}
	}
	if !plain && !term.IsTerminal(os.Stdout.Fd()) {
		plain = true
	}

	var err error
	if plain {
		err = rootCmd.Execute()
	} else {
		err = fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		)
	}
	_ = log.Close()
	if err != nil {
		os.Exit(1)
	}
}

// readInput returns the contents of path, or of stdin when path is empty
// or "-" and stdin is not a terminal.
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path != "" && path != "-" {
		return os.ReadFile(path)
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(f.Fd()) {
		return nil, fmt.Errorf("no input: pass a file or pipe data on stdin")
	}
	return io.ReadAll(stdin)
}

// decodeCode interprets data as hex text when it looks like hex (with or
// without a 0x prefix, surrounding whitespace ignored) and as raw bytecode
// otherwise.
func decodeCode(data []byte) ([]byte, error) {
	text := strings.Join(strings.Fields(string(data)), "")
	if text == "" {
		return nil, nil
	}
	if !has0xPrefix(text) && !isHexText(text) {
		return data, nil
	}
	if !has0xPrefix(text) {
		text = "0x" + text
	}
	if text == "0x" {
		return nil, nil
	}
	code, err := hexutil.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("invalid hex bytecode: %w", err)
	}
	return code, nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isHexText(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

// loadCode resolves bytecode from an inline --code value or the first
// argument.
func loadCode(cmd *cobra.Command, args []string) ([]byte, error) {
	if inline, _ := cmd.Flags().GetString("code"); inline != "" {
		return decodeCode([]byte(inline))
	}
	var path string
	if len(args) > 0 {
		path = args[0]
	}
	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	return decodeCode(data)
}
