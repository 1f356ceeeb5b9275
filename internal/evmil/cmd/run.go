package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"evmil/internal/evm"
)

// RunOutput is the JSON form of an execution.
type RunOutput struct {
	Status     string            `json:"status"`
	ReturnData string            `json:"return_data"`
	Stack      []string          `json:"stack"`
	Steps      int               `json:"steps"`
	Storage    map[string]string `json:"storage,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// parseStorage turns key=value pairs of hex words into a storage map.
func parseStorage(pairs map[string]string) (map[common.Hash]common.Hash, error) {
	storage := make(map[common.Hash]common.Hash, len(pairs))
	for k, v := range pairs {
		key, err := parseWord(k)
		if err != nil {
			return nil, fmt.Errorf("storage key %q: %w", k, err)
		}
		val, err := parseWord(v)
		if err != nil {
			return nil, fmt.Errorf("storage value %q: %w", v, err)
		}
		storage[key] = val
	}
	return storage, nil
}

// parseWord decodes a hex word. Odd-length and short values are left
// padded with zeros.
func parseWord(s string) (common.Hash, error) {
	text := s
	if has0xPrefix(text) {
		text = text[2:]
	}
	if text == "" || !isHexText(text) {
		return common.Hash{}, fmt.Errorf("not a hex word")
	}
	if len(text)%2 == 1 {
		text = "0" + text
	}
	b, err := hexutil.Decode("0x" + text)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) > common.HashLength {
		return common.Hash{}, fmt.Errorf("longer than %d bytes", common.HashLength)
	}
	return common.BytesToHash(b), nil
}

func newRunOutput(res evm.Result, storage map[common.Hash]common.Hash, runErr error) RunOutput {
	out := RunOutput{
		Status:     res.Status.String(),
		ReturnData: hexutil.Encode(res.ReturnData),
		Stack:      make([]string, len(res.Stack)),
		Steps:      res.Steps,
	}
	for i := range res.Stack {
		out.Stack[i] = res.Stack[i].Hex()
	}
	if len(storage) > 0 {
		out.Storage = make(map[string]string, len(storage))
		for k, v := range storage {
			out.Storage[k.Hex()] = v.Hex()
		}
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out
}

func writeRunText(w io.Writer, out RunOutput) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "status:  %s\n", out.Status)
	fmt.Fprintf(&sb, "steps:   %d\n", out.Steps)
	fmt.Fprintf(&sb, "return:  %s\n", out.ReturnData)
	fmt.Fprintf(&sb, "stack:   [%s]\n", strings.Join(out.Stack, ", "))
	keys := make([]string, 0, len(out.Storage))
	for k := range out.Storage {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "storage: %s = %s\n", k, out.Storage[k])
	}
	if out.Error != "" {
		fmt.Fprintf(&sb, "error:   %s\n", out.Error)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func init() {
	runCmd.Flags().String("code", "", "Hex bytecode to run instead of a file")
	runCmd.Flags().String("calldata", "", "Hex call data")
	runCmd.Flags().StringToString("storage", nil, "Initial storage as key=value hex words")
	runCmd.Flags().Int("steps", evm.DefaultStepLimit, "Maximum number of instructions to execute")
	runCmd.Flags().BoolP("json", "j", false, "Output the result as JSON")
}

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute bytecode on the built-in interpreter",
	Long: `Execute EVM bytecode on a minimal interpreter that covers stack,
arithmetic, memory, storage, call data and control flow. Execution errors
are reported together with the machine state at the point of failure.`,
	Example: `
evmil run program.hex --calldata 0x000000000000000000000000000000000000000000000000000000000000000c
evmil run --code 0x600160020160005260206000f3
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := loadCode(cmd, args)
		if err != nil {
			return err
		}

		opts := []evm.Option{}
		if cd, _ := cmd.Flags().GetString("calldata"); cd != "" {
			data, err := decodeCode([]byte(cd))
			if err != nil {
				return fmt.Errorf("calldata: %w", err)
			}
			opts = append(opts, evm.WithCallData(data))
		}
		pairs, _ := cmd.Flags().GetStringToString("storage")
		storage, err := parseStorage(pairs)
		if err != nil {
			return err
		}
		opts = append(opts, evm.WithStorage(storage))
		steps, _ := cmd.Flags().GetInt("steps")
		opts = append(opts, evm.WithStepLimit(steps))

		res, runErr := evm.New(code, opts...).Run(cmd.Context())
		out := newRunOutput(res, storage, runErr)

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			bts, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
		} else if err := writeRunText(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		return runErr
	},
}
