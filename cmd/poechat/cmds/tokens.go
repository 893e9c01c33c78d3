package cmds

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tiktoken-go/tokenizer"
)

func NewTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token utilities for messages and replies",
	}
	cmd.AddCommand(newTokensCountCommand())
	return cmd
}

func newTokensCountCommand() *cobra.Command {
	var codecName string
	cmd := &cobra.Command{
		Use:   "count [text...]",
		Short: "Count tokens of the arguments, or of stdin when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "error reading from stdin")
				}
				text = string(b)
			}
			n, err := countTokens(codecName, text)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Codec: %s\nTotal tokens: %d\n", codecName, n)
			return err
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", string(tokenizer.Cl100kBase), "Encoding (cl100k_base, o200k_base, p50k_base, r50k_base)")
	return cmd
}

func countTokens(codecName, text string) (int, error) {
	codec, err := tokenizer.Get(tokenizer.Encoding(codecName))
	if err != nil {
		return 0, errors.Wrapf(err, "unknown codec %q", codecName)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "error encoding")
	}
	return len(ids), nil
}

