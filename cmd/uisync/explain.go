package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uisync/internal/errors"
)

func explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain [code]",
		Short: "Explain an error code",
		Long: `Explain prints the description of an error code such as E131.
Without arguments it lists all codes.

Examples:
  uisync explain
  uisync explain E110`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, code := range errors.GetAllCodes() {
					t, _ := errors.GetTemplate(code)
					fmt.Fprintf(out, "%s  %-12s %s\n", code, t.Category, t.Message)
				}
				return nil
			}
			code := strings.ToUpper(args[0])
			if _, ok := errors.GetTemplate(code); !ok {
				return errors.Newf(errors.CategoryConfig, "unknown error code %q", args[0])
			}
			fmt.Fprint(out, errors.New(code).Format())
			return nil
		},
	}
}
