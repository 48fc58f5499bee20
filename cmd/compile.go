package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"botserver/pkg/script"

	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile <file.bas>",
	Short: "Print the runtime statements a dialog compiles to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read dialog: %w", err)
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		program, err := script.Compile(name, string(source))
		if err != nil {
			return fmt.Errorf("compile %s: %w", path, err)
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), program.Source())
		return err
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)
}
