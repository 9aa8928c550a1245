package cmd

import (
	"github.com/spf13/cobra"
)

var rawCmd = &cobra.Command{
	Use:   "raw [file]",
	Short: "Explore a headerless code blob",
	Long: `Explore a file holding nothing but machine code. The whole file is mapped
at --base and treated as executable; --arch is required.`,
	Example: `
# Firmware image loaded at 0x80000, starting 0x40 bytes in
lifter raw --arch arm64 --base 0x80000 --entry 0x80040 firmware.bin
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stop, err := startProfiling(cmd)
		if err != nil {
			return err
		}
		defer stop()

		c, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		base, _ := cmd.Flags().GetString("base")
		entry, _ := cmd.Flags().GetString("entry")

		s, err := openRaw(args[0], c, base, entry)
		if err != nil {
			return err
		}
		defer s.Close()
		return run(cmd, s, c)
	},
}

func init() {
	rawCmd.Flags().StringP("base", "b", "0", "Load address of the first byte")
	rawCmd.Flags().StringP("entry", "e", "", "Entry address (default: --base)")
	rootCmd.AddCommand(rawCmd)
}
