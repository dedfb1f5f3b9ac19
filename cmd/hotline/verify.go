package main

import (
	"fmt"

	"github.com/creastat/hotline/audio"
	"github.com/creastat/hotline/config"
	"github.com/spf13/cobra"
)

func newVerifyAudioCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audio [dir]",
		Short: "Check stored audio against its integrity records",
		Long: "Walks dir (default: the configured audio root) and verifies every artifact " +
			"that has an integrity record. Exits non-zero when any artifact fails.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Options{File: flags.configFile, DotEnv: flags.envFiles})
			if err != nil {
				return err
			}
			store, err := audio.New(cfg.Audio.Root)
			if err != nil {
				return err
			}
			dir := store.Root()
			if len(args) == 1 {
				dir = args[0]
			}

			report, err := store.VerifyTree(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range report.Failures {
				fmt.Fprintf(out, "FAIL %s: %v\n", f.Path, f.Err)
			}
			fmt.Fprintf(out, "checked %d artifacts, %d failed\n", report.Checked, len(report.Failures))
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d artifacts failed verification", len(report.Failures))
			}
			return nil
		},
	}
}
