package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uisync/internal/config"
	"github.com/vango-dev/uisync/internal/errors"
)

func initCmd() *cobra.Command {
	var (
		force bool
		push  string
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default uisync.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, push, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing uisync.json")
	cmd.Flags().StringVar(&push, "push", "", "Push mode: disabled, manual or automatic")

	return cmd
}

func runInit(dir, push string, force bool) error {
	if config.Exists(dir) && !force {
		return errors.Newf(errors.CategoryConfig, "%s already exists in %s", config.ConfigFileName, dir).
			WithSuggestion("Use --force to overwrite it.")
	}
	cfg := config.New()
	if push != "" {
		cfg.Push.Mode = push
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := filepath.Join(dir, config.ConfigFileName)
	if err := cfg.SaveTo(path); err != nil {
		return err
	}
	success(os.Stdout, "Wrote %s", path)
	return nil
}
