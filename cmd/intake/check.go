package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/intakeflow/internal/config"
	"github.com/dshills/intakeflow/internal/reflection"
	"github.com/dshills/intakeflow/internal/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Load and validate intake definitions",
	Long: `Loads the built-in intake definitions, plus the YAML files in dir
(or definitions_dir from the config), and prints a summary of each intake.
Exits non-zero on the first configuration error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dir = cfg.DefinitionsDir
		}

		var reg *registry.Registry
		var err error
		if dir != "" {
			reg, err = registry.Load(dir)
		} else {
			reg, err = registry.LoadDefault()
		}
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), reg)
	},
}

func printSummary(w io.Writer, reg *registry.Registry) error {
	for _, t := range reg.Types() {
		def, err := reg.Intake(t)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%s): %d questions\n", def.Type, def.Title, len(def.Questions))
		for i := range def.Questions {
			q := &def.Questions[i]
			kind := reflection.Decide(def, q).Kind()
			fmt.Fprintf(w, "  %2d. %-24s %-14s reflection=%s\n", i+1, q.ID, q.Type, kind)
		}
	}
	return nil
}
