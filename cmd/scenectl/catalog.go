package main

import (
	"fmt"

	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect entity catalogs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate catalog files against the schema and the catalog rules",
		Long:  "Validates each file; with no file, validates the embedded scene catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				snap, err := catalog.LoadDefault()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "embedded: ok (version %s, %d entities)\n", snap.Version, len(snap.Entities()))
				return nil
			}
			failed := 0
			for _, path := range args {
				snap, err := catalog.LoadFile(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: ok (version %s, %d entities)\n", path, snap.Version, len(snap.Entities()))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d catalogs invalid", failed, len(args))
			}
			return nil
		},
	})
	return cmd
}
