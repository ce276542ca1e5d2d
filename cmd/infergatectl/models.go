package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type modelJSON struct {
	ID               string  `json:"id"`
	ContextLength    int     `json:"context_length"`
	PricePer1KTokens float64 `json:"price_per_1k_tokens"`
	Priority         int     `json:"priority"`
	OwnedBy          string  `json:"owned_by,omitempty"`
	Created          int64   `json:"created,omitempty"`
	BackendURL       string  `json:"backend_url,omitempty"`
}

func newModelsCmd(load loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog in routing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, rt, err := loadRouter(load)
			if err != nil {
				return err
			}
			models := rt.Models()

			if asJSON {
				out := make([]modelJSON, len(models))
				for i, m := range models {
					out[i] = modelJSON(m)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONTEXT\tPRICE/1K\tPRIORITY\tBACKEND")
			for _, m := range models {
				backend := m.BackendURL
				if backend == "" {
					backend = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%g\t%d\t%s\n", m.ID, m.ContextLength, m.PricePer1KTokens, m.Priority, backend)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}
