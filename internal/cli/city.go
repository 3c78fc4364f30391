package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/citychat/internal/model/city"
)

func newCityCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "city",
		Short: "Manage cached city summaries",
	}
	cmd.AddCommand(newCitySetCmd(rt))
	return cmd
}

func newCitySetCmd(rt *runtime) *cobra.Command {
	var (
		name   string
		fields []string
	)

	cmd := &cobra.Command{
		Use:     "set <slug>",
		Short:   "Store the scored summary of a city page",
		Example: `  chatctl city set tehran --name Tehran --field "Air quality=62" --field Safety=80`,
		Args:    cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			summary, err := parseSummary(name, fields)
			if err != nil {
				return err
			}
			entry, ok := rt.app.Controller.RefreshCity(cmd.Context(), rt.user, args[0], summary)
			if !ok {
				return fmt.Errorf("city slug is required")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", entry.Name, entry.Slug)
			fmt.Fprintf(out, "Average score: %.2f [%s]\n", entry.AverageScore, city.ScoreColor(entry.AverageScore))
			for _, f := range entry.Fields {
				fmt.Fprintf(out, "  %-20s %.2f\n", f.Name, f.Score)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name of the city")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Scored field as name=score (repeatable)")
	return cmd
}

// parseSummary turns name=score flags into the page summary shape. Scores
// stay raw so non-numeric values count as zero, as they do on the page.
func parseSummary(name string, fields []string) (*city.PageSummary, error) {
	summary := &city.PageSummary{Name: name}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q, want name=score", f)
		}
		raw, err := json.Marshal(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		summary.Fields = append(summary.Fields, city.PageField{Name: key, Score: raw})
	}
	return summary, nil
}
