package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pointdist/pkg/week"
)

type finalizeSummary struct {
	GroupID string         `json:"group_id"`
	Week    week.Key       `json:"week"`
	Status  string         `json:"status"`
	Ranking []rankedMember `json:"ranking"`
}

type rankedMember struct {
	Rank   int    `json:"rank"`
	Member string `json:"member"`
	Total  int    `json:"total"`
}

// finalizeCommand locks a week from the command line, e.g. from a scheduler.
func finalizeCommand() *cobra.Command {
	var group, rawWeek string
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize one week of a group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			wk, err := week.Parse(rawWeek)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.points.Finalize(cmd.Context(), group, wk)
			if err != nil {
				return fmt.Errorf("finalize %s %s: %w", group, wk, err)
			}
			summary := finalizeSummary{
				GroupID: view.Distribution.GroupID,
				Week:    view.Distribution.Week,
				Status:  view.Distribution.Status(),
			}
			for _, sc := range view.Ranking {
				summary.Ranking = append(summary.Ranking, rankedMember{
					Rank:   sc.Rank,
					Member: view.EmailOf(sc.Member),
					Total:  sc.Total,
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group id")
	cmd.Flags().StringVar(&rawWeek, "week", "", "any date of the week, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}
