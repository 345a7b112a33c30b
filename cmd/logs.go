package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vendorhub/enrich-cli/internal/model"
	"github.com/vendorhub/enrich-cli/internal/store"
)

var (
	logsStatus string
	logsLimit  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List recent processing logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		logs, err := st.ListLogs(ctx, store.LogFilter{
			Status: model.LogStatus(logsStatus),
			Limit:  logsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list logs")
		}
		if len(logs) == 0 {
			fmt.Println("no processing logs found")
			return nil
		}

		for _, l := range logs {
			line := fmt.Sprintf("%s  product=%d  %-10s  tokens=%d  cost=$%s  %dms",
				l.CreatedAt.Format("2006-01-02 15:04:05"), l.ProductID, l.Status,
				l.TotalTokens, l.CostUSD.String(), l.DurationMS)
			if l.SuggestedCategory != "" {
				line += fmt.Sprintf("  category=%q", l.SuggestedCategory)
				if l.CategoryConfidence != nil {
					line += fmt.Sprintf(" (%.2f)", *l.CategoryConfidence)
				}
			}
			if l.Error != "" {
				line += "  error=" + l.Error
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d logs\n", len(logs))
		return nil
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsStatus, "status", "", "filter by status (pending|completed|approved|moderation|failed)")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 20, "max logs to list")
	rootCmd.AddCommand(logsCmd)
}
