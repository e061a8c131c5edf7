package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print catalog statistics without involving the model",
	RunE:  runStats,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Redacted().YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cat, err := openCatalog(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer cat.Close()

	sum, err := cat.Summary(ctx)
	if err != nil {
		return fmt.Errorf("reading catalog summary: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintf(out, "Goods on sale:  %d\n", sum.TotalCount)
	fmt.Fprintf(out, "Price:          %.2f - %.2f (avg %.2f)\n", sum.Price.Min, sum.Price.Max, sum.Price.Avg)
	fmt.Fprintf(out, "Stock:          %d total, %.1f avg\n", sum.Stock.TotalStock, sum.Stock.AvgStock)
	fmt.Fprintf(out, "Categories:     %d\n", len(sum.Categories))
	for _, c := range sum.Categories {
		fmt.Fprintf(out, "  category %-4d %d goods\n", c.CategoryID, c.GoodsCount)
	}
	return nil
}
