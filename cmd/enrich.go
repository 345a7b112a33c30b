package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vendorhub/enrich-cli/internal/enrich"
	"github.com/vendorhub/enrich-cli/internal/model"
)

var (
	enrichLimit     int
	enrichAutoApply bool
	enrichDryRun    bool
	enrichRate      float64
	enrichProductID int64
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich unprocessed products with generated content",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var products []model.Product
		if enrichProductID != 0 {
			p, err := env.Store.GetProduct(ctx, enrichProductID)
			if err != nil {
				return eris.Wrapf(err, "load product %d", enrichProductID)
			}
			products = []model.Product{*p}
		} else {
			products, err = env.Store.ListUnenriched(ctx, enrichLimit)
			if err != nil {
				return eris.Wrap(err, "list unenriched products")
			}
		}
		if len(products) == 0 {
			fmt.Println("no products to enrich")
			return nil
		}

		zap.L().Info("enriching products",
			zap.Int("count", len(products)),
			zap.Bool("auto_apply", enrichAutoApply),
			zap.Bool("dry_run", enrichDryRun),
		)

		perSec := enrichRate
		if perSec <= 0 {
			perSec = cfg.Enrich.RatePerSec
		}
		limiter := rate.NewLimiter(rate.Limit(perSec), 1)

		opts := enrich.Options{
			AutoApply: enrichAutoApply,
			DryRun:    enrichDryRun,
			MaxImages: cfg.Media.MaxImages,
		}

		var completed, moderated, failed int
		totalCost := decimal.Zero
		confidenceSum := 0.0

		// One product at a time; parallelism across products is the operator's
		// concern, not this loop's.
		for _, product := range products {
			if err := limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "rate limiter")
			}

			outcome, err := env.Enricher.Run(ctx, product.ID, opts)
			if err != nil {
				failed++
				fmt.Printf("  product %d: ERROR %v\n", product.ID, err)
				continue
			}

			log := outcome.Log
			totalCost = totalCost.Add(log.CostUSD)
			confidenceSum += outcome.Confidence

			switch log.Status {
			case model.LogStatusModeration:
				moderated++
			default:
				completed++
			}
			fmt.Printf("  product %d: %s confidence=%.2f cost=$%s title=%q\n",
				product.ID, log.Status, outcome.Confidence, log.CostUSD.String(), log.GeneratedTitle)
		}

		processed := completed + moderated
		avgConfidence := 0.0
		if processed > 0 {
			avgConfidence = confidenceSum / float64(processed)
		}
		fmt.Printf("\ndone: %d ok, %d moderation, %d errors, total cost $%s, avg confidence %.2f\n",
			completed, moderated, failed, totalCost.String(), avgConfidence)
		return nil
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 10, "max number of products to process")
	enrichCmd.Flags().BoolVar(&enrichAutoApply, "auto-apply", false, "write generated content back onto products that pass the quality gate")
	enrichCmd.Flags().BoolVar(&enrichDryRun, "dry-run", false, "run the pipeline without persisting logs or products")
	enrichCmd.Flags().Float64Var(&enrichRate, "rate", 0, "max products per second (default from config)")
	enrichCmd.Flags().Int64Var(&enrichProductID, "product", 0, "enrich a single product by id")
	rootCmd.AddCommand(enrichCmd)
}
