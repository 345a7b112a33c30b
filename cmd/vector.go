package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vendorhub/enrich-cli/internal/rag"
)

var vectorCmd = &cobra.Command{
	Use:   "vector",
	Short: "Manage the vector store collections",
}

var vectorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the category and template collections if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		// initEnv already ensured both collections exist.
		fmt.Printf("collections ready: %s, %s (dim %d)\n",
			cfg.Vector.CategoryCollection, cfg.Vector.TemplateCollection, cfg.Vector.Dimensions)
		return nil
	},
}

var vectorSyncCategoriesCmd = &cobra.Command{
	Use:   "sync-categories",
	Short: "Embed and upsert all categories into the vector store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		categories, err := env.Store.ListCategories(ctx)
		if err != nil {
			return eris.Wrap(err, "list categories")
		}

		synced, failed := syncPoints(ctx, len(categories), func(i int) syncItem {
			c := categories[i]
			return syncItem{
				id:         c.ID,
				collection: cfg.Vector.CategoryCollection,
				text:       rag.CategoryEmbeddingText(c),
				payload:    rag.CategoryPayload(c),
			}
		}, env)

		fmt.Printf("synced %d categories, %d failed\n", synced, failed)
		return nil
	},
}

var vectorSyncTemplatesCmd = &cobra.Command{
	Use:   "sync-templates",
	Short: "Embed and upsert all description templates into the vector store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		templates, err := env.Store.ListTemplates(ctx)
		if err != nil {
			return eris.Wrap(err, "list templates")
		}

		synced, failed := syncPoints(ctx, len(templates), func(i int) syncItem {
			t := templates[i]
			return syncItem{
				id:         t.ID,
				collection: cfg.Vector.TemplateCollection,
				text:       rag.TemplateEmbeddingText(t),
				payload:    rag.TemplatePayload(t),
			}
		}, env)

		fmt.Printf("synced %d templates, %d failed\n", synced, failed)
		return nil
	},
}

type syncItem struct {
	id         int64
	collection string
	text       string
	payload    map[string]any
}

// syncPoints embeds and upserts n items with bounded concurrency. Per-item
// failures are reported and counted; the batch never aborts.
func syncPoints(ctx context.Context, n int, item func(i int) syncItem, env *pipelineEnv) (synced, failed int64) {
	concurrency := cfg.Vector.SyncConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var okCount, errCount atomic.Int64
	for i := 0; i < n; i++ {
		it := item(i)
		g.Go(func() error {
			vector, err := env.Gateway.Embedding(gctx, it.text)
			if err != nil {
				errCount.Add(1)
				zap.L().Error("vector sync: embedding failed",
					zap.Int64("id", it.id),
					zap.Error(err),
				)
				return nil
			}
			if err := env.Vectors.Upsert(gctx, it.collection, it.id, vector, it.payload); err != nil {
				errCount.Add(1)
				zap.L().Error("vector sync: upsert failed",
					zap.Int64("id", it.id),
					zap.Error(err),
				)
				return nil
			}
			okCount.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return okCount.Load(), errCount.Load()
}

func init() {
	vectorCmd.AddCommand(vectorInitCmd)
	vectorCmd.AddCommand(vectorSyncCategoriesCmd)
	vectorCmd.AddCommand(vectorSyncTemplatesCmd)
	rootCmd.AddCommand(vectorCmd)
}
