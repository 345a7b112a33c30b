package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vendorhub/enrich-cli/internal/model"
)

// catalogFile is the YAML fixture format for seeding the enrichment store.
type catalogFile struct {
	Categories []struct {
		ID         int64  `yaml:"id"`
		Name       string `yaml:"name"`
		ParentName string `yaml:"parent_name"`
		Examples   string `yaml:"examples"`
	} `yaml:"categories"`
	Templates []struct {
		ID      int64  `yaml:"id"`
		Name    string `yaml:"name"`
		Content string `yaml:"content"`
	} `yaml:"templates"`
	Products []struct {
		ID          int64             `yaml:"id"`
		Name        string            `yaml:"name"`
		Description string            `yaml:"description"`
		Price       string            `yaml:"price"`
		Attributes  map[string]string `yaml:"attributes"`
		ImageURLs   []string          `yaml:"image_urls"`
	} `yaml:"products"`
}

var importCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Import categories, templates, and products from a YAML catalog file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read catalog file %s", args[0])
		}
		var catalog catalogFile
		if err := yaml.Unmarshal(raw, &catalog); err != nil {
			return eris.Wrap(err, "parse catalog file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var categories, templates, products, failed int
		for _, c := range catalog.Categories {
			err := st.CreateCategory(ctx, &model.Category{
				ID: c.ID, Name: c.Name, ParentName: c.ParentName, Examples: c.Examples,
			})
			if err != nil {
				failed++
				zap.L().Error("import: category failed", zap.String("name", c.Name), zap.Error(err))
				continue
			}
			categories++
		}
		for _, t := range catalog.Templates {
			err := st.CreateTemplate(ctx, &model.Template{ID: t.ID, Name: t.Name, Content: t.Content})
			if err != nil {
				failed++
				zap.L().Error("import: template failed", zap.String("name", t.Name), zap.Error(err))
				continue
			}
			templates++
		}
		for _, p := range catalog.Products {
			price := decimal.Zero
			if p.Price != "" {
				price, err = decimal.NewFromString(p.Price)
				if err != nil {
					failed++
					zap.L().Error("import: bad price", zap.String("product", p.Name), zap.String("price", p.Price))
					continue
				}
			}
			err := st.CreateProduct(ctx, &model.Product{
				ID:          p.ID,
				Name:        p.Name,
				Description: p.Description,
				Price:       price,
				Attributes:  p.Attributes,
				ImageURLs:   p.ImageURLs,
			})
			if err != nil {
				failed++
				zap.L().Error("import: product failed", zap.String("name", p.Name), zap.Error(err))
				continue
			}
			products++
		}

		fmt.Printf("imported %d categories, %d templates, %d products, %d failed\n",
			categories, templates, products, failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
