package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/prolessons/pkg/billing"
	pkgconfig "github.com/dmitrymomot/prolessons/pkg/config"
)

func newPayPalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paypal",
		Short: "Manage the PayPal product catalog",
	}
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Create and list PayPal products and billing plans",
	}
	catalog.AddCommand(newCatalogCreateCmd(), newCatalogListCmd())
	cmd.AddCommand(catalog)
	return cmd
}

func newCatalogCreateCmd() *cobra.Command {
	var kind, file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product or billing plan from a YAML document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := readCatalogDocument(file)
			if err != nil {
				return err
			}
			p, err := newPayPalProvider()
			if err != nil {
				return err
			}

			item, err := p.CreateCatalogItem(cmd.Context(), billing.CatalogKind(kind), doc)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), []billing.CatalogItem{*item})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(billing.CatalogProduct), "catalog kind: product or plan")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML document describing the product or plan")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCatalogListCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products or billing plans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPayPalProvider()
			if err != nil {
				return err
			}
			items, err := p.ListCatalog(cmd.Context(), billing.CatalogKind(kind))
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(billing.CatalogProduct), "catalog kind: product or plan")
	return cmd
}

func newPayPalProvider() (*billing.PayPalProvider, error) {
	var cfg billing.PayPalConfig
	if err := pkgconfig.Load(&cfg); err != nil {
		return nil, err
	}
	return billing.NewPayPalProvider(cfg)
}

// readCatalogDocument decodes a YAML file into a JSON-compatible document.
func readCatalogDocument(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog document: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("catalog document %s is empty", path)
	}
	return doc, nil
}

func printCatalog(w io.Writer, items []billing.CatalogItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ID, it.Name, it.Status)
	}
	return tw.Flush()
}
