package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ksred/steam-billing-api/internal/catalog"
	"github.com/ksred/steam-billing-api/internal/config"
)

func loadCatalog(file string) (*catalog.Catalog, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if file == "" {
		file = cfg.Products.File
	}
	return catalog.Load(file, cfg.Steam.Currency)
}

func productCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "product",
		Short: "Inspect the product catalog",
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "Catalog file (defaults to PRODUCTS_FILE)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every product with its prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := loadCatalog(file)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDESCRIPTION\tBILLING\tPRICES")
			for _, p := range products.Products() {
				billing := "one-off"
				if p.Recurring() {
					billing = fmt.Sprintf("%d/%s", p.Frequency, p.Period)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Description, billing, formatPrices(p.PricePerCurrency))
			}
			return w.Flush()
		},
	})

	var currency string
	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Show the price a purchase in --currency would be charged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid product id %q", args[0])
			}

			products, err := loadCatalog(file)
			if err != nil {
				return err
			}
			p, err := products.Find(id)
			if err != nil {
				return err
			}
			if currency == "" {
				currency = products.DefaultCurrency()
			}
			price, err := products.Resolve(p, currency)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"product":   p,
				"currency":  price.Currency,
				"amount":    price.Amount,
				"fell_back": price.FellBack,
			})
		},
	}
	show.Flags().StringVarP(&currency, "currency", "c", "", "Requested currency")
	cmd.AddCommand(show)

	return cmd
}

func formatPrices(prices map[string]int64) string {
	currencies := make([]string, 0, len(prices))
	for c := range prices {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		parts = append(parts, fmt.Sprintf("%s %d", c, prices[c]))
	}
	return strings.Join(parts, ", ")
}
