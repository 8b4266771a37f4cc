package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksred/steam-billing-api/internal/orderid"
)

func orderIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orderid",
		Short: "Generate or decode order ids",
	}
	cmd.AddCommand(orderIDNewCmd())
	cmd.AddCommand(orderIDParseCmd())
	cmd.AddCommand(orderIDRangeCmd())
	return cmd
}

func orderIDNewCmd() *cobra.Command {
	var (
		shard int64
		count int
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Print fresh order ids for a shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := orderid.New(shard)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				fmt.Fprintln(cmd.OutOrStdout(), gen.Generate())
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&shard, "shard", 420, "Shard encoded in the ids")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of ids")
	return cmd
}

type parsedID struct {
	OrderID  string `json:"orderid"`
	Time     string `json:"time"`
	Shard    int64  `json:"shard"`
	Sequence int64  `json:"sequence"`
}

func orderIDParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [orderid]",
		Short: "Decode the time, shard and sequence of an order id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := orderid.Parse(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), parsedID{
				OrderID:  args[0],
				Time:     parts.Time.Format("2006-01-02T15:04:05.000Z07:00"),
				Shard:    parts.Shard,
				Sequence: parts.Sequence,
			})
		},
	}
}

type idRange struct {
	From string `json:"from"`
	To   string `json:"to"`
	Min  string `json:"min"`
	Max  string `json:"max"`
}

func orderIDRangeCmd() *cobra.Command {
	var (
		from, to string
		shard    int64
	)

	cmd := &cobra.Command{
		Use:   "range",
		Short: "Print the smallest and largest order id issued between two times",
		Long: `Order ids sort by issue time, so a time window maps to an id range
that can be used to select orders without a timestamp column. Without
--shard the range spans every shard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			end, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", to, from)
			}
			if start.Before(orderid.Epoch) {
				return fmt.Errorf("--from is before the order id epoch %s", orderid.Epoch.Format(time.RFC3339))
			}

			lowShard, highShard := int64(0), int64(orderid.MaxShard)
			if shard >= 0 {
				lowShard, highShard = shard, shard
			}

			return printJSON(cmd.OutOrStdout(), idRange{
				From: start.UTC().Format(time.RFC3339),
				To:   end.UTC().Format(time.RFC3339),
				Min:  strconv.FormatInt(orderid.Compose(start, lowShard, 0), 10),
				Max:  strconv.FormatInt(orderid.Compose(end, highShard, orderid.MaxSequence), 10),
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC3339)")
	cmd.Flags().Int64Var(&shard, "shard", -1, "Restrict the range to one shard")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
