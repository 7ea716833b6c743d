package cli

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

// NewStockCommand creates the stock command group.
func NewStockCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Manual stock receipts and balances",
	}

	var actor, warehouse, variant, qty int64
	var note string
	receive := &cobra.Command{
		Use:   "receive",
		Short: "Record a manual stock receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"actor_id": actor, "warehouse_id": warehouse, "variant_id": variant, "qty": qty, "note": note,
			}
			var res struct {
				MovementID int64 `json:"movement_id"`
				Balance    int64 `json:"balance"`
			}
			if err := opts.call(cmd.Context(), http.MethodPost, "/api/v1/stock/receive", body, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "movement %d, balance %d\n", res.MovementID, res.Balance)
			})
		},
	}
	receive.Flags().Int64Var(&actor, "actor", 0, "operator id")
	receive.Flags().Int64Var(&warehouse, "warehouse", 0, "warehouse id")
	receive.Flags().Int64Var(&variant, "variant", 0, "variant id")
	receive.Flags().Int64Var(&qty, "qty", 0, "quantity")
	receive.Flags().StringVar(&note, "note", "", "movement note")
	_ = receive.MarkFlagRequired("warehouse")
	_ = receive.MarkFlagRequired("variant")
	_ = receive.MarkFlagRequired("qty")

	balance := &cobra.Command{
		Use:   "balance <warehouse-id> <variant-id>",
		Short: "Show the manual stock balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wh, err1 := strconv.ParseInt(args[0], 10, 64)
			v, err2 := strconv.ParseInt(args[1], 10, 64)
			if err1 != nil || err2 != nil {
				return fmt.Errorf("warehouse and variant must be numbers")
			}
			var res struct {
				WarehouseID int64 `json:"warehouse_id"`
				VariantID   int64 `json:"variant_id"`
				Balance     int64 `json:"balance"`
			}
			path := fmt.Sprintf("/api/v1/stock/%d/%d", wh, v)
			if err := opts.call(cmd.Context(), http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "warehouse %d, variant %d: %d\n", res.WarehouseID, res.VariantID, res.Balance)
			})
		},
	}

	cmd.AddCommand(receive, balance)
	return cmd
}
