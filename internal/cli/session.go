package cli

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

// Session mirrors the API session representation.
type Session struct {
	ID            int64                   `json:"id"`
	OriginID      int64                   `json:"origin_id"`
	DestinationID int64                   `json:"destination_id"`
	Status        shipments.Status        `json:"status"`
	MasterCodes   []string                `json:"master_codes"`
	UniqueCodes   []string                `json:"unique_codes"`
	Expected      *shipments.Baseline     `json:"expected,omitempty"`
	Stats         recon.DetailedStats     `json:"stats"`
	Discrepancies []recon.Discrepancy     `json:"discrepancies,omitempty"`
	Committing    bool                    `json:"committing"`
	Confirmation  *shipments.Confirmation `json:"confirmation,omitempty"`
	IncidentID    *int64                  `json:"incident_id,omitempty"`
	Version       int64                   `json:"version"`
}

func printSession(w io.Writer, s *Session) {
	fmt.Fprintf(w, "session %d  %d -> %d  [%s]\n", s.ID, s.OriginID, s.DestinationID, s.Status)
	fmt.Fprintf(w, "  cases: %d  units: %d  (masters %d + uniques %d - overlap %d)\n",
		s.Stats.TotalCases, s.Stats.FinalTotal, s.Stats.MasterTotalUnits, s.Stats.ValidUniqueCount, s.Stats.Overlap)
	fmt.Fprintf(w, "  codes: %d master, %d unique\n", len(s.MasterCodes), len(s.UniqueCodes))
	if s.Expected != nil {
		fmt.Fprintf(w, "  expected: %d units (order %d)\n", s.Expected.TotalUnits, s.Expected.OrderID)
	}
	for _, d := range s.Discrepancies {
		fmt.Fprintf(w, "  variant %d: expected %d, scanned %d (%+d)\n", d.VariantID, d.Expected, d.Scanned, d.Diff)
	}
	if s.IncidentID != nil {
		fmt.Fprintf(w, "  BLOCKED: reconciliation incident %d\n", *s.IncidentID)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return id, nil
}

func sessionPath(id int64, suffix string) string {
	return "/api/v1/sessions/" + strconv.FormatInt(id, 10) + suffix
}

// NewSessionCommand creates the session command group.
func NewSessionCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open or inspect shipment sessions",
	}

	var origin, dest int64
	open := &cobra.Command{
		Use:   "open",
		Short: "Open the session for an origin/destination pair, or return the open one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s Session
			body := map[string]int64{"origin_id": origin, "destination_id": dest}
			if err := opts.call(cmd.Context(), http.MethodPost, "/api/v1/sessions", body, &s); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), s, func(w io.Writer) { printSession(w, &s) })
		},
	}
	open.Flags().Int64Var(&origin, "origin", 0, "origin warehouse id")
	open.Flags().Int64Var(&dest, "dest", 0, "destination id")
	_ = open.MarkFlagRequired("origin")
	_ = open.MarkFlagRequired("dest")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session stats and discrepancies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var s Session
			if err := opts.call(cmd.Context(), http.MethodGet, sessionPath(id, ""), nil, &s); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), s, func(w io.Writer) { printSession(w, &s) })
		},
	}

	cmd.AddCommand(open, show)
	return cmd
}

// NewUnlinkCommand creates the unlink command.
func NewUnlinkCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <session-id> <code>",
		Short: "Remove a scanned code from an open session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var s Session
			path := sessionPath(id, "/codes/"+args[1])
			if err := opts.call(cmd.Context(), http.MethodDelete, path, nil, &s); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), s, func(w io.Writer) { printSession(w, &s) })
		},
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session and release its codes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var s Session
			if err := opts.call(cmd.Context(), http.MethodPost, sessionPath(id, "/cancel"), nil, &s); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), s, func(w io.Writer) { printSession(w, &s) })
		},
	}
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(opts *RootOptions) *cobra.Command {
	var actor, variant, qty int64
	cmd := &cobra.Command{
		Use:   "confirm <session-id>",
		Short: "Commit the session, optionally with a manual-stock quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body := map[string]int64{"actor_id": actor, "manual_variant_id": variant, "manual_qty": qty}
			var c shipments.Confirmation
			if err := opts.call(cmd.Context(), http.MethodPost, sessionPath(id, "/confirm"), body, &c); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), c, func(w io.Writer) {
				fmt.Fprintf(w, "confirmed session %d as %s: %d cases, %d units", c.SessionID, c.ShipmentRef, c.CasesShipped, c.UnitsShipped)
				if c.ManualUnitsShipped > 0 {
					fmt.Fprintf(w, ", %d manual units of variant %d", c.ManualUnitsShipped, c.ManualVariantID)
				}
				fmt.Fprintln(w)
			})
		},
	}
	cmd.Flags().Int64Var(&actor, "actor", 0, "operator id recorded on the stock movement")
	cmd.Flags().Int64Var(&variant, "variant", 0, "manual-stock variant id")
	cmd.Flags().Int64Var(&qty, "qty", 0, "manual-stock quantity")
	return cmd
}
