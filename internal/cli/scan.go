package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Spok95/shipment-recon/internal/infra/codefile"
	"github.com/Spok95/shipment-recon/internal/recon"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	File  string
	Quiet bool
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <session-id> [code...]",
		Short: "Scan codes into a session",
		Long: `Scan codes into a session.

Codes come from the arguments or from --file (.xlsx first column, or text with
one code per line). Progress is streamed as the server processes the batch.

Example:
  shipctl scan 12 CASE-001 U-17
  shipctl scan 12 --file pallet-3.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			list := args[1:]
			if opts.File != "" {
				fromFile, err := readCodes(opts.File)
				if err != nil {
					return err
				}
				list = append(list, fromFile...)
			}
			if len(list) == 0 {
				return fmt.Errorf("no codes given")
			}
			return runScan(cmd, opts, id, list)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "file with codes (.xlsx, .txt)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "print only rejected codes and the summary")

	return cmd
}

func readCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	list, err := codefile.Read(filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return list, nil
}

// runScan posts the batch and follows the NDJSON stream. The stream has no
// overall timeout: the server bounds the batch and keeps the connection alive.
func runScan(cmd *cobra.Command, opts *ScanOptions, id int64, list []string) error {
	resp, err := opts.do(cmd.Context(), http.MethodPost, sessionPath(id, "/batch"), map[string][]string{"codes": list})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out := cmd.OutOrStdout()
	var last recon.BatchEvent
	err = recon.ReadNDJSON(resp.Body, func(ev recon.BatchEvent) error {
		last = ev
		if opts.Format == "json" {
			return opts.print(out, ev, nil)
		}
		printEvent(out, ev, opts.Quiet)
		return nil
	})
	if err != nil {
		return err
	}
	switch last.Type {
	case recon.EventComplete:
		return nil
	case recon.EventError:
		return &APIError{Code: last.ErrorCode, Message: last.Message, Retryable: last.Retryable}
	}
	return fmt.Errorf("stream ended without a terminal event")
}

func printEvent(w io.Writer, ev recon.BatchEvent, quiet bool) {
	switch ev.Type {
	case recon.EventStatus:
		if !quiet && ev.Scanned != nil {
			fmt.Fprintf(w, "session %d [%s]: %d units already scanned\n", ev.SessionID, ev.Status, ev.Scanned.TotalUnits)
		}
	case recon.EventProgress:
		r := ev.Result
		if r == nil {
			return
		}
		if quiet && (r.OK() || r.Outcome == recon.OutcomeDuplicate) {
			return
		}
		line := fmt.Sprintf("[%d/%d] %s %s", ev.Index+1, ev.Total, r.Outcome, r.Code)
		if r.Units > 0 {
			line += fmt.Sprintf(" +%d", r.Units)
		}
		if ev.Variant != "" {
			line += " " + ev.Variant
		}
		if r.Reason != "" {
			line += ": " + r.Reason
		}
		fmt.Fprintln(w, line)
	case recon.EventComplete:
		if s := ev.Summary; s != nil {
			fmt.Fprintf(w, "done: %d total, %d shipped, %d duplicates, %d errors\n", s.Total, s.Success, s.Duplicates, s.Errors)
		}
		if ev.Scanned != nil {
			fmt.Fprintf(w, "session now has %d units in %d cases [%s]\n", ev.Scanned.TotalUnits, ev.Scanned.TotalCases, ev.Status)
		}
	case recon.EventError:
		fmt.Fprintf(w, "batch failed: %s (%s)\n", ev.Message, ev.ErrorCode)
	}
}
