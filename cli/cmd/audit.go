package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/keyvault/audit"
)

var (
	auditJsonOutput bool
	auditSince      string
	auditUntil      string
	auditAction     string
	auditKeyID      string
	auditLimit      int
	auditOffset     int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query the security audit trail of the vault.

Provides filtering of key lifecycle and encryption events by time, action and
outcome, with a dedicated view of authentication-gate activity.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with various filtering options.

Examples:
  # All events for the identity
  keyvault audit query

  # Failed events in a time range
  keyvault audit failures --since "2026-01-01T00:00:00Z"

  # Events for a specific key
  keyvault audit query --key-id "1f6e..."`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Long:  "Show failed operations for security monitoring: declined challenges, unwrap failures, rejected ciphertexts.",
	RunE:  runAuditFailures,
}

var auditAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Show authentication-gate events",
	Long:  "Show events related to the authentication gate: challenges presented, declined challenges and private key use.",
	RunE:  runAuditAuth,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditAuthCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditFailuresCmd, auditAuthCmd} {
		c.Flags().BoolVar(&auditJsonOutput, "json", false, "output as JSON")
		c.Flags().StringVar(&auditSince, "since", "", "events after this RFC3339 time")
		c.Flags().StringVar(&auditUntil, "until", "", "events before this RFC3339 time")
		c.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to return")
		c.Flags().IntVar(&auditOffset, "offset", 0, "events to skip")
	}
	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "filter by action name")
	auditQueryCmd.Flags().StringVar(&auditKeyID, "key-id", "", "filter by key ID")
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Action: auditAction,
		KeyID:  auditKeyID,
		Limit:  auditLimit,
		Offset: auditOffset,
	}

	if auditSince != "" {
		since, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid --since value: %w", err)
		}
		options.Since = &since
	}
	if auditUntil != "" {
		until, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid --until value: %w", err)
		}
		options.Until = &until
	}

	return options, nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	return printAuditResult(options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	failed := false
	options.Success = &failed
	return printAuditResult(options)
}

func runAuditAuth(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.AuthEvents = true
	return printAuditResult(options)
}

func printAuditResult(options audit.QueryOptions) error {
	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}

	if auditJsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Events) == 0 {
		fmt.Println("No audit events match the query")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOK\tKEY ID\tERROR")
	for _, event := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			event.Timestamp.Format(time.RFC3339),
			event.Action,
			event.Success,
			event.KeyID,
			event.Error,
		)
	}
	if err = w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d of %d events", len(result.Events), result.Filtered)
	if result.HasMore {
		fmt.Print(" (more available, use --offset)")
	}
	fmt.Println()

	return nil
}
