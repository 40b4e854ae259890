package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/essamgouda97/pdf-secure/audit"
)

var (
	auditJsonOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditDocument      string
	auditLimit         int
	auditOffset        int
	auditSecurityOnly  bool
	auditFailuresOnly  bool
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query the audit trail of the vault.

Requires audit logging to be enabled (--audit or audit.enabled) with the
same backend the events were written to.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with various filtering options.

Examples:
  # Every open of one document
  pdf-secure audit query --document report.pdf --action DOCUMENT_OPENED

  # Failed events in a time range
  pdf-secure audit query --failures-only --since "2024-01-01T00:00:00Z" --until "2024-01-31T23:59:59Z"

  # Device mismatches, refusals and integrity failures
  pdf-secure audit query --security-only`,
	RunE: runAuditQuery,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show audit summary statistics",
	RunE:  runAuditSummary,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditSummaryCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJsonOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditDocument, "document", "", "Filter by document key")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditQueryCmd.Flags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditQueryCmd.Flags().BoolVar(&auditSecurityOnly, "security-only", false, "Show only security-critical events")
	auditQueryCmd.Flags().BoolVar(&auditFailuresOnly, "failures-only", false, "Show only failed events")
	auditQueryCmd.Flags().BoolVar(&auditDetails, "details", false, "Show detailed event information")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	if auditJsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	if err = displayAuditEvents(cmd.OutOrStdout(), result.Events, auditDetails); err != nil {
		return err
	}
	if result.HasMore {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d matching events shown, use --offset for more\n", len(result.Events), result.Filtered)
	}
	return nil
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	// summaries cover every matching event
	options.Limit = 0
	options.Offset = 0

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	summary := summarizeAuditEvents(result.Events)
	if auditJsonOutput {
		return printJSON(cmd.OutOrStdout(), summary)
	}
	return displayAuditSummary(cmd.OutOrStdout(), summary)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		VaultID:      viper.GetString("vault.path"),
		Limit:        auditLimit,
		Offset:       auditOffset,
		SecurityOnly: auditSecurityOnly,
		Action:       auditAction,
		DocumentKey:  auditDocument,
	}

	if auditSince != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &parsedTime
	}

	if auditUntil != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &parsedTime
	}

	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter format: %w", err)
		}
		options.Success = &success
	}

	if auditFailuresOnly {
		falseVal := false
		options.Success = &falseVal
	}

	return options, nil
}

func displayAuditEvents(out io.Writer, events []audit.Event, details bool) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "No audit events found.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if details {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)
			fmt.Fprintf(w, "Status:\t%s\n", eventStatus(event))

			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.DocumentKey != "" {
				fmt.Fprintf(w, "Document:\t%s\n", event.DocumentKey)
			}
			if event.Source != "" {
				fmt.Fprintf(w, "Source:\t%s\n", event.Source)
			}
			if event.SessionID != "" {
				fmt.Fprintf(w, "Session:\t%s\n", event.SessionID)
			}

			if len(event.Metadata) > 0 {
				keys := make([]string, 0, len(event.Metadata))
				for k := range event.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintf(w, "Metadata:\t")
				for _, k := range keys {
					fmt.Fprintf(w, "%s=%v ", k, event.Metadata[k])
				}
				fmt.Fprintf(w, "\n")
			}

			fmt.Fprintf(w, "────────────────────────────────────────\n")
		}
		return w.Flush()
	}

	fmt.Fprintf(w, "TIMESTAMP\tACTION\tSTATUS\tDOCUMENT\tERROR\n")
	for _, event := range events {
		errorMsg := event.Error
		if len(errorMsg) > 40 {
			errorMsg = errorMsg[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"),
			event.Action,
			eventStatus(event),
			event.DocumentKey,
			errorMsg)
	}
	return w.Flush()
}

func eventStatus(event audit.Event) string {
	if event.Success {
		return "SUCCESS"
	}
	return "FAILED"
}

// AuditSummary aggregates a set of audit events.
type AuditSummary struct {
	TotalEvents  int            `json:"total_events"`
	Failures     int            `json:"failures"`
	Opens        int            `json:"opens"`
	Refusals     int            `json:"refusals"`
	Mismatches   int            `json:"device_mismatches"`
	FirstEvent   *time.Time     `json:"first_event,omitempty"`
	LastEvent    *time.Time     `json:"last_event,omitempty"`
	ActionCounts map[string]int `json:"action_counts"`
	OpensByDoc   map[string]int `json:"opens_by_document"`
}

func summarizeAuditEvents(events []audit.Event) AuditSummary {
	summary := AuditSummary{
		ActionCounts: make(map[string]int),
		OpensByDoc:   make(map[string]int),
	}

	for i := range events {
		event := events[i]
		summary.TotalEvents++
		summary.ActionCounts[event.Action]++
		if !event.Success {
			summary.Failures++
		}

		switch event.Action {
		case audit.ActionDocumentOpened:
			summary.Opens++
			summary.OpensByDoc[event.DocumentKey]++
		case audit.ActionDocumentRefused:
			summary.Refusals++
		case audit.ActionDeviceMismatch:
			summary.Mismatches++
		}

		ts := event.Timestamp
		if summary.FirstEvent == nil || ts.Before(*summary.FirstEvent) {
			summary.FirstEvent = &ts
		}
		if summary.LastEvent == nil || ts.After(*summary.LastEvent) {
			summary.LastEvent = &ts
		}
	}
	return summary
}

func displayAuditSummary(out io.Writer, summary AuditSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Audit Summary")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Total Events:\t%d\n", summary.TotalEvents)
	fmt.Fprintf(w, "Failures:\t%d\n", summary.Failures)
	fmt.Fprintf(w, "Document Opens:\t%d\n", summary.Opens)
	fmt.Fprintf(w, "Refused Opens:\t%d\n", summary.Refusals)
	fmt.Fprintf(w, "Device Mismatches:\t%d\n", summary.Mismatches)
	if summary.FirstEvent != nil {
		fmt.Fprintf(w, "Period:\t%s to %s\n",
			summary.FirstEvent.Format("2006-01-02 15:04:05"),
			summary.LastEvent.Format("2006-01-02 15:04:05"))
	}

	if len(summary.OpensByDoc) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "DOCUMENT\tOPENS")
		docs := make([]string, 0, len(summary.OpensByDoc))
		for doc := range summary.OpensByDoc {
			docs = append(docs, doc)
		}
		sort.Strings(docs)
		for _, doc := range docs {
			fmt.Fprintf(w, "%s\t%d\n", doc, summary.OpensByDoc[doc])
		}
	}
	return w.Flush()
}
