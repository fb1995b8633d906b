package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"boss-office/internal/audit"
	"boss-office/internal/models"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List jobs waiting for review",
	RunE:  runInbox,
}

var showCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var auditCmd = &cobra.Command{
	Use:   "audit [job-id]",
	Short: "Show a job's status history",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

var approveCmd = &cobra.Command{
	Use:   "approve [job-id]",
	Short: "Approve a tool for deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[0], "approve", map[string]string{"note": actionNote})
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject [job-id]",
	Short: "Reject a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[0], "reject", map[string]string{"note": actionNote})
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise [job-id]",
	Short: "Send a tool back to the Factory with revision notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[0], "request-revision", map[string]string{"revision_notes": actionNote})
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [job-id]",
	Short: "Queue a DRAFT or revised job for Factory submission again",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var (
	inboxStatus string
	auditPage   int
	auditLimit  int
	actionNote  string
)

func init() {
	inboxCmd.Flags().StringVar(&inboxStatus, "status", "", "List every job in this status instead of the review inbox")

	auditCmd.Flags().IntVar(&auditPage, "page", 1, "Page number")
	auditCmd.Flags().IntVar(&auditLimit, "limit", audit.DefaultLimit, "Entries per page (max 100)")

	approveCmd.Flags().StringVar(&actionNote, "note", "", "Optional note")
	rejectCmd.Flags().StringVar(&actionNote, "note", "", "Reason for rejecting (required)")
	reviseCmd.Flags().StringVar(&actionNote, "note", "", "What to change (required)")
	rejectCmd.MarkFlagRequired("note")
	reviseCmd.MarkFlagRequired("note")
}

func runInbox(cmd *cobra.Command, args []string) error {
	path := "/api/boss/jobs/inbox"
	if inboxStatus != "" {
		path = "/api/boss/jobs?status=" + url.QueryEscape(strings.ToUpper(inboxStatus))
	}
	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var jobs []models.Job
	if err := json.Unmarshal(resp, &jobs); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSTATUS\tQA\tREVISIONS\tUPDATED")
	for _, j := range jobs {
		qa := "-"
		if j.QAStatus != nil {
			qa = *j.QAStatus
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", j.JobID, truncate(j.OriginalFilename, 32), j.Status, qa, j.RevisionCount, j.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/boss/jobs/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	var job models.Job
	if err := json.Unmarshal(resp, &job); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", job.JobID)
	fmt.Fprintf(out, "File:      %s (%s, %d bytes)\n", job.OriginalFilename, job.FileType, job.FileSizeBytes)
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	if job.QAStatus != nil {
		fmt.Fprintf(out, "QA:        %s\n", *job.QAStatus)
	}
	if job.RevisionNotes != nil {
		fmt.Fprintf(out, "Revision:  #%d %s\n", job.RevisionCount, *job.RevisionNotes)
	}
	if job.FailureReason != nil {
		fmt.Fprintf(out, "Failure:   %s\n", *job.FailureReason)
	}
	fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:   %s\n", job.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("page", strconv.Itoa(auditPage))
	q.Set("limit", strconv.Itoa(auditLimit))
	resp, err := apiGet("/api/boss/jobs/" + url.PathEscape(args[0]) + "/audit-log?" + q.Encode())
	if err != nil {
		return err
	}
	var page audit.Page
	if err := json.Unmarshal(resp, &page); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tFROM\tTO\tACTOR\tNOTE")
	for _, e := range page.Entries {
		from := "null"
		if e.FromStatus != nil {
			from = *e.FromStatus
		}
		note := ""
		if e.Note != nil {
			note = truncate(*e.Note, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, from, e.ToStatus, e.Actor, note)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	p := page.Pagination
	fmt.Fprintf(out, "page %d/%d (%d entries)\n", p.Page, p.Pages, p.Total)
	return nil
}

func runAction(cmd *cobra.Command, jobID, action string, body map[string]string) error {
	resp, err := apiPost("/api/boss/jobs/"+url.PathEscape(jobID)+"/"+action, body)
	if err != nil {
		return err
	}
	var result struct {
		Status       string `json:"status"`
		Message      string `json:"message"`
		AuditEntryID string `json:"audit_entry_id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (audit entry %s)\n", result.Message, result.Status, result.AuditEntryID)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/api/boss/jobs/"+url.PathEscape(args[0])+"/submit", nil)
	if err != nil {
		return err
	}
	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.Message, result.Status)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
