package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/deepfocal/taskwatch/internal/api"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/spf13/cobra"
)

func submitCmd(opts *rootOptions) *cobra.Command {
	var (
		kind      string
		contextID string
		wait      bool
		waitLimit time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <subject-key>",
		Short: "Submit an analysis for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := domain.ParseKind(kind); err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := api.SubmitAnalysisRequest{SubjectKey: args[0], ContextID: contextID, Kind: kind}
			if !wait {
				resp, err := client.submit(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submitted %s analysis of %s as task %s\n", resp.Kind, resp.SubjectKey, resp.TaskID)
				return nil
			}

			ctx, cancel := context.WithTimeout(ctx, waitLimit)
			defer cancel()
			return submitAndWait(ctx, cmd.OutOrStdout(), client, req)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(domain.KindQuick), "analysis kind (quick or full)")
	cmd.Flags().StringVar(&contextID, "context", "", "project the subject belongs to")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the outcome")
	cmd.Flags().DurationVar(&waitLimit, "wait-timeout", 15*time.Minute, "give up waiting after this long")
	return cmd
}

// submitAndWait subscribes before submitting so a fast outcome is not missed.
func submitAndWait(ctx context.Context, out io.Writer, client *serverClient, req api.SubmitAnalysisRequest) error {
	stream, streamErr, err := client.watch(ctx, req.SubjectKey)
	if err != nil {
		return err
	}

	resp, err := client.submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "submitted %s analysis of %s as task %s, waiting...\n", resp.Kind, resp.SubjectKey, resp.TaskID)

	for e := range stream {
		if e.TaskID != resp.TaskID {
			continue
		}
		return reportOutcome(out, e)
	}
	if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("event stream ended: %w", err)
	}
	return errors.New("event stream closed before the task finished")
}

func reportOutcome(out io.Writer, e *events.OutcomeEvent) error {
	switch e.Type {
	case events.EventCompleted:
		msg := ""
		if e.Result != nil {
			msg = e.Result.Message
		}
		fmt.Fprintf(out, "task %s completed: %s\n", e.TaskID, msg)
		return nil
	case events.EventFailed:
		return fmt.Errorf("task %s failed: %s", e.TaskID, e.Error)
	case events.EventTimeout:
		return fmt.Errorf("task %s timed out", e.TaskID)
	default:
		return fmt.Errorf("task %s ended with unknown outcome %q", e.TaskID, e.Type)
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [subject-key]",
		Short: "Show live tasks, or one subject's task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			var records []domain.TaskRecord
			if len(args) == 1 {
				rec, err := client.status(cmd.Context(), args[0])
				if errors.Is(err, errNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "no running analysis for %s\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				records = append(records, *rec)
			} else {
				list, err := client.list(cmd.Context())
				if err != nil {
					return err
				}
				records = list.Tasks
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func printRecords(out io.Writer, records []domain.TaskRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no running analyses")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tTASK\tKIND\tSTATUS\tPROGRESS\tREVIEWS\tSTEP")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%d/%d\t%s\n",
			r.SubjectKey, r.TaskID, r.Kind, r.Status, r.ProgressPercent, r.ProcessedCount, r.TargetCount, r.StepDescription)
	}
	_ = tw.Flush()
}

func resultCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "result <subject-key>",
		Short: "Print the stored result of a subject's last completed analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			res, err := client.result(cmd.Context(), args[0])
			if errors.Is(err, errNotFound) {
				return fmt.Errorf("no stored result for %s", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func clearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <subject-key>",
		Short: "Delete the stored result of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.clearResult(cmd.Context(), args[0]); err != nil && !errors.Is(err, errNotFound) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared result for %s\n", args[0])
			return nil
		},
	}
}

func resumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Adopt the backend's live tasks for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := client.resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(resp.Adopted) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no new tasks adopted for project %s\n", resp.ProjectID)
				return nil
			}
			for _, subject := range resp.Adopted {
				fmt.Fprintf(cmd.OutOrStdout(), "adopted %s\n", subject)
			}
			return nil
		},
	}
}

func watchCmd(opts *rootOptions) *cobra.Command {
	var subjectKey string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print task outcomes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream, streamErr, err := client.watch(ctx, subjectKey)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for e := range stream {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&subjectKey, "subject", "", "only show outcomes for this subject")
	return cmd
}
