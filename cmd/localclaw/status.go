package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/localclaw/internal/api"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source/rest"
	"github.com/nhle/localclaw/internal/theme"
)

const requestTimeout = 30 * time.Second

var (
	gatewayURL      string
	activityLimit   int
	activityChannel string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running gateway",
	RunE:  runStatus,
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "List recently processed items",
	RunE:  runActivity,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, activityCmd} {
		c.Flags().StringVar(&gatewayURL, "url", "", "Control API base URL (default: from configuration)")
	}
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "Maximum number of entries")
	activityCmd.Flags().StringVar(&activityChannel, "channel", "", "Only show this channel")
}

// controlClient returns a REST client for the gateway's control API.
func controlClient() (*rest.Client, error) {
	base := gatewayURL
	if base == "" {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		base = "http://" + cfg.Gateway.Addr()
	}
	return rest.NewClient("control", base, rest.WithMaxRetries(0)), nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	var report api.StatusReport
	if err := client.Get(ctx, "", "/status", &report); err != nil {
		return fmt.Errorf("querying gateway: %w", err)
	}
	renderStatus(cmd.OutOrStdout(), report)
	return nil
}

func runActivity(cmd *cobra.Command, _ []string) error {
	client, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("limit", strconv.Itoa(activityLimit))
	if activityChannel != "" {
		q.Set("channel", activityChannel)
	}

	var resp struct {
		Activity []model.Outcome `json:"activity"`
	}
	if err := client.Get(ctx, "", "/activity?"+q.Encode(), &resp); err != nil {
		return fmt.Errorf("querying gateway: %w", err)
	}
	renderActivity(cmd.OutOrStdout(), resp.Activity)
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.BorderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.TableHeaderStyle
			}
			return theme.TableCellStyle
		}).
		Headers(headers...)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04:05")
}

func renderStatus(w io.Writer, r api.StatusReport) {
	mode := "live"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintln(w, theme.HeaderStyle.Render(fmt.Sprintf("%s for %s", r.Identity.Name, r.Identity.Owner)))
	fmt.Fprintf(w, "gateway %s  mode %s  uptime %s\n",
		theme.StatusStyle(r.Gateway).Render(r.Gateway), mode, r.Uptime)
	fmt.Fprintf(w, "inference %s  %s\n",
		theme.StatusStyle(r.Inference.Status).Render(r.Inference.Status),
		theme.DimmedStyle.Render(r.Inference.Model))

	fmt.Fprintln(w, theme.SectionStyle.Render("Channels"))
	channels := newTable("CHANNEL", "TYPE", "STATUS", "POLL", "INTERVAL", "AUTO-REPLY", "LAST RUN", "NEXT RUN")
	for _, ch := range r.Channels {
		channels.Row(
			ch.Channel,
			ch.Type,
			theme.StatusStyle(string(ch.Backend)).Render(string(ch.Backend)),
			theme.Toggle(ch.Enabled),
			fmt.Sprintf("%ds", ch.PollInterval),
			theme.Toggle(ch.AutoReply),
			formatTime(ch.LastRun),
			formatTime(ch.NextRun),
		)
	}
	fmt.Fprintln(w, channels.String())

	fmt.Fprintln(w, theme.SectionStyle.Render("Jobs"))
	jobs := newTable("JOB", "SCHEDULE", "ENABLED", "LAST RUN", "NEXT RUN")
	for _, j := range r.Jobs {
		jobs.Row(j.ID, j.Schedule, theme.Toggle(j.Enabled), formatTime(j.LastRun), formatTime(j.NextRun))
	}
	fmt.Fprintln(w, jobs.String())

	fmt.Fprintln(w, theme.SectionStyle.Render("Stats"))
	var parts []string
	for _, name := range []string{model.StatProcessed, model.StatSent, model.StatSkipped} {
		parts = append(parts, fmt.Sprintf("%s %d", name, r.Stats[name]))
	}
	fmt.Fprintln(w, strings.Join(parts, "  "))
}

func renderActivity(w io.Writer, outcomes []model.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, theme.DimmedStyle.Render("No activity yet."))
		return
	}
	t := newTable("TIME", "CHANNEL", "FROM", "SUBJECT", "STATUS")
	for _, o := range outcomes {
		at := o.RecordedAt
		t.Row(
			formatTime(&at),
			o.Channel,
			o.Sender(),
			truncate(o.Subject, 48),
			theme.OutcomeStyle(string(o.Status)).Render(string(o.Status)),
		)
	}
	fmt.Fprintln(w, t.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
