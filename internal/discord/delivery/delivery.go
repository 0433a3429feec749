// Package delivery connects the pipeline's outward edges to Discord: artifact
// upload, coalesced progress edits, final summaries, and operator alerts.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"grabbit/internal/app"
	"grabbit/internal/discord/response"
	"grabbit/internal/pipeline"
)

// Delivery implements pipeline.Uploader and pipeline.Sink over the bot client.
type Delivery struct {
	a *app.App

	// per-job status message, created on first progress emission
	statusMsgs *xsync.Map[string, snowflake.ID]
}

func New(a *app.App) *Delivery {
	return &Delivery{
		a:          a,
		statusMsgs: xsync.NewMap[string, snowflake.ID](),
	}
}

// Upload sends one finished artifact to the job's channel, attached under
// filename (the sanitized media title, not the workspace stem). Failures come
// back classified so the pipeline's retry matrix can act on them.
func (d *Delivery) Upload(ctx context.Context, job *pipeline.Job, path, filename string) error {
	f, err := os.Open(path)
	if err != nil {
		return &pipeline.UploadError{Kind: pipeline.UploadRejected, Err: err}
	}
	defer f.Close()

	msg := discord.NewMessageCreateBuilder().
		AddFile(filename, "", f).
		Build()
	if _, err := d.a.Client.Rest.CreateMessage(job.Channel, msg); err != nil {
		return classifyUploadErr(err)
	}
	return nil
}

// classifyUploadErr folds a transport error into the pipeline's upload kinds.
// Timeouts and plain network failures are retriable; everything else (typically
// a 413 for an oversized file) is not.
func classifyUploadErr(err error) *pipeline.UploadError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &pipeline.UploadError{Kind: pipeline.UploadTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return &pipeline.UploadError{Kind: pipeline.UploadTimeout, Err: err}
		}
		return &pipeline.UploadError{Kind: pipeline.UploadNetwork, Err: err}
	}
	return &pipeline.UploadError{Kind: pipeline.UploadRejected, Err: err}
}

// Progress keeps one status message per job up to date. The pipeline already
// coalesces emissions, so every call here is worth an edit.
func (d *Delivery) Progress(job *pipeline.Job, p pipeline.Progress) {
	content := renderProgress(job, p)

	if msgID, ok := d.statusMsgs.Load(job.ID); ok {
		if _, err := d.a.Client.Rest.UpdateMessage(job.Channel, msgID, discord.NewMessageUpdateBuilder().
			SetContent(content).
			Build()); err != nil {
			d.a.Log.Warnf("Error updating status message for job %s: %s", job.ID, err)
		}
		return
	}

	msg, err := d.a.Client.Rest.CreateMessage(job.Channel, discord.NewMessageCreateBuilder().
		SetContent(content).
		AddActionRow(discord.NewDangerButton("Cancel", "cancel."+job.ID)).
		Build())
	if err != nil {
		d.a.Log.Warnf("Error creating status message for job %s: %s", job.ID, err)
		return
	}
	d.statusMsgs.Store(job.ID, msg.ID)
}

// Outcome replaces the status message (if one exists) with the final summary,
// or posts it fresh.
func (d *Delivery) Outcome(job *pipeline.Job, summary pipeline.Summary) {
	content := renderSummary(job, summary)

	if msgID, ok := d.statusMsgs.LoadAndDelete(job.ID); ok {
		if _, err := d.a.Client.Rest.UpdateMessage(job.Channel, msgID, discord.NewMessageUpdateBuilder().
			SetContent(content).
			ClearComponents().
			Build()); err == nil {
			return
		}
	}
	if _, err := d.a.Client.Rest.CreateMessage(job.Channel, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build()); err != nil {
		d.a.Log.Errorf("Error sending summary for job %s: %s", job.ID, err)
	}
}

// OperatorAlert forwards an alert to the operator channel. Fire-and-forget:
// the pipeline must never block on this, and an unset channel degrades to a
// log line.
func (d *Delivery) OperatorAlert(kind, detail string) {
	d.a.Log.Warnf("Operator alert [%s]: %s", kind, detail)

	d.a.DiscordWG.Add(1)
	go func() {
		defer d.a.DiscordWG.Done()
		msg := discord.NewMessageCreateBuilder().
			SetContentf("⚠ `%s`: %s", kind, detail).
			Build()
		if _, err := response.MessageOperatorChannel(d.a, msg); err != nil {
			d.a.Log.Debugf("Operator alert not delivered to channel: %s", err)
		}
	}()
}

func renderProgress(job *pipeline.Job, p pipeline.Progress) string {
	if p.TotalURLs > 1 {
		return fmt.Sprintf("Job `%s`: %d/%d links done, %s %.0f%%",
			job.ID, p.CompletedURLs, p.TotalURLs, p.Phase, p.Fraction*100)
	}
	return fmt.Sprintf("Job `%s`: %s %.0f%%", job.ID, p.Phase, p.Fraction*100)
}

func renderSummary(job *pipeline.Job, summary pipeline.Summary) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "Job `%s` finished: %d succeeded, %d failed, %d cancelled.",
		job.ID, summary.Succeeded, summary.Failed, summary.Cancelled)
	for _, r := range summary.Results {
		if r.Status != "failed" || r.Reason == "" {
			continue
		}
		u := r.URL
		if len(u) > 64 {
			u = u[:61] + "..."
		}
		fmt.Fprintf(&msg, "\n`%s`: %s", u, r.Reason)
	}
	return msg.String()
}
