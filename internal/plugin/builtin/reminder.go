package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/sched"
	"github.com/hermesbot/hermes/internal/store"
	"github.com/hermesbot/hermes/internal/transport"
)

func init() {
	plugin.RegisterBuiltin(&reminderPlugin{live: make(map[string]bool)})
}

// reminderPlugin registers recurring cron reminders. It follows the
// persistence discipline: a durable record is written before register
// and deleted on cancel, and OnLoad re-registers every record so
// reminders survive restarts.
type reminderPlugin struct {
	mu   sync.Mutex
	live map[string]bool
	sch  *sched.Scheduler
	st   plugin.Store
}

func (r *reminderPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "reminder",
		Version:     "1.0.0",
		Category:    "utility",
		Description: "Recurring cron reminders",
		Usage:       "remind <m h dom mon dow> | <text>",
		Example:     "remind 0 10 * * 1 | lecture in an hour",
		Commands:    []string{"remind", "reminders", "cancelreminder"},
	}
}

func (r *reminderPlugin) OnLoad(ctx context.Context, lctx *plugin.LoadContext) error {
	r.mu.Lock()
	r.sch = lctx.Sched
	r.st = lctx.Store
	r.mu.Unlock()

	if lctx.Store == nil {
		return nil
	}
	records, err := lctx.Store.ListJobs(ctx, "reminder")
	if err != nil {
		return fmt.Errorf("list reminder records: %w", err)
	}
	for _, rec := range records {
		if r.registerRecord(rec) {
			lctx.Logger.Printf("⏰ Restored reminder %s (%s %s)", rec.ID, rec.Expression, rec.Timezone)
		} else if derr := lctx.Store.DeleteJob(ctx, rec.ID); derr == nil {
			lctx.Logger.Printf("🗑 Dropped unrestorable reminder record %s", rec.ID)
		}
	}
	return nil
}

func (r *reminderPlugin) OnUnload() {
	r.mu.Lock()
	sch := r.sch
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.live = make(map[string]bool)
	r.mu.Unlock()

	if sch == nil {
		return
	}
	for _, id := range ids {
		sch.Cancel(id)
	}
}

// registerRecord binds a handler to the current process and registers
// the job. The handler reads its target and text from the record and
// its transport from the fire-time deps, never from a capture.
func (r *reminderPlugin) registerRecord(rec store.JobRecord) bool {
	to := rec.Payload["to"]
	text := rec.Payload["text"]
	handler := func(ctx context.Context, deps sched.Deps) {
		_, _ = deps.Send(ctx, to, &transport.Outgoing{Text: "⏰ Reminder: " + text})
	}

	r.mu.Lock()
	sch := r.sch
	r.mu.Unlock()
	if sch == nil || !sch.Register(rec.ID, rec.Expression, rec.Timezone, handler) {
		return false
	}

	r.mu.Lock()
	r.live[rec.ID] = true
	r.mu.Unlock()
	return true
}

func (r *reminderPlugin) Run(ctx context.Context, pctx *plugin.Context) error {
	if pctx.Store == nil || pctx.Sched == nil {
		_, err := pctx.Message.Reply(ctx, "Reminders need storage and a scheduler.")
		return err
	}

	switch pctx.Command {
	case "remind":
		return r.runAdd(ctx, pctx)
	case "reminders":
		return r.runList(ctx, pctx)
	case "cancelreminder":
		return r.runCancel(ctx, pctx)
	}
	return fmt.Errorf("unreachable command %q", pctx.Command)
}

func (r *reminderPlugin) runAdd(ctx context.Context, pctx *plugin.Context) error {
	parts := strings.SplitN(pctx.ArgsText, "|", 2)
	if len(parts) != 2 {
		_, err := pctx.Message.Reply(ctx, "Usage: remind <m h dom mon dow> | <text>")
		return err
	}
	expr := strings.TrimSpace(parts[0])
	text := strings.TrimSpace(parts[1])
	if len(strings.Fields(expr)) != 5 || text == "" {
		_, err := pctx.Message.Reply(ctx, "Usage: remind <m h dom mon dow> | <text>")
		return err
	}

	rec := store.JobRecord{
		ID:         "rem_" + uuid.NewString()[:8],
		Plugin:     "reminder",
		Expression: expr,
		Timezone:   pctx.Config.Timezone,
		Payload: map[string]string{
			"to":   pctx.Message.ChatJID,
			"text": text,
		},
	}

	// Durable record first; roll it back if the scheduler refuses.
	if err := pctx.Store.SaveJob(ctx, rec); err != nil {
		return fmt.Errorf("save reminder: %w", err)
	}
	if !r.registerRecord(rec) {
		if derr := pctx.Store.DeleteJob(ctx, rec.ID); derr != nil {
			pctx.Logger.Printf("⚠️ Rollback of %s failed: %v", rec.ID, derr)
		}
		_, err := pctx.Message.Reply(ctx, "Invalid cron expression.")
		return err
	}

	_, err := pctx.Message.Reply(ctx, fmt.Sprintf("✅ Reminder %s set (%s %s)", rec.ID, expr, rec.Timezone))
	return err
}

func (r *reminderPlugin) runList(ctx context.Context, pctx *plugin.Context) error {
	records, err := pctx.Store.ListJobs(ctx, "reminder")
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	if len(records) == 0 {
		_, err := pctx.Message.Reply(ctx, "No reminders set.")
		return err
	}
	var b strings.Builder
	b.WriteString("⏰ Reminders:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "  %s: %s (%s) - %s\n", rec.ID, rec.Expression, rec.Timezone, rec.Payload["text"])
	}
	_, err = pctx.Message.Reply(ctx, b.String())
	return err
}

func (r *reminderPlugin) runCancel(ctx context.Context, pctx *plugin.Context) error {
	id := strings.TrimSpace(pctx.ArgsText)
	if id == "" {
		_, err := pctx.Message.Reply(ctx, "Usage: cancelreminder <id>")
		return err
	}

	r.mu.Lock()
	sch := r.sch
	delete(r.live, id)
	r.mu.Unlock()
	cancelled := sch != nil && sch.Cancel(id)

	if err := pctx.Store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	if !cancelled {
		_, err := pctx.Message.Reply(ctx, "No live reminder "+id+"; record removed.")
		return err
	}
	_, err := pctx.Message.Reply(ctx, "✅ Reminder "+id+" cancelled")
	return err
}
