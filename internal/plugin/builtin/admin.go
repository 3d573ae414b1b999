package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/transport"
)

func init() {
	plugin.RegisterBuiltin(&adminPlugin{})
}

// adminPlugin mutates the durable admin state: bans, unbans and the
// runtime mode document.
type adminPlugin struct{}

func (a *adminPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "admin",
		Version:     "1.0.0",
		Category:    "moderation",
		Description: "Ban, unban and switch bot mode",
		Usage:       "ban <number> | unban <number> | setmode <public|private>",
		Example:     "ban 2348012345678",
		Commands:    []string{"ban", "unban", "setmode"},
		OwnerOnly:   true,
	}
}

func (a *adminPlugin) Run(ctx context.Context, pctx *plugin.Context) error {
	if pctx.Store == nil {
		_, err := pctx.Message.Reply(ctx, "Storage is not configured.")
		return err
	}

	switch pctx.Command {
	case "ban", "unban":
		return a.runBan(ctx, pctx)
	case "setmode":
		return a.runSetMode(ctx, pctx)
	}
	return fmt.Errorf("unreachable command %q", pctx.Command)
}

func (a *adminPlugin) runBan(ctx context.Context, pctx *plugin.Context) error {
	target := banTarget(pctx)
	if target == "" {
		_, err := pctx.Message.Reply(ctx, "Mention, quote or pass the number to "+pctx.Command+".")
		return err
	}
	if pctx.Perm.IsOwner(target) {
		_, err := pctx.Message.Reply(ctx, "The owner cannot be banned.")
		return err
	}

	var err error
	verb := "banned"
	if pctx.Command == "ban" {
		err = pctx.Store.Ban(ctx, target)
	} else {
		err = pctx.Store.Unban(ctx, target)
		verb = "unbanned"
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", pctx.Command, target, err)
	}
	_, err = pctx.Message.Reply(ctx, fmt.Sprintf("✅ %s %s", transport.LocalPart(target), verb))
	return err
}

func (a *adminPlugin) runSetMode(ctx context.Context, pctx *plugin.Context) error {
	mode := strings.ToLower(strings.TrimSpace(pctx.ArgsText))
	if mode != config.ModePublic && mode != config.ModePrivate {
		_, err := pctx.Message.Reply(ctx, "Usage: setmode public|private")
		return err
	}
	if err := pctx.Store.SetMode(ctx, mode); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	_, err := pctx.Message.Reply(ctx, "✅ Mode is now "+mode)
	return err
}

// banTarget picks the subject: first mention, then quoted sender, then
// a digits argument.
func banTarget(pctx *plugin.Context) string {
	m := pctx.Message
	if len(m.Mentions) > 0 {
		return m.Mentions[0]
	}
	if m.Quoted != nil && !m.Quoted.Unresolved && m.Quoted.Sender != "" {
		return m.Quoted.Sender
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, pctx.ArgsText)
	if digits == "" {
		return ""
	}
	return digits + transport.SuffixUser
}
