package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/hermesbot/hermes/internal/plugin"
)

func init() {
	plugin.RegisterBuiltin(&pingPlugin{})
}

type pingPlugin struct{}

func (p *pingPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "ping",
		Version:     "1.0.0",
		Category:    "core",
		Description: "Round-trip latency and uptime",
		Usage:       "ping",
		Example:     "ping",
		Commands:    []string{"ping"},
	}
}

func (p *pingPlugin) Run(ctx context.Context, pctx *plugin.Context) error {
	start := time.Now()
	if _, err := pctx.Message.Reply(ctx, "🏓 Pong!"); err != nil {
		return err
	}
	took := time.Since(start)
	uptime := time.Since(pctx.StartedAt).Round(time.Second)
	_, err := pctx.Message.Reply(ctx,
		fmt.Sprintf("⏱ %dms | up %s", took.Milliseconds(), uptime))
	return err
}
