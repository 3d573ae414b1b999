package builtin

import (
	"context"

	"github.com/hermesbot/hermes/internal/plugin"
)

func init() {
	plugin.RegisterBuiltin(&samplePlugin{})
}

// samplePlugin is the target of the auto-generated manifest. It claims
// the "help" command on purpose so a fresh install demonstrates the
// registry's duplicate rejection: help registers first and wins.
type samplePlugin struct{}

func (s *samplePlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "sample",
		Version:     "1.0.0",
		Category:    "core",
		Description: "Template plugin showing the plugin contract",
		Usage:       "help",
		Example:     "help",
		Commands:    []string{"help"},
	}
}

func (s *samplePlugin) Run(ctx context.Context, pctx *plugin.Context) error {
	_, err := pctx.Message.Reply(ctx, "Sample plugin alive.")
	return err
}
