// Package builtin holds the compiled-in plugins. Each registers
// itself with the runtime at init; the manifest directory decides
// which are enabled.
package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hermesbot/hermes/internal/plugin"
)

func init() {
	plugin.RegisterBuiltin(&helpPlugin{})
}

type helpPlugin struct{}

func (h *helpPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "help",
		Version:     "1.0.0",
		Category:    "core",
		Description: "Lists every available command",
		Usage:       "help [command]",
		Example:     "help ping",
		Commands:    []string{"help"},
		Aliases:     []string{"menu"},
	}
}

func (h *helpPlugin) Run(ctx context.Context, pctx *plugin.Context) error {
	if len(pctx.Args) > 0 {
		return h.describeOne(ctx, pctx, pctx.Args[0])
	}

	byCategory := make(map[string][]plugin.Descriptor)
	for _, e := range pctx.Registry.Entries() {
		cat := e.Desc.Category
		if cat == "" {
			cat = "misc"
		}
		byCategory[cat] = append(byCategory[cat], e.Desc)
	}
	cats := make([]string, 0, len(byCategory))
	for c := range byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var b strings.Builder
	fmt.Fprintf(&b, "📖 *%s commands* (prefix %q)\n", pctx.Config.BotName, pctx.Config.Prefix)
	for _, cat := range cats {
		fmt.Fprintf(&b, "\n*%s*\n", cat)
		for _, d := range byCategory[cat] {
			fmt.Fprintf(&b, "  %s%s - %s\n", pctx.Config.Prefix, strings.Join(d.Commands, ", "), d.Description)
		}
	}
	_, err := pctx.Message.Reply(ctx, b.String())
	return err
}

func (h *helpPlugin) describeOne(ctx context.Context, pctx *plugin.Context, token string) error {
	e, ok := pctx.Registry.Lookup(token)
	if !ok {
		_, err := pctx.Message.Reply(ctx, fmt.Sprintf("Unknown command %q", token))
		return err
	}
	d := e.Desc
	text := fmt.Sprintf("*%s* v%s\n%s\nUsage: %s%s\nExample: %s%s",
		d.Name, d.Version, d.Description,
		pctx.Config.Prefix, d.Usage, pctx.Config.Prefix, d.Example)
	if len(d.Aliases) > 0 {
		text += "\nAliases: " + strings.Join(d.Aliases, ", ")
	}
	_, err := pctx.Message.Reply(ctx, text)
	return err
}
