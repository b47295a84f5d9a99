// Package handlers implements the command surface: catalog queries,
// management commands, statistics charts, image tools and the generation
// entry points. Each handler is an independent component wired by the
// composition root, never a method set merged into one object.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"memebot/internal/argparse"
	"memebot/internal/catalog"
	"memebot/internal/delivery"
	"memebot/internal/dispatch"
	"memebot/internal/memeapi"
	"memebot/internal/perm"
	"memebot/internal/platform"
	"memebot/internal/session"
	"memebot/internal/store"
)

// Options are the handler-level knobs from config.
type Options struct {
	Prefix string
	Fuzzy  bool

	// "new" badge window and "hot" badge window/threshold for the list
	// image.
	LabelNewDays      int
	LabelHotDays      int
	LabelHotThreshold int

	SearchPageSize int
	SearchTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Prefix:            "-",
		Fuzzy:             true,
		LabelNewDays:      7,
		LabelHotDays:      7,
		LabelHotThreshold: 21,
		SearchPageSize:    8,
		SearchTimeout:     30 * time.Second,
	}
}

// Handlers bundles the dependencies every command handler draws from.
type Handlers struct {
	opts     Options
	out      platform.Outbound
	api      *memeapi.Client
	catalog  *catalog.Catalog
	store    *store.Store
	perm     *perm.Checker
	engine   *session.Engine
	planner  *delivery.Planner
	resolver *argparse.Resolver
	logger   *slog.Logger
}

func New(opts Options, out platform.Outbound, api *memeapi.Client, cat *catalog.Catalog, st *store.Store, checker *perm.Checker, engine *session.Engine, planner *delivery.Planner, resolver *argparse.Resolver, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		opts:     opts,
		out:      out,
		api:      api,
		catalog:  cat,
		store:    st,
		perm:     checker,
		engine:   engine,
		planner:  planner,
		resolver: resolver,
		logger:   logger,
	}
}

func (h *Handlers) reply(ctx context.Context, msg *platform.InboundMessage, text string) error {
	_, err := h.out.SendText(ctx, msg.Target(), text)
	return err
}

// guard wraps a handler with a permission check keyed by permKey.
func (h *Handlers) guard(permKey string, fn dispatch.HandlerFunc) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
		if denial := h.perm.Block(ctx, msg.GroupID, msg.SenderID, permKey); denial != "" {
			return h.reply(ctx, msg, denial)
		}
		return fn(ctx, msg, argText)
	}
}

// Table builds the full command table. Tool commands map a Chinese name to
// a remote image operation; the rest bind their dedicated handlers.
func (h *Handlers) Table() *dispatch.Table {
	cmds := []dispatch.Command{
		{Name: "表情列表", Kind: dispatch.CommandInline, Run: h.MemeList},
		{Name: "表情详情", Kind: dispatch.CommandInline, Run: h.MemeInfo},
		{Name: "表情详细", Kind: dispatch.CommandInline, Run: h.MemeInfo},
		{Name: "表情搜索", Kind: dispatch.CommandBackground, Run: h.MemeSearch},
		{Name: "刷新表情", Kind: dispatch.CommandInline, Run: h.guard("refresh_memes", h.RefreshMemes)},
		{Name: "禁用表情", Kind: dispatch.CommandInline, Run: h.guard("disable_meme", h.DisableMeme)},
		{Name: "启用表情", Kind: dispatch.CommandInline, Run: h.guard("enable_meme", h.EnableMeme)},
		{Name: "管理列表", Kind: dispatch.CommandInline, Run: h.guard("manager_list", h.ManagerList)},
		{Name: "全局禁用表情", Kind: dispatch.CommandInline, Run: h.guard("global_disable_meme", h.GlobalDisableMeme)},
		{Name: "全局启用表情", Kind: dispatch.CommandInline, Run: h.guard("global_enable_meme", h.GlobalEnableMeme)},
		{Name: "群管理员", Kind: dispatch.CommandInline, Run: h.guard("group_admin_manager", h.GroupAdminManager)},
		{Name: "表情调用统计", Kind: dispatch.CommandInline, Run: h.MemeStats},
		{Name: "随机表情", Kind: dispatch.CommandBackground, Run: h.RandomMeme},
	}
	for name, op := range toolOperations {
		cmds = append(cmds, dispatch.Command{
			Name: name,
			Kind: dispatch.CommandInline,
			Run:  h.imageTool(op),
		})
	}
	return dispatch.NewTable(cmds)
}
