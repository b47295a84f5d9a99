// Package dispatch is the top-level intake for inbound messages: dedupe,
// session routing, prefix handling and command matching.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"memebot/internal/catalog"
	"memebot/internal/platform"
	"memebot/internal/session"
)

// HandlerFunc handles one matched command. argText is the remainder after
// the command name, already trimmed.
type HandlerFunc func(ctx context.Context, msg *platform.InboundMessage, argText string) error

type CommandKind int

const (
	// CommandInline runs on the dispatch goroutine and replies directly.
	CommandInline CommandKind = iota
	// CommandBackground spawns a worker, for handlers that wait on
	// follow-up input.
	CommandBackground
)

// Command binds a name to a handler. The kind is fixed at table
// construction, never probed at call time.
type Command struct {
	Name string
	Kind CommandKind
	Run  HandlerFunc
}

// Table matches input against command names, longest name first, so
// "表情详情" is never shadowed by "表情".
type Table struct {
	commands map[string]Command
	sorted   []string
}

func NewTable(cmds []Command) *Table {
	t := &Table{commands: make(map[string]Command, len(cmds))}
	for _, cmd := range cmds {
		t.commands[cmd.Name] = cmd
	}
	for name := range t.commands {
		t.sorted = append(t.sorted, name)
	}
	sort.Slice(t.sorted, func(i, j int) bool {
		a, b := t.sorted[i], t.sorted[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return t
}

// Match returns the command whose name prefixes text, longest first.
func (t *Table) Match(text string) (Command, string, bool) {
	for _, name := range t.sorted {
		if strings.HasPrefix(text, name) {
			return t.commands[name], strings.TrimSpace(text[len(name):]), true
		}
	}
	return Command{}, "", false
}

// VisibilityChecker reports whether a meme is disabled for a group scope.
type VisibilityChecker interface {
	IsDisabled(ctx context.Context, memeKey, groupID string) (bool, error)
}

type inflightKey struct {
	sessionID string
	messageID string
}

// Options wire the dispatcher's matching behavior.
type Options struct {
	Prefix string
	Fuzzy  bool
}

// Dispatcher routes each inbound message to exactly one destination: an
// active session's gate, the statistics handler, a table command, a
// shortcut pattern or a plain keyword trigger.
type Dispatcher struct {
	opts       Options
	table      *Table
	catalog    *catalog.Catalog
	engine     *session.Engine
	visibility VisibilityChecker
	// Stats handles any input containing the statistics keyword, matched
	// before the command table.
	stats  HandlerFunc
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[inflightKey]struct{}
}

func New(opts Options, table *Table, cat *catalog.Catalog, engine *session.Engine, visibility VisibilityChecker, stats HandlerFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		opts:       opts,
		table:      table,
		catalog:    cat,
		engine:     engine,
		visibility: visibility,
		stats:      stats,
		logger:     logger,
		inflight:   make(map[inflightKey]struct{}),
	}
}

// Dispatch processes one inbound message. Errors never escape: a failing
// handler is logged and the next message is unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *platform.InboundMessage) {
	if msg.SenderID == msg.SelfID {
		return
	}

	// follow-up for a waiting session wins over everything else
	if d.engine.Route(msg) {
		return
	}

	key := inflightKey{sessionID: msg.SessionID(), messageID: msg.MessageID}
	if !d.begin(key) {
		return
	}
	defer d.end(key)

	text := strings.TrimSpace(msg.Text())
	if !strings.HasPrefix(text, d.opts.Prefix) {
		return
	}
	cleaned := strings.TrimSpace(text[len(d.opts.Prefix):])
	if cleaned == "" {
		return
	}

	if strings.Contains(cleaned, "表情统计") {
		d.runInline(ctx, msg, cleaned, d.stats)
		return
	}

	if cmd, argText, ok := d.table.Match(cleaned); ok {
		if cmd.Kind == CommandBackground {
			go d.runBackground(ctx, msg, argText, cmd)
			return
		}
		d.runInline(ctx, msg, argText, cmd.Run)
		return
	}

	if d.matchShortcut(ctx, msg, cleaned) {
		return
	}

	d.matchKeyword(ctx, msg, cleaned)
}

func (d *Dispatcher) begin(key inflightKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[key]; ok {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

func (d *Dispatcher) end(key inflightKey) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

func (d *Dispatcher) runInline(ctx context.Context, msg *platform.InboundMessage, argText string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	if err := fn(ctx, msg, argText); err != nil {
		d.logger.Error("command_handler_failed", "session_id", msg.SessionID(), "error", err)
	}
}

func (d *Dispatcher) runBackground(ctx context.Context, msg *platform.InboundMessage, argText string, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command_handler_panic", "command", cmd.Name, "panic", r)
		}
	}()
	if err := cmd.Run(ctx, msg, argText); err != nil {
		d.logger.Error("command_handler_failed", "command", cmd.Name, "error", err)
	}
}

func (d *Dispatcher) matchShortcut(ctx context.Context, msg *platform.InboundMessage, cleaned string) bool {
	for _, sc := range d.catalog.Shortcuts() {
		if disabled, err := d.visibility.IsDisabled(ctx, sc.Meme.Key, msg.GroupID); err != nil {
			d.logger.Warn("visibility_check_failed", "meme_key", sc.Meme.Key, "error", err)
			continue
		} else if disabled {
			continue
		}
		m := sc.Pattern.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}
		texts := make([]string, 0, len(sc.Shortcut.Texts))
		for _, tpl := range sc.Shortcut.Texts {
			texts = append(texts, catalog.ExpandTemplate(tpl, sc.Pattern, m))
		}
		names := make([]string, 0, len(sc.Shortcut.Names))
		for _, tpl := range sc.Shortcut.Names {
			names = append(names, catalog.ExpandTemplate(tpl, sc.Pattern, m))
		}
		options := make(map[string]any, len(sc.Shortcut.Options))
		for k, v := range sc.Shortcut.Options {
			if s, ok := v.(string); ok {
				options[k] = catalog.ExpandTemplate(s, sc.Pattern, m)
				continue
			}
			options[k] = v
		}
		d.engine.StartGeneration(ctx, msg, sc.Meme, "", "", texts, names, options)
		return true
	}
	return false
}

func (d *Dispatcher) matchKeyword(ctx context.Context, msg *platform.InboundMessage, cleaned string) {
	keyword := d.catalog.FindTriggerInText(cleaned, d.opts.Fuzzy)
	if keyword == "" {
		return
	}
	meme := d.catalog.FindByKeyword(keyword)
	if meme == nil {
		return
	}
	if disabled, err := d.visibility.IsDisabled(ctx, meme.Key, msg.GroupID); err != nil {
		d.logger.Warn("visibility_check_failed", "meme_key", meme.Key, "error", err)
		return
	} else if disabled {
		return
	}
	d.engine.StartGeneration(ctx, msg, meme, cleaned, keyword, nil, nil, nil)
}
