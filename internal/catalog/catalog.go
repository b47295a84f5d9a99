package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Lister is the slice of the remote API the catalog needs.
type Lister interface {
	ListMemeInfos(ctx context.Context) ([]MemeInfo, error)
}

// CompiledShortcut pairs a compiled pattern with its owning meme.
type CompiledShortcut struct {
	Pattern  *regexp.Regexp
	Meme     *MemeInfo
	Shortcut Shortcut
}

// snapshot is an immutable index generation. Refresh builds a complete new
// snapshot and swaps the pointer, so readers never see keywordMap and
// shortcuts from different generations.
type snapshot struct {
	infos      map[string]*MemeInfo
	keywordMap map[string]*MemeInfo
	// keywords sorted by descending length for longest-match-first scans.
	keywordsByLen []string
	shortcuts     []CompiledShortcut
}

type Catalog struct {
	mu     sync.RWMutex
	snap   *snapshot
	logger *slog.Logger
}

func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		snap:   &snapshot{infos: map[string]*MemeInfo{}, keywordMap: map[string]*MemeInfo{}},
		logger: logger,
	}
}

// Refresh fetches the full meme list and swaps in a freshly built index.
// Malformed shortcut patterns are logged and skipped, never fatal.
func (c *Catalog) Refresh(ctx context.Context, api Lister) (memeCount, shortcutCount int, err error) {
	infos, err := api.ListMemeInfos(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list meme infos: %w", err)
	}

	next := &snapshot{
		infos:      make(map[string]*MemeInfo, len(infos)),
		keywordMap: make(map[string]*MemeInfo, len(infos)*2),
	}
	for i := range infos {
		info := &infos[i]
		next.infos[info.Key] = info
		next.keywordMap[info.Key] = info
		for _, kw := range info.Keywords {
			next.keywordMap[kw] = info
		}
		for _, sc := range info.Shortcuts {
			// Shortcuts are matched against the whole cleaned text,
			// mirroring a full-match semantic.
			re, compileErr := regexp.Compile("^(?:" + sc.Pattern + ")$")
			if compileErr != nil {
				c.logger.Warn("catalog_shortcut_skipped", "meme_key", info.Key, "pattern", sc.Pattern, "error", compileErr.Error())
				continue
			}
			next.shortcuts = append(next.shortcuts, CompiledShortcut{Pattern: re, Meme: info, Shortcut: sc})
		}
	}
	next.keywordsByLen = make([]string, 0, len(next.keywordMap))
	for kw := range next.keywordMap {
		next.keywordsByLen = append(next.keywordsByLen, kw)
	}
	sort.Slice(next.keywordsByLen, func(i, j int) bool {
		a, b := next.keywordsByLen[i], next.keywordsByLen[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	c.logger.Info("catalog_refresh_ok", "memes", len(next.infos), "shortcuts", len(next.shortcuts))
	return len(next.infos), len(next.shortcuts), nil
}

func (c *Catalog) snapshot() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// FindByKeyword returns the meme for an exact key or keyword, or nil.
func (c *Catalog) FindByKeyword(keyword string) *MemeInfo {
	return c.snapshot().keywordMap[keyword]
}

// FindAll returns every meme whose key or keyword list matches.
func (c *Catalog) FindAll(keyword string) []*MemeInfo {
	snap := c.snapshot()
	var out []*MemeInfo
	for _, info := range snap.infos {
		if info.Key == keyword {
			out = append(out, info)
			continue
		}
		for _, kw := range info.Keywords {
			if kw == keyword {
				out = append(out, info)
				break
			}
		}
	}
	return out
}

// FindTriggerInText returns the matched trigger keyword, if any. The leading
// whitespace-delimited token is tried first; with fuzzy enabled, known
// keywords are scanned longest-first as prefixes of the whole text so that a
// short keyword never shadows a longer one.
func (c *Catalog) FindTriggerInText(text string, fuzzy bool) string {
	snap := c.snapshot()
	first := text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		first = text[:i]
	}
	if _, ok := snap.keywordMap[first]; ok {
		return first
	}
	if fuzzy {
		for _, kw := range snap.keywordsByLen {
			if strings.HasPrefix(text, kw) {
				return kw
			}
		}
	}
	return ""
}

// Shortcuts returns the compiled shortcut list of the current generation.
func (c *Catalog) Shortcuts() []CompiledShortcut {
	return c.snapshot().shortcuts
}

// All returns every known meme of the current generation.
func (c *Catalog) All() []*MemeInfo {
	snap := c.snapshot()
	out := make([]*MemeInfo, 0, len(snap.infos))
	for _, info := range snap.infos {
		out = append(out, info)
	}
	return out
}

func (c *Catalog) Size() int {
	return len(c.snapshot().infos)
}

// ExpandTemplate substitutes {group} placeholders with named submatches of
// the shortcut pattern.
func ExpandTemplate(tpl string, re *regexp.Regexp, match []string) string {
	if tpl == "" || !strings.Contains(tpl, "{") {
		return tpl
	}
	out := tpl
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(match) {
			continue
		}
		out = strings.ReplaceAll(out, "{"+name+"}", match[i])
	}
	return out
}
