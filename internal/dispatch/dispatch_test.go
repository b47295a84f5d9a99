package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"memebot/internal/argparse"
	"memebot/internal/catalog"
	"memebot/internal/platform"
	"memebot/internal/session"
)

type fakeOutbound struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeOutbound) SendText(ctx context.Context, target platform.Target, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return "", nil
}

func (f *fakeOutbound) SendImages(ctx context.Context, target platform.Target, images [][]byte) (string, error) {
	return "", nil
}

func (f *fakeOutbound) SendFile(ctx context.Context, target platform.Target, data []byte, filename string) error {
	return nil
}

func (f *fakeOutbound) SendForwardBundle(ctx context.Context, target platform.Target, nodes []platform.ForwardNode) error {
	return nil
}

func (f *fakeOutbound) Recall(ctx context.Context, messageID string) error { return nil }

func (f *fakeOutbound) SupportsForward(target platform.Target) bool { return false }

func (f *fakeOutbound) joined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.texts, "\n")
}

type fakeVisibility struct {
	disabled map[string]bool
}

func (f *fakeVisibility) IsDisabled(ctx context.Context, memeKey, groupID string) (bool, error) {
	return f.disabled[memeKey], nil
}

type staticLister struct {
	infos []catalog.MemeInfo
}

func (s *staticLister) ListMemeInfos(ctx context.Context) ([]catalog.MemeInfo, error) {
	return s.infos, nil
}

type noopRecorder struct{}

func (noopRecorder) RecordUsage(ctx context.Context, memeKey, userID, groupID string) error {
	return nil
}

func TestTableMatchLongestFirst(t *testing.T) {
	table := NewTable([]Command{
		{Name: "表情"},
		{Name: "表情详情"},
		{Name: "表情列表"},
	})
	tests := []struct {
		text    string
		name    string
		argText string
		ok      bool
	}{
		{"表情详情 摸", "表情详情", "摸", true},
		{"表情列表", "表情列表", "", true},
		{"表情包 真好玩", "表情", "包 真好玩", true},
		{"随便说点什么", "", "", false},
	}
	for _, tt := range tests {
		cmd, argText, ok := table.Match(tt.text)
		if ok != tt.ok || cmd.Name != tt.name || argText != tt.argText {
			t.Errorf("Match(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.text, cmd.Name, argText, ok, tt.name, tt.argText, tt.ok)
		}
	}
}

func buildCatalog(t *testing.T, infos ...catalog.MemeInfo) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(nil)
	if _, _, err := cat.Refresh(context.Background(), &staticLister{infos: infos}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return cat
}

type fixture struct {
	dispatcher *Dispatcher
	out        *fakeOutbound
	calls      *callLog
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	c.entries = append(c.entries, s)
	c.mu.Unlock()
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries...)
}

func newFixture(t *testing.T, cmds []Command, vis *fakeVisibility, infos ...catalog.MemeInfo) *fixture {
	t.Helper()
	out := &fakeOutbound{}
	resolver := &argparse.Resolver{
		Fetch:     func(ctx context.Context, url string) ([]byte, error) { return []byte(url), nil },
		AvatarURL: func(id string) string { return "avatar:" + id },
	}
	sessOpts := session.DefaultOptions()
	sessOpts.InteractiveEnabled = false
	engine := session.NewEngine(sessOpts, out, nil, nil, resolver, noopRecorder{}, nil)
	if vis == nil {
		vis = &fakeVisibility{disabled: map[string]bool{}}
	}
	calls := &callLog{}
	stats := func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
		calls.add("stats:" + argText)
		return nil
	}
	d := New(Options{Prefix: "-", Fuzzy: true}, NewTable(cmds), buildCatalog(t, infos...), engine, vis, stats, nil)
	return &fixture{dispatcher: d, out: out, calls: calls}
}

func message(text string) *platform.InboundMessage {
	return &platform.InboundMessage{
		MessageID: "mid-" + text,
		SelfID:    "self",
		SenderID:  "u1",
		GroupID:   "g1",
		Segments:  []platform.Segment{{Type: platform.SegmentText, Text: text}},
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDispatchIgnoresSelfAndUnprefixed(t *testing.T) {
	cmds := []Command{{Name: "表情列表", Run: func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
		t.Error("handler should not run")
		return nil
	}}}
	f := newFixture(t, cmds, nil)

	self := message("-表情列表")
	self.SenderID = self.SelfID
	f.dispatcher.Dispatch(context.Background(), self)

	f.dispatcher.Dispatch(context.Background(), message("表情列表"))
}

func TestDispatchInlineCommandArgText(t *testing.T) {
	calls := &callLog{}
	f := newFixture(t, []Command{{
		Name: "表情详情",
		Run: func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
			calls.add("info:" + argText)
			return nil
		},
	}}, nil)

	f.dispatcher.Dispatch(context.Background(), message("-表情详情  摸摸头"))

	got := calls.snapshot()
	if len(got) != 1 || got[0] != "info:摸摸头" {
		t.Fatalf("calls = %v", got)
	}
}

func TestDispatchBackgroundCommandRuns(t *testing.T) {
	done := make(chan string, 1)
	f := newFixture(t, []Command{{
		Name: "表情搜索",
		Kind: CommandBackground,
		Run: func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
			done <- argText
			return nil
		},
	}}, nil)

	f.dispatcher.Dispatch(context.Background(), message("-表情搜索 猫"))

	select {
	case got := <-done:
		if got != "猫" {
			t.Fatalf("argText = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background command never ran")
	}
}

func TestDispatchStatsBeforeCommandTable(t *testing.T) {
	f := newFixture(t, []Command{{
		Name: "表情",
		Run: func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
			t.Error("table command should not shadow statistics")
			return nil
		},
	}}, nil)

	f.dispatcher.Dispatch(context.Background(), message("-我的表情统计"))

	got := f.calls.snapshot()
	if len(got) != 1 || got[0] != "stats:我的表情统计" {
		t.Fatalf("calls = %v", got)
	}
}

func TestDispatchInflightDedupe(t *testing.T) {
	release := make(chan struct{})
	calls := &callLog{}
	f := newFixture(t, []Command{{
		Name: "表情列表",
		Run: func(ctx context.Context, msg *platform.InboundMessage, argText string) error {
			calls.add("list")
			<-release
			return nil
		},
	}}, nil)

	msg := message("-表情列表")
	started := make(chan struct{})
	go func() {
		close(started)
		f.dispatcher.Dispatch(context.Background(), msg)
	}()
	<-started
	waitFor(t, func() bool { return len(calls.snapshot()) == 1 }, "first dispatch never reached handler")

	// same session id and message id while the first is still running
	f.dispatcher.Dispatch(context.Background(), msg)
	close(release)

	if got := calls.snapshot(); len(got) != 1 {
		t.Fatalf("handler ran %d times, want 1", len(got))
	}
}

func TestDispatchKeywordTriggerStartsSession(t *testing.T) {
	meme := catalog.MemeInfo{
		Key:      "petpet",
		Keywords: []string{"摸"},
		Params:   catalog.MemeParams{MinTexts: 1, MaxTexts: 1},
	}
	f := newFixture(t, nil, nil, meme)

	f.dispatcher.Dispatch(context.Background(), message("-摸"))

	waitFor(t, func() bool {
		return strings.Contains(f.out.joined(), "参数不足")
	}, "keyword trigger never started a session")
}

func TestDispatchDisabledKeywordIgnored(t *testing.T) {
	meme := catalog.MemeInfo{
		Key:      "petpet",
		Keywords: []string{"摸"},
		Params:   catalog.MemeParams{MinTexts: 1, MaxTexts: 1},
	}
	vis := &fakeVisibility{disabled: map[string]bool{"petpet": true}}
	f := newFixture(t, nil, vis, meme)

	f.dispatcher.Dispatch(context.Background(), message("-摸"))

	time.Sleep(50 * time.Millisecond)
	if got := f.out.joined(); got != "" {
		t.Fatalf("disabled meme produced output %q", got)
	}
}

func TestDispatchShortcutExpandsTexts(t *testing.T) {
	meme := catalog.MemeInfo{
		Key:      "say",
		Keywords: []string{"说话"},
		Params:   catalog.MemeParams{MinTexts: 2, MaxTexts: 2},
		Shortcuts: []catalog.Shortcut{{
			Pattern: `让(?P<who>\S+)说话`,
			Texts:   []string{"{who}"},
		}},
	}
	f := newFixture(t, nil, nil, meme)

	f.dispatcher.Dispatch(context.Background(), message("-让小明说话"))

	// one template text was filled in, so exactly one more is missing
	waitFor(t, func() bool {
		return strings.Contains(f.out.joined(), "需要 1 段文字")
	}, "shortcut match never started a session")
}
