package catalog

import (
	"context"
	"regexp"
	"sync"
	"testing"
)

type staticLister struct {
	infos []MemeInfo
	err   error
}

func (l *staticLister) ListMemeInfos(ctx context.Context) ([]MemeInfo, error) {
	return l.infos, l.err
}

func testInfos() []MemeInfo {
	return []MemeInfo{
		{
			Key:      "petpet",
			Keywords: []string{"摸", "摸摸头"},
			Shortcuts: []Shortcut{
				{Pattern: `摸(?P<target>\d+)`, Texts: nil, Names: []string{"{target}"}},
			},
		},
		{
			Key:      "grab",
			Keywords: []string{"抓"},
		},
	}
}

func refreshed(t *testing.T, infos []MemeInfo) *Catalog {
	t.Helper()
	c := New(nil)
	if _, _, err := c.Refresh(context.Background(), &staticLister{infos: infos}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return c
}

func TestRefreshCounts(t *testing.T) {
	c := New(nil)
	memes, shortcuts, err := c.Refresh(context.Background(), &staticLister{infos: testInfos()})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if memes != 2 || shortcuts != 1 {
		t.Fatalf("got memes=%d shortcuts=%d, want 2 and 1", memes, shortcuts)
	}
}

func TestRefreshSkipsMalformedShortcut(t *testing.T) {
	infos := []MemeInfo{
		{
			Key:      "bad",
			Keywords: []string{"坏"},
			Shortcuts: []Shortcut{
				{Pattern: `([unclosed`},
				{Pattern: `好的`},
			},
		},
	}
	c := refreshed(t, infos)
	if got := len(c.Shortcuts()); got != 1 {
		t.Fatalf("got %d shortcuts, want malformed one skipped leaving 1", got)
	}
}

func TestFindByKeyword(t *testing.T) {
	c := refreshed(t, testInfos())
	if info := c.FindByKeyword("摸摸头"); info == nil || info.Key != "petpet" {
		t.Fatalf("FindByKeyword(摸摸头) = %v, want petpet", info)
	}
	if info := c.FindByKeyword("petpet"); info == nil || info.Key != "petpet" {
		t.Fatalf("lookup by key failed: %v", info)
	}
	if info := c.FindByKeyword("没有"); info != nil {
		t.Fatalf("unexpected hit: %v", info)
	}
}

func TestFindTriggerInText(t *testing.T) {
	c := refreshed(t, testInfos())
	tests := []struct {
		name  string
		text  string
		fuzzy bool
		want  string
	}{
		{"exact first token", "摸 @someone", false, "摸"},
		{"no fuzzy no prefix hit", "摸摸头发", false, ""},
		{"fuzzy longest match wins", "摸摸头 some text", true, "摸摸头"},
		{"fuzzy prefix", "抓住你了", true, "抓"},
		{"miss", "完全无关", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.FindTriggerInText(tt.text, tt.fuzzy); got != tt.want {
				t.Fatalf("FindTriggerInText(%q, %v) = %q, want %q", tt.text, tt.fuzzy, got, tt.want)
			}
		})
	}
}

// Readers racing a refresh must always see a keyword map and a shortcut
// list from the same generation.
func TestRefreshAtomicity(t *testing.T) {
	genA := []MemeInfo{{Key: "a", Keywords: []string{"甲"}, Shortcuts: []Shortcut{{Pattern: "甲甲"}}}}
	genB := []MemeInfo{{Key: "b", Keywords: []string{"乙"}, Shortcuts: []Shortcut{{Pattern: "乙乙"}}}}

	c := refreshed(t, genA)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := c.snapshot()
			if len(snap.shortcuts) != 1 {
				t.Error("snapshot with missing shortcuts")
				return
			}
			key := snap.shortcuts[0].Meme.Key
			if _, ok := snap.infos[key]; !ok {
				t.Errorf("shortcut meme %q not in same-generation info map", key)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		infos := genA
		if i%2 == 0 {
			infos = genB
		}
		if _, _, err := c.Refresh(context.Background(), &staticLister{infos: infos}); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestExpandTemplate(t *testing.T) {
	re := regexp.MustCompile(`^摸(?P<target>\d+)$`)
	m := re.FindStringSubmatch("摸12345")
	if m == nil {
		t.Fatal("pattern did not match")
	}
	if got := ExpandTemplate("{target}", re, m); got != "12345" {
		t.Fatalf("ExpandTemplate = %q, want 12345", got)
	}
	if got := ExpandTemplate("plain", re, m); got != "plain" {
		t.Fatalf("ExpandTemplate(plain) = %q", got)
	}
}

func TestShortcutFullMatchAnchoring(t *testing.T) {
	c := refreshed(t, testInfos())
	sc := c.Shortcuts()[0]
	if sc.Pattern.FindStringSubmatch("摸123") == nil {
		t.Fatal("expected full match on 摸123")
	}
	if sc.Pattern.FindStringSubmatch("摸123 多余") != nil {
		t.Fatal("partial match should not fire")
	}
}
