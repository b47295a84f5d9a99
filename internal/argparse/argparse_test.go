package argparse

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"memebot/internal/catalog"
	"memebot/internal/platform"
)

func TestStripTrigger(t *testing.T) {
	tests := []struct {
		text, trigger, want string
	}{
		{"摸 @someone", "摸", "@someone"},
		{"摸摸头", "摸摸头", ""},
		{"无关内容", "摸", "无关内容"},
		{"  摸  文字  ", "摸", "文字"},
	}
	for _, tt := range tests {
		if got := StripTrigger(tt.text, tt.trigger); got != tt.want {
			t.Errorf("StripTrigger(%q, %q) = %q, want %q", tt.text, tt.trigger, got, tt.want)
		}
	}
}

func TestTokenizeQuoting(t *testing.T) {
	got := Tokenize(`你好 "two words" 再见`)
	want := []string{"你好", "two words", "再见"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenizeUnbalancedQuoteFallsBack(t *testing.T) {
	got := Tokenize(`broken "quote here`)
	want := []string{"broken", `"quote`, "here"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize fallback = %v, want naive split %v", got, want)
	}
}

func optMeme(opts ...catalog.MemeOption) *catalog.MemeInfo {
	return &catalog.MemeInfo{
		Key:    "test",
		Params: catalog.MemeParams{Options: opts},
	}
}

func TestParseOptionsBooleanPresence(t *testing.T) {
	meme := optMeme(catalog.MemeOption{
		Name: "circle", Type: "boolean",
		ParserFlags: catalog.ParserFlags{Long: true},
	})
	texts, options, err := ParseOptions(meme, []string{"--circle", "你好"})
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if v, ok := options["circle"].(bool); !ok || !v {
		t.Fatalf("circle = %v, want true", options["circle"])
	}
	if !reflect.DeepEqual(texts, []string{"你好"}) {
		t.Fatalf("texts = %v", texts)
	}
}

func TestParseOptionsIntegerCoercionError(t *testing.T) {
	meme := optMeme(catalog.MemeOption{
		Name: "number", Type: "integer",
		ParserFlags: catalog.ParserFlags{Long: true},
	})
	_, _, err := ParseOptions(meme, []string{"--number", "abc"})
	var parseErr *ArgParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want *ArgParseError", err)
	}
	if !strings.Contains(parseErr.Message, "abc") {
		t.Fatalf("message %q should name the offending token", parseErr.Message)
	}
}

func TestParseOptionsAliasSharesValue(t *testing.T) {
	meme := optMeme(catalog.MemeOption{
		Name: "mode", Type: "string",
		ParserFlags: catalog.ParserFlags{Long: true, LongAliases: []string{"style"}},
	})
	_, options, err := ParseOptions(meme, []string{"--style", "fast"})
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if options["mode"] != "fast" {
		t.Fatalf("mode = %v, want value set through alias", options["mode"])
	}
}

func TestParseOptionsDefaultApplied(t *testing.T) {
	meme := optMeme(catalog.MemeOption{
		Name: "size", Type: "integer", Default: 3,
		ParserFlags: catalog.ParserFlags{Long: true},
	})
	_, options, err := ParseOptions(meme, nil)
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if options["size"] != 3 {
		t.Fatalf("size = %v, want default 3", options["size"])
	}
}

func TestParseOptionsUnknownFlagsBecomeTexts(t *testing.T) {
	meme := optMeme()
	texts, _, err := ParseOptions(meme, []string{"hello", "world"})
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if !reflect.DeepEqual(texts, []string{"hello", "world"}) {
		t.Fatalf("texts = %v", texts)
	}
}

func TestParseOptionsChoices(t *testing.T) {
	meme := optMeme(catalog.MemeOption{
		Name: "color", Type: "string", Choices: []string{"red", "blue"},
		ParserFlags: catalog.ParserFlags{Long: true},
	})
	_, _, err := ParseOptions(meme, []string{"--color", "green"})
	var parseErr *ArgParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want *ArgParseError for out-of-set choice", err)
	}
}

func fetchByURL(t *testing.T, fetched *[]string) func(context.Context, string) ([]byte, error) {
	t.Helper()
	return func(ctx context.Context, url string) ([]byte, error) {
		*fetched = append(*fetched, url)
		return []byte(url), nil
	}
}

func TestCollectImagesOrder(t *testing.T) {
	var fetched []string
	r := &Resolver{
		Fetch:     fetchByURL(t, &fetched),
		AvatarURL: func(id string) string { return "avatar:" + id },
	}
	msg := &platform.InboundMessage{
		SelfID:   "self",
		SenderID: "sender",
		Segments: []platform.Segment{
			{Type: platform.SegmentImage, ImageURL: "direct:1"},
			{Type: platform.SegmentAt, AtID: "42"},
			{Type: platform.SegmentAt, AtID: "self"},
		},
		Reply: &platform.InboundMessage{
			Segments: []platform.Segment{
				{Type: platform.SegmentImage, ImageData: []byte("reply-bytes")},
			},
		},
	}
	images, err := r.CollectImages(context.Background(), msg)
	if err != nil {
		t.Fatalf("CollectImages: %v", err)
	}
	got := make([]string, len(images))
	for i, img := range images {
		got[i] = string(img)
	}
	want := []string{"reply-bytes", "direct:1", "avatar:42"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("images = %v, want reply chain first, then attachments, then mentions: %v", got, want)
	}
}

func TestResolveSenderAvatarPrepended(t *testing.T) {
	var fetched []string
	r := &Resolver{
		Fetch:           fetchByURL(t, &fetched),
		AvatarURL:       func(id string) string { return "avatar:" + id },
		UseSenderAvatar: true,
	}
	meme := &catalog.MemeInfo{
		Key:    "need-image",
		Params: catalog.MemeParams{MinImages: 1, MaxImages: 1},
	}
	msg := &platform.InboundMessage{
		SelfID:   "self",
		SenderID: "sender",
		Segments: []platform.Segment{{Type: platform.SegmentText, Text: "触发"}},
	}
	resolved, err := r.Resolve(context.Background(), msg, meme, "触发", "触发", nil, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved.Images) != 1 || string(resolved.Images[0]) != "avatar:sender" {
		t.Fatalf("images = %v, want sender avatar prepended", resolved.Images)
	}
}

func TestResolveShortcutNameAvatars(t *testing.T) {
	var fetched []string
	r := &Resolver{
		Fetch:     fetchByURL(t, &fetched),
		AvatarURL: func(id string) string { return "avatar:" + id },
	}
	meme := &catalog.MemeInfo{Key: "x", Params: catalog.MemeParams{MaxTexts: 5, MaxImages: 5}}
	msg := &platform.InboundMessage{SelfID: "self", SenderID: "sender"}

	resolved, err := r.Resolve(context.Background(), msg, meme, "", "", []string{"预置"}, []string{"12345", "not-a-number"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved.Images) != 1 || string(resolved.Images[0]) != "avatar:12345" {
		t.Fatalf("images = %v, want only the numeric shortcut name resolved", resolved.Images)
	}
	if !reflect.DeepEqual(resolved.Texts, []string{"预置"}) {
		t.Fatalf("texts = %v, want shortcut texts preserved", resolved.Texts)
	}
}
