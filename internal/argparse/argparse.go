// Package argparse turns a raw inbound message into the texts, images and
// options payload a meme generation needs. Option grammars are built per
// meme from its declared flags.
package argparse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/shlex"
	"github.com/spf13/pflag"

	"memebot/internal/catalog"
	"memebot/internal/platform"
)

// ArgParseError is a recoverable user-input error. The message is meant to
// be shown to the user as-is.
type ArgParseError struct {
	Message string
}

func (e *ArgParseError) Error() string { return e.Message }

// Resolved is the outcome of argument resolution for one trigger.
type Resolved struct {
	Texts   []string
	Images  [][]byte
	Options map[string]any
}

// Resolver collects images and parses option flags for meme triggers.
type Resolver struct {
	// Fetch downloads an image by URL.
	Fetch func(ctx context.Context, url string) ([]byte, error)
	// AvatarURL maps a user id to its avatar image URL.
	AvatarURL func(userID string) string
	// UseSenderAvatar prepends the invoking user's avatar when the
	// collected images fall short of the meme's minimum.
	UseSenderAvatar bool

	Logger *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Resolve runs the full pipeline: image collection, trigger strip,
// tokenization and option parsing. shortcutTexts and shortcutNames come
// from an expanded shortcut pattern and may be nil for plain triggers.
func (r *Resolver) Resolve(ctx context.Context, msg *platform.InboundMessage, meme *catalog.MemeInfo, rawText, trigger string, shortcutTexts, shortcutNames []string, shortcutOptions map[string]any) (*Resolved, error) {
	images, err := r.CollectImages(ctx, msg)
	if err != nil {
		return nil, err
	}
	images = r.appendNameAvatars(ctx, images, shortcutNames)

	rest := StripTrigger(rawText, trigger)
	tokens := Tokenize(rest)

	texts, options, err := ParseOptions(meme, tokens)
	if err != nil {
		return nil, err
	}
	for k, v := range shortcutOptions {
		options[k] = v
	}

	all := make([]string, 0, len(shortcutTexts)+len(texts))
	all = append(all, shortcutTexts...)
	all = append(all, texts...)

	if len(images) < meme.Params.MinImages && r.UseSenderAvatar {
		avatar, err := r.fetchAvatar(ctx, msg.SenderID)
		if err != nil {
			r.logger().Warn("sender_avatar_fetch_failed", "user_id", msg.SenderID, "error", err)
		} else {
			images = append([][]byte{avatar}, images...)
		}
	}

	return &Resolved{Texts: all, Images: images, Options: options}, nil
}

// CollectImages gathers image bytes in order: the quoted message's images
// first, then the message's own attachments, then avatars for @-mentions.
func (r *Resolver) CollectImages(ctx context.Context, msg *platform.InboundMessage) ([][]byte, error) {
	var images [][]byte
	var err error
	if msg.Reply != nil {
		images, err = r.collectFromSegments(ctx, images, msg.Reply.Segments, msg.SelfID, false)
		if err != nil {
			return nil, err
		}
	}
	images, err = r.collectFromSegments(ctx, images, msg.Segments, msg.SelfID, true)
	if err != nil {
		return nil, err
	}
	return images, nil
}

func (r *Resolver) collectFromSegments(ctx context.Context, images [][]byte, segs []platform.Segment, selfID string, mentions bool) ([][]byte, error) {
	for _, seg := range segs {
		switch seg.Type {
		case platform.SegmentImage:
			if len(seg.ImageData) > 0 {
				images = append(images, seg.ImageData)
				continue
			}
			if seg.ImageURL == "" {
				continue
			}
			data, err := r.Fetch(ctx, seg.ImageURL)
			if err != nil {
				return nil, fmt.Errorf("fetch image: %w", err)
			}
			images = append(images, data)
		case platform.SegmentAt:
			if !mentions || seg.AtID == "" || seg.AtID == selfID {
				continue
			}
			if avatar, err := r.fetchAvatar(ctx, seg.AtID); err != nil {
				r.logger().Warn("mention_avatar_fetch_failed", "user_id", seg.AtID, "error", err)
			} else {
				images = append(images, avatar)
			}
		}
	}
	return images, nil
}

// appendNameAvatars resolves shortcut-supplied names to avatars. Only
// numeric ids are usable; failed fetches are skipped.
func (r *Resolver) appendNameAvatars(ctx context.Context, images [][]byte, names []string) [][]byte {
	for _, name := range names {
		id := strings.TrimSpace(name)
		if id == "" || !isDigits(id) {
			continue
		}
		if avatar, err := r.fetchAvatar(ctx, id); err != nil {
			r.logger().Warn("name_avatar_fetch_failed", "user_id", id, "error", err)
		} else {
			images = append(images, avatar)
		}
	}
	return images
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r *Resolver) fetchAvatar(ctx context.Context, userID string) ([]byte, error) {
	return r.Fetch(ctx, r.AvatarURL(userID))
}

// StripTrigger removes a leading trigger keyword, if present, and trims the
// remainder.
func StripTrigger(text, trigger string) string {
	t := strings.TrimSpace(text)
	if trigger != "" && strings.HasPrefix(t, trigger) {
		t = t[len(trigger):]
	}
	return strings.TrimSpace(t)
}

// Tokenize splits text with shell-like quoting. Unbalanced quotes fall back
// to a plain whitespace split instead of failing the whole resolution.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	tokens, err := shlex.Split(text)
	if err != nil {
		return strings.Fields(text)
	}
	return tokens
}

// optionValue coerces the raw flag text into the option's declared type.
// One receiver is shared by the canonical flag and all its aliases, so a
// value set through any spelling lands in the same place.
type optionValue struct {
	opt catalog.MemeOption
	set bool
	val any
}

func (v *optionValue) Type() string { return v.opt.Type }

func (v *optionValue) String() string {
	if !v.set {
		return ""
	}
	return fmt.Sprint(v.val)
}

func (v *optionValue) Set(raw string) error {
	switch v.opt.Type {
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%q 不是有效的布尔值", raw)
		}
		v.val = b
	case "integer":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%q 不是有效的整数", raw)
		}
		v.val = n
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%q 不是有效的数字", raw)
		}
		v.val = f
	default:
		if len(v.opt.Choices) > 0 {
			ok := false
			for _, c := range v.opt.Choices {
				if c == raw {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("%q 不在可选值 %s 中", raw, strings.Join(v.opt.Choices, "/"))
			}
		}
		v.val = raw
	}
	v.set = true
	return nil
}

// ParseOptions builds the flag grammar for one meme and parses tokens
// against it. Leftover tokens become free texts in input order. Parse and
// coercion failures come back as *ArgParseError, never a process exit.
func ParseOptions(meme *catalog.MemeInfo, tokens []string) ([]string, map[string]any, error) {
	fs := pflag.NewFlagSet(meme.Key, pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)

	values := make([]*optionValue, 0, len(meme.Params.Options))
	for _, opt := range meme.Params.Options {
		v := &optionValue{opt: opt}
		values = append(values, v)
		registerFlags(fs, v, opt)
	}

	if err := fs.Parse(tokens); err != nil {
		return nil, nil, &ArgParseError{Message: "参数解析失败：" + err.Error()}
	}

	options := make(map[string]any)
	for _, v := range values {
		if v.set {
			options[v.opt.Name] = v.val
		} else if v.opt.Default != nil {
			options[v.opt.Name] = v.opt.Default
		}
	}
	return fs.Args(), options, nil
}

func registerFlags(fs *pflag.FlagSet, v *optionValue, opt catalog.MemeOption) {
	seen := map[string]bool{}
	boolean := opt.Type == "boolean"

	addLong := func(name, shorthand string) {
		if name == "" || seen["--"+name] || fs.Lookup(name) != nil {
			return
		}
		if shorthand != "" && (seen["-"+shorthand] || fs.ShorthandLookup(shorthand) != nil) {
			shorthand = ""
		}
		seen["--"+name] = true
		if shorthand != "" {
			seen["-"+shorthand] = true
		}
		f := fs.VarPF(v, name, shorthand, opt.Description)
		if boolean {
			f.NoOptDefVal = "true"
		}
	}

	pf := opt.ParserFlags
	shorthand := ""
	if pf.Short {
		if r, size := utf8.DecodeRuneInString(opt.Name); size == 1 && r < utf8.RuneSelf {
			shorthand = string(r)
		}
	}
	if pf.Long || shorthand != "" {
		addLong(opt.Name, shorthand)
	}
	for _, alias := range pf.LongAliases {
		addLong(alias, "")
	}
	for _, alias := range pf.ShortAliases {
		if r, size := utf8.DecodeRuneInString(alias); size == len(alias) && r < utf8.RuneSelf {
			addLong(alias, alias)
			continue
		}
		addLong(alias, "")
	}
}
