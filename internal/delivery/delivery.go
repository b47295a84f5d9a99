// Package delivery decides how a batch of generated images reaches the
// user: inline, zipped, forward-bundled or one by one. Planning is a pure
// function over counts so the cascade is testable without a platform.
package delivery

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"memebot/internal/platform"
)

type Kind int

const (
	KindNotice Kind = iota
	KindInline
	KindZip
	KindForward
	KindSequential
)

// Action is one delivery step. Kind decides which fields are meaningful.
type Action struct {
	Kind     Kind
	Text     string
	Images   [][]byte
	Filename string
	Archive  []byte
}

// Options are the delivery thresholds. All of them come from config.
type Options struct {
	DirectSendThreshold int
	ForwardEnabled      bool
	ZipEnabled          bool
	ZipThreshold        int
	// Delay between messages in sequential mode.
	Delay time.Duration

	BotName string
	// SelfID resolves the bot's own account id at send time. Forward
	// nodes are attributed to it.
	SelfID func() string
}

func DefaultOptions() Options {
	return Options{
		DirectSendThreshold: 3,
		ForwardEnabled:      true,
		ZipEnabled:          true,
		ZipThreshold:        20,
		Delay:               500 * time.Millisecond,
	}
}

// Planner turns image batches into delivery actions and executes them.
type Planner struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewPlanner(opts Options, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{opts: opts, logger: logger, now: time.Now}
}

// Plan is the priority cascade: first matching rule wins.
func (p *Planner) Plan(images [][]byte) []Action {
	n := len(images)
	if n == 0 {
		return []Action{{Kind: KindNotice, Text: "图片处理失败，未收到结果。"}}
	}
	if n <= p.opts.DirectSendThreshold {
		return []Action{{Kind: KindInline, Images: images}}
	}
	if p.opts.ZipEnabled && n > p.opts.ZipThreshold {
		return []Action{
			{Kind: KindNotice, Text: fmt.Sprintf("图片过多（%d张），将打包为 .zip 文件发送...", n)},
			{
				Kind:     KindZip,
				Archive:  buildZip(images),
				Filename: fmt.Sprintf("meme_images_%d.zip", p.now().Unix()),
			},
		}
	}
	if p.opts.ForwardEnabled {
		return []Action{
			{Kind: KindNotice, Text: fmt.Sprintf("处理完成，生成 %d 张图片，将以合并转发形式发送：", n)},
			{Kind: KindForward, Images: images},
		}
	}
	return []Action{
		{Kind: KindNotice, Text: fmt.Sprintf("处理完成，共生成 %d 张图片：", n)},
		{Kind: KindSequential, Images: images},
	}
}

// Deliver plans and executes in one call.
func (p *Planner) Deliver(ctx context.Context, out platform.Outbound, target platform.Target, images [][]byte) error {
	return p.Execute(ctx, out, target, p.Plan(images))
}

// Execute runs planned actions against the outbound sink. Send failures in
// the middle of a plan degrade to a user-visible notice instead of aborting
// the remaining steps.
func (p *Planner) Execute(ctx context.Context, out platform.Outbound, target platform.Target, actions []Action) error {
	for _, act := range actions {
		switch act.Kind {
		case KindNotice:
			if _, err := out.SendText(ctx, target, act.Text); err != nil {
				return err
			}
		case KindInline:
			if _, err := out.SendImages(ctx, target, act.Images); err != nil {
				return err
			}
		case KindZip:
			if err := out.SendFile(ctx, target, act.Archive, act.Filename); err != nil {
				p.logger.Error("zip_send_failed", "filename", act.Filename, "error", err)
				out.SendText(ctx, target, "发送zip文件失败，请检查后台日志。")
			}
		case KindForward:
			if err := p.sendForward(ctx, out, target, act.Images); err != nil {
				return err
			}
		case KindSequential:
			if err := p.sendSequential(ctx, out, target, act.Images); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Planner) sendForward(ctx context.Context, out platform.Outbound, target platform.Target, images [][]byte) error {
	if !out.SupportsForward(target) {
		if _, err := out.SendText(ctx, target, "私聊不支持发送合并转发，将逐条发送..."); err != nil {
			return err
		}
		return p.sendSequential(ctx, out, target, images)
	}
	var uin string
	if p.opts.SelfID != nil {
		uin = p.opts.SelfID()
	}
	nodes := make([]platform.ForwardNode, 0, len(images))
	for _, img := range images {
		nodes = append(nodes, platform.ForwardNode{Name: p.opts.BotName, UserID: uin, Image: img})
	}
	if err := out.SendForwardBundle(ctx, target, nodes); err != nil {
		p.logger.Error("forward_send_failed", "count", len(images), "error", err)
		_, terr := out.SendText(ctx, target, "发送合并转发消息失败，请检查后台日志。")
		return terr
	}
	return nil
}

func (p *Planner) sendSequential(ctx context.Context, out platform.Outbound, target platform.Target, images [][]byte) error {
	for i, img := range images {
		if i > 0 {
			select {
			case <-time.After(p.opts.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err := out.SendImages(ctx, target, [][]byte{img}); err != nil {
			return err
		}
	}
	return nil
}

func buildZip(images [][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, img := range images {
		ext := strings.TrimPrefix(mimetype.Detect(img).Extension(), ".")
		if ext == "" {
			ext = "png"
		}
		w, err := zw.Create(fmt.Sprintf("image_%d.%s", i+1, ext))
		if err != nil {
			continue
		}
		w.Write(img)
	}
	zw.Close()
	return buf.Bytes()
}
