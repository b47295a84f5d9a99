package handlers

import (
	"context"
	"math/rand"

	"memebot/internal/catalog"
	"memebot/internal/platform"
)

// RandomMeme picks a meme whose parameter counts fit the supplied material
// and starts a generation session with it. With no material at all it
// falls back to single-text memes with a placeholder.
func (h *Handlers) RandomMeme(ctx context.Context, msg *platform.InboundMessage, argText string) error {
	probe := &catalog.MemeInfo{
		Params: catalog.MemeParams{MinImages: 0, MaxImages: 99, MinTexts: 0, MaxTexts: 99},
	}
	resolved, err := h.resolver.Resolve(ctx, msg, probe, argText, "", nil, nil, nil)
	if err != nil {
		h.logger.Error("random_meme_probe_failed", "error", err)
		return h.reply(ctx, msg, "出错了：素材处理失败")
	}

	nImages, nTexts := len(resolved.Images), len(resolved.Texts)
	finalArgText := argText
	if nImages == 0 && nTexts == 0 {
		nTexts = 1
		finalArgText = "请输入文本"
	}

	if err := h.reply(ctx, msg, "正在寻找合适的表情..."); err != nil {
		return err
	}

	var available []*catalog.MemeInfo
	for _, info := range h.catalog.All() {
		if disabled, derr := h.store.IsDisabled(ctx, info.Key, msg.GroupID); derr != nil || disabled {
			continue
		}
		p := info.Params
		if p.MinImages <= nImages && nImages <= p.MaxImages &&
			p.MinTexts <= nTexts && nTexts <= p.MaxTexts {
			available = append(available, info)
		}
	}
	if len(available) == 0 {
		return h.reply(ctx, msg, "找不到能制作这个素材的表情...换个试试？")
	}

	chosen := available[rand.Intn(len(available))]
	h.engine.StartGeneration(ctx, msg, chosen, finalArgText, "", nil, nil, nil)
	return nil
}
