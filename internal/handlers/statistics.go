package handlers

import (
	"context"
	"fmt"
	"time"

	"memebot/internal/memeapi"
	"memebot/internal/platform"
	"memebot/internal/stats"
)

// MemeStats renders usage charts. The arg text accepts both the natural
// form ("我的全局本月表情统计 摸") and the parameter form
// ("我的 全局 本月 摸").
func (h *Handlers) MemeStats(ctx context.Context, msg *platform.InboundMessage, argText string) error {
	q := stats.ParseQuery(argText)
	now := time.Now().UTC()
	r := stats.ResolveRange(q.TimeWord, now)
	filter, scopeText := stats.Scope(q, msg.SenderID, msg.GroupID)

	meme := h.catalog.FindByKeyword(q.MemeName)
	if q.MemeName != "" && meme != nil {
		filter.MemeKey = meme.Key
	}

	records, err := h.store.UsageSince(ctx, r.Start, filter)
	if err != nil {
		h.logger.Error("stats_query_failed", "error", err)
		return h.reply(ctx, msg, "生成统计图失败了，呜呜...")
	}
	if len(records) == 0 {
		return h.reply(ctx, msg, "该范围内没有找到任何表情调用记录。")
	}

	times := make([]time.Time, len(records))
	keys := make([]string, len(records))
	for i, rec := range records {
		times[i] = rec.Timestamp
		keys[i] = rec.MemeKey
	}
	timePoints := stats.TimeBuckets(times, r, now)

	if err := h.reply(ctx, msg, "正在生成统计图，请稍候..."); err != nil {
		return err
	}

	if q.MemeName != "" && meme != nil {
		title := fmt.Sprintf("“%s”%s%s调用统计 (总计: %d)", meme.Key, scopeText, r.Humanized, len(records))
		chart, err := h.api.RenderStatistics(ctx, title, memeapi.StatTimeCount, timePoints)
		if err != nil {
			h.logger.Error("stats_render_failed", "error", err)
			return h.reply(ctx, msg, "生成统计图失败了，呜呜...")
		}
		return h.planner.Deliver(ctx, h.out, msg.Target(), [][]byte{chart})
	}

	title := fmt.Sprintf("%s%s表情调用统计 (总计: %d)", scopeText, r.Humanized, len(records))
	memePoints := stats.TopMemes(keys, 15, func(key string) string {
		if info := h.catalog.FindByKeyword(key); info != nil {
			return info.DisplayName()
		}
		return key
	})
	memeChart, err := h.api.RenderStatistics(ctx, title, memeapi.StatMemeCount, memePoints)
	if err != nil {
		h.logger.Error("stats_render_failed", "error", err)
		return h.reply(ctx, msg, "生成统计图失败了，呜呜...")
	}
	timeChart, err := h.api.RenderStatistics(ctx, title, memeapi.StatTimeCount, timePoints)
	if err != nil {
		h.logger.Error("stats_render_failed", "error", err)
		return h.reply(ctx, msg, "生成统计图失败了，呜呜...")
	}
	return h.planner.Deliver(ctx, h.out, msg.Target(), [][]byte{memeChart, timeChart})
}
