package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"memebot/internal/catalog"
	"memebot/internal/memeapi"
	"memebot/internal/platform"
)

// MemeList renders the overview image with new/hot/disabled badges for the
// current group scope.
func (h *Handlers) MemeList(ctx context.Context, msg *platform.InboundMessage, _ string) error {
	if err := h.reply(ctx, msg, "正在生成动态列表，请稍候..."); err != nil {
		return err
	}

	now := time.Now().UTC()
	recent, err := h.store.RecentMemeKeys(ctx, now.AddDate(0, 0, -h.opts.LabelHotDays))
	if err != nil {
		h.logger.Error("list_recent_keys_failed", "error", err)
		return h.reply(ctx, msg, "生成列表图失败了，呜呜...")
	}
	counts := make(map[string]int, len(recent))
	for _, key := range recent {
		counts[key]++
	}

	newWindow := time.Duration(h.opts.LabelNewDays) * 24 * time.Hour
	properties := make(map[string]memeapi.MemeProperties)
	for _, info := range h.catalog.All() {
		disabled, derr := h.store.IsDisabled(ctx, info.Key, msg.GroupID)
		if derr != nil {
			h.logger.Warn("visibility_check_failed", "meme_key", info.Key, "error", derr)
		}
		properties[info.Key] = memeapi.MemeProperties{
			New:      !info.DateCreated.IsZero() && now.Sub(info.DateCreated) < newWindow,
			Hot:      counts[info.Key] >= h.opts.LabelHotThreshold,
			Disabled: disabled,
		}
	}

	img, err := h.api.RenderListImage(ctx, properties)
	if err != nil {
		h.logger.Error("list_render_failed", "error", err)
		return h.reply(ctx, msg, "生成列表图失败了，呜呜...")
	}

	header := fmt.Sprintf("触发：“%s关键词 [文] [@人] [--选项]”\n%s表情详情 <关键词> | %s表情搜索 <关键词>",
		h.opts.Prefix, h.opts.Prefix, h.opts.Prefix)
	if err := h.reply(ctx, msg, header); err != nil {
		return err
	}
	_, err = h.out.SendImages(ctx, msg.Target(), [][]byte{img})
	return err
}

// MemeInfo prints the full parameter sheet and a preview for one meme.
func (h *Handlers) MemeInfo(ctx context.Context, msg *platform.InboundMessage, keyword string) error {
	if keyword == "" {
		return h.reply(ctx, msg, fmt.Sprintf("请提供关键词，如：%s表情详情 摸", h.opts.Prefix))
	}
	info := h.catalog.FindByKeyword(keyword)
	if info == nil {
		return h.reply(ctx, msg, fmt.Sprintf("未找到“%s”相关表情。", keyword))
	}

	p := info.Params
	var b strings.Builder
	fmt.Fprintf(&b, "表情名：%s", info.Key)
	fmt.Fprintf(&b, "\n关键词：%s", strings.Join(info.Keywords, ", "))
	if len(info.Shortcuts) > 0 {
		humanized := make([]string, 0, len(info.Shortcuts))
		for _, sc := range info.Shortcuts {
			if sc.Humanized != "" {
				humanized = append(humanized, sc.Humanized)
			} else {
				humanized = append(humanized, sc.Pattern)
			}
		}
		fmt.Fprintf(&b, "\n快捷指令：%s", strings.Join(humanized, ", "))
	}
	if len(info.Tags) > 0 {
		fmt.Fprintf(&b, "\n标签：%s", strings.Join(info.Tags, ", "))
	}
	fmt.Fprintf(&b, "\n需要图片数：%d", p.MinImages)
	if p.MinImages != p.MaxImages {
		fmt.Fprintf(&b, " ~ %d", p.MaxImages)
	}
	fmt.Fprintf(&b, "\n需要文字数：%d", p.MinTexts)
	if p.MinTexts != p.MaxTexts {
		fmt.Fprintf(&b, " ~ %d", p.MaxTexts)
	}
	if len(p.DefaultTexts) > 0 {
		fmt.Fprintf(&b, "\n默认文字：%s", strings.Join(p.DefaultTexts, ", "))
	}
	if len(p.Options) > 0 {
		lines := make([]string, 0, len(p.Options))
		for _, opt := range p.Options {
			lines = append(lines, formatMemeOption(opt))
		}
		fmt.Fprintf(&b, "\n\n--- 可选选项 ---\n%s", strings.Join(lines, "\n"))
	}

	preview, err := h.api.GetPreview(ctx, info.Key)
	if err != nil {
		h.logger.Error("preview_fetch_failed", "meme_key", info.Key, "error", err)
		return h.reply(ctx, msg, "获取表情详情失败了，呜呜...")
	}
	if err := h.reply(ctx, msg, b.String()+"\n\n--- 表情预览 ---"); err != nil {
		return err
	}
	_, err = h.out.SendImages(ctx, msg.Target(), [][]byte{preview})
	return err
}

func formatMemeOption(opt catalog.MemeOption) string {
	var flags []string
	pf := opt.ParserFlags
	if pf.Long {
		flags = append(flags, "--"+opt.Name)
	}
	if pf.Short && opt.Name != "" {
		flags = append(flags, "-"+opt.Name[:1])
	}
	for _, a := range pf.LongAliases {
		flags = append(flags, "--"+a)
	}
	for _, a := range pf.ShortAliases {
		flags = append(flags, "-"+a)
	}

	text := "  " + strings.Join(flags, "/")
	if opt.Type != "boolean" {
		text += fmt.Sprintf(" <%s>", strings.ToUpper(opt.Type))
	}
	desc := opt.Description
	if desc == "" {
		desc = "无"
	}
	text += "\n    说明: " + desc

	var additions []string
	if opt.Type == "integer" || opt.Type == "float" {
		if opt.Minimum != nil {
			additions = append(additions, fmt.Sprintf("最小: %v", *opt.Minimum))
		}
		if opt.Maximum != nil {
			additions = append(additions, fmt.Sprintf("最大: %v", *opt.Maximum))
		}
	}
	if opt.Type == "string" && len(opt.Choices) > 0 {
		additions = append(additions, "可选: "+strings.Join(opt.Choices, ", "))
	}
	if opt.Default != nil {
		additions = append(additions, fmt.Sprintf("默认: %v", opt.Default))
	}
	if len(additions) > 0 {
		text += fmt.Sprintf(" (%s)", strings.Join(additions, " | "))
	}
	return text
}

// MemeSearch queries the remote search endpoint and pages through results
// interactively when they span more than one page.
func (h *Handlers) MemeSearch(ctx context.Context, msg *platform.InboundMessage, query string) error {
	if query == "" {
		return h.reply(ctx, msg, fmt.Sprintf("请输入搜索关键词，例如：%s表情搜索 猫", h.opts.Prefix))
	}
	if err := h.reply(ctx, msg, fmt.Sprintf("正在搜索“%s”...", query)); err != nil {
		return err
	}

	keys, err := h.api.SearchMemes(ctx, query, true)
	if err != nil {
		h.logger.Error("search_failed", "query", query, "error", err)
		return h.reply(ctx, msg, "搜索失败了，呜呜...")
	}
	var found []*catalog.MemeInfo
	for _, key := range keys {
		if info := h.catalog.FindByKeyword(key); info != nil {
			found = append(found, info)
		}
	}
	if len(found) == 0 {
		return h.reply(ctx, msg, "没有找到相关表情！")
	}

	perPage := h.opts.SearchPageSize
	totalPages := (len(found)-1)/perPage + 1
	page := 0

	formatPage := func() string {
		start := page * perPage
		end := start + perPage
		if end > len(found) {
			end = len(found)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "找到了与“%s”相关的表情：", query)
		for i, info := range found[start:end] {
			fmt.Fprintf(&b, "\n%d. %s (%s)", start+i+1, info.Key, strings.Join(info.Keywords, "/"))
			if len(info.Tags) > 0 {
				fmt.Fprintf(&b, "\n    tags: %s", strings.Join(info.Tags, "、"))
			}
		}
		if totalPages > 1 {
			fmt.Fprintf(&b, "\n\n--- 页码 %d/%d ---\n发送 '<' 或 '>' 翻页，或直接发送页码。超时%d秒后自动结束。",
				page+1, totalPages, int(h.opts.SearchTimeout.Seconds()))
		}
		return b.String()
	}

	if err := h.reply(ctx, msg, formatPage()); err != nil {
		return err
	}
	if totalPages <= 1 {
		return nil
	}

	s, err := h.engine.Acquire(msg.SessionID())
	if err != nil {
		// an active generation owns the follow-up input, skip paging
		return nil
	}
	defer h.engine.Release(ctx, s)

	for {
		next, ok := h.engine.WaitNext(ctx, s, h.opts.SearchTimeout)
		if !ok {
			return h.reply(ctx, msg, "搜索会话超时，已自动结束。")
		}
		resp := strings.TrimSpace(next.Text())
		switch {
		case isPageNumber(resp, totalPages):
			n, _ := strconv.Atoi(resp)
			page = n - 1
		case isPrev(resp):
			page = (page - 1 + totalPages) % totalPages
		case isNext(resp):
			page = (page + 1) % totalPages
		default:
			return h.reply(ctx, msg, "搜索会话已结束。")
		}
		if err := h.reply(ctx, msg, formatPage()); err != nil {
			return err
		}
	}
}

func isPageNumber(s string, totalPages int) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= totalPages
}

func isPrev(s string) bool {
	switch s {
	case "上一页", "上页", "上", "←", "<", "<-":
		return true
	}
	return false
}

func isNext(s string) bool {
	switch s {
	case "下一页", "下页", "下", "→", ">", "->":
		return true
	}
	return false
}
