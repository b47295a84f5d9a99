package handlers

import (
	"context"
	"fmt"
	"strings"

	"memebot/internal/platform"
	"memebot/internal/store"
)

// RefreshMemes re-fetches the catalog from the remote API.
func (h *Handlers) RefreshMemes(ctx context.Context, msg *platform.InboundMessage, _ string) error {
	if err := h.reply(ctx, msg, "正在强制刷新表情包列表..."); err != nil {
		return err
	}
	memeCount, shortcutCount, err := h.catalog.Refresh(ctx, h.api)
	if err != nil {
		h.logger.Error("catalog_refresh_failed", "error", err)
		return h.reply(ctx, msg, "刷新失败，请查看后台日志。")
	}
	return h.reply(ctx, msg, fmt.Sprintf("表情包列表刷新成功！共加载 %d 个表情和 %d 个快捷指令。", memeCount, shortcutCount))
}

// DisableMeme blacklists a meme for the current group.
func (h *Handlers) DisableMeme(ctx context.Context, msg *platform.InboundMessage, keyword string) error {
	if msg.GroupID == "" {
		return h.reply(ctx, msg, fmt.Sprintf("❌ 此指令不能在私聊中使用，请使用 `%s全局禁用表情`。", h.opts.Prefix))
	}
	if keyword == "" {
		return h.reply(ctx, msg, "请输入要禁用的表情关键词。")
	}
	info := h.catalog.FindByKeyword(keyword)
	if info == nil {
		return h.reply(ctx, msg, fmt.Sprintf("找不到表情“%s”。", keyword))
	}
	if err := h.store.SetRule(ctx, info.Key, store.ScopeGroup, msg.GroupID, store.ModeBlack); err != nil {
		h.logger.Error("disable_meme_failed", "meme_key", info.Key, "error", err)
		return h.reply(ctx, msg, "操作失败...")
	}
	return h.reply(ctx, msg, fmt.Sprintf("✅ 已在当前群禁用表情“%s”。", info.Key))
}

// EnableMeme lifts the group-level restriction. For memes in global
// whitelist mode this adds a group white rule instead of removing one.
func (h *Handlers) EnableMeme(ctx context.Context, msg *platform.InboundMessage, keyword string) error {
	if msg.GroupID == "" {
		return h.reply(ctx, msg, "❌ 此指令不能在私聊中使用。")
	}
	if keyword == "" {
		return h.reply(ctx, msg, "请输入要启用的表情关键词。")
	}
	key := keyword
	if info := h.catalog.FindByKeyword(keyword); info != nil {
		key = info.Key
	}

	whitelisted, err := h.store.IsWhitelisted(ctx, key)
	if err == nil {
		if whitelisted {
			err = h.store.SetRule(ctx, key, store.ScopeGroup, msg.GroupID, store.ModeWhite)
		} else {
			err = h.store.RemoveRule(ctx, key, store.ScopeGroup, msg.GroupID)
		}
	}
	if err != nil {
		h.logger.Error("enable_meme_failed", "meme_key", key, "error", err)
		return h.reply(ctx, msg, "操作失败...")
	}
	return h.reply(ctx, msg, fmt.Sprintf("✅ 已在当前群启用/解除限制表情“%s”。", key))
}

// ManagerList prints the rules affecting the current group.
func (h *Handlers) ManagerList(ctx context.Context, msg *platform.InboundMessage, _ string) error {
	if msg.GroupID == "" {
		return h.reply(ctx, msg, "请在群内使用此指令。")
	}
	rules, err := h.store.RulesForGroup(ctx, msg.GroupID)
	if err != nil {
		h.logger.Error("manager_list_failed", "group_id", msg.GroupID, "error", err)
		return h.reply(ctx, msg, "操作失败...")
	}
	if len(rules) == 0 {
		return h.reply(ctx, msg, "当前没有任何全局或本群表情管理规则。")
	}
	lines := make([]string, 0, len(rules))
	for _, rule := range rules {
		scope := "本群"
		if rule.Scope == store.ScopeGlobal {
			scope = "全局"
		}
		mode := "黑名单(禁用)"
		if rule.Mode == store.ModeWhite {
			mode = "白名单(默认禁用)"
		}
		lines = append(lines, fmt.Sprintf("• %s (%s %s)", rule.MemeKey, scope, mode))
	}
	return h.reply(ctx, msg, "--- 表情管理规则 ---\n"+strings.Join(lines, "\n"))
}

// GlobalDisableMeme switches a meme into global whitelist mode: disabled
// everywhere unless a group white rule opts back in.
func (h *Handlers) GlobalDisableMeme(ctx context.Context, msg *platform.InboundMessage, keyword string) error {
	if keyword == "" {
		return h.reply(ctx, msg, "请输入要设为白名单模式的表情关键词。")
	}
	info := h.catalog.FindByKeyword(keyword)
	if info == nil {
		return h.reply(ctx, msg, fmt.Sprintf("找不到表情“%s”。", keyword))
	}
	if err := h.store.SetRule(ctx, info.Key, store.ScopeGlobal, store.GlobalSubject, store.ModeWhite); err != nil {
		h.logger.Error("global_disable_failed", "meme_key", info.Key, "error", err)
		return h.reply(ctx, msg, "操作失败...")
	}
	return h.reply(ctx, msg, fmt.Sprintf("✅ 已将表情“%s”设为全局白名单模式（默认禁用）。", info.Key))
}

// GlobalEnableMeme drops the global rule, restoring default blacklist mode.
func (h *Handlers) GlobalEnableMeme(ctx context.Context, msg *platform.InboundMessage, keyword string) error {
	if keyword == "" {
		return h.reply(ctx, msg, "请输入要恢复为黑名单模式的表情关键词。")
	}
	key := keyword
	if info := h.catalog.FindByKeyword(keyword); info != nil {
		key = info.Key
	}
	if err := h.store.RemoveRule(ctx, key, store.ScopeGlobal, store.GlobalSubject); err != nil {
		h.logger.Error("global_enable_failed", "meme_key", key, "error", err)
		return h.reply(ctx, msg, "操作失败...")
	}
	return h.reply(ctx, msg, fmt.Sprintf("✅ 已将表情“%s”恢复为全局黑名单模式（默认启用）。", key))
}

// GroupAdminManager handles 添加/删除/查看 of plugin-level group admins.
func (h *Handlers) GroupAdminManager(ctx context.Context, msg *platform.InboundMessage, argText string) error {
	args := strings.Fields(argText)
	if len(args) == 0 || (args[0] != "添加" && args[0] != "删除" && args[0] != "查看") {
		return h.reply(ctx, msg, fmt.Sprintf("用法: %s群管理员 [添加/删除/查看] [@某人或QQ号] [群号(可选)]", h.opts.Prefix))
	}
	sub := args[0]

	if sub == "查看" {
		groupID := msg.GroupID
		if len(args) > 1 {
			groupID = args[1]
		}
		if groupID == "" {
			return h.reply(ctx, msg, "请指定群号或在群内使用此指令。")
		}
		admins, err := h.store.ListGroupAdmins(ctx, groupID)
		if err != nil {
			h.logger.Error("group_admin_list_failed", "group_id", groupID, "error", err)
			return h.reply(ctx, msg, "操作失败，请检查后台日志。")
		}
		if len(admins) == 0 {
			return h.reply(ctx, msg, fmt.Sprintf("群 %s 尚无自定义插件管理员。", groupID))
		}
		return h.reply(ctx, msg, fmt.Sprintf("群 %s 的插件管理员有：\n%s", groupID, strings.Join(admins, "\n")))
	}

	var userID string
	for _, seg := range msg.Segments {
		if seg.Type == platform.SegmentAt && seg.AtID != "" {
			userID = seg.AtID
			break
		}
	}
	if userID == "" {
		for _, arg := range args[1:] {
			if isDigits(arg) {
				userID = arg
				break
			}
		}
	}
	if userID == "" {
		return h.reply(ctx, msg, "请 @要操作的用户 或提供其 QQ 号。")
	}

	groupID := msg.GroupID
	for _, arg := range args[1:] {
		if isDigits(arg) && arg != userID {
			groupID = arg
			break
		}
	}
	if groupID == "" {
		return h.reply(ctx, msg, "请在群内使用此指令，或在最后提供群号。")
	}

	var err error
	var done string
	if sub == "添加" {
		err = h.store.AddGroupAdmin(ctx, groupID, userID)
		done = fmt.Sprintf("✅ 已将用户 %s 添加为群 %s 的插件管理员。", userID, groupID)
	} else {
		err = h.store.RemoveGroupAdmin(ctx, groupID, userID)
		done = fmt.Sprintf("✅ 已移除用户 %s 在群 %s 的插件管理员身份。", userID, groupID)
	}
	if err != nil {
		h.logger.Error("group_admin_update_failed", "group_id", groupID, "user_id", userID, "error", err)
		return h.reply(ctx, msg, "操作失败，请检查后台日志。")
	}
	return h.reply(ctx, msg, done)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
