package handlers

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"qq_relation_bot/messages"
	"qq_relation_bot/platform"
	"qq_relation_bot/request"
)

// handleMessage routes approver commands. Anything that is not one of our
// commands is left to the rest of the host bot.
func (h *Handler) handleMessage(ctx context.Context, ev platform.Event) {
	text := ev.PlainText()
	if text == "" {
		return
	}
	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	var run func(context.Context, platform.Event, string)
	switch cmd {
	case "群列表":
		run = h.cmdListGroups
	case "好友列表":
		run = h.cmdListFriends
	case "退群":
		run = h.cmdLeaveGroups
	case "删好友":
		run = h.cmdDeleteFriends
	case "添加审批员":
		run = h.cmdAddApprovers
	case "移除审批员":
		run = h.cmdRemoveApprovers
	case "同意":
		run = func(ctx context.Context, ev platform.Event, rest string) {
			h.cmdTicket(ctx, ev, true, rest)
		}
	case "拒绝":
		run = func(ctx context.Context, ev platform.Event, rest string) {
			h.cmdTicket(ctx, ev, false, rest)
		}
	case "抽查":
		run = h.cmdSampleCheck
	case "推荐":
		run = h.cmdRecommend
	default:
		return
	}

	if !h.cfg.IsManageUser(ev.Str("user_id")) {
		h.sendTo(ctx, eventTarget(ev), messages.MsgNoPermission)
		return
	}
	run(ctx, ev, rest)
}

// cmdTicket approves or rejects the request whose ticket the command replies
// to. A parse failure aborts before any side effect.
func (h *Handler) cmdTicket(ctx context.Context, ev platform.Event, approve bool, extra string) {
	replyTo := eventTarget(ev)

	ticket := ""
	if id, ok := ev.ReplyID(); ok {
		text, err := h.api.GetMessageText(ctx, id)
		if err != nil {
			h.log.Warn("fetch replied message failed", zap.Int64("message_id", id), zap.Error(err))
		}
		ticket = text
	}

	req, err := request.Parse(ticket)
	if err != nil {
		h.sendTo(ctx, replyTo, messages.MsgParseTicketFailed)
		return
	}

	out, err := h.req.DecideCommand(ctx, req, approve, extra)
	if err != nil {
		h.log.Error("command decision failed", zap.Error(err))
		h.sendTo(ctx, replyTo, messages.MsgProcessFailed)
		return
	}
	h.finishRequest(ctx, replyTo, req, out, extra)
}

func (h *Handler) cmdListGroups(ctx context.Context, ev platform.Event, _ string) {
	groups, err := h.api.GetGroupList(ctx)
	if err != nil {
		h.sendTo(ctx, eventTarget(ev), messages.MsgProcessFailed)
		return
	}
	entries := make([]string, 0, len(groups))
	for i, g := range groups {
		entries = append(entries, fmt.Sprintf("%d. %d: %s", i+1, g.GroupID, g.GroupName))
	}
	h.sendTo(ctx, eventTarget(ev), messages.FormatGroupList(entries))
}

func (h *Handler) cmdListFriends(ctx context.Context, ev platform.Event, _ string) {
	friends, err := h.api.GetFriendList(ctx)
	if err != nil {
		h.sendTo(ctx, eventTarget(ev), messages.MsgProcessFailed)
		return
	}
	entries := make([]string, 0, len(friends))
	for i, f := range friends {
		entries = append(entries, fmt.Sprintf("%d. %d: %s", i+1, f.UserID, f.Nickname))
	}
	h.sendTo(ctx, eventTarget(ev), messages.FormatFriendList(entries))
}

// cmdLeaveGroups leaves groups by 1-based index, raw ID, or index range.
func (h *Handler) cmdLeaveGroups(ctx context.Context, ev platform.Event, rest string) {
	replyTo := eventTarget(ev)
	groups, err := h.api.GetGroupList(ctx)
	if err != nil {
		h.sendTo(ctx, replyTo, messages.MsgProcessFailed)
		return
	}
	if len(groups) == 0 {
		h.sendTo(ctx, replyTo, messages.MsgNoGroups)
		return
	}

	indexes, ids := parseMultiInput(rest, len(groups))
	if len(indexes) == 0 && len(ids) == 0 {
		h.sendTo(ctx, replyTo, messages.MsgNeedGroupInput)
		return
	}

	byID := make(map[string]platform.GroupInfo, len(groups))
	for _, g := range groups {
		byID[strconv.FormatInt(g.GroupID, 10)] = g
	}

	var msgs []string
	for _, idx := range indexes {
		g := groups[idx]
		if err := h.api.SetGroupLeave(ctx, g.GroupID); err != nil {
			h.log.Warn("leave group failed", zap.Int64("group_id", g.GroupID), zap.Error(err))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("已退出群聊：%s(%d)", g.GroupName, g.GroupID))
	}
	for _, gid := range ids {
		g, ok := byID[gid]
		if !ok {
			msgs = append(msgs, "不存在群聊："+gid)
			continue
		}
		if err := h.api.SetGroupLeave(ctx, g.GroupID); err != nil {
			h.log.Warn("leave group failed", zap.Int64("group_id", g.GroupID), zap.Error(err))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("已退出群聊：%s(%s)", g.GroupName, gid))
	}
	h.sendTo(ctx, replyTo, strings.Join(msgs, "\n"))
}

// cmdDeleteFriends removes friends by @, raw ID, index, or index range.
func (h *Handler) cmdDeleteFriends(ctx context.Context, ev platform.Event, rest string) {
	replyTo := eventTarget(ev)
	friends, err := h.api.GetFriendList(ctx)
	if err != nil {
		h.sendTo(ctx, replyTo, messages.MsgProcessFailed)
		return
	}
	if len(friends) == 0 {
		h.sendTo(ctx, replyTo, messages.MsgNoFriends)
		return
	}

	targets := map[string]bool{}
	for _, id := range ev.AtIDs(ev.Str("self_id")) {
		targets[id] = true
	}
	indexes, ids := parseMultiInput(rest, len(friends))
	for _, idx := range indexes {
		targets[strconv.FormatInt(friends[idx].UserID, 10)] = true
	}
	for _, id := range ids {
		targets[id] = true
	}
	if len(targets) == 0 {
		h.sendTo(ctx, replyTo, messages.MsgNeedUserInput)
		return
	}

	byID := make(map[string]platform.Friend, len(friends))
	for _, f := range friends {
		byID[strconv.FormatInt(f.UserID, 10)] = f
	}

	var msgs []string
	for _, uid := range sortedSet(targets) {
		f, ok := byID[uid]
		if !ok {
			msgs = append(msgs, "不存在好友："+uid)
			continue
		}
		if err := h.api.DeleteFriend(ctx, f.UserID); err != nil {
			h.log.Warn("delete friend failed", zap.Int64("user_id", f.UserID), zap.Error(err))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("已删除好友：%s(%s)", f.Nickname, uid))
	}
	h.sendTo(ctx, replyTo, strings.Join(msgs, "\n"))
}

func (h *Handler) cmdAddApprovers(ctx context.Context, ev platform.Event, _ string) {
	h.editApprovers(ctx, ev, true)
}

func (h *Handler) cmdRemoveApprovers(ctx context.Context, ev platform.Event, _ string) {
	h.editApprovers(ctx, ev, false)
}

func (h *Handler) editApprovers(ctx context.Context, ev platform.Event, add bool) {
	replyTo := eventTarget(ev)
	atIDs := ev.AtIDs(ev.Str("self_id"))
	if len(atIDs) == 0 {
		h.sendTo(ctx, replyTo, messages.MsgNeedAtApprover)
		return
	}

	changed := false
	var msgs []string
	for _, id := range atIDs {
		nickname := platform.Nickname(ctx, h.api, ev.Int("group_id"), toInt(id))
		if add {
			if !h.cfg.AddManageUser(id) {
				msgs = append(msgs, nickname+"已在审批员列表中")
				continue
			}
			changed = true
			msgs = append(msgs, "已添加审批员: "+nickname)
		} else {
			if !h.cfg.RemoveManageUser(id) {
				msgs = append(msgs, nickname+"不在审批员列表中")
				continue
			}
			changed = true
			msgs = append(msgs, "已移除审批员: "+nickname)
		}
	}
	if changed {
		h.saveSettings(ctx)
	}
	h.sendTo(ctx, replyTo, strings.Join(msgs, "\n"))
}

// cmdSampleCheck forwards a sample of recent messages from the chosen target
// (@user, group index, group ID, or a random group as fallback) back to the
// invoking context.
func (h *Handler) cmdSampleCheck(ctx context.Context, ev platform.Event, rest string) {
	replyTo := eventTarget(ev)

	var src platform.Target
	count := h.cfg.Count()

	if atIDs := ev.AtIDs(ev.Str("self_id")); len(atIDs) > 0 {
		src.UserID = toInt(atIDs[0])
	}

	args := strings.Fields(rest)
	if src.IsZero() && len(args) > 0 {
		groups, err := h.api.GetGroupList(ctx)
		if err != nil {
			h.sendTo(ctx, replyTo, messages.MsgProcessFailed)
			return
		}
		indexes, ids := parseMultiInput(args[0], len(groups))
		switch {
		case len(indexes) > 0:
			src.GroupID = groups[indexes[0]].GroupID
		case len(ids) > 0:
			src.GroupID = toInt(ids[0])
		}
	}
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			count = n
		}
	}

	if src.IsZero() {
		groups, err := h.api.GetGroupList(ctx)
		if err != nil || len(groups) == 0 {
			h.sendTo(ctx, replyTo, messages.MsgNoSampleTarget)
			return
		}
		src.GroupID = groups[rand.Intn(len(groups))].GroupID
	}

	if !h.sampler.SampleTo(ctx, src, replyTo, count, h.cfg.BatchSize()) {
		h.sendTo(ctx, replyTo, messages.MsgNoSampleTarget)
	}
}

// cmdRecommend sends contact cards for the given users/groups to the invoking
// context; with no target a random friend or group is picked.
func (h *Handler) cmdRecommend(ctx context.Context, ev platform.Event, rest string) {
	replyTo := eventTarget(ev)

	var contacts []platform.Target
	for _, id := range ev.AtIDs(ev.Str("self_id")) {
		contacts = append(contacts, platform.Target{UserID: toInt(id)})
	}
	for _, tok := range strings.Fields(rest) {
		if strings.HasPrefix(tok, "@") {
			continue // already collected
		}
		if gid := toInt(tok); gid != 0 {
			contacts = append(contacts, platform.Target{GroupID: gid})
		}
	}

	if len(contacts) == 0 {
		if rand.Intn(2) == 0 {
			if friends, err := h.api.GetFriendList(ctx); err == nil && len(friends) > 0 {
				contacts = append(contacts, platform.Target{UserID: friends[rand.Intn(len(friends))].UserID})
			}
		} else {
			if groups, err := h.api.GetGroupList(ctx); err == nil && len(groups) > 0 {
				contacts = append(contacts, platform.Target{GroupID: groups[rand.Intn(len(groups))].GroupID})
			}
		}
	}

	for _, contact := range contacts {
		if err := h.api.SendContact(ctx, replyTo, contact); err != nil {
			h.log.Warn("send contact failed", zap.Error(err))
		}
	}
}
