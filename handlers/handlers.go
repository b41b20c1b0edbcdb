package handlers

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"qq_relation_bot/forward"
	"qq_relation_bot/messages"
	"qq_relation_bot/notice"
	"qq_relation_bot/platform"
	"qq_relation_bot/request"
	"qq_relation_bot/settings"
)

// leaveGrace is how long prior replies get to be delivered before the
// connection to a group is torn down by leaving it.
const leaveGrace = 5 * time.Second

type Handler struct {
	api     platform.API
	cfg     *settings.Settings
	req     *request.Decider
	notices *notice.Decider
	sampler *forward.Sampler
	sched   *Scheduler
	log     *zap.Logger
}

func New(api platform.API, cfg *settings.Settings, verify request.Verifier, log *zap.Logger) *Handler {
	return &Handler{
		api:     api,
		cfg:     cfg,
		req:     request.NewDecider(cfg, api, verify),
		notices: notice.NewDecider(cfg, api),
		sampler: forward.NewSampler(api, log),
		sched:   NewScheduler(log),
		log:     log,
	}
}

// OnEvent routes one raw platform event. Each event is an independent task;
// nothing here may take down the process.
func (h *Handler) OnEvent(ctx context.Context, ev platform.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("event handler panicked", zap.Any("panic", r))
		}
	}()

	switch ev.PostType() {
	case "request":
		h.handleRequest(ctx, ev)
	case "notice":
		h.handleNotice(ctx, ev)
	case "message":
		h.handleMessage(ctx, ev)
	}
}

// ---- requests ----

func (h *Handler) handleRequest(ctx context.Context, ev platform.Event) {
	req, err := request.FromEvent(ctx, h.api, ev)
	if err != nil || req == nil {
		return
	}
	out := h.req.Decide(ctx, req)
	h.finishRequest(ctx, eventTarget(ev), req, out, "")
}

// finishRequest executes request side effects in fixed order: platform
// approval, event reply, user reply, admin reply, blacklist mutations. Each
// delivery attempt is independent; one failure never blocks the rest.
func (h *Handler) finishRequest(ctx context.Context, replyTo platform.Target, req request.Request, out request.Outcome, remark string) {
	if out.Approve != nil {
		if err := h.approve(ctx, req, *out.Approve, remark); err != nil {
			h.log.Error("approval call failed", zap.String("flag", req.FlagToken()), zap.Error(err))
			h.sendTo(ctx, replyTo, messages.MsgProcessFailed)
		}
	}

	if out.EventReply != "" {
		h.sendTo(ctx, replyTo, out.EventReply)
	}

	if out.UserReply != "" {
		h.sendUserReply(ctx, replyTo, req, out.UserReply)
	}

	if out.AdminReply != "" {
		h.sendAdmin(ctx, out.AdminReply)
	}

	h.applyBlockFlags(ctx, req, out)
}

func (h *Handler) approve(ctx context.Context, req request.Request, approve bool, remark string) error {
	switch req.(type) {
	case *request.Friend:
		return h.api.SetFriendAddRequest(ctx, req.FlagToken(), approve, remark)
	case *request.GroupInvite:
		reason := ""
		if !approve {
			reason = remark
		}
		return h.api.SetGroupAddRequest(ctx, req.FlagToken(), approve, reason)
	}
	return nil
}

// sendUserReply delivers the requester-facing text with per-kind fallbacks:
// friend requests go private, group invites try the group first, then the
// inviter, then the invoking context.
func (h *Handler) sendUserReply(ctx context.Context, replyTo platform.Target, req request.Request, text string) {
	switch r := req.(type) {
	case *request.Friend:
		if h.try(ctx, platform.Target{UserID: toInt(r.UserID)}, text) {
			return
		}
		h.sendTo(ctx, replyTo, text)
	case *request.GroupInvite:
		if h.try(ctx, platform.Target{GroupID: toInt(r.GroupID)}, text) {
			return
		}
		if h.try(ctx, platform.Target{UserID: toInt(r.InviterID)}, text) {
			return
		}
		h.sendTo(ctx, replyTo, text)
	}
}

func (h *Handler) applyBlockFlags(ctx context.Context, req request.Request, out request.Outcome) {
	changed := false
	if r, ok := req.(*request.GroupInvite); ok && out.BlockGroup != nil {
		if *out.BlockGroup {
			changed = h.cfg.AddBlackGroup(r.GroupID) || changed
		} else {
			changed = h.cfg.RemoveBlackGroup(r.GroupID) || changed
		}
	}
	if r, ok := req.(*request.Friend); ok && out.BlockUser != nil {
		if *out.BlockUser {
			changed = h.cfg.AddBlackUser(r.UserID) || changed
		} else {
			changed = h.cfg.RemoveBlackUser(r.UserID) || changed
		}
	}
	if changed {
		h.saveSettings(ctx)
	}
}

// ---- notices ----

func (h *Handler) handleNotice(ctx context.Context, ev platform.Event) {
	n := notice.FromEvent(ev)
	if !n.ConcernsSelf() {
		return
	}

	// Losing the group voids any pending deferred work for it.
	if n.NoticeType == "group_decrease" {
		h.sched.Cancel("check:" + n.GroupID)
		h.sched.Cancel("leave:" + n.GroupID)
	}

	out, err := h.notices.Decide(ctx, n)
	if err != nil {
		h.log.Error("notice decision failed",
			zap.String("notice_type", n.NoticeType),
			zap.String("group_id", n.GroupID),
			zap.Error(err))
		return
	}

	if out.OperatorReply != "" {
		h.sendTo(ctx, platform.Target{GroupID: toInt(n.GroupID)}, out.OperatorReply)
	}

	if out.AdminReply != "" {
		h.sendAdmin(ctx, out.AdminReply)
	}

	if out.CheckGroup && h.cfg.CheckNewGroup() {
		if dest := h.reviewTarget(); !dest.IsZero() {
			src := platform.Target{GroupID: toInt(n.GroupID)}
			delay := time.Duration(h.cfg.Delay()) * time.Second
			h.sched.After(ctx, "check:"+n.GroupID, delay, func(taskCtx context.Context) {
				// The group may be gone by now; the sampler treats an empty
				// history as a no-op.
				h.sampler.SampleTo(taskCtx, src, dest, h.cfg.Count(), h.cfg.BatchSize())
			})
		}
	}

	changed := false
	if out.BlackGroup {
		changed = h.cfg.AddBlackGroup(n.GroupID) || changed
	}
	if out.BlackUser {
		changed = h.cfg.AddBlackUser(n.OperatorID) || changed
	}
	if changed {
		h.saveSettings(ctx)
	}

	if out.LeaveGroup {
		gid := toInt(n.GroupID)
		h.sched.After(ctx, "leave:"+n.GroupID, leaveGrace, func(taskCtx context.Context) {
			if err := h.api.SetGroupLeave(taskCtx, gid); err != nil {
				h.log.Debug("leave group failed", zap.Int64("group_id", gid), zap.Error(err))
			}
		})
	}
}

// ---- delivery helpers ----

// sendAdmin delivers admin-facing text to the review group when configured,
// otherwise to every approver individually.
func (h *Handler) sendAdmin(ctx context.Context, text string) {
	if h.cfg.MissingReviewDestination() {
		h.log.Warn("no review group or approvers configured, dropping admin message")
		return
	}
	if gid := h.cfg.ManageGroup(); gid != "" {
		if h.try(ctx, platform.Target{GroupID: toInt(gid)}, text) {
			return
		}
	}
	for _, uid := range h.cfg.ManageUsers() {
		h.try(ctx, platform.Target{UserID: toInt(uid)}, text)
	}
}

func (h *Handler) reviewTarget() platform.Target {
	if gid := h.cfg.ManageGroup(); gid != "" {
		return platform.Target{GroupID: toInt(gid)}
	}
	if admin := h.cfg.AdminID(); admin != "" {
		return platform.Target{UserID: toInt(admin)}
	}
	return platform.Target{}
}

func (h *Handler) sendTo(ctx context.Context, dest platform.Target, text string) {
	h.try(ctx, dest, text)
}

func (h *Handler) try(ctx context.Context, dest platform.Target, text string) bool {
	var err error
	switch {
	case dest.GroupID != 0:
		err = h.api.SendGroupMessage(ctx, dest.GroupID, text)
	case dest.UserID != 0:
		err = h.api.SendPrivateMessage(ctx, dest.UserID, text)
	default:
		return false
	}
	if err != nil {
		h.log.Warn("send failed",
			zap.Int64("group_id", dest.GroupID),
			zap.Int64("user_id", dest.UserID),
			zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) saveSettings(ctx context.Context) {
	if err := h.cfg.Save(ctx); err != nil {
		h.log.Error("persist settings failed", zap.Error(err))
	}
}

// eventTarget is where replies to the invoking context go.
func eventTarget(ev platform.Event) platform.Target {
	if ev.IsGroupMessage() {
		return platform.Target{GroupID: ev.Int("group_id")}
	}
	return platform.Target{UserID: ev.Int("user_id")}
}

func toInt(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}
