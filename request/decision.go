package request

import (
	"context"
	"fmt"

	"qq_relation_bot/messages"
	"qq_relation_bot/platform"
	"qq_relation_bot/settings"
)

// Outcome describes what to reply and which side effects must follow. Approve
// stays nil when the decision is deferred to a human. BlockGroup/BlockUser set
// to true confirm blacklist membership; set to false they request removal.
type Outcome struct {
	AdminReply string
	UserReply  string
	EventReply string
	Approve    *bool
	BlockGroup *bool
	BlockUser  *bool
}

// Verifier is the optional external auto-approve predicate, keyed by the
// requester ID.
type Verifier interface {
	Verify(ctx context.Context, remark string) bool
}

// Lists is the read access used by the command path to detect requests that
// are already satisfied.
type Lists interface {
	GetFriendList(ctx context.Context) ([]platform.Friend, error)
	GetGroupList(ctx context.Context) ([]platform.GroupInfo, error)
}

type Decider struct {
	cfg    *settings.Settings
	lists  Lists
	verify Verifier
}

func NewDecider(cfg *settings.Settings, lists Lists, verify Verifier) *Decider {
	return &Decider{cfg: cfg, lists: lists, verify: verify}
}

// Decide runs the automatic path: fixed-priority policy rules first, then the
// external verification predicate, then defer to a human.
func (d *Decider) Decide(ctx context.Context, req Request) Outcome {
	out := Outcome{AdminReply: req.DisplayText()}

	if d.autoRule(req, &out) {
		return out
	}

	if d.verify != nil && d.verify.Verify(ctx, req.RequesterID()) {
		out.Approve = boolPtr(true)
		out.AdminReply += "\n" + messages.MsgVerified
		return out
	}

	switch r := req.(type) {
	case *Friend:
		out.UserReply = messages.MsgFriendPending
	case *GroupInvite:
		out.UserReply = messages.FormatGroupPending(d.cfg.ManageGroup())
		if d.cfg.IsBlackGroup(r.GroupID) {
			// A human still decides; the warning does not reject by itself.
			out.AdminReply += "\n" + messages.MsgGroupBlackWarnAdmin
			out.UserReply += "\n" + messages.MsgGroupBlackWarnUser
		}
	}
	return out
}

// autoRule evaluates the short-circuiting policy rules: auto-reject, then
// blacklist, then auto-agree. Blacklist strictly precedes auto-agree.
func (d *Decider) autoRule(req Request, out *Outcome) bool {
	switch r := req.(type) {
	case *Friend:
		if d.cfg.AutoRejectFriend() {
			out.Approve = boolPtr(false)
			out.UserReply = messages.MsgFriendAutoRejected
			out.AdminReply += "\n自动处理：已自动拒绝"
			return true
		}
		if d.cfg.IsBlackUser(r.UserID) {
			out.Approve = boolPtr(false)
			out.UserReply = messages.MsgFriendBlacklisted
			out.BlockUser = boolPtr(true)
			out.AdminReply += "\n自动处理：该用户在黑名单中"
			return true
		}
		if d.cfg.AutoAgreeFriend() {
			out.Approve = boolPtr(true)
			out.UserReply = messages.MsgFriendAutoAgreed
			out.AdminReply += "\n自动处理：已自动同意"
			return true
		}
	case *GroupInvite:
		if d.cfg.AutoRejectGroup() {
			out.Approve = boolPtr(false)
			out.UserReply = messages.MsgGroupAutoRejected
			out.AdminReply += "\n自动处理：已自动拒绝"
			return true
		}
		if d.cfg.IsBlackGroup(r.GroupID) {
			out.Approve = boolPtr(false)
			out.UserReply = messages.MsgGroupBlacklisted
			out.BlockGroup = boolPtr(true)
			out.AdminReply += "\n自动处理：该群在黑名单中"
			return true
		}
		if d.cfg.AutoAgreeGroup() {
			out.Approve = boolPtr(true)
			out.UserReply = messages.MsgGroupAutoAgreed
			out.AdminReply += "\n自动处理：已自动同意"
			return true
		}
	}
	return false
}

// DecideCommand runs the explicit path used by approver commands. Requests
// already satisfied short-circuit with no approval call; approving a
// blacklisted target additionally requests its removal from the blacklist.
func (d *Decider) DecideCommand(ctx context.Context, req Request, approve bool, extra string) (Outcome, error) {
	out := Outcome{AdminReply: req.DisplayText()}

	switch r := req.(type) {
	case *Friend:
		friends, err := d.lists.GetFriendList(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("get friend list: %w", err)
		}
		for _, f := range friends {
			if fmt.Sprintf("%d", f.UserID) == r.UserID {
				out.EventReply = fmt.Sprintf("【%s】已经是我的好友啦", r.Nickname)
				return out, nil
			}
		}
		if approve {
			out.Approve = boolPtr(true)
			out.EventReply = "已同意好友：" + r.Nickname
			if extra != "" {
				out.EventReply += "\n备注：" + extra
			}
			if d.cfg.IsBlackUser(r.UserID) {
				out.BlockUser = boolPtr(false)
			}
		} else {
			out.Approve = boolPtr(false)
			out.EventReply = "已拒绝好友：" + r.Nickname
			if extra != "" {
				out.EventReply += "\n理由：" + extra
			}
		}

	case *GroupInvite:
		groups, err := d.lists.GetGroupList(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("get group list: %w", err)
		}
		for _, g := range groups {
			if fmt.Sprintf("%d", g.GroupID) == r.GroupID {
				out.EventReply = fmt.Sprintf("我已经在【%s】里啦", r.GroupName)
				return out, nil
			}
		}
		if approve {
			out.Approve = boolPtr(true)
			out.EventReply = "已同意群邀请：" + r.GroupName
			if d.cfg.IsBlackGroup(r.GroupID) {
				out.BlockGroup = boolPtr(false)
			}
		} else {
			out.Approve = boolPtr(false)
			out.EventReply = "已拒绝群邀请：" + r.GroupName
			if extra != "" {
				out.EventReply += "\n理由：" + extra
			}
		}
	}

	return out, nil
}

func boolPtr(v bool) *bool { return &v }
