package notice

import (
	"context"
	"strconv"

	"qq_relation_bot/messages"
	"qq_relation_bot/platform"
	"qq_relation_bot/settings"
)

// Outcome describes the replies and side effects a notice produced.
type Outcome struct {
	AdminReply    string
	OperatorReply string

	CheckGroup bool
	LeaveGroup bool
	BlackGroup bool
	BlackUser  bool
}

// Groups is the read access the gating checks need.
type Groups interface {
	GetGroupInfo(ctx context.Context, groupID int64, noCache bool) (platform.GroupInfo, error)
	GetGroupList(ctx context.Context) ([]platform.GroupInfo, error)
	GetGroupMemberList(ctx context.Context, groupID int64) ([]platform.GroupMember, error)
	platform.NicknameSource
}

type Decider struct {
	cfg    *settings.Settings
	client Groups
}

func NewDecider(cfg *settings.Settings, client Groups) *Decider {
	return &Decider{cfg: cfg, client: client}
}

// Decide maps a notice fact to an outcome. Name lookups degrade to bare IDs;
// only the gating checks of the invite branch can fail, and a failure there
// aborts the decision.
func (d *Decider) Decide(ctx context.Context, n Notice) (Outcome, error) {
	var out Outcome

	switch {
	case n.NoticeType == "group_admin":
		d.adminChange(ctx, n, &out)
	case n.NoticeType == "group_ban":
		d.ban(ctx, n, &out)
	case n.NoticeType == "group_decrease" && n.SubType == "kick_me":
		d.kicked(ctx, n, &out)
	case n.NoticeType == "group_increase" && n.SubType == "invite":
		if err := d.invited(ctx, n, &out); err != nil {
			return Outcome{}, err
		}
	}

	return out, nil
}

func (d *Decider) adminChange(ctx context.Context, n Notice, out *Outcome) {
	groupName := d.groupName(ctx, n.GroupID)
	if n.SubType == "set" {
		out.AdminReply = messages.FormatAdminSet(groupName, n.GroupID)
		out.OperatorReply = messages.MsgAdminSetOperator
	} else {
		out.AdminReply = messages.FormatAdminUnset(groupName, n.GroupID)
		out.OperatorReply = messages.MsgAdminUnsetOperator
	}
}

func (d *Decider) ban(ctx context.Context, n Notice, out *Outcome) {
	groupName := d.groupName(ctx, n.GroupID)
	operatorName := d.operatorName(ctx, n)

	if n.Duration == 0 {
		out.AdminReply = messages.FormatBanLifted(operatorName, groupName, n.GroupID)
		out.OperatorReply = messages.MsgBanLiftedOperator
		return
	}

	out.AdminReply = messages.FormatBanned(groupName, n.GroupID, operatorName, n.Duration)
	if maxDuration := d.cfg.MaxDuration(); n.Duration > maxDuration {
		out.AdminReply += "\n" + messages.FormatBanExceeded(maxDuration)
		out.LeaveGroup = true
	}
}

// kicked may blacklist the group and the operator independently; both notes
// can appear on the same reply.
func (d *Decider) kicked(ctx context.Context, n Notice, out *Outcome) {
	groupName := d.groupName(ctx, n.GroupID)
	operatorName := d.operatorName(ctx, n)

	out.AdminReply = messages.FormatKicked(operatorName, groupName, n.GroupID)
	if d.cfg.KickBlockGroup() {
		out.BlackGroup = true
		out.AdminReply += "，已将此群拉进黑名单"
	}
	if d.cfg.KickBlockUser() {
		out.BlackUser = true
		out.AdminReply += "，已将此人拉进黑名单"
	}
}

// invited runs the gating checks in fixed order, stopping at the first trip.
// An inviter who is an approver bypasses every check.
func (d *Decider) invited(ctx context.Context, n Notice, out *Outcome) error {
	groupName := d.groupName(ctx, n.GroupID)
	operatorName := d.operatorName(ctx, n)

	out.AdminReply = messages.FormatInvited(operatorName, groupName, n.GroupID)

	if !d.cfg.IsManageUser(n.OperatorID) {
		if d.checkBlacklist(n, groupName, out) {
			return nil
		}
		tripped, err := d.checkGroupSize(ctx, n, out)
		if err != nil {
			return err
		}
		if tripped {
			return nil
		}
		tripped, err = d.checkCapacity(ctx, out)
		if err != nil {
			return err
		}
		if tripped {
			return nil
		}
		tripped, err = d.checkMutualBlacklist(ctx, n, out)
		if err != nil {
			return err
		}
		if tripped {
			return nil
		}
	}

	out.CheckGroup = true
	return nil
}

func (d *Decider) checkBlacklist(n Notice, groupName string, out *Outcome) bool {
	if !d.cfg.IsBlackGroup(n.GroupID) {
		return false
	}
	out.AdminReply += "\n" + messages.FormatBlackGroupLeave(groupName, n.GroupID)
	out.OperatorReply = messages.MsgKickWantBack
	out.LeaveGroup = true
	return true
}

func (d *Decider) checkGroupSize(ctx context.Context, n Notice, out *Outcome) (bool, error) {
	gid, _ := strconv.ParseInt(n.GroupID, 10, 64)
	// Live member count, bypassing the protocol client's cache.
	info, err := d.client.GetGroupInfo(ctx, gid, true)
	if err != nil {
		return false, err
	}

	if minSize := d.cfg.MinGroupSize(); d.cfg.BlockSmallGroup() && info.MemberCount <= minSize {
		admin, operator := messages.FormatSmallGroup(info.MemberCount, minSize)
		out.AdminReply += "\n" + admin
		out.OperatorReply = operator
		out.LeaveGroup = true
		return true, nil
	}
	if maxSize := d.cfg.MaxGroupSize(); maxSize > 0 && info.MemberCount > maxSize {
		admin, operator := messages.FormatLargeGroup(info.MemberCount, maxSize)
		out.AdminReply += "\n" + admin
		out.OperatorReply = operator
		out.LeaveGroup = true
		return true, nil
	}
	return false, nil
}

func (d *Decider) checkCapacity(ctx context.Context, out *Outcome) (bool, error) {
	groups, err := d.client.GetGroupList(ctx)
	if err != nil {
		return false, err
	}
	maxCap := d.cfg.MaxGroupCapacity()
	if len(groups) <= maxCap {
		return false, nil
	}
	admin, operator := messages.FormatCapacity(len(groups), maxCap)
	out.AdminReply += "\n" + admin
	out.OperatorReply = operator
	out.LeaveGroup = true
	return true, nil
}

// checkMutualBlacklist leaves when any configured mutually exclusive user is
// already a member. When several conflict the picked one is arbitrary.
func (d *Decider) checkMutualBlacklist(ctx context.Context, n Notice, out *Outcome) (bool, error) {
	mutual := map[string]bool{}
	for _, id := range d.cfg.MutualBlacklist() {
		mutual[id] = true
	}
	delete(mutual, n.UserID)
	if len(mutual) == 0 {
		return false, nil
	}

	gid, _ := strconv.ParseInt(n.GroupID, 10, 64)
	members, err := d.client.GetGroupMemberList(ctx, gid)
	if err != nil {
		return false, err
	}

	for _, m := range members {
		memberID := strconv.FormatInt(m.UserID, 10)
		if !mutual[memberID] {
			continue
		}
		memberName := platform.Nickname(ctx, d.client, gid, m.UserID)
		admin, operator := messages.FormatMutualMember(memberName, memberID)
		out.AdminReply += "\n" + admin
		out.OperatorReply = operator
		out.LeaveGroup = true
		return true, nil
	}
	return false, nil
}

func (d *Decider) groupName(ctx context.Context, groupID string) string {
	gid, _ := strconv.ParseInt(groupID, 10, 64)
	if info, err := d.client.GetGroupInfo(ctx, gid, false); err == nil && info.GroupName != "" {
		return info.GroupName
	}
	return groupID
}

func (d *Decider) operatorName(ctx context.Context, n Notice) string {
	gid, _ := strconv.ParseInt(n.GroupID, 10, 64)
	uid, _ := strconv.ParseInt(n.OperatorID, 10, 64)
	return platform.Nickname(ctx, d.client, gid, uid)
}
