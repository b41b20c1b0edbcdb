package messages

import "fmt"

const (
	MsgNoPermission = "你没权限"

	MsgParseTicketFailed = "无法解析申请信息，请确保引用的是正确的申请消息"

	MsgProcessFailed = "处理失败，该申请可能已被处理过"

	// Request auto rules
	MsgFriendAutoRejected = "已自动拒绝好友请求"
	MsgFriendBlacklisted  = "你已被加入黑名单，无法添加好友"
	MsgFriendAutoAgreed   = "已自动同意好友请求"
	MsgGroupAutoRejected  = "已自动拒绝群邀请"
	MsgGroupBlacklisted   = "该群已被列入黑名单，自动拒绝"
	MsgGroupAutoAgreed    = "已自动同意群邀请"

	MsgFriendPending = "好友申请已收到，正在审核中，请耐心等待"
	MsgGroupPending  = "群邀请已收到，需要审核通过后才能加入"

	MsgGroupBlackWarnAdmin = "警告: 该群为黑名单群聊，请谨慎通过"
	MsgGroupBlackWarnUser  = "该群已被列入黑名单，可能不会通过审核"

	MsgVerified = "Sponsor_verify: approved!"

	// Notice replies
	MsgAdminSetOperator   = "芜湖~拿到管理了"
	MsgAdminUnsetOperator = "呜呜ww..干嘛撤掉我管理"
	MsgBanLiftedOperator  = "感谢解禁"
	MsgKickWantBack       = "把我踢了还想要我回来？退了退了"

	MsgNoGroups       = "我还没加任何群"
	MsgNoFriends      = "我还没有好友"
	MsgNeedGroupInput = "请输入群序号或群号，可空格分隔"
	MsgNeedUserInput  = "请 @好友、输入 QQ 号或好友序号"
	MsgNeedAtApprover = "需@要操作的审批员"
	MsgNoSampleTarget = "未找到可用的群聊或用户，无法进行抽查"
)

func FormatGroupPending(manageGroup string) string {
	if manageGroup == "" {
		return MsgGroupPending
	}
	return fmt.Sprintf("群邀请已收到，需要在审核群 %s 审批后才能加入", manageGroup)
}

func FormatAdminSet(groupName, groupID string) string {
	return fmt.Sprintf("哇！我成为了 %s(%s) 的管理员", groupName, groupID)
}

func FormatAdminUnset(groupName, groupID string) string {
	return fmt.Sprintf("呜呜ww.. 我在 %s(%s) 的管理员被撤了", groupName, groupID)
}

func FormatBanLifted(operatorName, groupName, groupID string) string {
	return fmt.Sprintf("好耶！%s 在 %s(%s) 解除了我的禁言", operatorName, groupName, groupID)
}

func FormatBanned(groupName, groupID, operatorName string, duration int64) string {
	return fmt.Sprintf("呜呜ww..我在 %s(%s) 被 %s 禁言了%s", groupName, groupID, operatorName, FormatDuration(duration))
}

func FormatBanExceeded(maxDuration int64) string {
	return fmt.Sprintf("禁言时间超过%s，我退群了", FormatDuration(maxDuration))
}

func FormatKicked(operatorName, groupName, groupID string) string {
	return fmt.Sprintf("呜呜ww..我被 %s 踢出了 %s(%s)", operatorName, groupName, groupID)
}

func FormatInvited(operatorName, groupName, groupID string) string {
	return fmt.Sprintf("主人..我被 %s 拉进了 %s(%s)。", operatorName, groupName, groupID)
}

func FormatBlackGroupLeave(groupName, groupID string) string {
	return fmt.Sprintf("群聊 %s(%s) 在黑名单里，我退群了", groupName, groupID)
}

func FormatSmallGroup(memberCount, minSize int) (admin, operator string) {
	admin = fmt.Sprintf("群人数 %d ≤ %d，小群我退了", memberCount, minSize)
	operator = fmt.Sprintf("小群不加，人数 %d ≤ %d", memberCount, minSize)
	return
}

func FormatLargeGroup(memberCount, maxSize int) (admin, operator string) {
	admin = fmt.Sprintf("群人数 %d > %d，大群我退了", memberCount, maxSize)
	operator = fmt.Sprintf("大群不加，人数 %d > %d", memberCount, maxSize)
	return
}

func FormatCapacity(joined, maxCap int) (admin, operator string) {
	admin = fmt.Sprintf("我已经加了%d个群（超过了%d个），这群我退了", joined, maxCap)
	operator = fmt.Sprintf("我最多只能加%d个群，现在已经加了%d个群，请不要拉我进群了", maxCap, joined)
	return
}

func FormatMutualMember(memberName, memberID string) (admin, operator string) {
	admin = fmt.Sprintf("检测到群内存在互斥成员 %s(%s)，这群我退了", memberName, memberID)
	operator = fmt.Sprintf("我不想和%s(%s)在同一个群里，退了", memberName, memberID)
	return
}

func FormatGroupList(entries []string) string {
	return formatList("【群列表】共加入 %d 个群：", entries)
}

func FormatFriendList(entries []string) string {
	return formatList("【好友列表】共 %d 位好友：", entries)
}

func formatList(header string, entries []string) string {
	text := fmt.Sprintf(header, len(entries))
	for _, e := range entries {
		text += "\n" + e
	}
	return text
}

// FormatDuration renders seconds as a human readable span, e.g. 90061 ->
// "1天1小时1分钟1秒". A single non-zero unit is rendered alone.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		return "未知时长"
	}
	if seconds == 0 {
		return "0秒"
	}

	days := seconds / 86400
	rem := seconds % 86400
	hours := rem / 3600
	rem %= 3600
	minutes := rem / 60
	secs := rem % 60

	units := []struct {
		value int64
		label string
	}{
		{days, "天"},
		{hours, "小时"},
		{minutes, "分钟"},
		{secs, "秒"},
	}

	text := ""
	for _, u := range units {
		if u.value > 0 {
			text += fmt.Sprintf("%d%s", u.value, u.label)
		}
	}
	return text
}
