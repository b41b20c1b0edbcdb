package platform

import (
	"context"
	"encoding/json"
	"strconv"
)

type GroupInfo struct {
	GroupID     int64  `json:"group_id"`
	GroupName   string `json:"group_name"`
	MemberCount int    `json:"member_count"`
}

type GroupMember struct {
	UserID   int64  `json:"user_id"`
	Card     string `json:"card"`
	Nickname string `json:"nickname"`
}

type Friend struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

type Stranger struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

type HistorySender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// HistoryMessage is one entry of a fetched message history. Message keeps the
// original segment payload untouched so it can be re-emitted verbatim.
type HistoryMessage struct {
	Sender  HistorySender   `json:"sender"`
	Message json.RawMessage `json:"message"`
}

// ForwardNode is one unit of a forwarded digest.
type ForwardNode struct {
	Type string          `json:"type"`
	Data ForwardNodeData `json:"data"`
}

type ForwardNodeData struct {
	Name    string          `json:"name"`
	UIn     int64           `json:"uin"`
	Content json.RawMessage `json:"content"`
}

func NewForwardNode(name string, uin int64, content json.RawMessage) ForwardNode {
	return ForwardNode{Type: "node", Data: ForwardNodeData{Name: name, UIn: uin, Content: content}}
}

// Target addresses a group or a user, never both.
type Target struct {
	GroupID int64
	UserID  int64
}

func (t Target) IsZero() bool { return t.GroupID == 0 && t.UserID == 0 }

// API is the full protocol surface consumed by the orchestration layer. The
// decision packages depend on narrower interfaces satisfied by the same client.
type API interface {
	GetGroupInfo(ctx context.Context, groupID int64, noCache bool) (GroupInfo, error)
	GetGroupList(ctx context.Context) ([]GroupInfo, error)
	GetGroupMemberList(ctx context.Context, groupID int64) ([]GroupMember, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (GroupMember, error)
	GetFriendList(ctx context.Context) ([]Friend, error)
	GetStrangerInfo(ctx context.Context, userID int64) (Stranger, error)
	GetMessageText(ctx context.Context, messageID int64) (string, error)

	SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) error
	SetGroupAddRequest(ctx context.Context, flag string, approve bool, reason string) error
	SetGroupLeave(ctx context.Context, groupID int64) error
	DeleteFriend(ctx context.Context, userID int64) error

	SendGroupMessage(ctx context.Context, groupID int64, text string) error
	SendPrivateMessage(ctx context.Context, userID int64, text string) error
	SendGroupForward(ctx context.Context, groupID int64, nodes []ForwardNode) error
	SendPrivateForward(ctx context.Context, userID int64, nodes []ForwardNode) error
	SendContact(ctx context.Context, dest Target, contact Target) error

	GetGroupMsgHistory(ctx context.Context, groupID int64, count int) ([]HistoryMessage, error)
	GetFriendMsgHistory(ctx context.Context, userID int64, count int) ([]HistoryMessage, error)
}

// NicknameSource is the subset of API needed to resolve a display name.
type NicknameSource interface {
	GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (GroupMember, error)
	GetStrangerInfo(ctx context.Context, userID int64) (Stranger, error)
}

// Nickname resolves a user's display name, preferring the group card, falling
// back to the stranger profile, then to the bare ID.
func Nickname(ctx context.Context, src NicknameSource, groupID, userID int64) string {
	if groupID != 0 {
		if m, err := src.GetGroupMemberInfo(ctx, groupID, userID); err == nil {
			if m.Card != "" {
				return m.Card
			}
			if m.Nickname != "" {
				return m.Nickname
			}
		}
	}
	if s, err := src.GetStrangerInfo(ctx, userID); err == nil && s.Nickname != "" {
		return s.Nickname
	}
	return strconv.FormatInt(userID, 10)
}
