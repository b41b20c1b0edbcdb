package handlers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"qq_relation_bot/messages"
	"qq_relation_bot/platform"
	"qq_relation_bot/settings"
)

type memStore struct {
	values map[string]string
	saves  int
}

func newMemStore(overrides map[string]string) *memStore {
	values := settings.Defaults()
	for k, v := range overrides {
		values[k] = v
	}
	return &memStore{values: values}
}

func (m *memStore) Get(key string) (string, bool) { v, ok := m.values[key]; return v, ok }
func (m *memStore) Set(key, value string)         { m.values[key] = value }
func (m *memStore) Save(context.Context) error    { m.saves++; return nil }

type sent struct {
	groupID int64
	userID  int64
	text    string
}

type approveCall struct {
	flag    string
	approve bool
	extra   string
}

// fakeAPI records every outbound call and serves canned reads. Group sends to
// an ID in groupSendFail and approval calls with friendReqErr set fail.
type fakeAPI struct {
	groups   []platform.GroupInfo
	friends  []platform.Friend
	stranger platform.Stranger
	msgText  string

	groupSendFail map[int64]bool
	friendReqErr  error

	sends          []sent
	friendRequests []approveCall
	groupRequests  []approveCall
	leftGroups     []int64
	deleted        []int64
	contacts       []platform.Target
}

func (f *fakeAPI) GetGroupInfo(_ context.Context, groupID int64, _ bool) (platform.GroupInfo, error) {
	for _, g := range f.groups {
		if g.GroupID == groupID {
			return g, nil
		}
	}
	return platform.GroupInfo{}, fmt.Errorf("group %d not found", groupID)
}

func (f *fakeAPI) GetGroupList(context.Context) ([]platform.GroupInfo, error) {
	return f.groups, nil
}

func (f *fakeAPI) GetGroupMemberList(context.Context, int64) ([]platform.GroupMember, error) {
	return nil, nil
}

func (f *fakeAPI) GetGroupMemberInfo(context.Context, int64, int64) (platform.GroupMember, error) {
	return platform.GroupMember{}, nil
}

func (f *fakeAPI) GetFriendList(context.Context) ([]platform.Friend, error) {
	return f.friends, nil
}

func (f *fakeAPI) GetStrangerInfo(context.Context, int64) (platform.Stranger, error) {
	return f.stranger, nil
}

func (f *fakeAPI) GetMessageText(context.Context, int64) (string, error) {
	return f.msgText, nil
}

func (f *fakeAPI) SetFriendAddRequest(_ context.Context, flag string, approve bool, remark string) error {
	f.friendRequests = append(f.friendRequests, approveCall{flag, approve, remark})
	return f.friendReqErr
}

func (f *fakeAPI) SetGroupAddRequest(_ context.Context, flag string, approve bool, reason string) error {
	f.groupRequests = append(f.groupRequests, approveCall{flag, approve, reason})
	return nil
}

func (f *fakeAPI) SetGroupLeave(_ context.Context, groupID int64) error {
	f.leftGroups = append(f.leftGroups, groupID)
	return nil
}

func (f *fakeAPI) DeleteFriend(_ context.Context, userID int64) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeAPI) SendGroupMessage(_ context.Context, groupID int64, text string) error {
	if f.groupSendFail[groupID] {
		return fmt.Errorf("group %d send failed", groupID)
	}
	f.sends = append(f.sends, sent{groupID: groupID, text: text})
	return nil
}

func (f *fakeAPI) SendPrivateMessage(_ context.Context, userID int64, text string) error {
	f.sends = append(f.sends, sent{userID: userID, text: text})
	return nil
}

func (f *fakeAPI) SendGroupForward(context.Context, int64, []platform.ForwardNode) error {
	return nil
}

func (f *fakeAPI) SendPrivateForward(context.Context, int64, []platform.ForwardNode) error {
	return nil
}

func (f *fakeAPI) SendContact(_ context.Context, _ platform.Target, contact platform.Target) error {
	f.contacts = append(f.contacts, contact)
	return nil
}

func (f *fakeAPI) GetGroupMsgHistory(context.Context, int64, int) ([]platform.HistoryMessage, error) {
	return nil, nil
}

func (f *fakeAPI) GetFriendMsgHistory(context.Context, int64, int) ([]platform.HistoryMessage, error) {
	return nil, nil
}

func (f *fakeAPI) sentTo(dest platform.Target) []string {
	var texts []string
	for _, s := range f.sends {
		if s.groupID == dest.GroupID && s.userID == dest.UserID {
			texts = append(texts, s.text)
		}
	}
	return texts
}

func newHandler(t *testing.T, api *fakeAPI, overrides map[string]string) (*Handler, *memStore) {
	t.Helper()
	store := newMemStore(overrides)
	cfg, err := settings.New(store, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	return New(api, cfg, nil, zap.NewNop()), store
}

func friendRequestEvent() platform.Event {
	return platform.Event{
		"post_type":    "request",
		"request_type": "friend",
		"user_id":      float64(111),
		"flag":         "f1",
		"comment":      "hi",
	}
}

func commandEvent(userID int64, text string) platform.Event {
	return platform.Event{
		"post_type":    "message",
		"message_type": "group",
		"group_id":     float64(900),
		"user_id":      float64(userID),
		"self_id":      float64(10),
		"message": []any{
			map[string]any{"type": "text", "data": map[string]any{"text": text}},
		},
	}
}

func TestFriendRequestPending(t *testing.T) {
	api := &fakeAPI{stranger: platform.Stranger{UserID: 111, Nickname: "Alice"}}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageGroup: "900"})

	h.OnEvent(context.Background(), friendRequestEvent())

	if len(api.friendRequests) != 0 {
		t.Fatal("pending request must not be approved")
	}
	private := api.sentTo(platform.Target{UserID: 111})
	if len(private) != 1 || private[0] != messages.MsgFriendPending {
		t.Fatalf("requester reply = %v", private)
	}
	admin := api.sentTo(platform.Target{GroupID: 900})
	if len(admin) != 1 || !strings.Contains(admin[0], "昵称：Alice") {
		t.Fatalf("admin ticket = %v", admin)
	}
}

func TestFriendRequestAutoAgreed(t *testing.T) {
	api := &fakeAPI{stranger: platform.Stranger{UserID: 111, Nickname: "Alice"}}
	h, _ := newHandler(t, api, map[string]string{
		settings.KeyManageGroup:     "900",
		settings.KeyAutoAgreeFriend: "true",
	})

	h.OnEvent(context.Background(), friendRequestEvent())

	if len(api.friendRequests) != 1 {
		t.Fatalf("expected one approval call, got %d", len(api.friendRequests))
	}
	if call := api.friendRequests[0]; call.flag != "f1" || !call.approve {
		t.Fatalf("approval call = %+v", call)
	}
}

func groupInviteEvent() platform.Event {
	return platform.Event{
		"post_type":    "request",
		"request_type": "group",
		"sub_type":     "invite",
		"user_id":      float64(333),
		"group_id":     float64(222),
		"flag":         "g1",
	}
}

func TestInviteReplyFallsBackToInviter(t *testing.T) {
	api := &fakeAPI{
		stranger:      platform.Stranger{UserID: 333, Nickname: "Bob"},
		groups:        []platform.GroupInfo{{GroupID: 222, GroupName: "测试群"}},
		groupSendFail: map[int64]bool{222: true},
	}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageGroup: "900"})

	h.OnEvent(context.Background(), groupInviteEvent())

	if got := api.sentTo(platform.Target{GroupID: 222}); len(got) != 0 {
		t.Fatalf("group delivery failed, nothing should be recorded: %v", got)
	}
	private := api.sentTo(platform.Target{UserID: 333})
	if len(private) != 1 || !strings.Contains(private[0], "审核") {
		t.Fatalf("expected one fallback reply to the inviter, got %v", private)
	}
	admin := api.sentTo(platform.Target{GroupID: 900})
	if len(admin) != 1 || !strings.Contains(admin[0], "群号：222") {
		t.Fatalf("failed user delivery must not block the admin ticket, got %v", admin)
	}
}

func TestApproveCallFailureDegrades(t *testing.T) {
	api := &fakeAPI{
		stranger:     platform.Stranger{UserID: 111, Nickname: "Alice"},
		friendReqErr: fmt.Errorf("flag expired"),
	}
	h, _ := newHandler(t, api, map[string]string{
		settings.KeyManageGroup:     "900",
		settings.KeyAutoAgreeFriend: "true",
	})

	h.OnEvent(context.Background(), friendRequestEvent())

	private := api.sentTo(platform.Target{UserID: 111})
	if len(private) != 2 || private[0] != messages.MsgProcessFailed {
		t.Fatalf("expected failure notice before the user reply, got %v", private)
	}
	if private[1] != messages.MsgFriendAutoAgreed {
		t.Fatalf("failed approval must not block the user reply, got %v", private)
	}
	admin := api.sentTo(platform.Target{GroupID: 900})
	if len(admin) != 1 || !strings.Contains(admin[0], "已自动同意") {
		t.Fatalf("failed approval must not block the admin ticket, got %v", admin)
	}
}

func TestAdminMessageDroppedWithoutDestination(t *testing.T) {
	api := &fakeAPI{stranger: platform.Stranger{UserID: 111, Nickname: "Alice"}}
	store := newMemStore(nil)
	cfg, err := settings.New(store, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	core, logs := observer.New(zap.WarnLevel)
	h := New(api, cfg, nil, zap.New(core))

	h.OnEvent(context.Background(), friendRequestEvent())

	for _, s := range api.sends {
		if s.groupID != 0 {
			t.Fatalf("no review destination, yet a group send happened: %+v", s)
		}
	}
	if logs.FilterMessageSnippet("dropping admin message").Len() != 1 {
		t.Fatalf("expected a dropped-message warning, got %v", logs.All())
	}
}

func TestBlacklistedFriendPersisted(t *testing.T) {
	api := &fakeAPI{stranger: platform.Stranger{UserID: 111, Nickname: "Alice"}}
	h, store := newHandler(t, api, map[string]string{
		settings.KeyManageGroup:   "900",
		settings.KeyUserBlacklist: `["111"]`,
	})

	h.OnEvent(context.Background(), friendRequestEvent())

	if len(api.friendRequests) != 1 || api.friendRequests[0].approve {
		t.Fatalf("expected one rejection, got %+v", api.friendRequests)
	}
	// Already blacklisted, so confirming membership changes nothing.
	if store.saves != 0 {
		t.Fatalf("no settings change expected, got %d saves", store.saves)
	}
}

func TestCommandPermissionDenied(t *testing.T) {
	api := &fakeAPI{}
	h, _ := newHandler(t, api, nil)

	h.OnEvent(context.Background(), commandEvent(404, "群列表"))

	group := api.sentTo(platform.Target{GroupID: 900})
	if len(group) != 1 || group[0] != messages.MsgNoPermission {
		t.Fatalf("expected permission denial, got %v", group)
	}
}

func TestNonCommandIgnored(t *testing.T) {
	api := &fakeAPI{}
	h, _ := newHandler(t, api, nil)

	h.OnEvent(context.Background(), commandEvent(404, "大家好"))

	if len(api.sends) != 0 {
		t.Fatalf("plain chatter must be ignored, got %v", api.sends)
	}
}

func TestApproveTicketCommand(t *testing.T) {
	ticket := strings.Join([]string{
		"【好友申请】同意/拒绝：",
		"昵称：Alice",
		"QQ号：111",
		"flag：f1",
		"验证信息：hi",
	}, "\n")
	api := &fakeAPI{msgText: ticket}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageUsers: `["777"]`})

	ev := commandEvent(777, "同意 同事")
	ev["message"] = []any{
		map[string]any{"type": "reply", "data": map[string]any{"id": float64(42)}},
		map[string]any{"type": "text", "data": map[string]any{"text": "同意 同事"}},
	}
	h.OnEvent(context.Background(), ev)

	if len(api.friendRequests) != 1 {
		t.Fatalf("expected one approval call, got %d", len(api.friendRequests))
	}
	call := api.friendRequests[0]
	if call.flag != "f1" || !call.approve || call.extra != "同事" {
		t.Fatalf("approval call = %+v", call)
	}
	group := api.sentTo(platform.Target{GroupID: 900})
	if len(group) == 0 || !strings.Contains(group[0], "已同意好友：Alice") {
		t.Fatalf("event reply = %v", group)
	}
}

func TestTicketCommandWithoutReply(t *testing.T) {
	api := &fakeAPI{}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageUsers: `["777"]`})

	h.OnEvent(context.Background(), commandEvent(777, "同意"))

	if len(api.friendRequests)+len(api.groupRequests) != 0 {
		t.Fatal("a parse failure must not reach the platform")
	}
	group := api.sentTo(platform.Target{GroupID: 900})
	if len(group) != 1 || group[0] != messages.MsgParseTicketFailed {
		t.Fatalf("expected parse failure reply, got %v", group)
	}
}

func TestListGroupsCommand(t *testing.T) {
	api := &fakeAPI{groups: []platform.GroupInfo{
		{GroupID: 222, GroupName: "测试群"},
		{GroupID: 333, GroupName: "另一个群"},
	}}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageUsers: `["777"]`})

	h.OnEvent(context.Background(), commandEvent(777, "群列表"))

	group := api.sentTo(platform.Target{GroupID: 900})
	if len(group) != 1 {
		t.Fatalf("expected one reply, got %v", group)
	}
	if !strings.Contains(group[0], "1. 222: 测试群") || !strings.Contains(group[0], "2. 333: 另一个群") {
		t.Fatalf("list = %q", group[0])
	}
}

func TestLeaveGroupsByIndexAndID(t *testing.T) {
	api := &fakeAPI{groups: []platform.GroupInfo{
		{GroupID: 222, GroupName: "测试群"},
		{GroupID: 333, GroupName: "另一个群"},
	}}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageUsers: `["777"]`})

	h.OnEvent(context.Background(), commandEvent(777, "退群 1 999999"))

	if len(api.leftGroups) != 1 || api.leftGroups[0] != 222 {
		t.Fatalf("left groups = %v", api.leftGroups)
	}
	group := api.sentTo(platform.Target{GroupID: 900})
	if len(group) != 1 || !strings.Contains(group[0], "不存在群聊：999999") {
		t.Fatalf("reply = %v", group)
	}
}

func TestKickedGroupBlacklistedAndSaved(t *testing.T) {
	api := &fakeAPI{}
	h, store := newHandler(t, api, map[string]string{
		settings.KeyManageGroup:    "900",
		settings.KeyKickBlockGroup: "true",
	})

	h.OnEvent(context.Background(), platform.Event{
		"post_type":   "notice",
		"notice_type": "group_decrease",
		"sub_type":    "kick_me",
		"group_id":    float64(222),
		"user_id":     float64(10),
		"self_id":     float64(10),
		"operator_id": float64(333),
	})

	if !h.cfg.IsBlackGroup("222") {
		t.Fatal("kicked group should be blacklisted")
	}
	if store.saves != 1 {
		t.Fatalf("expected one save, got %d", store.saves)
	}
	admin := api.sentTo(platform.Target{GroupID: 900})
	if len(admin) != 1 || !strings.Contains(admin[0], "黑名单") {
		t.Fatalf("admin reply = %v", admin)
	}
}

func TestNoticeAboutOthersIgnored(t *testing.T) {
	api := &fakeAPI{}
	h, _ := newHandler(t, api, map[string]string{settings.KeyManageGroup: "900"})

	h.OnEvent(context.Background(), platform.Event{
		"post_type":   "notice",
		"notice_type": "group_decrease",
		"sub_type":    "kick_me",
		"group_id":    float64(222),
		"user_id":     float64(999),
		"self_id":     float64(10),
		"operator_id": float64(333),
	})

	if len(api.sends) != 0 {
		t.Fatalf("notice about someone else must be ignored, got %v", api.sends)
	}
}

func TestBanOverLimitSchedulesLeave(t *testing.T) {
	api := &fakeAPI{}
	h, _ := newHandler(t, api, map[string]string{
		settings.KeyManageGroup: "900",
		settings.KeyMaxBanDays:  "1",
	})

	h.OnEvent(context.Background(), platform.Event{
		"post_type":   "notice",
		"notice_type": "group_ban",
		"sub_type":    "ban",
		"group_id":    float64(222),
		"user_id":     float64(10),
		"self_id":     float64(10),
		"operator_id": float64(333),
		"duration":    float64(86400 * 3),
	})

	h.sched.mu.Lock()
	_, pending := h.sched.tasks["leave:222"]
	h.sched.mu.Unlock()
	if !pending {
		t.Fatal("expected a pending deferred leave")
	}
	if len(api.leftGroups) != 0 {
		t.Fatal("leave must wait out the grace period")
	}
}

func TestEventTarget(t *testing.T) {
	group := platform.Event{"message_type": "group", "group_id": float64(222), "user_id": float64(111)}
	if got := eventTarget(group); got != (platform.Target{GroupID: 222}) {
		t.Fatalf("group target = %+v", got)
	}
	private := platform.Event{"message_type": "private", "user_id": float64(111)}
	if got := eventTarget(private); got != (platform.Target{UserID: 111}) {
		t.Fatalf("private target = %+v", got)
	}
}

func TestPanicRecovered(t *testing.T) {
	h, _ := newHandler(t, &fakeAPI{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.OnEvent(context.Background(), platform.Event{"post_type": "request", "request_type": "friend"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEvent hung")
	}
}
