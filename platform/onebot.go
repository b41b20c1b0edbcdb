package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// OneBot is a forward-websocket client for the OneBot v11 protocol. Action
// calls are correlated with responses through the echo field; incoming frames
// without an echo are platform events and are handed to the event handler.
type OneBot struct {
	url         string
	token       string
	callTimeout time.Duration
	reconnect   time.Duration
	log         *zap.Logger

	handler func(Event)

	writeMu sync.Mutex
	connMu  sync.RWMutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan apiResponse
	seq       atomic.Int64
}

type apiResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

var ErrNotConnected = errors.New("platform: not connected")

func NewOneBot(url, token string, callTimeout, reconnect time.Duration, log *zap.Logger) *OneBot {
	return &OneBot{
		url:         url,
		token:       token,
		callTimeout: callTimeout,
		reconnect:   reconnect,
		log:         log,
		pending:     make(map[string]chan apiResponse),
	}
}

// OnEvent registers the event handler. Must be called before Run.
func (c *OneBot) OnEvent(fn func(Event)) { c.handler = fn }

// Run connects and reads until ctx is cancelled, reconnecting after the
// configured backoff on connection loss.
func (c *OneBot) Run(ctx context.Context) error {
	for {
		if err := c.runOnce(ctx); err != nil {
			c.log.Warn("connection lost", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnect):
		}
	}
}

func (c *OneBot) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.log.Info("connected", zap.String("url", c.url))

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
		c.failPending()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(payload)
	}
}

func (c *OneBot) dispatch(payload []byte) {
	var probe struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		c.log.Warn("malformed frame", zap.Error(err))
		return
	}

	if probe.Echo != "" {
		var resp apiResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			c.log.Warn("malformed response", zap.Error(err))
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.Echo]
		delete(c.pending, resp.Echo)
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.log.Warn("malformed event", zap.Error(err))
		return
	}
	if c.handler != nil {
		// Each event runs as an independent task.
		go c.handler(ev)
	}
}

func (c *OneBot) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for echo, ch := range c.pending {
		close(ch)
		delete(c.pending, echo)
	}
}

func (c *OneBot) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	echo := strconv.FormatInt(c.seq.Add(1), 10)
	ch := make(chan apiResponse, 1)
	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()

	frame, err := json.Marshal(apiRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", action, err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	timeout := time.NewTimer(c.callTimeout)
	defer timeout.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Retcode != 0 {
			return nil, fmt.Errorf("%s: retcode %d", action, resp.Retcode)
		}
		return resp.Data, nil
	case <-timeout.C:
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: timed out", action)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func call[T any](ctx context.Context, c *OneBot, action string, params any) (T, error) {
	var out T
	data, err := c.call(ctx, action, params)
	if err != nil {
		return out, err
	}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", action, err)
	}
	return out, nil
}

func (c *OneBot) GetGroupInfo(ctx context.Context, groupID int64, noCache bool) (GroupInfo, error) {
	return call[GroupInfo](ctx, c, "get_group_info", map[string]any{"group_id": groupID, "no_cache": noCache})
}

func (c *OneBot) GetGroupList(ctx context.Context) ([]GroupInfo, error) {
	return call[[]GroupInfo](ctx, c, "get_group_list", nil)
}

func (c *OneBot) GetGroupMemberList(ctx context.Context, groupID int64) ([]GroupMember, error) {
	return call[[]GroupMember](ctx, c, "get_group_member_list", map[string]any{"group_id": groupID})
}

func (c *OneBot) GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (GroupMember, error) {
	return call[GroupMember](ctx, c, "get_group_member_info", map[string]any{"group_id": groupID, "user_id": userID})
}

func (c *OneBot) GetFriendList(ctx context.Context) ([]Friend, error) {
	return call[[]Friend](ctx, c, "get_friend_list", nil)
}

func (c *OneBot) GetStrangerInfo(ctx context.Context, userID int64) (Stranger, error) {
	return call[Stranger](ctx, c, "get_stranger_info", map[string]any{"user_id": userID})
}

// GetMessageText fetches a stored message and returns its plain text, used to
// read back the ticket a command replies to.
func (c *OneBot) GetMessageText(ctx context.Context, messageID int64) (string, error) {
	msg, err := call[Event](ctx, c, "get_msg", map[string]any{"message_id": messageID})
	if err != nil {
		return "", err
	}
	return msg.PlainText(), nil
}

func (c *OneBot) SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) error {
	params := map[string]any{"flag": flag, "approve": approve}
	if remark != "" {
		params["remark"] = remark
	}
	_, err := c.call(ctx, "set_friend_add_request", params)
	return err
}

func (c *OneBot) SetGroupAddRequest(ctx context.Context, flag string, approve bool, reason string) error {
	params := map[string]any{"flag": flag, "sub_type": "invite", "approve": approve}
	if reason != "" {
		params["reason"] = reason
	}
	_, err := c.call(ctx, "set_group_add_request", params)
	return err
}

func (c *OneBot) SetGroupLeave(ctx context.Context, groupID int64) error {
	_, err := c.call(ctx, "set_group_leave", map[string]any{"group_id": groupID})
	return err
}

func (c *OneBot) DeleteFriend(ctx context.Context, userID int64) error {
	_, err := c.call(ctx, "delete_friend", map[string]any{"user_id": userID})
	return err
}

func (c *OneBot) SendGroupMessage(ctx context.Context, groupID int64, text string) error {
	_, err := c.call(ctx, "send_group_msg", map[string]any{"group_id": groupID, "message": text})
	return err
}

func (c *OneBot) SendPrivateMessage(ctx context.Context, userID int64, text string) error {
	_, err := c.call(ctx, "send_private_msg", map[string]any{"user_id": userID, "message": text})
	return err
}

func (c *OneBot) SendGroupForward(ctx context.Context, groupID int64, nodes []ForwardNode) error {
	_, err := c.call(ctx, "send_group_forward_msg", map[string]any{"group_id": groupID, "messages": nodes})
	return err
}

func (c *OneBot) SendPrivateForward(ctx context.Context, userID int64, nodes []ForwardNode) error {
	_, err := c.call(ctx, "send_private_forward_msg", map[string]any{"user_id": userID, "messages": nodes})
	return err
}

// SendContact sends a qq or group contact card to dest.
func (c *OneBot) SendContact(ctx context.Context, dest Target, contact Target) error {
	var seg map[string]any
	switch {
	case contact.GroupID != 0:
		seg = map[string]any{"type": "contact", "data": map[string]any{"type": "group", "id": contact.GroupID}}
	case contact.UserID != 0:
		seg = map[string]any{"type": "contact", "data": map[string]any{"type": "qq", "id": contact.UserID}}
	default:
		return errors.New("platform: empty contact")
	}

	message := []map[string]any{seg}
	if dest.GroupID != 0 {
		_, err := c.call(ctx, "send_group_msg", map[string]any{"group_id": dest.GroupID, "message": message})
		return err
	}
	_, err := c.call(ctx, "send_private_msg", map[string]any{"user_id": dest.UserID, "message": message})
	return err
}

type historyData struct {
	Messages []HistoryMessage `json:"messages"`
}

func (c *OneBot) GetGroupMsgHistory(ctx context.Context, groupID int64, count int) ([]HistoryMessage, error) {
	data, err := call[historyData](ctx, c, "get_group_msg_history", map[string]any{"group_id": groupID, "count": count})
	if err != nil {
		return nil, err
	}
	return data.Messages, nil
}

func (c *OneBot) GetFriendMsgHistory(ctx context.Context, userID int64, count int) ([]HistoryMessage, error) {
	data, err := call[historyData](ctx, c, "get_friend_msg_history", map[string]any{"user_id": userID, "count": count})
	if err != nil {
		return nil, err
	}
	return data.Messages, nil
}

var _ API = (*OneBot)(nil)
