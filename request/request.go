package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qq_relation_bot/platform"
)

// Request is a normalized friend-add or group-invite fact. The display text is
// both the admin-facing ticket and the parseable input of approve/reject
// commands, so rendering and parsing must stay exact inverses.
type Request interface {
	DisplayText() string
	RequesterID() string
	FlagToken() string
}

const (
	friendHeader = "【好友申请】同意/拒绝："
	groupHeader  = "【群邀请】同意/拒绝："

	defaultComment  = "无"
	unknownNickname = "未知昵称"
	unknownGroup    = "未知群名"
)

type Friend struct {
	Nickname string
	UserID   string
	Flag     string
	Comment  string
}

func (r *Friend) RequesterID() string { return r.UserID }
func (r *Friend) FlagToken() string   { return r.Flag }

func (r *Friend) DisplayText() string {
	return strings.Join([]string{
		friendHeader,
		"昵称：" + r.Nickname,
		"QQ号：" + r.UserID,
		"flag：" + r.Flag,
		"验证信息：" + r.Comment,
	}, "\n")
}

type GroupInvite struct {
	InviterNickname string
	InviterID       string
	GroupName       string
	GroupID         string
	Flag            string
	Comment         string
}

func (r *GroupInvite) RequesterID() string { return r.InviterID }
func (r *GroupInvite) FlagToken() string   { return r.Flag }

func (r *GroupInvite) DisplayText() string {
	return strings.Join([]string{
		groupHeader,
		"邀请人昵称：" + r.InviterNickname,
		"邀请人QQ：" + r.InviterID,
		"群名称：" + r.GroupName,
		"群号：" + r.GroupID,
		"flag：" + r.Flag,
		"验证信息：" + r.Comment,
	}, "\n")
}

var ErrNotTicket = errors.New("request: not a request ticket")

// Parse is the exact inverse of DisplayText. A missing comment line falls back
// to the sentinel value, while a present but empty one stays empty; any other
// missing field rejects the text.
func Parse(text string) (Request, error) {
	switch {
	case strings.Contains(text, friendHeader):
		fields, err := parseFields(text, []string{"昵称", "QQ号", "flag"})
		if err != nil {
			return nil, err
		}
		return &Friend{
			Nickname: fields["昵称"],
			UserID:   fields["QQ号"],
			Flag:     fields["flag"],
			Comment:  comment(fields),
		}, nil
	case strings.Contains(text, groupHeader):
		fields, err := parseFields(text, []string{"邀请人昵称", "邀请人QQ", "群名称", "群号", "flag"})
		if err != nil {
			return nil, err
		}
		return &GroupInvite{
			InviterNickname: fields["邀请人昵称"],
			InviterID:       fields["邀请人QQ"],
			GroupName:       fields["群名称"],
			GroupID:         fields["群号"],
			Flag:            fields["flag"],
			Comment:         comment(fields),
		}, nil
	default:
		return nil, ErrNotTicket
	}
}

func parseFields(text string, required []string) (map[string]string, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, "：")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(label)] = strings.TrimSpace(value)
	}
	for _, label := range required {
		if _, ok := fields[label]; !ok {
			return nil, fmt.Errorf("request: ticket missing field %q", label)
		}
	}
	return fields, nil
}

func comment(fields map[string]string) string {
	if c, ok := fields["验证信息"]; ok {
		return c
	}
	return defaultComment
}

// InfoSource is the read access needed to fill in display names.
type InfoSource interface {
	GetStrangerInfo(ctx context.Context, userID int64) (platform.Stranger, error)
	GetGroupInfo(ctx context.Context, groupID int64, noCache bool) (platform.GroupInfo, error)
}

// FromEvent builds a fact from a raw request event, or nil when the event is
// not a friend add or group invite.
func FromEvent(ctx context.Context, src InfoSource, ev platform.Event) (Request, error) {
	if ev.PostType() != "request" {
		return nil, nil
	}

	switch ev.Str("request_type") {
	case "friend":
		userID := ev.Int("user_id")
		nickname := unknownNickname
		if info, err := src.GetStrangerInfo(ctx, userID); err == nil && info.Nickname != "" {
			nickname = info.Nickname
		}
		return &Friend{
			Nickname: nickname,
			UserID:   ev.Str("user_id"),
			Flag:     ev.Str("flag"),
			Comment:  orDefault(ev.Str("comment")),
		}, nil

	case "group":
		if ev.Str("sub_type") != "invite" {
			return nil, nil
		}
		inviterID := ev.Int("user_id")
		groupID := ev.Int("group_id")

		nickname := unknownNickname
		if info, err := src.GetStrangerInfo(ctx, inviterID); err == nil && info.Nickname != "" {
			nickname = info.Nickname
		}
		groupName := unknownGroup
		if info, err := src.GetGroupInfo(ctx, groupID, false); err == nil && info.GroupName != "" {
			groupName = info.GroupName
		}
		return &GroupInvite{
			InviterNickname: nickname,
			InviterID:       ev.Str("user_id"),
			GroupName:       groupName,
			GroupID:         ev.Str("group_id"),
			Flag:            ev.Str("flag"),
			Comment:         orDefault(ev.Str("comment")),
		}, nil
	}
	return nil, nil
}

func orDefault(comment string) string {
	if comment == "" {
		return defaultComment
	}
	return comment
}
