package notice

import "qq_relation_bot/platform"

// Notice is a normalized admin/mute/kick/invite fact.
type Notice struct {
	PostType   string
	NoticeType string
	SubType    string

	UserID     string
	SelfID     string
	GroupID    string
	OperatorID string

	// Duration is the mute length in seconds; zero means lifted.
	Duration int64
}

func FromEvent(ev platform.Event) Notice {
	return Notice{
		PostType:   ev.Str("post_type"),
		NoticeType: ev.Str("notice_type"),
		SubType:    ev.Str("sub_type"),
		UserID:     ev.Str("user_id"),
		SelfID:     ev.Str("self_id"),
		GroupID:    ev.Str("group_id"),
		OperatorID: ev.Str("operator_id"),
		Duration:   ev.Int("duration"),
	}
}

// ConcernsSelf reports whether the notice is about the bot itself and was not
// triggered by the bot's own action.
func (n Notice) ConcernsSelf() bool {
	return n.PostType == "notice" && n.UserID == n.SelfID && n.OperatorID != n.SelfID
}
