package forward

import (
	"context"

	"go.uber.org/zap"

	"qq_relation_bot/platform"
)

// History is the protocol surface the sampler consumes.
type History interface {
	GetGroupMsgHistory(ctx context.Context, groupID int64, count int) ([]platform.HistoryMessage, error)
	GetFriendMsgHistory(ctx context.Context, userID int64, count int) ([]platform.HistoryMessage, error)
	SendGroupForward(ctx context.Context, groupID int64, nodes []platform.ForwardNode) error
	SendPrivateForward(ctx context.Context, userID int64, nodes []platform.ForwardNode) error
}

// Sampler fetches recent message history from a group or user and re-emits it
// as a forwarded digest to a review destination.
type Sampler struct {
	client History
	log    *zap.Logger
}

func NewSampler(client History, log *zap.Logger) *Sampler {
	return &Sampler{client: client, log: log}
}

// SampleTo forwards up to count recent messages from src to dest, batchSize
// messages per forward call (0 means a single batch). Returns false when no
// history was available; a failed batch is logged and does not stop the rest.
func (s *Sampler) SampleTo(ctx context.Context, src, dest platform.Target, count, batchSize int) bool {
	msgs := s.history(ctx, src, count)
	if len(msgs) == 0 {
		return false
	}

	nodes := make([]platform.ForwardNode, 0, len(msgs))
	for _, m := range msgs {
		nodes = append(nodes, platform.NewForwardNode(m.Sender.Nickname, m.Sender.UserID, m.Message))
	}

	if batchSize <= 0 {
		batchSize = len(nodes)
	}

	for i := 0; i < len(nodes); i += batchSize {
		end := i + batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := s.send(ctx, dest, nodes[i:end]); err != nil {
			s.log.Warn("forward batch failed",
				zap.Int("batch", i/batchSize+1),
				zap.Error(err))
			continue
		}
		s.log.Debug("forward batch sent", zap.Int("batch", i/batchSize+1))
	}
	return true
}

func (s *Sampler) history(ctx context.Context, src platform.Target, count int) []platform.HistoryMessage {
	switch {
	case src.GroupID != 0:
		msgs, err := s.client.GetGroupMsgHistory(ctx, src.GroupID, count)
		if err != nil {
			s.log.Warn("get group history failed", zap.Int64("group_id", src.GroupID), zap.Error(err))
			return nil
		}
		return msgs
	case src.UserID != 0:
		msgs, err := s.client.GetFriendMsgHistory(ctx, src.UserID, count)
		if err != nil {
			s.log.Warn("get friend history failed", zap.Int64("user_id", src.UserID), zap.Error(err))
			return nil
		}
		return msgs
	default:
		return nil
	}
}

func (s *Sampler) send(ctx context.Context, dest platform.Target, nodes []platform.ForwardNode) error {
	if dest.GroupID != 0 {
		return s.client.SendGroupForward(ctx, dest.GroupID, nodes)
	}
	return s.client.SendPrivateForward(ctx, dest.UserID, nodes)
}
