// internal/dating/matching.go
// Match coordination: like, approve and reject with real-time notification

package dating

import "context"

// Like records subject's interest in target. A like on someone who already
// liked the subject creates the match and notifies both. A first like
// notifies the target. Repeating a like changes nothing.
func (s *Service) Like(ctx context.Context, subjectID, targetID int64) (*LikeResult, error) {
	res, err := s.like(ctx, subjectID, targetID)
	if err == nil {
		likesTotal.WithLabelValues("like", string(res.State)).Inc()
	}
	return res, err
}

func (s *Service) like(ctx context.Context, subjectID, targetID int64) (*LikeResult, error) {
	if subjectID == targetID {
		return nil, ErrCannotLikeSelf
	}
	subject, target, err := s.loadPair(ctx, subjectID, targetID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.users.RecordLike(ctx, subjectID, targetID)
	if err != nil {
		return nil, err
	}

	res := &LikeResult{UserID: subjectID, TargetID: targetID, MatchCreated: outcome.MatchCreated}
	switch {
	case outcome.Mutual:
		res.State = StateApproved
		if outcome.MatchCreated {
			matchesTotal.Inc()
			s.notify(ctx, NewEvent(EventMatchConfirmed, subjectID, targetID, res))
			s.notify(ctx, NewEvent(EventMatchConfirmed, targetID, subjectID, res))
			s.learn(ctx, subject, target, true)
			s.log.Info("match created", "user_id", subjectID, "target_id", targetID)
		}

	case outcome.Created:
		res.State = StatePending
		s.notify(ctx, NewEvent(EventMatchRequested, targetID, subjectID, res))

	default:
		state, err := s.State(ctx, subjectID, targetID)
		if err != nil {
			return nil, err
		}
		res.State = state
	}
	return res, nil
}

// Approve accepts requester's pending like by liking back
func (s *Service) Approve(ctx context.Context, approverID, requesterID int64) (*LikeResult, error) {
	if approverID == requesterID {
		return nil, ErrCannotLikeSelf
	}
	rel, err := s.users.Relationship(ctx, requesterID, approverID)
	if err != nil {
		return nil, err
	}
	if stateOf(rel) != StatePending {
		return nil, ErrNoPendingRequest
	}

	res, err := s.like(ctx, approverID, requesterID)
	if err == nil {
		likesTotal.WithLabelValues("approve", string(res.State)).Inc()
	}
	return res, err
}

// Reject declines requester's pending like. The requester is told and the
// pair is recorded as a failed match.
func (s *Service) Reject(ctx context.Context, rejecterID, requesterID int64) (*LikeResult, error) {
	if rejecterID == requesterID {
		return nil, ErrCannotLikeSelf
	}
	requester, rejecter, err := s.loadPair(ctx, requesterID, rejecterID)
	if err != nil {
		return nil, err
	}

	ok, err := s.users.RejectLike(ctx, rejecterID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPendingRequest
	}

	res := &LikeResult{UserID: rejecterID, TargetID: requesterID, State: StateRejected}
	s.notify(ctx, NewEvent(EventMatchRejected, requesterID, rejecterID, res))
	s.learn(ctx, requester, rejecter, false)
	likesTotal.WithLabelValues("reject", string(res.State)).Inc()
	return res, nil
}

// State returns the state of a's like on b
func (s *Service) State(ctx context.Context, a, b int64) (MatchState, error) {
	rel, err := s.users.Relationship(ctx, a, b)
	if err != nil {
		return StateNone, err
	}
	return stateOf(rel), nil
}
