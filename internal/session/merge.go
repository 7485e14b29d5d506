package session

import (
	"studychat/internal/metrics"
	"studychat/internal/models"
)

// mergeLocked folds one message into the sequence. Duplicates are
// detected by id in O(1); a duplicate may still carry newer deletion
// state, which is kept. Returns true when the message was appended.
// Caller holds s.mu.
func (s *Session) mergeLocked(msg *models.Message) bool {
	if idx, ok := s.index[msg.ID]; ok {
		s.registry.IncrementCounter(metrics.DuplicatesDiscarded)
		if msg.IsDeleted && !s.messages[idx].IsDeleted {
			s.messages[idx].IsDeleted = true
		}
		return false
	}

	msg.ResolveDirection(s.opts.LocalUserID)

	// A delete can race ahead of the message it targets; the parked
	// scope applies the moment the message shows up.
	if scope, pending := s.pendingDeletes[msg.ID]; pending {
		delete(s.pendingDeletes, msg.ID)
		if scope == models.DeleteScopeMe {
			// Hidden for this user; never enters the sequence.
			return false
		}
		msg.IsDeleted = true
	}

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.registry.IncrementCounter(metrics.MessagesMerged)
	return true
}

// resolveAckLocked swaps the optimistic placeholder for the backend
// acknowledgement in place, preserving position. When the push echo
// already delivered the server id, the placeholder is dropped instead
// so exactly one bubble survives the race. Caller holds s.mu.
func (s *Session) resolveAckLocked(localID string, ack *models.Message) {
	idx, ok := s.index[localID]
	if !ok {
		// Placeholder already gone; treat the ack as a fresh merge.
		s.mergeLocked(ack)
		return
	}

	if _, echoed := s.index[ack.ID]; echoed {
		s.removeAtLocked(idx)
		s.registry.IncrementCounter(metrics.AcksResolved)
		return
	}

	ack.ResolveDirection(s.opts.LocalUserID)
	ack.Pending = false
	s.messages[idx] = ack
	delete(s.index, localID)
	s.index[ack.ID] = idx

	if scope, pending := s.pendingDeletes[ack.ID]; pending {
		delete(s.pendingDeletes, ack.ID)
		if scope == models.DeleteScopeMe {
			s.removeAtLocked(idx)
		} else {
			ack.IsDeleted = true
		}
	}
	s.registry.IncrementCounter(metrics.AcksResolved)
}

// applyDeleteLocked applies a deletion event. Delete-for-everyone turns
// the entry into a tombstone that keeps its slot; delete-for-me removes
// it outright. An unknown id parks the scope until the message arrives.
// Returns true when a present message was affected. Caller holds s.mu.
func (s *Session) applyDeleteLocked(messageID string, scope models.DeleteScope) bool {
	idx, ok := s.index[messageID]
	if !ok {
		s.pendingDeletes[messageID] = scope
		s.registry.IncrementCounter(metrics.DeletesDeferred)
		return false
	}

	if scope == models.DeleteScopeMe {
		s.removeAtLocked(idx)
	} else {
		s.messages[idx].IsDeleted = true
	}
	s.registry.IncrementCounter(metrics.DeletesApplied)
	return true
}

// markSendFailedLocked flags the optimistic entry so the UI can offer a
// retry. The request stays in pendingSends for RetrySend. Caller holds
// s.mu.
func (s *Session) markSendFailedLocked(localID string) {
	idx, ok := s.index[localID]
	if !ok {
		return
	}
	s.messages[idx].Pending = false
	s.messages[idx].Failed = true
}

// removeAtLocked deletes the entry at idx and reindexes everything
// after it. Caller holds s.mu.
func (s *Session) removeAtLocked(idx int) {
	removed := s.messages[idx]
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	delete(s.index, removed.ID)
	for i := idx; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}
