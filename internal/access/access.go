// Package access holds the pure authorization rules for conversations and
// messages. Decisions are computed over state the caller has already loaded;
// nothing here touches the store, so the rules are trivially testable and the
// caller controls the not-found vs forbidden distinction: load the target
// first (unknown id is not-found), then ask access (denied is forbidden).
package access

import "github.com/google/uuid"

// Requester is the resolved caller identity for a single request.
type Requester struct {
	ID    uuid.UUID
	Admin bool
}

// IsParticipant reports whether the requester is in the given participant set.
func (r Requester) IsParticipant(participantIDs []uuid.UUID) bool {
	for _, id := range participantIDs {
		if id == r.ID {
			return true
		}
	}
	return false
}

// CanViewConversation permits participants and admins.
func CanViewConversation(r Requester, participantIDs []uuid.UUID) bool {
	return r.Admin || r.IsParticipant(participantIDs)
}

// CanMutateConversation permits the same set as CanViewConversation:
// participants manage their own conversations, admins may intervene.
func CanMutateConversation(r Requester, participantIDs []uuid.UUID) bool {
	return CanViewConversation(r, participantIDs)
}

// CanSendMessage permits current participants only. The admin role alone does
// not grant the right to speak in a conversation the admin is not part of.
func CanSendMessage(r Requester, participantIDs []uuid.UUID) bool {
	return r.IsParticipant(participantIDs)
}

// CanModifyMessage permits the message's sender and admins. Covers both body
// updates and deletion.
func CanModifyMessage(r Requester, senderID uuid.UUID) bool {
	return r.Admin || r.ID == senderID
}

// CanViewMessage delegates to the parent conversation's view rule.
func CanViewMessage(r Requester, conversationParticipantIDs []uuid.UUID) bool {
	return CanViewConversation(r, conversationParticipantIDs)
}
