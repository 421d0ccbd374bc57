package store

// Canonical event kinds. Contract events whose symbol is not in the
// translation table keep their raw symbol, so this set is closed but the
// column is not.
const (
	KindOrgCreate      = "organization-create"
	KindMemberAdd      = "member-add"
	KindMemberRevoke   = "member-revoke"
	KindMemberJoin     = "member-join"
	KindMemberLeave    = "member-leave"
	KindProposalCreate = "proposal-create"
	KindProposalClose  = "proposal-close"
	KindVoteCast       = "vote-cast"
	KindCommentAdd     = "comment-add"
)

// IsMembershipKind reports whether verifying an event of this kind should
// trigger a membership refresh for its organization.
func IsMembershipKind(kind string) bool {
	switch kind {
	case KindMemberAdd, KindMemberRevoke, KindMemberJoin, KindMemberLeave:
		return true
	default:
		return false
	}
}
