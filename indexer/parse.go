package indexer

import (
	"fmt"

	"github.com/AshFrancis/zkvote-relayer/soroban"
	"github.com/AshFrancis/zkvote-relayer/store"
)

// kindNames translates contract event symbols to canonical kinds. Symbols
// outside the table pass through verbatim so new contract versions degrade
// to opaque rows instead of dropped ones.
var kindNames = map[string]string{
	"org_created":      store.KindOrgCreate,
	"member_added":     store.KindMemberAdd,
	"member_revoked":   store.KindMemberRevoke,
	"member_joined":    store.KindMemberJoin,
	"member_left":      store.KindMemberLeave,
	"proposal_created": store.KindProposalCreate,
	"proposal_closed":  store.KindProposalClose,
	"vote_cast":        store.KindVoteCast,
	"comment_added":    store.KindCommentAdd,
}

type parsedEvent struct {
	Kind    string
	OrgID   uint64
	Payload map[string]any
}

// parseRawEvent maps one contract event into a store row: topic[0] is the
// kind symbol, topic[1] (when numeric) is the organization id, and the value
// becomes the opaque payload.
func parseRawEvent(raw soroban.RawEvent) (*parsedEvent, error) {
	if len(raw.Topics) == 0 {
		return nil, fmt.Errorf("event has no topics")
	}

	symbol, ok := soroban.ScValString(raw.Topics[0])
	if !ok {
		return nil, fmt.Errorf("first topic is not a symbol")
	}

	kind := symbol
	if canonical, ok := kindNames[symbol]; ok {
		kind = canonical
	}

	var orgID uint64
	if len(raw.Topics) > 1 {
		if id, ok := soroban.ScValUint64(raw.Topics[1]); ok {
			orgID = id
		}
	}

	payload := map[string]any{}
	switch value := soroban.ScValToAny(raw.Value).(type) {
	case nil:
	case map[string]any:
		payload = value
	default:
		payload["value"] = value
	}

	return &parsedEvent{Kind: kind, OrgID: orgID, Payload: payload}, nil
}
