package syncer

import "github.com/AshFrancis/zkvote-relayer/store"

// OrgSnapshot is an immutable view of the registry's organizations as of the
// last sweep. Like the membership snapshot, it is replaced wholesale on
// update; readers never observe a partial sweep.
type OrgSnapshot struct {
	byID  map[uint64]store.Org
	order []uint64
}

func emptyOrgSnapshot() *OrgSnapshot {
	return &OrgSnapshot{byID: map[uint64]store.Org{}}
}

func newOrgSnapshot(orgs []store.Org) *OrgSnapshot {
	snap := &OrgSnapshot{
		byID:  make(map[uint64]store.Org, len(orgs)),
		order: make([]uint64, 0, len(orgs)),
	}
	for _, org := range orgs {
		if _, seen := snap.byID[org.ID]; !seen {
			snap.order = append(snap.order, org.ID)
		}
		snap.byID[org.ID] = org
	}
	return snap
}

// OrgsSnapshot returns the current organization view.
func (s *Syncer) OrgsSnapshot() *OrgSnapshot {
	return s.orgs.Load()
}

// Org returns a cached organization row.
func (o *OrgSnapshot) Org(id uint64) (store.Org, bool) {
	org, ok := o.byID[id]
	return org, ok
}

// Orgs returns every cached organization in registry order.
func (o *OrgSnapshot) Orgs() []store.Org {
	out := make([]store.Org, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.byID[id])
	}
	return out
}

// Len returns the number of cached organizations.
func (o *OrgSnapshot) Len() int {
	return len(o.byID)
}
