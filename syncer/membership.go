package syncer

// MembershipSnapshot is an immutable view of every org's member set and
// admin. Loops build a fresh snapshot and swap the pointer; readers never
// observe a partial update.
type MembershipSnapshot struct {
	members map[uint64]map[string]struct{}
	admins  map[uint64]string
}

func emptySnapshot() *MembershipSnapshot {
	return &MembershipSnapshot{
		members: map[uint64]map[string]struct{}{},
		admins:  map[uint64]string{},
	}
}

// clone copies the snapshot's top-level maps. Member sets themselves are
// replaced wholesale on update, so sharing them between generations is safe.
func (m *MembershipSnapshot) clone() *MembershipSnapshot {
	next := &MembershipSnapshot{
		members: make(map[uint64]map[string]struct{}, len(m.members)),
		admins:  make(map[uint64]string, len(m.admins)),
	}
	for id, set := range m.members {
		next.members[id] = set
	}
	for id, admin := range m.admins {
		next.admins[id] = admin
	}
	return next
}

func (m *MembershipSnapshot) totalMembers() int {
	n := 0
	for _, set := range m.members {
		n += len(set)
	}
	return n
}

// Snapshot returns the current membership view.
func (s *Syncer) Snapshot() *MembershipSnapshot {
	return s.members.Load()
}

// IsMember reports whether addr is in the cached member set of an org.
func (m *MembershipSnapshot) IsMember(orgID uint64, addr string) bool {
	set, ok := m.members[orgID]
	if !ok {
		return false
	}
	_, ok = set[addr]
	return ok
}

// Members returns the cached member addresses of an org; ok is false when
// the org has not been synced yet.
func (m *MembershipSnapshot) Members(orgID uint64) ([]string, bool) {
	set, ok := m.members[orgID]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	return out, true
}

// Admin returns the cached admin address of an org.
func (m *MembershipSnapshot) Admin(orgID uint64) (string, bool) {
	admin, ok := m.admins[orgID]
	return admin, ok
}

// MemberCount returns the cached member set size of an org.
func (m *MembershipSnapshot) MemberCount(orgID uint64) int {
	return len(m.members[orgID])
}
