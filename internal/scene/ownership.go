package scene

// Ref is the slice of a stored scene the ownership resolver needs. OwnerID ""
// means the scene is anonymous/unclaimed.
type Ref struct {
	ID      string
	OwnerID string
	Public  bool
}

// Access classifies what a requester may do with a scene.
type Access struct {
	Visible bool `json:"visible"`
	CanEdit bool `json:"canEdit"`
}

// CanModify reports whether the requester may mutate the scene: either their
// durable identity matches the owner, or the scene id appears in the
// session's ephemeral owned set. Both checks run every call — a scene should
// only ever be claimed by one mechanism, but the resolver does not assume
// that invariant holds.
func CanModify(ref Ref, userID string, sessionOwned []string) bool {
	owned := userID != "" && userID == ref.OwnerID
	for _, id := range sessionOwned {
		if id == ref.ID {
			return true
		}
	}
	return owned
}

// VisibilityFor reports whether the requester may read the scene and whether
// they may edit it. A private scene is visible only to someone who can modify
// it; callers must respond to an invisible scene exactly as they would to a
// nonexistent one.
func VisibilityFor(ref Ref, userID string, sessionOwned []string) Access {
	canEdit := CanModify(ref, userID, sessionOwned)
	return Access{
		Visible: ref.Public || canEdit,
		CanEdit: canEdit,
	}
}
