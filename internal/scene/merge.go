package scene

// Element is one drawable item in a scene body. The server treats elements as
// opaque JSON objects keyed by their "id" field; element content is validated
// before it reaches the merge engine, never inside it.
type Element map[string]any

// ID returns the element's id field, or "" when it is missing or not a string.
func (e Element) ID() string {
	id, _ := e["id"].(string)
	return id
}

// MergeElements reconciles a client's partial view of a scene against the
// stored elements. Upserts replace whole elements by id (no field-level
// merging), deletes are applied last so a delete beats an upsert for the same
// id within one call. Returns a fresh slice; existing is never mutated.
//
// Merge order for existing duplicates is last-write-wins — the drawing format
// tracks z-order on each element itself, so collection order carries no
// meaning.
func MergeElements(existing, upserts []Element, deleteIDs []string) []Element {
	byID := make(map[string]Element, len(existing)+len(upserts))
	order := make([]string, 0, len(existing)+len(upserts))

	place := func(element Element) {
		id := element.ID()
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = element
	}

	for _, element := range existing {
		place(element)
	}
	for _, element := range upserts {
		place(element)
	}
	for _, id := range deleteIDs {
		delete(byID, id)
	}

	merged := make([]Element, 0, len(byID))
	for _, id := range order {
		if element, ok := byID[id]; ok {
			merged = append(merged, element)
		}
	}
	return merged
}
