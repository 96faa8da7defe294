package memberlist

import "github.com/oldcordapp/realtime/internal/core/domain"

// diffMember computes the incremental ops that move the old flat list to
// the new one when a single member's entry moved, appeared, disappeared or
// changed in place. The ops are generated against a working copy that each
// op is applied to as soon as it is emitted, so replaying them in order on
// the old list reproduces the new list exactly.
func diffMember(oldList, newList []domain.ListItem, userID domain.UserID) []domain.ListOp {
	oldIdx := findMember(oldList, userID)
	newIdx := findMember(newList, userID)
	if oldIdx < 0 && newIdx < 0 {
		return nil
	}

	// A member whose index did not move changed in place (status or game
	// flip inside its own group). A single UPDATE covers it, provided the
	// rest of the list is untouched.
	if oldIdx >= 0 && oldIdx == newIdx && equalExceptIndex(oldList, newList, oldIdx) {
		item := newList[newIdx]
		return []domain.ListOp{{Op: domain.ListOpUpdate, Index: newIdx, Item: &item}}
	}

	work := make([]domain.ListItem, len(oldList))
	copy(work, oldList)
	var ops []domain.ListOp

	emit := func(op domain.ListOp) {
		ops = append(ops, op)
		switch op.Op {
		case domain.ListOpDelete:
			work = append(work[:op.Index], work[op.Index+1:]...)
		case domain.ListOpInsert:
			work = append(work, domain.ListItem{})
			copy(work[op.Index+1:], work[op.Index:])
			work[op.Index] = *op.Item
		case domain.ListOpUpdate:
			work[op.Index] = *op.Item
		}
	}

	if oldIdx >= 0 {
		idx := findMember(work, userID)
		markerIdx := precedingGroup(work, idx)
		groupID := work[markerIdx].Group.ID
		emit(domain.ListOp{Op: domain.ListOpDelete, Index: idx})
		if count, ok := groupCount(newList, groupID); !ok {
			// The member was the last of its group: the marker goes too.
			emit(domain.ListOp{Op: domain.ListOpDelete, Index: markerIdx})
		} else if work[markerIdx].Group.Count != count {
			marker := domain.ListItem{Group: &domain.GroupItem{ID: groupID, Count: count}}
			emit(domain.ListOp{Op: domain.ListOpUpdate, Index: markerIdx, Item: &marker})
		}
	}

	if newIdx >= 0 {
		markerNew := precedingGroup(newList, newIdx)
		groupID := newList[markerNew].Group.ID
		count, _ := groupCount(newList, groupID)
		if gIdx := findGroup(work, groupID); gIdx < 0 {
			marker := domain.ListItem{Group: &domain.GroupItem{ID: groupID, Count: count}}
			emit(domain.ListOp{Op: domain.ListOpInsert, Index: markerNew, Item: &marker})
		} else if work[gIdx].Group.Count != count {
			marker := domain.ListItem{Group: &domain.GroupItem{ID: groupID, Count: count}}
			emit(domain.ListOp{Op: domain.ListOpUpdate, Index: gIdx, Item: &marker})
		}
		item := newList[newIdx]
		emit(domain.ListOp{Op: domain.ListOpInsert, Index: newIdx, Item: &item})
	}

	return ops
}

func findMember(list []domain.ListItem, userID domain.UserID) int {
	for i, item := range list {
		if item.Member != nil && item.Member.UserID == userID {
			return i
		}
	}
	return -1
}

func findGroup(list []domain.ListItem, id string) int {
	for i, item := range list {
		if item.Group != nil && item.Group.ID == id {
			return i
		}
	}
	return -1
}

// precedingGroup returns the index of the nearest group marker at or before
// idx. Flat lists always open with a marker, so the scan terminates.
func precedingGroup(list []domain.ListItem, idx int) int {
	for i := idx; i >= 0; i-- {
		if list[i].IsGroup() {
			return i
		}
	}
	return -1
}

func groupCount(list []domain.ListItem, id string) (int, bool) {
	if i := findGroup(list, id); i >= 0 {
		return list[i].Group.Count, true
	}
	return 0, false
}

// equalExceptIndex reports whether two lists of equal length match item for
// item everywhere but the given index.
func equalExceptIndex(a, b []domain.ListItem, idx int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if i == idx {
			continue
		}
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
