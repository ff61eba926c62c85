package bptree

import "github.com/coursedb/indexlayer/common"

// CheckResult reports the outcome of a full integrity pass, following
// the diagnostics the source's Check()/isPageCorr()/isBalanced() emit:
// size/ordering violations, depth imbalance, and leaked pins. Keys are
// not compared against the separators in their parent page, so a
// separator mismatch is not reported. Production code never calls Check on its hot path; it
// exists for tests to assert the tree's invariants hold after a
// sequence of structural operations.
type CheckResult struct {
	OK            bool
	SizeOrOrderOK bool
	BalancedOK    bool
	AllUnpinnedOK bool
	Violations    []string
}

// Check walks the whole tree verifying every invariant in one pass.
func (t *Tree) Check() (CheckResult, error) {
	var res CheckResult

	if t.IsEmpty() {
		res.OK = true
		res.SizeOrOrderOK = true
		res.BalancedOK = true
		res.AllUnpinnedOK = t.bpm.CheckAllUnpinned()
		if !res.AllUnpinnedOK {
			res.Violations = append(res.Violations, "pages remain pinned on an empty tree")
		}
		res.OK = res.AllUnpinnedOK
		return res, nil
	}

	rootID := t.RootPageID()

	sizeOrderOK, violations, err := t.checkPageCorrectness(rootID, true)
	if err != nil {
		return res, err
	}
	res.SizeOrOrderOK = sizeOrderOK
	res.Violations = append(res.Violations, violations...)

	depth, balanced, err := t.checkBalanced(rootID)
	if err != nil {
		return res, err
	}
	_ = depth
	res.BalancedOK = balanced
	if !balanced {
		res.Violations = append(res.Violations, "tree is not balanced: leaves at differing depths")
	}

	res.AllUnpinnedOK = t.bpm.CheckAllUnpinned()
	if !res.AllUnpinnedOK {
		res.Violations = append(res.Violations, "pages remain pinned after Check")
	}

	res.OK = res.SizeOrOrderOK && res.BalancedOK && res.AllUnpinnedOK
	return res, nil
}

// Stats reports the tree's current shape: key count, page count, height,
// and root page id, paralleling extendiblehash.ExtendibleHash.Stats. Like
// Check, it is meant for diagnostics between operations, not the hot path.
func (t *Tree) Stats() (common.Stats, error) {
	if t.IsEmpty() {
		return common.Stats{RootPage: common.InvalidPageID}, nil
	}

	rootID := t.RootPageID()
	numKeys, numPages, height, err := t.walkStats(rootID)
	if err != nil {
		return common.Stats{}, err
	}
	return common.Stats{
		NumKeys:  numKeys,
		NumPages: numPages,
		Height:   height,
		RootPage: rootID,
	}, nil
}

// walkStats recurses the tree the way checkBalanced does, accumulating
// the leaf key count and total page count alongside the depth.
func (t *Tree) walkStats(pageID common.PageID) (numKeys int64, numPages int, height int, err error) {
	raw, err := t.bpm.FetchPage(pageID)
	if err != nil {
		return 0, 0, 0, err
	}
	defer func() { _ = t.bpm.UnpinPage(pageID, false) }()

	tp := treePage{raw: raw}
	if tp.IsLeafPage() {
		lp := newLeafPage(raw)
		return int64(lp.Size()), 1, 1, nil
	}

	ip := newInternalPage(raw)
	var keys int64
	pages := 1
	var childHeight int
	for i := 0; i < ip.Size(); i++ {
		k, p, h, err := t.walkStats(ip.ValueAt(i))
		if err != nil {
			return 0, 0, 0, err
		}
		keys += k
		pages += p
		childHeight = h
	}
	return keys, pages, childHeight + 1, nil
}

// checkBalanced returns the subtree's leaf depth and whether every leaf
// beneath pageID sits at the same depth, recursing the way the
// source's isBalanced does (a leaf has depth 0; an internal page's
// depth is 1 + its children's depth, which must all agree).
func (t *Tree) checkBalanced(pageID common.PageID) (depth int, balanced bool, err error) {
	raw, err := t.bpm.FetchPage(pageID)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = t.bpm.UnpinPage(pageID, false) }()

	tp := treePage{raw: raw}
	if tp.IsLeafPage() {
		return 0, true, nil
	}

	ip := newInternalPage(raw)
	childDepth := -1
	for i := 0; i < ip.Size(); i++ {
		d, ok, err := t.checkBalanced(ip.ValueAt(i))
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if childDepth == -1 {
			childDepth = d
		} else if childDepth != d {
			return 0, false, nil
		}
	}
	return childDepth + 1, true, nil
}

// checkPageCorrectness recurses the tree verifying, at every page: the
// size is within [min_size, max_size] (root exempt) and keys are strictly
// increasing. A child's keys are not checked against its separator in
// the parent.
func (t *Tree) checkPageCorrectness(pageID common.PageID, isRoot bool) (ok bool, violations []string, err error) {
	raw, err := t.bpm.FetchPage(pageID)
	if err != nil {
		return false, nil, err
	}
	defer func() { _ = t.bpm.UnpinPage(pageID, false) }()

	tp := treePage{raw: raw}
	ok = true

	if !isRoot {
		if tp.Size() < tp.MinSize() || tp.Size() > tp.MaxSize() {
			ok = false
			violations = append(violations, "page size out of [min_size, max_size] range")
		}
	}

	if tp.IsLeafPage() {
		lp := newLeafPage(raw)
		for i := 1; i < lp.Size(); i++ {
			if t.cmp(lp.KeyAt(i-1), lp.KeyAt(i)) >= 0 {
				ok = false
				violations = append(violations, "leaf keys not strictly increasing")
				break
			}
		}
		return ok, violations, nil
	}

	ip := newInternalPage(raw)
	for i := 1; i < ip.Size(); i++ {
		if t.cmp(ip.KeyAt(i-1), ip.KeyAt(i)) >= 0 {
			ok = false
			violations = append(violations, "internal separators not strictly increasing")
			break
		}
	}
	for i := 0; i < ip.Size(); i++ {
		childOK, childViolations, err := t.checkPageCorrectness(ip.ValueAt(i), false)
		if err != nil {
			return false, nil, err
		}
		ok = ok && childOK
		violations = append(violations, childViolations...)
	}
	return ok, violations, nil
}
