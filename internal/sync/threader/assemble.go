package threader

// phaseEAssembleThreads collects roots and runs an iterative DFS from
// each to produce one ThreadInfo per root (spec §4.6 Phase E). Roots
// are processed in parallel; each DFS reads the (now frozen) container
// graph immutably.
func phaseEAssembleThreads(graph *containerGraph) []ThreadInfo {
	roots := collectRoots(graph)

	results := make([]*ThreadInfo, len(roots))
	forEachParallel(len(roots), func(i int) {
		results[i] = assembleThread(roots[i])
	})

	out := make([]ThreadInfo, 0, len(roots))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func collectRoots(graph *containerGraph) []*container {
	graph.mu.Lock()
	defer graph.mu.Unlock()
	var roots []*container
	for _, c := range graph.byMessage {
		if c.parent == nil {
			roots = append(roots, c)
		}
	}
	return roots
}

// dfsFrame is one stack entry for the iterative DFS traversals below;
// depth is the frame's depth and childIdx tracks resumption point.
type dfsFrame struct {
	node     *container
	depth    int
	childIdx int
}

// assembleThread runs the iterative DFS from root, producing a
// ThreadInfo. If root is a phantom, the DFS first locates the earliest
// real descendant to use as thread identity and starts member
// collection at depth -1 so direct real children land at depth 0 (spec
// §4.6 Phase E). Returns nil if a phantom root has no real descendant
// at all (nothing to thread).
func assembleThread(root *container) *ThreadInfo {
	startDepth := 0
	identity := root
	if root.isPhantom() {
		real := findFirstRealDescendant(root)
		if real == nil {
			return nil
		}
		identity = real
		startDepth = -1
	}

	info := &ThreadInfo{
		RootMessageID: identity.messageID,
		Subject:       identity.email.Subject,
	}

	first := true
	stack := []dfsFrame{{node: root, depth: startDepth}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.childIdx == 0 && !top.node.isPhantom() {
			e := top.node.email
			info.Members = append(info.Members, MemberDepth{EmailID: e.EmailID, Depth: top.depth})
			if first || e.Date.Before(info.StartDate) {
				info.StartDate = e.Date
			}
			if first || e.Date.After(info.LastDate) {
				info.LastDate = e.Date
			}
			first = false
		}

		if top.childIdx < len(top.node.children) {
			child := top.node.children[top.childIdx]
			top.childIdx++
			// Depth only advances on a hop into a real container;
			// a run of phantom steps is invisible to depth, so a
			// real email's depth equals its nearest real ancestor's
			// depth + 1 however many phantoms lie between them.
			childDepth := top.depth
			if !child.isPhantom() {
				childDepth++
			}
			stack = append(stack, dfsFrame{node: child, depth: childDepth})
			continue
		}

		stack = stack[:len(stack)-1]
	}

	return info
}

// findFirstRealDescendant performs an iterative DFS from root looking
// for the first real container in stored child order (spec §4.6 Phase
// E, "first real descendant").
func findFirstRealDescendant(root *container) *container {
	stack := []*container{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !n.isPhantom() && n != root {
			return n
		}
		// Push children in reverse so they pop in original order.
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return nil
}
