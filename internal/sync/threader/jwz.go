package threader

import (
	"sort"
	"time"
)

// Options controls optional threading behavior (spec §9 Open Question 3).
type Options struct {
	// SubjectFallbackEnabled toggles Phase D.
	SubjectFallbackEnabled bool
}

// ThreadInfo is one assembled conversation thread (spec §4.6 output).
type ThreadInfo struct {
	RootMessageID string
	Subject       string
	StartDate     time.Time
	LastDate      time.Time
	Members       []MemberDepth // order: DFS visitation order
}

// MemberDepth pairs an email with its depth from the thread root.
type MemberDepth struct {
	EmailID int32
	Depth   int
}

// BuildThreads runs the five JWZ phases over the given email/reference
// maps and returns one ThreadInfo per root (spec §4.6).
func BuildThreads(emails map[int32]EmailData, references map[int32][]string, opts Options) []ThreadInfo {
	graph := newContainerGraph()

	emailList := make([]EmailData, 0, len(emails))
	for _, e := range emails {
		emailList = append(emailList, e)
	}
	// Stable iteration order (by email_id) keeps Phase C/D's
	// first-applied-link tie-break deterministic. Phase B runs
	// data-parallel, so which of two conflicting reference links is
	// applied first (spec S3) depends on goroutine scheduling.
	sort.Slice(emailList, func(i, j int) bool { return emailList[i].EmailID < emailList[j].EmailID })

	phaseACreateContainers(graph, emailList, references)
	phaseBReferenceLinking(graph, emailList, references)
	phaseCInReplyToFallback(graph, emailList)
	if opts.SubjectFallbackEnabled {
		phaseDSubjectFallback(graph, emailList)
	}
	return phaseEAssembleThreads(graph)
}

// phaseACreateContainers creates a real container for every email and a
// phantom container for every referenced message_id not already present
// (spec §4.6 Phase A, data-parallel).
func phaseACreateContainers(graph *containerGraph, emailList []EmailData, references map[int32][]string) {
	forEachParallel(len(emailList), func(i int) {
		graph.setReal(emailList[i])
	})
	forEachParallel(len(emailList), func(i int) {
		for _, ref := range references[emailList[i].EmailID] {
			graph.getOrCreatePhantom(ref)
		}
	})
}

// phaseBReferenceLinking links the reference chain for each email (spec
// §4.6 Phase B, data-parallel over emails).
func phaseBReferenceLinking(graph *containerGraph, emailList []EmailData, references map[int32][]string) {
	forEachParallel(len(emailList), func(i int) {
		e := emailList[i]
		refs := references[e.EmailID]
		if len(refs) == 0 {
			return
		}

		self, ok := graph.get(e.MessageID)
		if !ok {
			return
		}

		for idx := 1; idx < len(refs); idx++ {
			parent, ok := graph.get(refs[idx-1])
			if !ok {
				continue
			}
			child, ok := graph.get(refs[idx])
			if !ok {
				continue
			}
			graph.link(child, parent)
		}

		lastParent, ok := graph.get(refs[len(refs)-1])
		if !ok {
			return
		}
		graph.link(self, lastParent)
	})
}

// phaseCInReplyToFallback links any still-parentless email to its
// in_reply_to target, if known (spec §4.6 Phase C, sequential).
func phaseCInReplyToFallback(graph *containerGraph, emailList []EmailData) {
	for _, e := range emailList {
		if e.InReplyTo == nil {
			continue
		}
		self, ok := graph.get(e.MessageID)
		if !ok || self.parent != nil {
			continue
		}
		parent, ok := graph.get(*e.InReplyTo)
		if !ok {
			continue
		}
		graph.link(self, parent)
	}
}

// phaseDSubjectFallback links any still-parentless email with a
// non-empty normalized subject to the earliest-dated real email sharing
// that subject with a strictly earlier date (spec §4.6 Phase D). Builds
// a subject index once up front rather than rescanning per candidate
// (mirrors original_source/threading/subject_matching.rs).
func phaseDSubjectFallback(graph *containerGraph, emailList []EmailData) {
	bySubject := make(map[string][]EmailData)
	for _, e := range emailList {
		if e.NormalizedSubject == "" {
			continue
		}
		bySubject[e.NormalizedSubject] = append(bySubject[e.NormalizedSubject], e)
	}
	for subject, group := range bySubject {
		sort.Slice(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })
		bySubject[subject] = group
	}

	for _, e := range emailList {
		if e.NormalizedSubject == "" {
			continue
		}
		self, ok := graph.get(e.MessageID)
		if !ok || self.parent != nil {
			continue
		}

		for _, candidate := range bySubject[e.NormalizedSubject] {
			if !candidate.Date.Before(e.Date) {
				continue
			}
			if candidate.MessageID == e.MessageID {
				continue
			}
			parent, ok := graph.get(candidate.MessageID)
			if !ok {
				continue
			}
			if graph.link(self, parent) {
				break
			}
		}
	}
}
