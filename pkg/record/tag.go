package record

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// NormalizeTagName reduces a tag display name to its deduplication key:
// lowercased, with whitespace and punctuation stripped. "React", "react"
// and "re-act" all normalize to "react".
func NormalizeTagName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MergeTags merges two tag records that dedupe to the same normalized name.
// The result unions both source-entry-id sets, keeps the payload (display
// name, category) of whichever side has the greater LastModified, and keeps
// the identity of a. Deterministic: on a timestamp tie a's payload wins.
func MergeTags(a, b Record) (Record, error) {
	pa, err := a.DecodeTag()
	if err != nil {
		return Record{}, err
	}
	pb, err := b.DecodeTag()
	if err != nil {
		return Record{}, err
	}
	if NormalizeTagName(pa.Name) != NormalizeTagName(pb.Name) {
		return Record{}, fmt.Errorf("cannot merge tags %q and %q: normalized names differ", pa.Name, pb.Name)
	}

	merged := *pa
	if b.LastModified > a.LastModified {
		merged.Name = pb.Name
		merged.Category = pb.Category
	}
	merged.EntryIDs = unionIDs(pa.EntryIDs, pb.EntryIDs)

	ts := a.LastModified
	if b.LastModified > ts {
		ts = b.LastModified
	}

	return New(KindTag, a.ID, &merged, ts)
}

// unionIDs unions two id slices, deduplicated and sorted for determinism.
func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ContainsEntry reports whether the tag references the given entry id.
func (p *TagPayload) ContainsEntry(entryID string) bool {
	for _, id := range p.EntryIDs {
		if id == entryID {
			return true
		}
	}
	return false
}

// RemoveEntry returns the source set with entryID removed, preserving order.
func (p *TagPayload) RemoveEntry(entryID string) []string {
	out := make([]string, 0, len(p.EntryIDs))
	for _, id := range p.EntryIDs {
		if id != entryID {
			out = append(out, id)
		}
	}
	return out
}
