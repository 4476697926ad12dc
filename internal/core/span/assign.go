package span

import (
	"sort"
)

// Index looks up the bucket sequence of each group. Buckets of one group
// must not overlap, which Generate guarantees.
type Index struct {
	byGroup map[GroupKey][]*Bucket
}

// NewIndex indexes buckets by group, each sequence ordered by start.
func NewIndex(buckets []*Bucket) *Index {
	idx := &Index{byGroup: make(map[GroupKey][]*Bucket)}
	for _, b := range buckets {
		idx.byGroup[b.Group] = append(idx.byGroup[b.Group], b)
	}
	for _, list := range idx.byGroup {
		sort.SliceStable(list, func(i, j int) bool { return list[i].From.Before(list[j].From) })
	}
	return idx
}

// Groups returns the indexed group keys in output order.
func (idx *Index) Groups() []GroupKey {
	keys := make([]GroupKey, 0, len(idx.byGroup))
	for k := range idx.byGroup {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Buckets returns the sequence of one group.
func (idx *Index) Buckets(g GroupKey) []*Bucket { return idx.byGroup[g] }

// Assign attaches iv to every bucket of its group it overlaps and returns
// the number of assignments made. A zero-length interval goes to the single
// bucket with From <= t < To. Intervals of one group must be assigned from
// one goroutine at a time.
func (idx *Index) Assign(iv *Interval) int {
	list := idx.byGroup[iv.Group]
	if len(list) == 0 {
		return 0
	}

	if iv.Instant() {
		i := sort.Search(len(list), func(i int) bool { return list[i].To.After(iv.From) })
		if i == len(list) || list[i].From.After(iv.From) {
			return 0
		}
		list[i].Assignments = append(list[i].Assignments, Assignment{
			Interval:    iv,
			ClippedFrom: iv.From,
			ClippedTo:   iv.From,
			OuterSlot:   1,
		})
		return 1
	}

	total := iv.Duration()
	n := 0
	for i := sort.Search(len(list), func(i int) bool { return list[i].To.After(iv.From) }); i < len(list); i++ {
		b := list[i]
		if !b.From.Before(iv.To) {
			break
		}
		from, to := iv.From, iv.To
		if b.From.After(from) {
			from = b.From
		}
		if b.To.Before(to) {
			to = b.To
		}
		if !to.After(from) {
			continue
		}
		clipped := to.Sub(from)
		b.Assignments = append(b.Assignments, Assignment{
			Interval:    iv,
			ClippedFrom: from,
			ClippedTo:   to,
			OuterSlot:   float64(clipped) / float64(total),
			InnerSlot:   float64(clipped) / float64(b.Duration()),
		})
		n++
	}
	return n
}

// Assign indexes buckets and assigns every interval in order.
func Assign(intervals []Interval, buckets []*Bucket) int {
	idx := NewIndex(buckets)
	n := 0
	for i := range intervals {
		n += idx.Assign(&intervals[i])
	}
	return n
}
