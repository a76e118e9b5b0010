// Package dedup groups canonical events by fingerprint and resolves
// each group to one survivor. It exclusively owns fingerprint
// computation and group resolution.
package dedup

import (
	"sort"
	"strconv"
	"time"

	"famcal/internal/model"
)

// DefaultBucketWidth tolerates small timestamp jitter between sources
// describing the same real-world event.
const DefaultBucketWidth = 5 * time.Minute

// Decision records one resolved group for audit logging. Superseded
// events are discarded by the engine; callers needing a trail capture
// decisions before dropping them.
type Decision struct {
	Fingerprint string
	SurvivorUID string
	Superseded  []string
}

// Fingerprint derives the duplicate-grouping key: normalized summary
// plus the start-time bucket. Events in the same bucket with the same
// normalized summary are considered the same occurrence.
func Fingerprint(e *model.CanonicalEvent, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultBucketWidth
	}
	slot := e.Start.Unix() / int64(bucket/time.Second)
	return e.NormalizedSummary() + "_" + strconv.FormatInt(slot, 10)
}

// Merge resolves duplicates over a fully materialized snapshot. It is a
// pure function: for a fixed input set the same survivors come out
// regardless of input order, and merging already-merged output is a
// no-op. Survivors are returned sorted by (start, uid).
func Merge(events []*model.CanonicalEvent, bucket time.Duration) ([]*model.CanonicalEvent, []Decision) {
	groups := make(map[string][]*model.CanonicalEvent)
	order := make([]string, 0)
	for _, e := range events {
		fp := Fingerprint(e, bucket)
		if _, seen := groups[fp]; !seen {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], e)
	}
	sort.Strings(order)

	survivors := make([]*model.CanonicalEvent, 0, len(groups))
	var decisions []Decision
	for _, fp := range order {
		group := groups[fp]
		winner := elect(group)
		if len(group) > 1 {
			absorb(winner, group)
			dec := Decision{Fingerprint: fp, SurvivorUID: winner.UID}
			for _, e := range group {
				if e.UID != winner.UID {
					dec.Superseded = append(dec.Superseded, e.UID)
				}
			}
			sort.Strings(dec.Superseded)
			decisions = append(decisions, dec)
		}
		survivors = append(survivors, winner)
	}

	sort.Slice(survivors, func(i, j int) bool {
		if !survivors[i].Start.Equal(survivors[j].Start) {
			return survivors[i].Start.Before(survivors[j].Start)
		}
		return survivors[i].UID < survivors[j].UID
	})
	return survivors, decisions
}

// elect picks the group survivor: earliest recorded creation time, then
// higher source trust, then smallest uid for determinism.
func elect(group []*model.CanonicalEvent) *model.CanonicalEvent {
	winner := group[0]
	for _, e := range group[1:] {
		if beats(e, winner) {
			winner = e
		}
	}
	return winner
}

func beats(a, b *model.CanonicalEvent) bool {
	aHas, bHas := !a.CreatedAt.IsZero(), !b.CreatedAt.IsZero()
	switch {
	case aHas && bHas && !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.Before(b.CreatedAt)
	case aHas != bHas:
		return aHas
	}
	if ar, br := a.OriginalSource.TrustRank(), b.OriginalSource.TrustRank(); ar != br {
		return ar > br
	}
	return a.UID < b.UID
}

// absorb fills fields the survivor is missing from superseded group
// members, so a richer duplicate still contributes its details.
func absorb(winner *model.CanonicalEvent, group []*model.CanonicalEvent) {
	for _, e := range group {
		if e.UID == winner.UID {
			continue
		}
		if winner.Location == "" {
			winner.Location = e.Location
		}
		if winner.Description == "" {
			winner.Description = e.Description
		}
		if winner.Category == "" {
			winner.Category = e.Category
		}
		if len(winner.Assignees) == 0 && len(e.Assignees) > 0 {
			winner.Assignees = append([]string(nil), e.Assignees...)
		}
		if !winner.HasEnd() && e.HasEnd() {
			winner.End = e.End
		}
	}
}
