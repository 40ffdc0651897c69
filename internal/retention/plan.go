package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/edvin/backupd/internal/model"
)

// Plan computes the deletion set implied by the policy over the given backup
// list. The list is expected newest-first (the store's listing invariant);
// it is re-sorted defensively. Plan is pure: it never touches the store, and
// re-running it against the survivors of a previous pass marks nothing.
//
// The most recent keep_last backups are taken out of consideration entirely;
// the time tiers then thin the remainder sequentially. Each tier partitions
// the current candidate set into buckets (calendar date, ISO week, calendar
// month) and, in every bucket strictly older than the tier's window, marks
// all but the most-recently-modified backup for deletion. Buckets at or
// inside the window are untouched. A bucket's survivor stays a candidate for
// the coarser tiers, so daily survivors collapse into weekly survivors and
// those into monthly ones as backups age.
//
// A policy consisting solely of keep_last prunes the list down to its N
// most recent entries.
func Plan(backups []model.RemoteObject, policy model.RetentionPolicy, now time.Time) []string {
	if policy.Empty() || len(backups) == 0 {
		return nil
	}

	candidates := make([]model.RemoteObject, len(backups))
	copy(candidates, backups)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastModified.After(candidates[j].LastModified)
	})

	if policy.KeepLast != nil {
		if len(candidates) <= *policy.KeepLast {
			candidates = nil
		} else {
			candidates = candidates[*policy.KeepLast:]
		}
		if policy.Daily == nil && policy.Weekly == nil && policy.Monthly == nil {
			// keep_last is the whole policy: everything beyond position N
			// goes.
			return keysOf(candidates)
		}
	}

	var marked []string

	if policy.Daily != nil {
		cutoff := now.UTC().AddDate(0, 0, -*policy.Daily)
		marked, candidates = pruneBuckets(marked, candidates, cutoff, func(t time.Time) string {
			return t.UTC().Format("2006-01-02")
		})
	}

	if policy.Weekly != nil {
		cutoff := now.UTC().AddDate(0, 0, -7**policy.Weekly)
		marked, candidates = pruneBuckets(marked, candidates, cutoff, func(t time.Time) string {
			year, week := t.UTC().ISOWeek()
			return fmt.Sprintf("%04d-W%02d", year, week)
		})
	}

	if policy.Monthly != nil {
		cutoff := now.UTC().AddDate(0, 0, -30**policy.Monthly)
		marked, _ = pruneBuckets(marked, candidates, cutoff, func(t time.Time) string {
			return t.UTC().Format("2006-01")
		})
	}

	return marked
}

// pruneBuckets applies one time tier. Candidates are newest-first, so the
// first member seen per bucket is its most recent backup. In buckets whose
// representative date is strictly older than the cutoff date, everything but
// that most recent member is marked; the survivor and all within-window
// members remain candidates for the next tier.
func pruneBuckets(
	marked []string,
	candidates []model.RemoteObject,
	cutoff time.Time,
	bucketOf func(time.Time) string,
) ([]string, []model.RemoteObject) {
	type rep struct {
		key string    // most recent member's object key
		day time.Time // its date, the bucket's representative date
	}
	reps := make(map[string]rep, len(candidates))
	for _, obj := range candidates {
		key := bucketOf(obj.LastModified)
		if _, ok := reps[key]; !ok {
			reps[key] = rep{key: obj.Key, day: dayStart(obj.LastModified)}
		}
	}

	// Date-granularity comparison: a bucket whose representative date equals
	// the cutoff date is not "strictly older" and is untouched.
	cutoffDay := dayStart(cutoff)
	var kept []model.RemoteObject
	for _, obj := range candidates {
		r := reps[bucketOf(obj.LastModified)]
		if r.day.Before(cutoffDay) && r.key != obj.Key {
			marked = append(marked, obj.Key)
			continue
		}
		kept = append(kept, obj)
	}
	return marked, kept
}

func keysOf(objs []model.RemoteObject) []string {
	if len(objs) == 0 {
		return nil
	}
	keys := make([]string, len(objs))
	for i, obj := range objs {
		keys[i] = obj.Key
	}
	return keys
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
