package retention

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backupd/internal/model"
)

func intp(n int) *int { return &n }

// backupAt builds a RemoteObject keyed by its timestamp.
func backupAt(t time.Time) model.RemoteObject {
	return model.RemoteObject{
		Key:          "backups/src/" + t.Format("20060102_150405"),
		SizeBytes:    100,
		LastModified: t,
	}
}

func backupsAt(times ...time.Time) []model.RemoteObject {
	objs := make([]model.RemoteObject, len(times))
	for i, t := range times {
		objs[i] = backupAt(t)
	}
	return objs
}

func survivors(backups []model.RemoteObject, marked []string) []model.RemoteObject {
	dead := make(map[string]bool, len(marked))
	for _, k := range marked {
		dead[k] = true
	}
	var alive []model.RemoteObject
	for _, b := range backups {
		if !dead[b.Key] {
			alive = append(alive, b)
		}
	}
	return alive
}

var now = time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC) // Wednesday, ISO week 5

func TestPlan_EmptyPolicy(t *testing.T) {
	backups := backupsAt(now.AddDate(0, 0, -1), now.AddDate(0, 0, -2))
	assert.Nil(t, Plan(backups, model.RetentionPolicy{}, now))
}

func TestPlan_KeepLast(t *testing.T) {
	var times []time.Time
	for i := 0; i < 7; i++ {
		times = append(times, now.AddDate(0, 0, -i))
	}
	backups := backupsAt(times...)

	marked := Plan(backups, model.RetentionPolicy{KeepLast: intp(3)}, now)

	// Everything beyond position 3 is marked exactly once.
	require.Len(t, marked, 4)
	seen := map[string]int{}
	for _, k := range marked {
		seen[k]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %s marked more than once", k)
	}

	// The most recent three never appear in the deletion set.
	for _, b := range backups[:3] {
		assert.NotContains(t, marked, b.Key)
	}
}

func TestPlan_KeepLastExactCount(t *testing.T) {
	backups := backupsAt(now, now.AddDate(0, 0, -1), now.AddDate(0, 0, -2))
	marked := Plan(backups, model.RetentionPolicy{KeepLast: intp(3)}, now)
	assert.Empty(t, marked)
}

func TestPlan_Daily(t *testing.T) {
	day := func(daysAgo int, hour int) time.Time {
		return time.Date(2026, 1, 28-daysAgo, hour, 0, 0, 0, time.UTC)
	}
	backups := backupsAt(
		day(0, 10), day(0, 6), // today: inside window, untouched
		day(2, 10), day(2, 6), // exactly at cutoff date: not strictly older
		day(4, 10), day(4, 6), day(4, 2), // older: collapse to 10:00
		day(6, 8), // older but single member: survives
	)

	marked := Plan(backups, model.RetentionPolicy{Daily: intp(2)}, now)

	assert.ElementsMatch(t, []string{
		backupAt(day(4, 6)).Key,
		backupAt(day(4, 2)).Key,
	}, marked)
}

func TestPlan_Weekly(t *testing.T) {
	backups := backupsAt(
		time.Date(2026, 1, 27, 3, 0, 0, 0, time.UTC), // week 5 (current)
		time.Date(2026, 1, 26, 3, 0, 0, 0, time.UTC), // week 5
		time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC), // week 3, newest in bucket
		time.Date(2026, 1, 14, 3, 0, 0, 0, time.UTC), // week 3
		time.Date(2026, 1, 13, 3, 0, 0, 0, time.UTC), // week 3
	)

	marked := Plan(backups, model.RetentionPolicy{Weekly: intp(1)}, now)

	assert.ElementsMatch(t, []string{
		backups[3].Key,
		backups[4].Key,
	}, marked)
}

func TestPlan_Monthly(t *testing.T) {
	backups := backupsAt(
		time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),  // current month, in window
		time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC), // Nov: newest survives
		time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC),  // Nov: marked
		time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC),  // Oct: single, survives
	)

	marked := Plan(backups, model.RetentionPolicy{Monthly: intp(1)}, now)

	assert.ElementsMatch(t, []string{backups[2].Key}, marked)
}

func TestPlan_Idempotent(t *testing.T) {
	var times []time.Time
	for i := 0; i < 20; i++ {
		times = append(times, now.Add(-time.Duration(i*30)*time.Hour))
	}
	backups := backupsAt(times...)
	policy := model.RetentionPolicy{
		KeepLast: intp(3),
		Daily:    intp(2),
		Weekly:   intp(1),
		Monthly:  intp(1),
	}

	first := Plan(backups, policy, now)
	second := Plan(survivors(backups, first), policy, now)
	assert.Empty(t, second, "second pass against unchanged listing must mark nothing")
}

// The blog scenario: keep_last 2 + weekly 1, nine backups at distinct daily
// timestamps spanning three weeks.
func TestPlan_KeepLastPlusWeekly(t *testing.T) {
	d := func(month time.Month, day int) time.Time {
		return time.Date(2026, month, day, 4, 0, 0, 0, time.UTC)
	}
	backups := backupsAt(
		d(time.January, 28), // position 1, keep_last
		d(time.January, 27), // position 2, keep_last
		d(time.January, 26), // week 5 (current), survives
		d(time.January, 23), // week 4, within 7 days, survives
		d(time.January, 22), // week 4, survives with its bucket
		d(time.January, 16), // week 3, newest in bucket, survives
		d(time.January, 15), // week 3, marked
		d(time.January, 14), // week 3, marked
		d(time.January, 9),  // week 2, single member, survives
	)
	policy := model.RetentionPolicy{KeepLast: intp(2), Weekly: intp(1)}

	marked := Plan(backups, policy, now)

	assert.ElementsMatch(t, []string{
		backups[6].Key,
		backups[7].Key,
	}, marked)

	// Re-running over the survivors marks nothing.
	assert.Empty(t, Plan(survivors(backups, marked), policy, now))
}

func TestPlan_KeepLastProtectsBeforeTiers(t *testing.T) {
	// With a time tier present, entries beyond keep_last become candidates
	// the tier thins rather than being dropped outright.
	backups := backupsAt(
		now,
		now.AddDate(0, 0, -10),
		now.AddDate(0, 0, -10).Add(-time.Hour),
	)
	policy := model.RetentionPolicy{KeepLast: intp(1), Daily: intp(3)}

	marked := Plan(backups, policy, now)

	// The two old backups share a date; daily keeps the newer of them.
	assert.ElementsMatch(t, []string{backups[2].Key}, marked)
}

func countOf(keys []string, key string) int {
	n := 0
	for _, k := range keys {
		if k == key {
			n++
		}
	}
	return n
}

func TestPlan_UnsortedInput(t *testing.T) {
	// Plan re-sorts defensively, so a shuffled listing yields the same set.
	ordered := backupsAt(now, now.AddDate(0, 0, -1), now.AddDate(0, 0, -2), now.AddDate(0, 0, -3))
	shuffled := []model.RemoteObject{ordered[2], ordered[0], ordered[3], ordered[1]}
	policy := model.RetentionPolicy{KeepLast: intp(2)}

	assert.ElementsMatch(t, Plan(ordered, policy, now), Plan(shuffled, policy, now))
}

func TestPlan_ManyBackupsStress(t *testing.T) {
	var times []time.Time
	for i := 0; i < 365; i++ {
		times = append(times, now.AddDate(0, 0, -i))
	}
	backups := backupsAt(times...)
	policy := model.RetentionPolicy{KeepLast: intp(7), Daily: intp(7), Weekly: intp(4), Monthly: intp(6)}

	marked := Plan(backups, policy, now)
	alive := survivors(backups, marked)

	// The most recent 7 always survive.
	for _, b := range backups[:7] {
		assert.Equal(t, 0, countOf(marked, b.Key), "recent backup %s deleted", b.Key)
	}
	require.NotEmpty(t, marked)
	assert.Equal(t, len(backups), len(marked)+len(alive))
	assert.Empty(t, Plan(alive, policy, now), fmt.Sprintf("idempotence violated with %d survivors", len(alive)))
}
