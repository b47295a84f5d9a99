// Package stats parses statistics queries and aggregates usage records
// into chart-ready time and count buckets.
package stats

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"memebot/internal/memeapi"
	"memebot/internal/store"
)

// Query is a parsed statistics request.
type Query struct {
	My       bool
	Global   bool
	TimeWord string
	MemeName string
}

var naturalQueryRe = regexp.MustCompile(
	`^(?:(我的|自己)\s*)?(?:(全局)\s*)?(日|24小时|1天|本日|今日|周|一周|7天|本周|月|30天|本月|月度|年|一年|本年|年度)?\s*表情(?:(?:调用|使用)?)?统计\s*(.*)$`)

var timeWords = []string{"日", "24小时", "1天", "本日", "今日", "周", "一周", "7天", "本周", "月", "30天", "本月", "月度", "年", "一年", "本年", "年度"}

// ParseQuery accepts both grammars: the natural-language form
// ("我的全局本月表情统计 petpet") and the space-separated parameter form
// ("表情统计 我的 全局 本月 petpet").
func ParseQuery(text string) Query {
	var q Query
	if m := naturalQueryRe.FindStringSubmatch(text); m != nil {
		q.My = m[1] != ""
		q.Global = m[2] != ""
		q.TimeWord = m[3]
		q.MemeName = strings.TrimSpace(m[4])
		return q
	}
	var rest []string
	for _, param := range strings.Fields(text) {
		switch {
		case param == "我的" || param == "自己":
			q.My = true
		case param == "全局":
			q.Global = true
		case isTimeWord(param):
			q.TimeWord = param
		default:
			rest = append(rest, param)
		}
	}
	q.MemeName = strings.Join(rest, " ")
	return q
}

func isTimeWord(s string) bool {
	for _, w := range timeWords {
		if w == s {
			return true
		}
	}
	return false
}

// Scope translates the my/global switches into a usage filter and the
// Chinese scope label used in chart titles. groupID is empty in DMs.
func Scope(q Query, userID, groupID string) (store.UsageFilter, string) {
	group := groupID
	if group == "" {
		group = store.GroupPrivate
	}
	switch {
	case q.My && q.Global:
		return store.UsageFilter{UserID: userID}, "我的全局"
	case q.My:
		return store.UsageFilter{UserID: userID, GroupID: group}, "我在本群"
	case q.Global:
		return store.UsageFilter{}, "全局"
	default:
		return store.UsageFilter{GroupID: group}, "本群"
	}
}

// Step advances bucket boundaries. Month steps follow calendar months
// instead of a fixed duration.
type Step struct {
	d      time.Duration
	months int
}

func (s Step) Add(t time.Time) time.Time {
	if s.months != 0 {
		return t.AddDate(0, s.months, 0)
	}
	return t.Add(s.d)
}

// Range is the resolved time window and bucket shape for one query.
type Range struct {
	Start     time.Time
	Step      Step
	Layout    string
	Humanized string
}

var timeTypeMap = map[string]string{
	"日": "day", "本日": "day", "今日": "day",
	"24小时": "24h", "1天": "24h",
	"周": "week", "本周": "week", "7天": "7d",
	"月": "month", "本月": "month", "月度": "month", "30天": "30d",
	"年": "year", "本年": "year", "年度": "year", "一年": "1y",
}

// ResolveRange maps the Chinese time keyword to a concrete window.
// Unknown keywords fall back to the last 24 hours.
func ResolveRange(timeWord string, now time.Time) Range {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch timeTypeMap[timeWord] {
	case "day":
		return Range{Start: midnight, Step: Step{d: time.Hour}, Layout: "15:00", Humanized: "本日"}
	case "week":
		monday := midnight.AddDate(0, 0, -((int(now.Weekday()) + 6) % 7))
		return Range{Start: monday, Step: Step{d: 24 * time.Hour}, Layout: "Mon", Humanized: "本周"}
	case "7d":
		return Range{Start: now.AddDate(0, 0, -7), Step: Step{d: 24 * time.Hour}, Layout: "Mon", Humanized: "7天"}
	case "30d":
		return Range{Start: now.AddDate(0, 0, -30), Step: Step{d: 24 * time.Hour}, Layout: "01/02", Humanized: "30天"}
	case "month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: first, Step: Step{d: 24 * time.Hour}, Layout: "01/02", Humanized: "本月"}
	case "1y":
		return Range{Start: now.AddDate(-1, 0, 0), Step: Step{months: 1}, Layout: "06/01", Humanized: "一年"}
	case "year":
		jan1 := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: jan1, Step: Step{months: 1}, Layout: "Jan", Humanized: "本年"}
	default:
		return Range{Start: now.AddDate(0, 0, -1), Step: Step{d: time.Hour}, Layout: "15:00", Humanized: "24小时"}
	}
}

// TimeBuckets folds sorted timestamps into fixed buckets from r.Start to
// now, labeling each bucket by its start. Empty trailing buckets up to now
// are included so the chart's x axis covers the whole window.
func TimeBuckets(times []time.Time, r Range, now time.Time) []memeapi.ChartPoint {
	now = now.UTC()
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var points []memeapi.ChartPoint
	stop := r.Step.Add(r.Start)
	label := r.Start.Format(r.Layout)
	count := 0
	for _, t := range sorted {
		for !t.Before(stop) {
			points = append(points, memeapi.ChartPoint{Label: label, Count: count})
			label = stop.Format(r.Layout)
			stop = r.Step.Add(stop)
			count = 0
		}
		count++
	}
	points = append(points, memeapi.ChartPoint{Label: label, Count: count})
	for !stop.After(now) {
		label = stop.Format(r.Layout)
		stop = r.Step.Add(stop)
		points = append(points, memeapi.ChartPoint{Label: label, Count: 0})
	}
	return points
}

// TopMemes ranks meme keys by usage count, most used first, keeping at most
// limit entries. display maps a key to its shown name. Ties keep first-seen
// order so results are deterministic.
func TopMemes(keys []string, limit int, display func(key string) string) []memeapi.ChartPoint {
	counts := make(map[string]int)
	var order []string
	for _, k := range keys {
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	points := make([]memeapi.ChartPoint, 0, len(order))
	for _, k := range order {
		name := k
		if display != nil {
			if d := display(k); d != "" {
				name = d
			}
		}
		points = append(points, memeapi.ChartPoint{Label: name, Count: counts[k]})
	}
	return points
}
