package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Point is one price sample.
type Point struct {
	Timestamp int64
	Block     int64
	Price     float64
}

// Series is the rolling price history. The file format keeps parallel
// arrays, so the sampled web dashboards keep working against the mirror.
type Series struct {
	Points      []Point
	LastUpdated float64
}

type seriesFile struct {
	Timestamps  []int64   `json:"timestamps"`
	Blocks      []int64   `json:"blocks"`
	Prices      []float64 `json:"prices"`
	LastUpdated float64   `json:"last_updated"`
}

// LoadSeries reads a series file. A missing or empty file yields an empty
// series rather than an error, so the first run starts fresh.
func LoadSeries(path string) (*Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Series{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return &Series{}, nil
	}
	var file seriesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode series %s: %w", path, err)
	}
	if len(file.Timestamps) != len(file.Blocks) || len(file.Timestamps) != len(file.Prices) {
		return nil, fmt.Errorf("series %s has mismatched array lengths", path)
	}
	s := &Series{LastUpdated: file.LastUpdated}
	for i := range file.Timestamps {
		s.Points = append(s.Points, Point{Timestamp: file.Timestamps[i], Block: file.Blocks[i], Price: file.Prices[i]})
	}
	return s, nil
}

// Save writes the series, sorted by timestamp, with last_updated set to now.
func (s *Series) Save(path string) error {
	s.Sort()
	file := seriesFile{
		Timestamps:  make([]int64, 0, len(s.Points)),
		Blocks:      make([]int64, 0, len(s.Points)),
		Prices:      make([]float64, 0, len(s.Points)),
		LastUpdated: float64(time.Now().UnixNano()) / 1e9,
	}
	for _, p := range s.Points {
		file.Timestamps = append(file.Timestamps, p.Timestamp)
		file.Blocks = append(file.Blocks, p.Block)
		file.Prices = append(file.Prices, p.Price)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Series) Sort() {
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Timestamp < s.Points[j].Timestamp })
}

// IsTargetTime reports whether ts falls within tolerance of one of the
// sampling hours, with wraparound across midnight.
func IsTargetTime(ts int64, hours []int, tolerance time.Duration) bool {
	t := time.Unix(ts, 0).UTC()
	minuteOfDay := t.Hour()*60 + t.Minute()
	tolMinutes := int(tolerance.Minutes())
	for _, hour := range hours {
		dist := abs(minuteOfDay - hour*60)
		if wrapped := 24*60 - dist; wrapped < dist {
			dist = wrapped
		}
		if dist <= tolMinutes {
			return true
		}
	}
	return false
}

// ExactTarget returns the exact sampling timestamp ts is closest to,
// considering each hour of ts's day plus the following midnight.
func ExactTarget(ts int64, hours []int) int64 {
	day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)

	candidates := make([]int64, 0, len(hours)+1)
	for _, hour := range hours {
		candidates = append(candidates, day.Add(time.Duration(hour)*time.Hour).Unix())
	}
	candidates = append(candidates, day.Add(24*time.Hour).Unix())

	best := candidates[0]
	for _, c := range candidates[1:] {
		if abs64(ts-c) < abs64(ts-best) {
			best = c
		}
	}
	return best
}

// Dedup keeps, for each exact sampling time, only the sample closest to it,
// and keeps only the newest non-target ("current price") sample.
func (s *Series) Dedup(hours []int, tolerance time.Duration) (removed int) {
	byTarget := map[int64]Point{}
	var current []Point

	for _, p := range s.Points {
		if !IsTargetTime(p.Timestamp, hours, tolerance) {
			current = append(current, p)
			continue
		}
		target := ExactTarget(p.Timestamp, hours)
		existing, ok := byTarget[target]
		if !ok || abs64(p.Timestamp-target) < abs64(existing.Timestamp-target) {
			byTarget[target] = p
		}
	}

	kept := make([]Point, 0, len(byTarget)+1)
	for _, p := range byTarget {
		kept = append(kept, p)
	}
	if len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return current[i].Timestamp < current[j].Timestamp })
		kept = append(kept, current[len(current)-1])
	}

	removed = len(s.Points) - len(kept)
	s.Points = kept
	s.Sort()
	return removed
}

// windowStart returns midnight UTC of the first day in a days-long window
// ending on now's day.
func windowStart(now time.Time, days int) time.Time {
	end := now.UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -(days - 1))
}

// EnforceWindow drops target samples older than the rolling window.
func (s *Series) EnforceWindow(now time.Time, days int, hours []int, tolerance time.Duration) (removed int) {
	cutoff := windowStart(now, days).Unix()
	kept := s.Points[:0]
	for _, p := range s.Points {
		if IsTargetTime(p.Timestamp, hours, tolerance) && p.Timestamp < cutoff {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.Points = kept
	return removed
}

// MissingTargets lists the exact sampling timestamps inside the window that
// have no sample within tolerance, oldest first.
func (s *Series) MissingTargets(now time.Time, days int, hours []int, tolerance time.Duration) []int64 {
	existing := map[int64]bool{}
	var existingList []int64
	for _, p := range s.Points {
		if IsTargetTime(p.Timestamp, hours, tolerance) {
			existing[p.Timestamp] = true
			existingList = append(existingList, p.Timestamp)
		}
	}

	nowUnix := now.Unix()
	tol := int64(tolerance.Seconds())
	var missing []int64

	day := windowStart(now, days)
	end := now.UTC().Truncate(24 * time.Hour)
	for !day.After(end) {
		for _, hour := range hours {
			target := day.Add(time.Duration(hour) * time.Hour).Unix()
			if target >= nowUnix || existing[target] {
				continue
			}
			covered := false
			for _, ts := range existingList {
				if abs64(ts-target) < tol {
					covered = true
					break
				}
			}
			if !covered {
				missing = append(missing, target)
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// SetCurrent replaces every non-target sample with the given current-price
// sample.
func (s *Series) SetCurrent(hours []int, tolerance time.Duration, p Point) (removed int) {
	kept := s.Points[:0]
	for _, existing := range s.Points {
		if !IsTargetTime(existing.Timestamp, hours, tolerance) {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	s.Points = append(kept, p)
	s.Sort()
	return removed
}

// Insert adds a sample keeping timestamp order.
func (s *Series) Insert(p Point) {
	s.Points = append(s.Points, p)
	s.Sort()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
