package appointment

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultGranularity is the slot width used when none is configured.
const DefaultGranularity = 30 * time.Minute

// ComputeSlots returns the free slots of one working day in ascending order.
// It performs no I/O; the same inputs always produce the same slice.
func ComputeSlots(hours *WorkingHours, booked []Interval, isTimeOff bool, granularity time.Duration) []Slot {
	slots := make([]Slot, 0)
	if isTimeOff || hours == nil || granularity < time.Minute {
		return slots
	}

	for s := hours.Start; s.Add(granularity) <= hours.End; s = s.Add(granularity) {
		candidate := Slot{Start: s, End: s.Add(granularity)}
		if slotBlocked(candidate, hours.Break, booked) {
			continue
		}
		slots = append(slots, candidate)
	}

	return slots
}

func slotBlocked(candidate Interval, brk *Interval, booked []Interval) bool {
	if brk != nil && candidate.Overlaps(*brk) {
		return true
	}
	for _, b := range booked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

// checkSlot applies the same rules as ComputeSlots to a single requested slot
// and says why it is not bookable.
func checkSlot(day *DaySchedule, requested Interval, booked []Interval, granularity time.Duration) error {
	hours := day.WorkingHours
	// alignment is reported before any other reason when hours exist
	if hours != nil && int(requested.Start-hours.Start)%int(granularity/time.Minute) != 0 {
		return fmt.Errorf("%w: start %s is not aligned to %s grid from %s",
			ErrInvalidRange, requested.Start, granularity, hours.Start)
	}
	if day.IsTimeOff {
		return ErrDayOff
	}
	if hours == nil || requested.Start < hours.Start || requested.End > hours.End {
		return ErrOutsideHours
	}
	if hours.Break != nil && requested.Overlaps(*hours.Break) {
		return ErrDuringBreak
	}
	for _, b := range booked {
		if requested.Overlaps(b) {
			return ErrSlotAlreadyBooked
		}
	}
	return nil
}

// SlotCache memoizes ComputeSlots by a fingerprint of its inputs.
type SlotCache struct {
	cache *lru.Cache[string, []Slot]
}

func NewSlotCache(size int) (*SlotCache, error) {
	c, err := lru.New[string, []Slot](size)
	if err != nil {
		return nil, fmt.Errorf("create slot cache: %w", err)
	}
	return &SlotCache{cache: c}, nil
}

// Compute returns a cached result when the inputs were seen before. A nil
// SlotCache computes directly.
func (c *SlotCache) Compute(hours *WorkingHours, booked []Interval, isTimeOff bool, granularity time.Duration) []Slot {
	if c == nil {
		return ComputeSlots(hours, booked, isTimeOff, granularity)
	}

	key := fingerprint(hours, booked, isTimeOff, granularity)
	if slots, ok := c.cache.Get(key); ok {
		return append(make([]Slot, 0, len(slots)), slots...)
	}

	slots := ComputeSlots(hours, booked, isTimeOff, granularity)
	c.cache.Add(key, slots)
	return append(make([]Slot, 0, len(slots)), slots...)
}

func (c *SlotCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

func fingerprint(hours *WorkingHours, booked []Interval, isTimeOff bool, granularity time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "g=%d;off=%t", granularity/time.Minute, isTimeOff)
	if hours != nil {
		fmt.Fprintf(&b, ";h=%d-%d", hours.Start, hours.End)
		if hours.Break != nil {
			fmt.Fprintf(&b, ";br=%d-%d", hours.Break.Start, hours.Break.End)
		}
	}
	for _, iv := range booked {
		fmt.Fprintf(&b, ";b=%d-%d", iv.Start, iv.End)
	}
	return b.String()
}
