package monitor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Session is the client-side view of one training run. The caller creates
// one per run and hands it to New; after that only the monitor mutates it.
type Session struct {
	TrainingID        string
	Status            Status
	LastEpochReceived int
	TotalEpochs       int
	ProcessedEpochs   map[int]struct{}
}

func NewSession(trainingID string) *Session {
	return &Session{
		TrainingID:      trainingID,
		Status:          StatusConnecting,
		ProcessedEpochs: make(map[int]struct{}),
	}
}

// Processed reports whether epoch has already been rendered.
func (s *Session) Processed(epoch int) bool {
	_, ok := s.ProcessedEpochs[epoch]
	return ok
}

// EpochRange is an inclusive span of epoch indices.
type EpochRange struct {
	From, To int
}

func (r EpochRange) Len() int {
	return r.To - r.From + 1
}

func (r EpochRange) String() string {
	if r.From == r.To {
		return strconv.Itoa(r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// MissingRanges returns the spans in [1, LastEpochReceived) that never
// arrived. It walks the received epochs, not the index space.
func (s *Session) MissingRanges() []EpochRange {
	var out []EpochRange
	next := 1
	for _, e := range s.Epochs() {
		if e >= s.LastEpochReceived {
			break
		}
		if e > next {
			out = append(out, EpochRange{From: next, To: e - 1})
		}
		if e >= next {
			next = e + 1
		}
	}
	if next < s.LastEpochReceived {
		out = append(out, EpochRange{From: next, To: s.LastEpochReceived - 1})
	}
	return out
}

// FormatRanges joins up to limit ranges as "3, 5-7" and summarises the rest.
func FormatRanges(ranges []EpochRange, limit int) string {
	if limit <= 0 || limit > len(ranges) {
		limit = len(ranges)
	}
	parts := make([]string, 0, limit+1)
	for _, r := range ranges[:limit] {
		parts = append(parts, r.String())
	}
	if rest := ranges[limit:]; len(rest) > 0 {
		n := 0
		for _, r := range rest {
			n += r.Len()
		}
		parts = append(parts, fmt.Sprintf("... (%d more)", n))
	}
	return strings.Join(parts, ", ")
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() Session {
	c := *s
	c.ProcessedEpochs = make(map[int]struct{}, len(s.ProcessedEpochs))
	for e := range s.ProcessedEpochs {
		c.ProcessedEpochs[e] = struct{}{}
	}
	return c
}

// Epochs returns the processed epochs in ascending order.
func (s *Session) Epochs() []int {
	out := make([]int, 0, len(s.ProcessedEpochs))
	for e := range s.ProcessedEpochs {
		out = append(out, e)
	}
	sort.Ints(out)
	return out
}
