package gossip

import (
	"math"
	"sync"
	"time"

	"github.com/andydunstall/gossipd/pkg/peer"
)

// arrivalIntervals tracks the intervals in a circular buffer.
type arrivalIntervals struct {
	intervals []int64
	// index points to the next entry to add an interval. Since intervals is
	// a circular buffer this wraps around.
	index  int
	isFull bool

	sum  int64
	mean float64
}

func newArrivalIntervals(sampleSize int) *arrivalIntervals {
	return &arrivalIntervals{
		intervals: make([]int64, sampleSize),
	}
}

func (i *arrivalIntervals) Mean() float64 {
	return i.mean
}

func (i *arrivalIntervals) Add(interval int64) {
	// If the index is at the end of the buffer wrap around.
	if i.index == len(i.intervals) {
		i.index = 0
		i.isFull = true
	}
	if i.isFull {
		i.sum -= i.intervals[i.index]
	}

	i.intervals[i.index] = interval
	i.index++
	i.sum += interval
	i.mean = float64(i.sum) / float64(i.size())
}

func (i *arrivalIntervals) size() int {
	if i.isFull {
		return len(i.intervals)
	}
	return i.index
}

// arrivalWindow records the arrival times of a single peer.
type arrivalWindow struct {
	lastTimestamp     time.Time
	intervals         *arrivalIntervals
	bootstrapInterval time.Duration
}

func newArrivalWindow(
	bootstrapInterval time.Duration,
	sampleSize int,
) *arrivalWindow {
	return &arrivalWindow{
		intervals:         newArrivalIntervals(sampleSize),
		bootstrapInterval: bootstrapInterval,
	}
}

// Phi returns the suspicion level at the given time, assuming arrival
// intervals are exponentially distributed.
//
// phi is -log10(P(no arrival for delta)) = delta / mean * log10(e), so a phi
// of 1 means a 10% chance the peer is still alive, a phi of 2 a 1% chance and
// so on.
func (w *arrivalWindow) Phi(timestamp time.Time) float64 {
	if w.lastTimestamp.IsZero() || w.intervals.Mean() <= 0.0 {
		panic("cannot sample phi before any samples arrived")
	}

	deltaSinceLast := timestamp.Sub(w.lastTimestamp).Nanoseconds()
	if deltaSinceLast < 0 {
		return 0
	}
	return float64(deltaSinceLast) / w.intervals.Mean() * math.Log10E
}

func (w *arrivalWindow) Add(timestamp time.Time) {
	if !w.lastTimestamp.IsZero() {
		// Ignore arrivals out of order.
		if timestamp.Before(w.lastTimestamp) {
			return
		}
		w.intervals.Add(timestamp.Sub(w.lastTimestamp).Nanoseconds())
	} else {
		// If this is the first interval, use a high interval to avoid false
		// positives when we don't have many samples.
		w.intervals.Add(w.bootstrapInterval.Nanoseconds())
	}
	w.lastTimestamp = timestamp
}

// failureDetector monitors the liveness of known peers based on received
// messages and observed heartbeats.
type failureDetector interface {
	// Report records an arrival from the peer at the given time.
	Report(e peer.Endpoint, timestamp time.Time)
	// SuspicionLevel returns the phi value of the peer at the given time.
	SuspicionLevel(e peer.Endpoint, timestamp time.Time) float64
	// Remove discards the arrivals of the peer.
	Remove(e peer.Endpoint)
}

// accrualFailureDetector implements failureDetector using the "Phi Accrual
// Failure Detector".
type accrualFailureDetector struct {
	windows map[peer.Endpoint]*arrivalWindow

	// mu protects the above fields
	mu sync.Mutex

	bootstrapInterval time.Duration
	sampleSize        int
}

func newAccrualFailureDetector(
	bootstrapInterval time.Duration,
	sampleSize int,
) *accrualFailureDetector {
	return &accrualFailureDetector{
		windows:           make(map[peer.Endpoint]*arrivalWindow),
		bootstrapInterval: bootstrapInterval,
		sampleSize:        sampleSize,
	}
}

func (d *accrualFailureDetector) Report(e peer.Endpoint, timestamp time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	window, ok := d.windows[e]
	if !ok {
		window = newArrivalWindow(d.bootstrapInterval, d.sampleSize)
		d.windows[e] = window
	}
	window.Add(timestamp)
}

// SuspicionLevel returns the 'phi' value indicating the suspicion level of
// whether the peer is unreachable.
//
// The higher the suspicion level, the more likely the peer is to be
// unreachable.
func (d *accrualFailureDetector) SuspicionLevel(
	e peer.Endpoint,
	timestamp time.Time,
) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	window, ok := d.windows[e]
	if !ok {
		// If we have never received any heartbeats from the peer, start by
		// assuming it is alive, though add an initial bootstrap interval so we
		// can eventually detect the peer as unreachable if we never receive
		// any heartbeats.
		window = newArrivalWindow(d.bootstrapInterval, d.sampleSize)
		window.Add(timestamp)
		d.windows[e] = window
	}

	return window.Phi(timestamp)
}

func (d *accrualFailureDetector) Remove(e peer.Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.windows, e)
}

var _ failureDetector = &accrualFailureDetector{}
