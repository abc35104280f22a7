package peer

import (
	"math/rand"
	"time"
)

const (
	defaultCapacity = 1024
)

type listOptions struct {
	capacity  int
	listeners []Listener
	now       func() time.Time
}

type ListOption interface {
	apply(*listOptions)
}

func defaultListOptions() listOptions {
	return listOptions{
		capacity: defaultCapacity,
		now:      time.Now,
	}
}

type capacityOption int

func (o capacityOption) apply(opts *listOptions) {
	opts.capacity = int(o)
}

// WithCapacity sets the maximum number of peers the list can hold.
func WithCapacity(capacity int) ListOption {
	return capacityOption(capacity)
}

type listenerOption struct {
	Listener Listener
}

func (o listenerOption) apply(opts *listOptions) {
	opts.listeners = append(opts.listeners, o.Listener)
}

// WithListener registers a listener to be notified of joined peers. May be
// given multiple times.
func WithListener(l Listener) ListOption {
	return listenerOption{Listener: l}
}

type clockOption func() time.Time

func (o clockOption) apply(opts *listOptions) {
	opts.now = o
}

// WithClock overrides the clock used to timestamp state changes and refute
// suspicions. Defaults to time.Now.
func WithClock(now func() time.Time) ListOption {
	return clockOption(now)
}

// Rand is the source of randomness used to select peers. *rand.Rand
// implements Rand.
type Rand interface {
	Intn(n int) int
}

type shuffledOptions struct {
	rand Rand
}

type ShuffledOption interface {
	apply(*shuffledOptions)
}

func defaultShuffledOptions() shuffledOptions {
	return shuffledOptions{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type randOption struct {
	Rand Rand
}

func (o randOption) apply(opts *shuffledOptions) {
	opts.rand = o.Rand
}

// WithRand overrides the source of randomness, such as to use a fixed seed
// in tests.
func WithRand(r Rand) ShuffledOption {
	return randOption{Rand: r}
}
