package service

import (
	"fmt"
	"sync"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

// Aggregator folds per-transfer fractions into one overall percentage. Two units of
// work are counted per item. Every update is applied and published under one lock,
// so concurrent fetches see a single writer.
type Aggregator struct {
	mu        sync.Mutex
	units     []float64
	itemsDone int
	total     int
	last      domain.ProgressSnapshot
	observer  ports.ProgressObserver
}

// NewAggregator creates an aggregator for items references. observer may be nil.
func NewAggregator(items int, observer ports.ProgressObserver) *Aggregator {
	if items < 0 {
		items = 0
	}
	return &Aggregator{
		units:    make([]float64, items*domain.UnitsPerItem),
		total:    items,
		observer: observer,
		last:     domain.ProgressSnapshot{ItemsTotal: items},
	}
}

// Update records the fraction of one unit of one item. An indeterminate fraction
// leaves the unit's progress unchanged and only refreshes the message.
func (a *Aggregator) Update(item int, unit domain.Unit, fraction float64, message string) domain.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.unitIndex(item, unit); ok && fraction >= 0 {
		a.units[i] = clamp(fraction, 0, 1)
	}
	return a.publish(a.itemMessage(item, message))
}

// Status publishes a message without changing any unit.
func (a *Aggregator) Status(message string) domain.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publish(message)
}

// CompleteItem settles both units of a terminal item and advances the completed
// item counter.
func (a *Aggregator) CompleteItem(item int, message string) domain.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, unit := range []domain.Unit{domain.UnitVideo, domain.UnitAudio} {
		if i, ok := a.unitIndex(item, unit); ok {
			a.units[i] = 1
		}
	}
	if a.itemsDone < a.total {
		a.itemsDone++
	}
	return a.publish(a.itemMessage(item, message))
}

// Finish publishes a final 100% snapshot.
func (a *Aggregator) Finish(message string) domain.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.units {
		a.units[i] = 1
	}
	a.itemsDone = a.total
	return a.publish(message)
}

// Snapshot returns the most recently published snapshot.
func (a *Aggregator) Snapshot() domain.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Aggregator) unitIndex(item int, unit domain.Unit) (int, bool) {
	i := item*domain.UnitsPerItem + int(unit)
	return i, item >= 0 && item < a.total && i < len(a.units)
}

func (a *Aggregator) itemMessage(item int, message string) string {
	if a.total == 0 {
		return message
	}
	return fmt.Sprintf("[%d/%d] %s", item+1, a.total, message)
}

// publish must be called with a.mu held.
func (a *Aggregator) publish(message string) domain.ProgressSnapshot {
	percent := 100.0
	if len(a.units) > 0 {
		var sum float64
		for _, u := range a.units {
			sum += u
		}
		percent = clamp(sum/float64(len(a.units))*100, 0, 100)
	}

	a.last = domain.ProgressSnapshot{
		Percent:    percent,
		Message:    message,
		ItemsDone:  a.itemsDone,
		ItemsTotal: a.total,
	}
	if a.observer != nil {
		a.observer(a.last)
	}
	return a.last
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ChannelObserver forwards snapshots to ch without ever blocking the sender: when
// the receiver falls behind, the snapshot is dropped.
func ChannelObserver(ch chan<- domain.ProgressSnapshot) ports.ProgressObserver {
	return func(s domain.ProgressSnapshot) {
		select {
		case ch <- s:
		default:
		}
	}
}
