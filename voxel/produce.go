package voxel

// Sample is the intake format from terrain/procedural generation.
type Sample struct {
	MaterialID uint16
	Density    uint8
}

// Request asks the external generator to produce voxel samples for a
// cell. Generation is asynchronous; the solver never blocks on it.
type Request struct {
	Cell Cell
}

// Fulfillment carries a produced sample back to the store.
type Fulfillment struct {
	Cell   Cell
	Sample Sample
}

// ProductionQueue is the request/fulfill channel pair between the solver
// and the external voxel producer. The solver posts requests without
// blocking (dropped when the producer is saturated, re-requested later)
// and drains fulfillments at step start.
type ProductionQueue struct {
	requests     chan Request
	fulfillments chan Fulfillment
}

// NewProductionQueue creates a queue with the given buffer depth.
func NewProductionQueue(depth int) *ProductionQueue {
	return &ProductionQueue{
		requests:     make(chan Request, depth),
		fulfillments: make(chan Fulfillment, depth),
	}
}

// Request posts a production request. Returns false when the producer is
// saturated; the caller re-requests on a later step.
func (q *ProductionQueue) Request(cell Cell) bool {
	select {
	case q.requests <- Request{Cell: cell}:
		return true
	default:
		return false
	}
}

// Requests exposes the producer side of the queue.
func (q *ProductionQueue) Requests() <-chan Request {
	return q.requests
}

// Fulfill delivers a produced sample. Called from the producer goroutine.
func (q *ProductionQueue) Fulfill(cell Cell, sample Sample) {
	q.fulfillments <- Fulfillment{Cell: cell, Sample: sample}
}

// Drain applies all pending fulfillments to the store without blocking
// and returns the number of voxels placed.
func (q *ProductionQueue) Drain(store *Store) int {
	placed := 0
	for {
		select {
		case f := <-q.fulfillments:
			if store.Place(f.Cell, f.Sample) != InvalidID {
				placed++
			}
		default:
			return placed
		}
	}
}
