package reconcile

// FirstNewID is the id of the first element created by a run.
const FirstNewID int64 = -1000

// IDAllocator hands out strictly decreasing negative ids.
type IDAllocator struct {
	next int64
}

// NewIDAllocator starts at FirstNewID.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: FirstNewID}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() int64 {
	id := a.next
	a.next--
	return id
}
