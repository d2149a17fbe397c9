package taskqueue

import "github.com/Iron-Ham/pqueue/internal/event"

// BusObserver is an Observer that publishes each lifecycle notification
// as an event on an event bus, tagged with the queue name.
type BusObserver struct {
	queue string
	bus   *event.Bus
}

// NewBusObserver creates an observer publishing events for queue on bus.
func NewBusObserver(queue string, bus *event.Bus) *BusObserver {
	return &BusObserver{queue: queue, bus: bus}
}

// OnTaskBegin publishes a TaskBeganEvent.
func (o *BusObserver) OnTaskBegin(rec TaskRecord) {
	o.bus.Publish(event.NewTaskBeganEvent(o.queue, rec.ID, rec.Kind, rec.Attempts))
}

// OnTaskComplete publishes a TaskCompletedEvent.
func (o *BusObserver) OnTaskComplete(id int64, success bool) {
	o.bus.Publish(event.NewTaskCompletedEvent(o.queue, id, success))
}

// OnTaskCancel publishes a TaskCancelledEvent.
func (o *BusObserver) OnTaskCancel(id int64) {
	o.bus.Publish(event.NewTaskCancelledEvent(o.queue, id))
}

// OnTaskProgress publishes a TaskProgressEvent.
func (o *BusObserver) OnTaskProgress(id int64, progress float64) {
	o.bus.Publish(event.NewTaskProgressEvent(o.queue, id, progress))
}

// Observe attaches a BusObserver for q to bus and returns it.
func Observe(q *Queue, bus *event.Bus) *BusObserver {
	o := NewBusObserver(q.Name(), bus)
	q.SetObserver(o)
	return o
}
