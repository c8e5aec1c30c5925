package gateway

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/stellarlinkco/remindme/internal/bus"
)

// dispatcher fans inbound messages out to a fixed set of workers. A chat
// always maps to the same worker, so its messages are handled in arrival
// order while different chats proceed in parallel.
type dispatcher struct {
	queues []chan bus.InboundMessage
	handle func(context.Context, bus.InboundMessage)
	wg     sync.WaitGroup
}

func newDispatcher(workers, buf int, handle func(context.Context, bus.InboundMessage)) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &dispatcher{
		queues: make([]chan bus.InboundMessage, workers),
		handle: handle,
	}
	for i := range d.queues {
		d.queues[i] = make(chan bus.InboundMessage, buf)
	}
	return d
}

func (d *dispatcher) start(ctx context.Context) {
	for _, q := range d.queues {
		d.wg.Add(1)
		go func(q chan bus.InboundMessage) {
			defer d.wg.Done()
			for {
				select {
				case msg := <-q:
					d.handle(ctx, msg)
				case <-ctx.Done():
					return
				}
			}
		}(q)
	}
}

func (d *dispatcher) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// submit blocks while the chat's worker queue is full.
func (d *dispatcher) submit(ctx context.Context, msg bus.InboundMessage) error {
	select {
	case d.queues[d.shard(msg.SessionKey())] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) wait() {
	d.wg.Wait()
}
