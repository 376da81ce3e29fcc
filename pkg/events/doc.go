/*
Package events provides an in-memory event broker for drover's pub/sub
messaging.

The control service publishes dataset and node lifecycle events here;
subscribers consume them for metrics, audit logging, and API streaming.
Delivery is best effort: publish never blocks, and a subscriber whose
buffer is full skips events rather than stalling the broadcast loop.

# Event Flow

 1. Publisher calls broker.Publish(event)
 2. Event lands on the main channel (buffer: 100)
 3. Broadcast loop fans the event out to subscriber channels (buffer: 50)
 4. Subscribers process events in their own goroutines

# Event Types

Dataset events:
  - dataset.created, dataset.moved, dataset.deleted, dataset.resized

Node events:
  - node.connected: agent channel established
  - node.degraded: agent reported an unavailable backend
  - node.lost: agent channel dropped

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s %s\n", event.Type, event.Message)
		}
	}()

Events are not persisted and cannot be replayed; anything that must
survive a restart belongs in pkg/storage, not here.
*/
package events
