/*
Package events broadcasts orchestration state changes to in-process
subscribers.

The broker is a plain fan-out bus: publishers hand it events describing
run, job, instance, and gateway transitions; every subscriber gets its
own buffered channel. Delivery is best effort with no persistence or
replay. A subscriber that stops draining misses events rather than
stalling the publisher, so nothing in the orchestration path may depend
on an event arriving.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s: %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(events.NewRunEvent(events.EventRunSubmitted, run, "Run submitted"))
*/
package events
