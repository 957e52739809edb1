// Package eventsource implements core.EventSource adapters.
//
// Poller drives a FetchFunc on a timer with serialized cycles and
// exponential backoff after failures. ChainSource reads contract logs from an
// EVM node and RSSSource reads new feed items; both plug into a Poller.
// AMQPSource consumes encoded events from a RabbitMQ queue.
package eventsource
