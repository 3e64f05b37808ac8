/*
Package rabbitmq provides the queue-backed event bus transport.
Emit publishes persistent JSON messages to a durable exchange with the event
name as routing key and waits for the broker's publisher confirm. The first On
for an event name declares a durable queue named after the event, binds it to
the exchange and starts a consumer that acknowledges a delivery only after all
handlers succeed. It includes an auto-reconnect publisher and supports optional
header propagation via a bus.HeaderPropagator.
*/
package rabbitmq
