/*
Package servicebus provides a thin in-process mediator for commands and queries.
Transports bind nothing here: the REST layer dispatches commands and asks
queries, and the booking handlers are bound once in the composition root.
Integration events travel over contract/bus.EventBus instead.
*/
package servicebus
