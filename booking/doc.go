/*
Package booking holds the room booking domain: the static room catalog, the
stay period with its overlap rule and the availability policy shared by the
command side (checking a request before it is committed) and the query side
(listing free rooms from the projected read model).

Periods are half-open: a stay ending on the 9th does not block a stay
starting on the 9th.
*/
package booking
