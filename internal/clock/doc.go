// Package clock provides the vector clock used to version every value in the
// store. A clock maps node IDs to write counters and captures the
// happened-before relation between writes made on different nodes.
//
// Clocks are values: Increment and Merge return new clocks and never modify
// their receiver, so a clock held by the store can be handed to an in-flight
// gossip message without copying.
package clock
