// Package bridge is the typed publish/subscribe boundary between the firmware
// core and the external shell.
//
// Inbound commands are decoded against the payload type registered for their
// kind and handed, in arrival order, to a single worker goroutine. Malformed
// payloads are logged once and dropped. Outbound events fan out to every
// subscribed observer through a bounded queue; an observer whose queue is
// full is detached rather than allowed to stall the publisher.
package bridge
