/*
Package ssereplay implements a Server-Sent Events server that numbers every
event it sends and replays recent history to clients that reconnect, so a
dropped connection does not lose messages.


Server-Sent Events

For more information on the SSE format itself, check out this fairly
comprehensive article:
http://www.html5rocks.com/en/tutorials/eventsource/basics/

Every event frame carries an id, an event name and a single JSON data line:

    id: 42
    event: update
    data: {"timestamp":"2024-05-01T12:00:00Z","value":17,"message":"Update #42."}

Comment frames (": heartbeat", ": keepalive") keep idle connections from being
closed by intermediaries.


Streams

The server opens three streaming endpoints and a health probe:

    HTTP GET /events                   // general purpose updates
    HTTP GET /notifications/:userID    // notifications for one user
    HTTP GET /stocks                   // simulated ticker price moves
    HTTP GET /health                   // JSON liveness probe

A connection receives any replayed events, then a "connected" event, then one
generated event per stream interval until it disconnects.


Replay

Each endpoint is backed by a topic with its own id sequence and a bounded
history of the most recent events (100 by default). A client that reconnects
with a Last-Event-ID header (or a lastEventId query parameter) first receives
every retained event newer than that id, in order, before anything live. If
the marker is older than the retained window the whole window is replayed;
this is best effort, not a delivery guarantee.

Ids on a single connection are always strictly increasing. The ticker is one
random walk shared by the /stocks topic, so replayed and live price moves
continue each other.

Per-user notification topics are reclaimed, history included, after they have
had no sessions for a while (WithTopicIdleTTL), and their number is capped
(WithMaxTopics).
*/
package ssereplay
