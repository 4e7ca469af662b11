// Package notify carries structured change events from the coordinator's
// workers to interested observers such as the SSE stream and the metrics
// collectors. Delivery is fire-and-forget: publishers never block and slow
// subscribers drop events.
package notify
