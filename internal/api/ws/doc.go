// Package ws streams kernel events to WebSocket clients.
//
// The Hub is installed as the kernel's event sink. Publish only queues, so
// the kernel never waits on a slow client; Run encodes each event once with
// sonic and fans it out.
//
// Message Types (Client → Server):
//   - subscribe: restrict the stream to kinds and/or one pid
//   - ping: keep-alive, answered with pong and the drop counter
//
// Message Types (Server → Client):
//   - system: welcome frame carrying the session id
//   - event: one kernel event (start, termination, gate, delivery, timeout, irq)
//   - subscribed, pong, error
//
// Example Usage:
//
//	hub := ws.NewHub(logger, metrics)
//	k.WithEvents(hub.Publish)
//	go hub.Run(ctx)
//	router.GET("/ws", ws.NewHandler(hub, session).HandleConnection)
package ws
