// Package http exposes the kernel over a JSON REST API built on gin.
//
// Every kernel call answers with a "status" field and an X-Kernel-Status
// header carrying the kernel status (for example ERR_NOT_FOUND). The HTTP
// code is derived from it: info and warning statuses are 200, errors map
// onto the closest HTTP class.
//
// Endpoints:
//   - Host: /, /health, /apps, /apps/:app/pid, /apps/:app/instantiate,
//     /irq/:source/trigger, /procs/:pid/{abort,interrupt,end-interrupt}
//   - Regions: /procs/:pid/labels/:label, /procs/:pid/regions/:rid[/bundle-id]
//   - Windows: /procs/:pid/windows/:slot[/data]
//   - Shared buffers: /procs/:pid/buffers/:rid/{reset,credentials,transfer}
//   - IPC: /procs/:pid/{notify,send,call}/:target, /procs/:pid/receive
//   - Interrupts: /procs/:pid/irqs[/:reg[/:action]]
//   - Process: /procs/:pid/{instantiate/:app,apps/:app/pid,attributes/:target/:tag,yield,exit}
//   - Apps: /procs/:pid/apps/:app/{index,attributes/:tag}
//   - Observability: /snapshot, /stats
//
// Blocking IPC and yield calls hold the request open; cancelling the
// request aborts the wait.
package http
