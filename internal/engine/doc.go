// Package engine provides the bounded template execution engine. It admits
// executions into a fixed pool of workers and a bounded queue, enforces a time
// limit on every render, escalates cancellation of renders that overrun it,
// and abandons the workers of renders that never stop.
package engine
