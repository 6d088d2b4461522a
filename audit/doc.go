// Package audit records authorization-relevant changes.
//
// Operations build an [Entry] and hand it to a [Dispatcher], which stamps
// it and forwards it to a [Sink] either inline or through a bounded buffer.
// Sink failures are counted ([Dispatcher.Failed], [Dispatcher.Dropped]),
// logged at Warn, and never roll back the operation that produced them.
//
// Stores that persist entries also implement [Reader] for after-the-fact
// queries.
package audit
