// Package lock provides mutual exclusion over named keys stored in the
// configured cachify store. A lock is held while its key exists; acquiring
// sets the key (atomically when the store supports it) with an expiration
// protecting against crashed holders, and releasing deletes it.
//
// Acquisition either checks once (the default) or polls every 100ms until a
// timeout. Locks can be used as scoped handles (Lock.Do), as function
// wrappers (Wrap, WrapAsync), or as run-once wrappers that fail fast or
// return a fallback value when another call holds the key (Once, OnceAsync).
// The Async variants run the same protocol against the suspending store and
// return futures.
package lock
