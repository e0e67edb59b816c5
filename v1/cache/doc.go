// Package cache memoizes function calls in the configured store.
//
// A wrapped function derives a key from each call's arguments (see package
// keys). When the store holds a record for that key the stored value is
// decoded and returned without calling the function; otherwise the function
// runs and its encoded result is stored, optionally with a TTL. Presence is
// decided by the store alone, so zero values and empty collections are cached
// like any other result.
package cache
