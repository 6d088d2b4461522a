// Package memory provides in-process implementations of the goIdentity
// store contracts. They are safe for concurrent use and intended for tests,
// the load-test driver and single-node development.
package memory
