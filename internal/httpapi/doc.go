// Package httpapi exposes the goIdentity engine as a JSON HTTP API on a chi
// router. cmd/identityd serves it; examples/http-minimal runs it against
// in-memory stores.
package httpapi
