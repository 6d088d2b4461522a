// Package rbac is the role and permission authorization engine.
//
// A user's effective permission set is the union of the permissions of the
// roles they hold through active assignments and their active direct
// grants. Every assignment and grant may carry an expiry; expired rows stay
// in storage but are ignored at read time.
//
// # Escalation guard
//
// Administrative changes go through [Engine] and are checked against the
// actor's fresh (never cached) context:
//
//   - AssignRole and RemoveRole need roles.assign and a level strictly
//     above the role's.
//   - GrantPermission and RevokePermission need permissions.grant. With the
//     level gate on, the actor must also outrank the target, and may only
//     grant permissions it holds.
//   - Catalog changes need the matching roles.* or permissions.* permission.
//     Roles can only be created, changed or deleted below the actor's level.
//
// Every change, allowed or denied, is handed to the configured [Auditor].
//
// # Caching
//
// [WithCache] keeps resolved contexts per user. An entry lives until the
// TTL or the next expiry among the user's rows, whichever comes first.
// Changes to a user's rows invalidate that user; catalog changes invalidate
// everyone. Engines sharing stores stay consistent through a [Notifier];
// [RedisInvalidator] publishes over Redis pub/sub and [RedisInvalidator.Attach]
// applies what other engines publish.
package rbac
