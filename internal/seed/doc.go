// Package seed loads a YAML role and permission catalog and applies it to
// the rbac stores. Applying the same manifest twice changes nothing.
package seed
