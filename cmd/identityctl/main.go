// Command identityctl runs operational tasks against a goIdentity
// deployment: schema migration, catalog seeding, session sweeps and the
// background worker.
package main

import "github.com/MrEthical07/goIdentity/cmd/identityctl/cmd"

func main() {
	cmd.Execute()
}
