// Command runosd is the controller's entrypoint: it loads
// network-settings.json, wires every component together, and serves the
// OpenFlow control channel until killed.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
