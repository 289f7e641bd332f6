// Command gatekeeper runs the request gatekeeping layer.
package main

import "github.com/Sentinel-Gate/gatekeeper/cmd/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
