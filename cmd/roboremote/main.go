// Command roboremote steers a motorized suitcase from wrist tilt and a
// rotary knob, pushing an (angle, speed) command every tick.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
