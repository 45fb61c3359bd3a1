package control

// RGB is a button background color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Button describes the start/stop button for the current enable state.
type Button struct {
	Label string `json:"label"`
	Color RGB    `json:"color"`
}

var (
	stopButton  = Button{Label: "Stop", Color: RGB{R: 151, G: 28, B: 28}}
	startButton = Button{Label: "Start", Color: RGB{R: 0, G: 143, B: 0}}
)

// ButtonFor returns the button to show: "Stop" (red) while enabled, "Start" (green) otherwise.
func ButtonFor(enabled bool) Button {
	if enabled {
		return stopButton
	}
	return startButton
}
