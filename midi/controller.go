package midi

// ControllerType identifies the kind of controller
type ControllerType int

const (
	ControllerUnknown ControllerType = iota
	ControllerLaunchpad
)

// PadEvent is sent when a pad/button is pressed on a grid controller
type PadEvent struct {
	Row, Col int
	Velocity uint8
}

// LEDUpdate sets one pad. Row 8 is the top button row, col 8 the side
// column.
type LEDUpdate struct {
	Row, Col int
	Color    [3]uint8
	Channel  uint8
}

// Controller is the interface for grid controllers
type Controller interface {
	ID() string
	Type() ControllerType

	// PadEvents is closed when the controller closes
	PadEvents() <-chan PadEvent

	SetLEDBatch(updates []LEDUpdate) error
	ClearLEDs() error

	Close() error
}

// Launchpad X palette entries (velocity values 0-127)
const (
	ColorOff   uint8 = 0
	ColorWhite uint8 = 119

	// Channel modes for LED messages
	ChannelStatic uint8 = 0 // solid color
	ChannelFlash  uint8 = 1 // flashing A/B alternating
	ChannelPulse  uint8 = 2 // pulsing (fades)
)
