package core

// Capability describes one board model: which pins can do what, the
// pin tuples of fixed-function modules, and the module pool sizes.
// A capability table is resolved from the hardware id during the
// handshake and is immutable afterwards.
type Capability struct {
	HardwareID string
	NumPins    int

	analogPins        map[int]bool
	peripheralInPins  map[int]bool
	peripheralOutPins map[int]bool
	capSensePins      map[int]bool

	// TwiPins maps each TWI module number to its (SDA, SCL) pin pair.
	TwiPins [][2]int
	// IcspPins is the (PGC, PGD, MCLR) triple.
	IcspPins [3]int

	NumPwm         int
	NumUart        int
	NumSpi         int
	NumIncapSingle int
	NumIncapDouble int
	NumSequencer   int

	// Firmware-side TX buffer sizes, the upper bounds for the
	// outstanding-TX flow-control counters.
	UartBufferSize int
	SpiBufferSize  int
	TwiBufferSize  int
	IcspBufferSize int
}

// NumTwi returns the number of TWI modules (fixed by the pin tuples).
func (c *Capability) NumTwi() int {
	return len(c.TwiPins)
}

// IsValidPin reports whether pin exists on this board.
func (c *Capability) IsValidPin(pin int) bool {
	return pin >= 0 && pin < c.NumPins
}

// IsAnalogPin reports whether pin can be sampled as an analog input.
func (c *Capability) IsAnalogPin(pin int) bool {
	return c.analogPins[pin]
}

// IsPeripheralInPin reports whether pin can be mapped to a peripheral
// input function (UART RX, SPI MISO, incap).
func (c *Capability) IsPeripheralInPin(pin int) bool {
	return c.peripheralInPins[pin]
}

// IsPeripheralOutPin reports whether pin can be mapped to a peripheral
// output function (UART TX, SPI MOSI/CLK, PWM).
func (c *Capability) IsPeripheralOutPin(pin int) bool {
	return c.peripheralOutPins[pin]
}

// IsCapSensePin reports whether pin supports capacitive sensing.
func (c *Capability) IsCapSensePin(pin int) bool {
	return c.capSensePins[pin]
}

// StatLedPin is the board's stat LED, active low.
const StatLedPin = 0

func pinRange(lo, hi int) []int {
	pins := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		pins = append(pins, p)
	}
	return pins
}

func pinSet(groups ...[]int) map[int]bool {
	set := make(map[int]bool)
	for _, group := range groups {
		for _, p := range group {
			set[p] = true
		}
	}
	return set
}

func newCapability(hardwareID string) *Capability {
	peripheral := pinSet(
		pinRange(3, 7),
		pinRange(10, 14),
		pinRange(27, 32),
		pinRange(34, 40),
		pinRange(45, 48),
	)
	analog := pinSet(pinRange(31, 46))
	return &Capability{
		HardwareID:        hardwareID,
		NumPins:           49,
		analogPins:        analog,
		peripheralInPins:  peripheral,
		peripheralOutPins: peripheral,
		capSensePins:      analog,
		TwiPins:           [][2]int{{4, 5}, {47, 48}, {26, 25}},
		IcspPins:          [3]int{36, 37, 38},
		NumPwm:            9,
		NumUart:           4,
		NumSpi:            3,
		NumIncapSingle:    3,
		NumIncapDouble:    3,
		NumSequencer:      1,
		UartBufferSize:    256,
		SpiBufferSize:     256,
		TwiBufferSize:     256,
		IcspBufferSize:    256,
	}
}

// capabilities maps firmware hardware ids to board capability tables.
var capabilities = map[string]*Capability{
	"SPRK0016": newCapability("SPRK0016"),
	"SPRK0020": newCapability("SPRK0020"),
}

// ResolveCapability finds the capability table for a hardware id
// reported at handshake. Unknown models leave the session
// incompatible.
func ResolveCapability(hardwareID string) (*Capability, bool) {
	c, ok := capabilities[hardwareID]
	return c, ok
}
