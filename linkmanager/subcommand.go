package linkmanager

const (
	outputReportSubcommand = 0x01
	inputReportReply       = 0x21
	outputReportLength     = 49
)

// Subcommand ids used by the engine.
const (
	SubcommandSetReportMode    byte = 0x03
	SubcommandSetPlayerLights  byte = 0x30
	SubcommandEnableIMU        byte = 0x40
	SubcommandEnableVibration  byte = 0x48
	SubcommandSetMCUConfig     byte = 0x21
	SubcommandSetMCUState      byte = 0x22
	SubcommandExtDeviceInfo    byte = 0x59
	SubcommandExtFormatConfig  byte = 0x5c
	SubcommandEnableExtPolling byte = 0x5a
	SubcommandExtDeviceConfig  byte = 0x58
)

// neutralRumble keeps the motors idle while sending subcommands.
var neutralRumble = [8]byte{0x00, 0x01, 0x40, 0x40, 0x00, 0x01, 0x40, 0x40}

// Subcommand is one control request.
type Subcommand struct {
	ID      byte
	Payload []byte
}

// baseConfig switches the controller into full report mode.
var baseConfig = []Subcommand{
	{SubcommandEnableVibration, []byte{0x01}},
	{SubcommandEnableIMU, []byte{0x01}},
	{SubcommandSetReportMode, []byte{0x30}},
	// first player light on, first player light flashing
	{SubcommandSetPlayerLights, []byte{0x11}},
}

// AccessoryProbe powers the MCU and asks it to poll the ring on the rail.
// Once the ring answers, its reading shows up in full reports.
var AccessoryProbe = []Subcommand{
	{SubcommandSetMCUState, []byte{0x01}},
	{SubcommandSetMCUConfig, mcuConfig(0x00, 0x03, 0xfa)},
	{SubcommandSetMCUConfig, mcuConfig(0x01, 0x01, 0xf3)},
	{SubcommandExtDeviceInfo, nil},
	{SubcommandEnableIMU, []byte{0x03}},
	{SubcommandEnableIMU, []byte{0x02}},
	{SubcommandEnableIMU, []byte{0x01}},
	{SubcommandExtFormatConfig, []byte{
		0x06, 0x03, 0x25, 0x06, 0x00, 0x00, 0x00, 0x00, 0x1c, 0x16, 0xed, 0x34, 0x36, 0x00,
		0x00, 0x00, 0x0a, 0x64, 0x0b, 0xe6, 0xa9, 0x22, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x90, 0xa8, 0xe1, 0x34, 0x36,
	}},
	{SubcommandEnableExtPolling, []byte{0x04, 0x01, 0x01, 0x02}},
	{SubcommandExtDeviceConfig, []byte{0x04, 0x04, 0x12, 0x02}},
}

// mcuConfig builds the 38 byte MCU configuration payload. The last byte is
// the CRC-8 of the argument block, precomputed for the values used here.
func mcuConfig(a, b, crc byte) []byte {
	p := make([]byte, 38)
	p[0] = 0x21
	p[1] = a
	p[2] = b
	p[37] = crc
	return p
}

// buildSubcommand lays out output report 0x01:
//
//	0: report id
//	1: packet counter (low nibble)
//	2-9: rumble data
//	10: subcommand id
//	11-: payload, zero padded
func buildSubcommand(counter uint8, id byte, payload []byte) []byte {
	buf := make([]byte, max(outputReportLength, 11+len(payload)))
	buf[0] = outputReportSubcommand
	buf[1] = counter & 0x0f
	copy(buf[2:10], neutralRumble[:])
	buf[10] = id
	copy(buf[11:], payload)
	return buf
}
