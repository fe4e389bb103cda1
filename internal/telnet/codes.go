package telnet

import "fmt"

// Command bytes, RFC 854.
const (
	SE   byte = 240 // end of subnegotiation
	NOP  byte = 241 // no operation
	DM   byte = 242 // data mark
	BRK  byte = 243 // break
	IP   byte = 244 // interrupt process
	AO   byte = 245 // abort output
	AYT  byte = 246 // are you there
	EC   byte = 247 // erase character
	EL   byte = 248 // erase line
	GA   byte = 249 // go ahead
	SB   byte = 250 // start of subnegotiation
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255 // interpret as command
)

// Option codes.
const (
	OptEcho                 byte = 1  // RFC 857
	OptSuppressGoAhead      byte = 3  // RFC 858
	OptStatus               byte = 5  // RFC 859
	OptTimingMark           byte = 6  // RFC 860
	OptTerminalType         byte = 24 // RFC 1091
	OptWindowSize           byte = 31 // RFC 1073 (NAWS)
	OptTerminalSpeed        byte = 32 // RFC 1079
	OptRemoteFlowControl    byte = 33 // RFC 1372
	OptLinemode             byte = 34 // RFC 1184
	OptEnvironmentVariables byte = 36 // RFC 1408
)

// NVT control characters, RFC 854 table.
const (
	NUL byte = 0
	BS  byte = 8
	NAK byte = 21
)

var commandNames = map[byte]string{
	SE:   "SE",
	NOP:  "NOP",
	DM:   "DM",
	BRK:  "BRK",
	IP:   "IP",
	AO:   "AO",
	AYT:  "AYT",
	EC:   "EC",
	EL:   "EL",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

var optionNames = map[byte]string{
	OptEcho:                 "ECHO",
	OptSuppressGoAhead:      "SUPPRESS-GO-AHEAD",
	OptStatus:               "STATUS",
	OptTimingMark:           "TIMING-MARK",
	OptTerminalType:         "TERMINAL-TYPE",
	OptWindowSize:           "WINDOW-SIZE",
	OptTerminalSpeed:        "TERMINAL-SPEED",
	OptRemoteFlowControl:    "REMOTE-FLOW-CONTROL",
	OptLinemode:             "LINEMODE",
	OptEnvironmentVariables: "ENVIRONMENT-VARIABLES",
}

// CommandName returns the mnemonic for a command byte, or "CMD(n)".
func CommandName(cmd byte) string {
	if s, ok := commandNames[cmd]; ok {
		return s
	}
	return fmt.Sprintf("CMD(%d)", cmd)
}

// OptionName returns the mnemonic for an option code, or "OPT(n)".
func OptionName(opt byte) string {
	if s, ok := optionNames[opt]; ok {
		return s
	}
	return fmt.Sprintf("OPT(%d)", opt)
}
