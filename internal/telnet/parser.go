// Package telnet implements the client side of Telnet option
// negotiation (RFC 854/855): a streaming IAC parser and the responses a
// terminal client gives to a network device's option requests.
package telnet

// Command bytes.
const (
	SE   byte = 240 // end of subnegotiation
	SB   byte = 250 // begin subnegotiation
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255 // interpret as command
)

// Options the client knows about.
const (
	OptEcho         byte = 1
	OptSuppressGA   byte = 3
	OptTerminalType byte = 24
	OptNAWS         byte = 31
)

// Terminal-type subnegotiation verbs (RFC 1091).
const (
	TTypeIS   byte = 0
	TTypeSEND byte = 1
)

// State is a parser state.
type State int

const (
	StateNormal State = iota
	StateIAC
	StateWill
	StateWont
	StateDo
	StateDont
	StateSB
	StateSBData
	StateSBIAC
)

var stateNames = [...]string{"normal", "iac", "will", "wont", "do", "dont", "sb", "sb-data", "sb-iac"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// Command is one negotiation command extracted from the stream.  Verb
// is WILL, WONT, DO, DONT or SB; Data holds the unescaped payload of an
// SB command.
type Command struct {
	Verb   byte
	Option byte
	Data   []byte
}

// Parser splits a Telnet byte stream into payload bytes and commands.
// It keeps its state between calls, so commands may be split across
// reads at any byte.  A Parser is not safe for concurrent use.
type Parser struct {
	state    State
	sbOption byte
	sbData   []byte
}

// NewParser returns a parser in the Normal state.
func NewParser() *Parser { return &Parser{} }

// State returns the current automaton state.
func (p *Parser) State() State { return p.state }

// Parse consumes in and returns its payload bytes (with IAC IAC
// unescaped to a literal 0xFF) and the commands it completed.
func (p *Parser) Parse(in []byte) (data []byte, cmds []Command) {
	data = make([]byte, 0, len(in))

	for _, b := range in {
		switch p.state {
		case StateNormal:
			if b == IAC {
				p.state = StateIAC
			} else {
				data = append(data, b)
			}

		case StateIAC:
			switch b {
			case IAC:
				data = append(data, IAC)
				p.state = StateNormal
			case WILL:
				p.state = StateWill
			case WONT:
				p.state = StateWont
			case DO:
				p.state = StateDo
			case DONT:
				p.state = StateDont
			case SB:
				p.state = StateSB
			default:
				// SE outside a subnegotiation, NOP, GA and the rest.
				p.state = StateNormal
			}

		case StateWill, StateWont, StateDo, StateDont:
			cmds = append(cmds, Command{Verb: verbOf(p.state), Option: b})
			p.state = StateNormal

		case StateSB:
			p.sbOption = b
			p.sbData = nil
			p.state = StateSBData

		case StateSBData:
			if b == IAC {
				p.state = StateSBIAC
			} else {
				p.sbData = append(p.sbData, b)
			}

		case StateSBIAC:
			switch b {
			case SE:
				cmds = append(cmds, Command{Verb: SB, Option: p.sbOption, Data: p.sbData})
				p.sbData = nil
				p.state = StateNormal
			case IAC:
				p.sbData = append(p.sbData, IAC)
				p.state = StateSBData
			default:
				// Malformed subnegotiation; drop it.
				p.sbData = nil
				p.state = StateNormal
			}
		}
	}
	return data, cmds
}

func verbOf(s State) byte {
	switch s {
	case StateWill:
		return WILL
	case StateWont:
		return WONT
	case StateDo:
		return DO
	default:
		return DONT
	}
}
