package telnet

// DefaultTerminalType is reported in TTYPE IS replies.
const DefaultTerminalType = "xterm-256color"

// Negotiator answers a device's option negotiation on behalf of a
// terminal client: it agrees to ECHO and SGA from the server, offers
// TTYPE, NAWS and SGA from the client side and refuses everything else.
type Negotiator struct {
	TerminalType string
	Cols, Rows   uint16
}

// Respond builds the bytes to write back for cmds.  The result is
// empty when no command needs an answer.
func (n *Negotiator) Respond(cmds []Command) []byte {
	var out []byte
	for _, c := range cmds {
		switch c.Verb {
		case WILL:
			switch c.Option {
			case OptEcho, OptSuppressGA:
				out = append(out, IAC, DO, c.Option)
			default:
				out = append(out, IAC, DONT, c.Option)
			}

		case DO:
			switch c.Option {
			case OptTerminalType, OptSuppressGA:
				out = append(out, IAC, WILL, c.Option)
			case OptNAWS:
				out = append(out, IAC, WILL, OptNAWS)
				out = append(out, NAWS(n.Cols, n.Rows)...)
			default:
				out = append(out, IAC, WONT, c.Option)
			}

		case SB:
			if c.Option == OptTerminalType && len(c.Data) > 0 && c.Data[0] == TTypeSEND {
				out = append(out, IAC, SB, OptTerminalType, TTypeIS)
				out = append(out, n.terminalType()...)
				out = append(out, IAC, SE)
			}
		}
		// WONT and DONT need no reply.
	}
	return out
}

func (n *Negotiator) terminalType() string {
	if n.TerminalType == "" {
		return DefaultTerminalType
	}
	return n.TerminalType
}

// NAWS encodes a window-size subnegotiation (RFC 1073).  Size bytes
// equal to IAC are doubled.
func NAWS(cols, rows uint16) []byte {
	out := make([]byte, 0, 13)
	out = append(out, IAC, SB, OptNAWS)
	for _, b := range [4]byte{byte(cols >> 8), byte(cols), byte(rows >> 8), byte(rows)} {
		if b == IAC {
			out = append(out, IAC)
		}
		out = append(out, b)
	}
	return append(out, IAC, SE)
}
