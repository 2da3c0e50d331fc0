package telnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlainData(t *testing.T) {
	p := NewParser()
	data, cmds := p.Parse([]byte("hello\r\n"))
	assert.Equal(t, []byte("hello\r\n"), data)
	assert.Empty(t, cmds)
	assert.Equal(t, StateNormal, p.State())
}

func TestParse_EscapedIAC(t *testing.T) {
	p := NewParser()
	data, cmds := p.Parse([]byte{'a', IAC, IAC, 'b'})
	assert.Equal(t, []byte{'a', 0xFF, 'b'}, data)
	assert.Empty(t, cmds)
}

func TestParse_Commands(t *testing.T) {
	p := NewParser()
	in := []byte{IAC, WILL, OptEcho, 'x', IAC, DO, OptNAWS, IAC, WONT, 5, IAC, DONT, 6}
	data, cmds := p.Parse(in)

	assert.Equal(t, []byte("x"), data)
	assert.Equal(t, []Command{
		{Verb: WILL, Option: OptEcho},
		{Verb: DO, Option: OptNAWS},
		{Verb: WONT, Option: 5},
		{Verb: DONT, Option: 6},
	}, cmds)
}

func TestParse_SplitAcrossChunks(t *testing.T) {
	p := NewParser()
	stream := []byte{'a', IAC, DO, OptTerminalType, IAC, SB, OptTerminalType, TTypeSEND, IAC, SE, 'b', IAC, IAC}

	var data []byte
	var cmds []Command
	for _, b := range stream {
		d, c := p.Parse([]byte{b})
		data = append(data, d...)
		cmds = append(cmds, c...)
	}

	assert.Equal(t, []byte{'a', 'b', 0xFF}, data)
	require.Len(t, cmds, 2)
	assert.Equal(t, Command{Verb: DO, Option: OptTerminalType}, cmds[0])
	assert.Equal(t, Command{Verb: SB, Option: OptTerminalType, Data: []byte{TTypeSEND}}, cmds[1])
}

func TestParse_SubnegotiationEscapedIAC(t *testing.T) {
	p := NewParser()
	_, cmds := p.Parse([]byte{IAC, SB, OptNAWS, 0, IAC, IAC, 0, 24, IAC, SE})
	require.Len(t, cmds, 1)
	assert.Equal(t, []byte{0, 0xFF, 0, 24}, cmds[0].Data)
}

func TestParse_MalformedSubnegotiationReturnsToNormal(t *testing.T) {
	p := NewParser()
	data, cmds := p.Parse([]byte{IAC, SB, OptTerminalType, 1, IAC, 'z', 'o', 'k'})
	assert.Empty(t, cmds)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, StateNormal, p.State())
}

func TestParse_UnknownCommandReturnsToNormal(t *testing.T) {
	p := NewParser()
	// IAC NOP, IAC GA, stray IAC SE
	data, cmds := p.Parse([]byte{IAC, 241, 'a', IAC, 249, IAC, SE, 'b'})
	assert.Equal(t, []byte("ab"), data)
	assert.Empty(t, cmds)
}

func TestRespond(t *testing.T) {
	n := &Negotiator{Cols: 80, Rows: 24}

	tests := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{"will echo", Command{Verb: WILL, Option: OptEcho}, []byte{IAC, DO, OptEcho}},
		{"will sga", Command{Verb: WILL, Option: OptSuppressGA}, []byte{IAC, DO, OptSuppressGA}},
		{"will unsupported", Command{Verb: WILL, Option: 42}, []byte{IAC, DONT, 42}},
		{"do ttype", Command{Verb: DO, Option: OptTerminalType}, []byte{IAC, WILL, OptTerminalType}},
		{"do sga", Command{Verb: DO, Option: OptSuppressGA}, []byte{IAC, WILL, OptSuppressGA}},
		{"do naws", Command{Verb: DO, Option: OptNAWS},
			[]byte{IAC, WILL, OptNAWS, IAC, SB, OptNAWS, 0, 80, 0, 24, IAC, SE}},
		{"do unsupported", Command{Verb: DO, Option: OptEcho}, []byte{IAC, WONT, OptEcho}},
		{"wont", Command{Verb: WONT, Option: OptEcho}, nil},
		{"dont", Command{Verb: DONT, Option: OptNAWS}, nil},
		{"ttype send", Command{Verb: SB, Option: OptTerminalType, Data: []byte{TTypeSEND}},
			append(append([]byte{IAC, SB, OptTerminalType, TTypeIS}, "xterm-256color"...), IAC, SE)},
		{"ttype is ignored", Command{Verb: SB, Option: OptTerminalType, Data: []byte{TTypeIS}}, nil},
		{"other sb ignored", Command{Verb: SB, Option: OptNAWS, Data: []byte{0, 1, 0, 1}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Respond([]Command{tt.cmd}))
		})
	}
}

func TestRespond_CustomTerminalType(t *testing.T) {
	n := &Negotiator{TerminalType: "vt100"}
	got := n.Respond([]Command{{Verb: SB, Option: OptTerminalType, Data: []byte{TTypeSEND}}})
	assert.Equal(t, append(append([]byte{IAC, SB, OptTerminalType, TTypeIS}, "vt100"...), IAC, SE), got)
}

func TestNAWS_EscapesIAC(t *testing.T) {
	assert.Equal(t,
		[]byte{IAC, SB, OptNAWS, 0, 0xFF, 0xFF, 0, 24, IAC, SE},
		NAWS(255, 24))
	assert.Equal(t,
		[]byte{IAC, SB, OptNAWS, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, IAC, SE},
		NAWS(0xFFFF, 0xFFFF))
	assert.Equal(t,
		[]byte{IAC, SB, OptNAWS, 0, 132, 0, 50, IAC, SE},
		NAWS(132, 50))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "sb-iac", StateSBIAC.String())
	assert.Equal(t, "invalid", State(42).String())
}
