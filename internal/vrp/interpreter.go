// Package vrp watches the output of a Huawei VRP command line and turns
// it into side-channel events: prompt (view) changes, "---- More ----"
// pagination prompts, and board rows from "display device".
//
// The interpreter only observes.  Bytes shown to the user are never
// altered; the one thing it can ask the caller to write back is the
// space that continues a paginated listing.
package vrp

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	paginationRe = regexp.MustCompile(`----\s*More\s*----`)
	userViewRe   = regexp.MustCompile(`<([^>]+)>\s*$`)
	systemViewRe = regexp.MustCompile(`\[([^\]]+)\]\s*$`)

	// Slot Sub Type Status [Role] [IP], e.g.
	//   0    -    SRUC    Present Master   192.168.1.1
	boardRe = regexp.MustCompile(`(\d+)\s+(-|\d+)\s+(\S+)\s+(Present|Absent|Offline|Online|Registering)\s*(?:\S+\s+)?(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})?`)
)

// ContinueReply is written back to the device to page a listing.
var ContinueReply = []byte(" ")

// Interpreter consumes a VRP output stream chunk by chunk.  Only the
// trailing incomplete line is kept between calls.  An Interpreter is
// not safe for concurrent use; each session owns one.
type Interpreter struct {
	line           string
	view           View
	hostname       string
	autoPagination bool

	dec     *encoding.Decoder // nil: UTF-8
	pending []byte            // undecoded tail of the previous chunk
	scratch []byte
}

// New returns an interpreter decoding output with the named charset
// ("" or "utf-8" for UTF-8; anything the WHATWG encoding index knows,
// such as "gbk" or "gb18030", otherwise).  Auto-pagination starts on.
func New(charset string) (*Interpreter, error) {
	in := &Interpreter{autoPagination: true}
	if charset == "" {
		return in, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("vrp: unknown charset %q: %w", charset, err)
	}
	if name, _ := htmlindex.Name(enc); name != "utf-8" {
		in.dec = enc.NewDecoder()
	}
	return in, nil
}

// SetAutoPagination toggles the automatic continuation reply.
func (in *Interpreter) SetAutoPagination(enabled bool) { in.autoPagination = enabled }

// AutoPagination reports whether pagination prompts are answered.
func (in *Interpreter) AutoPagination() bool { return in.autoPagination }

// View returns the last detected view.
func (in *Interpreter) View() View { return in.view }

// Hostname returns the last detected device hostname.
func (in *Interpreter) Hostname() string { return in.hostname }

// Reset forgets the line buffer and the detected view.
func (in *Interpreter) Reset() {
	in.line = ""
	in.view = ViewUnknown
	in.hostname = ""
	in.pending = nil
	if in.dec != nil {
		in.dec.Reset()
	}
}

// Feed interprets one chunk of device output.  reply is non-nil when
// the caller should write it to the device (the pagination space).
func (in *Interpreter) Feed(p []byte) (events []Event, reply []byte) {
	in.line += in.decode(p)

	if paginationRe.MatchString(in.line) {
		events = append(events, Event{
			Type:        EventPagination,
			Detected:    true,
			AutoHandled: in.autoPagination,
		})
		if in.autoPagination {
			reply = ContinueReply
		}
		in.line = paginationRe.ReplaceAllString(in.line, "")
	}

	complete, tail := "", in.line
	if i := strings.LastIndexByte(in.line, '\n'); i >= 0 {
		complete, tail = in.line[:i], in.line[i+1:]
	}

	// A prompt echoed with its newline still counts.
	last := tail
	if strings.TrimSpace(last) == "" && complete != "" {
		last = complete[strings.LastIndexByte(complete, '\n')+1:]
	}
	if ev, ok := in.detectView(last); ok {
		events = append(events, ev)
	}

	if complete != "" {
		for _, l := range strings.Split(complete, "\n") {
			if b, ok := ParseBoard(strings.TrimRight(l, "\r")); ok {
				events = append(events, Event{Type: EventBoardInfo, BoardInfo: &b})
			}
		}
	}

	in.line = tail
	return events, reply
}

// detectView checks the last line for a prompt.  The user-view
// form wins over the bracketed form.
func (in *Interpreter) detectView(last string) (Event, bool) {
	var view View
	var host string

	if m := userViewRe.FindStringSubmatch(last); m != nil {
		view, host = ViewUser, m[1]
	} else if m := systemViewRe.FindStringSubmatch(last); m != nil {
		view, host = ViewSystem, m[1]
		if i := strings.IndexByte(host, '-'); i >= 0 {
			view, host = ViewInterface, host[:i]
		}
	} else {
		return Event{}, false
	}

	if view == in.view && host == in.hostname {
		return Event{}, false
	}
	in.view, in.hostname = view, host
	return Event{Type: EventViewChange, View: view, Hostname: host}, true
}

// ParseBoard extracts a board row from one line of "display device"
// output.
func ParseBoard(line string) (BoardInfo, bool) {
	m := boardRe.FindStringSubmatch(line)
	if m == nil {
		return BoardInfo{}, false
	}
	return BoardInfo{
		SlotID:    m[1],
		SubSlot:   m[2],
		BoardType: m[3],
		Status:    m[4],
		IP:        m[5],
	}, true
}

// decode converts raw device bytes to text, holding back an incomplete
// multi-byte sequence at the end of p until the next chunk.  Invalid
// input decodes to U+FFFD.
func (in *Interpreter) decode(p []byte) string {
	src := p
	if len(in.pending) > 0 {
		src = append(in.pending, p...)
		in.pending = nil
	}

	if in.dec == nil {
		cut := incompleteUTF8Tail(src)
		if cut < len(src) {
			in.pending = append([]byte(nil), src[cut:]...)
		}
		return strings.ToValidUTF8(string(src[:cut]), "\uFFFD")
	}

	if in.scratch == nil {
		in.scratch = make([]byte, 4096)
	}
	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := in.dec.Transform(in.scratch, src, false)
		out.Write(in.scratch[:nDst])
		src = src[nSrc:]
		switch err {
		case nil, transform.ErrShortDst:
		case transform.ErrShortSrc:
			in.pending = append([]byte(nil), src...)
			return out.String()
		default:
			out.WriteString("\uFFFD")
			if len(src) > 0 {
				src = src[1:]
			}
			in.dec.Reset()
		}
	}
	return out.String()
}

// incompleteUTF8Tail returns the index where a trailing, not yet
// complete UTF-8 sequence starts, or len(b) if there is none.
func incompleteUTF8Tail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}
