// Package demux splits a model's token stream into reasoning and content
// channels using the <reasoning> and <response> span markers.
package demux

import "strings"

type Channel string

const (
	ChannelReasoning Channel = "reasoning"
	ChannelContent   Channel = "content"
)

const (
	OpenReasoning  = "<reasoning>"
	CloseReasoning = "</reasoning>"
	OpenResponse   = "<response>"
	CloseResponse  = "</response>"
)

// Event is one classified fragment of output.
type Event struct {
	Type Channel `json:"type"`
	Text string  `json:"text"`
}

type EmitFunc func(Event)

type state int

const (
	stateOutside state = iota
	stateReasoning
	stateResponse
)

// Demultiplexer is owned by a single stream and is not safe for concurrent
// use.
type Demultiplexer struct {
	emit  EmitFunc
	state state
	buf   string
	// scanned is the length of buf already searched without finding a
	// marker for the current state
	scanned int
}

func New(emit EmitFunc) *Demultiplexer {
	return &Demultiplexer{emit: emit}
}

// Feed appends fragment and emits every span that can now be resolved.
func (d *Demultiplexer) Feed(fragment string) {
	if fragment == "" {
		return
	}
	d.buf += fragment
	d.process()
}

// Flush emits whatever is still buffered under the current channel and
// resets the parser. Call once at end of stream.
func (d *Demultiplexer) Flush() {
	if d.state == stateReasoning {
		d.send(ChannelReasoning, d.buf)
	} else {
		d.send(ChannelContent, d.buf)
	}
	d.buf = ""
	d.scanned = 0
	d.state = stateOutside
}

func (d *Demultiplexer) process() {
	for {
		switch d.state {
		case stateOutside:
			idxR := d.find(OpenReasoning)
			idxResp := d.find(OpenResponse)
			switch {
			case idxR >= 0 && (idxResp < 0 || idxR < idxResp):
				d.advance(ChannelContent, idxR, len(OpenReasoning), stateReasoning)
			case idxResp >= 0:
				d.advance(ChannelContent, idxResp, len(OpenResponse), stateResponse)
			default:
				d.markScanned()
				return
			}
		case stateReasoning:
			idx := d.find(CloseReasoning)
			if idx < 0 {
				d.markScanned()
				return
			}
			d.advance(ChannelReasoning, idx, len(CloseReasoning), stateOutside)
		case stateResponse:
			idx := d.find(CloseResponse)
			if idx < 0 {
				d.markScanned()
				return
			}
			d.advance(ChannelContent, idx, len(CloseResponse), stateOutside)
		}
	}
}

// find returns the index of marker in buf, skipping the prefix that was
// already scanned and cannot hold the start of a complete marker.
func (d *Demultiplexer) find(marker string) int {
	from := d.scanned - len(marker) + 1
	if from < 0 {
		from = 0
	}
	idx := strings.Index(d.buf[from:], marker)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func (d *Demultiplexer) markScanned() {
	d.scanned = len(d.buf)
}

func (d *Demultiplexer) advance(ch Channel, idx, markerLen int, next state) {
	d.send(ch, d.buf[:idx])
	d.buf = d.buf[idx+markerLen:]
	d.scanned = 0
	d.state = next
}

func (d *Demultiplexer) send(ch Channel, text string) {
	if text == "" || d.emit == nil {
		return
	}
	d.emit(Event{Type: ch, Text: text})
}
