package timeline

import "fmt"

// Kind identifies the MIDI message carried by a Message.
type Kind uint8

const (
	KindNoteOn Kind = iota
	KindNoteOff
	KindProgramChange
	KindControlChange
	KindPitchBend
	KindTempo
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "NoteOn"
	case KindNoteOff:
		return "NoteOff"
	case KindProgramChange:
		return "ProgramChange"
	case KindControlChange:
		return "ControlChange"
	case KindPitchBend:
		return "PitchBend"
	case KindTempo:
		return "Tempo"
	default:
		return "Other"
	}
}

// Message is a decoded MIDI message. Only the fields relevant to the Kind are
// meaningful; the rest stay zero. Messages are immutable once decoded.
type Message struct {
	Kind       Kind
	Channel    uint8
	Key        uint8
	Velocity   uint8
	Program    uint8
	Controller uint8
	Value      uint8
	// Bend is the 14-bit absolute pitch bend value, 8192 = center.
	Bend uint16
	// USPerQuarter is the tempo in microseconds per quarter note (KindTempo).
	USPerQuarter uint32
}

func NoteOn(channel, key, velocity uint8) Message {
	if velocity == 0 {
		// A velocity-0 NoteOn is a NoteOff by convention; normalize here so no
		// downstream consumer has to special-case it.
		return NoteOff(channel, key, 0)
	}
	return Message{Kind: KindNoteOn, Channel: channel, Key: key, Velocity: velocity}
}

func NoteOff(channel, key, velocity uint8) Message {
	return Message{Kind: KindNoteOff, Channel: channel, Key: key, Velocity: velocity}
}

func ProgramChange(channel, program uint8) Message {
	return Message{Kind: KindProgramChange, Channel: channel, Program: program}
}

func ControlChange(channel, controller, value uint8) Message {
	return Message{Kind: KindControlChange, Channel: channel, Controller: controller, Value: value}
}

func PitchBend(channel uint8, bend uint16) Message {
	return Message{Kind: KindPitchBend, Channel: channel, Bend: bend}
}

func Tempo(usPerQuarter uint32) Message {
	return Message{Kind: KindTempo, USPerQuarter: usPerQuarter}
}

func (m Message) String() string {
	switch m.Kind {
	case KindNoteOn, KindNoteOff:
		return fmt.Sprintf("%s{ch=%d key=%d vel=%d}", m.Kind, m.Channel, m.Key, m.Velocity)
	case KindProgramChange:
		return fmt.Sprintf("%s{ch=%d program=%d}", m.Kind, m.Channel, m.Program)
	case KindControlChange:
		return fmt.Sprintf("%s{ch=%d cc=%d val=%d}", m.Kind, m.Channel, m.Controller, m.Value)
	case KindPitchBend:
		return fmt.Sprintf("%s{ch=%d bend=%d}", m.Kind, m.Channel, m.Bend)
	case KindTempo:
		return fmt.Sprintf("%s{%dus/qn}", m.Kind, m.USPerQuarter)
	default:
		return m.Kind.String()
	}
}

// RawEvent is a message with its delta time in ticks relative to the previous
// event on the same track, as decoded from a track chunk.
type RawEvent struct {
	Delta   uint32
	Message Message
}
