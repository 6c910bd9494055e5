package protocol

import "encoding/binary"

// Minimum payload sizes per packet kind. Shorter payloads decode to the
// zero value; the codec itself never fails, higher layers decide whether
// a zero packet is acceptable.
const (
	videoFrameMinSize = 4
	inputEventMinSize = 4
	audioChunkMinSize = 3
)

// VideoFramePacket carries one video frame. Data is either a keyframe
// (raw or codec-compressed bytes, opaque to the relay) or, when the packet
// header carries FlagDelta, a byte-wise XOR delta against the previous
// frame of identical length.
type VideoFramePacket struct {
	Width  uint16
	Height uint16
	Data   []byte
}

// Encode serializes the packet payload: width, height (big-endian),
// then the frame bytes.
func (p *VideoFramePacket) Encode() []byte {
	buf := make([]byte, videoFrameMinSize+len(p.Data))
	binary.BigEndian.PutUint16(buf[0:2], p.Width)
	binary.BigEndian.PutUint16(buf[2:4], p.Height)
	copy(buf[videoFrameMinSize:], p.Data)
	return buf
}

// DecodeVideoFrame parses a video frame payload. The frame bytes are
// copied out of data.
func DecodeVideoFrame(data []byte) VideoFramePacket {
	if len(data) < videoFrameMinSize {
		return VideoFramePacket{}
	}
	p := VideoFramePacket{
		Width:  binary.BigEndian.Uint16(data[0:2]),
		Height: binary.BigEndian.Uint16(data[2:4]),
	}
	p.Data = make([]byte, len(data)-videoFrameMinSize)
	copy(p.Data, data[videoFrameMinSize:])
	return p
}

// InputEventPacket carries a pressed-button bitmask. The meaning of the
// bits is agreed between producer and consumer; the relay passes them
// through untouched.
type InputEventPacket struct {
	Buttons  uint16
	Reserved uint16
}

// Encode serializes the packet payload as two big-endian uint16 values.
func (p *InputEventPacket) Encode() []byte {
	buf := make([]byte, inputEventMinSize)
	binary.BigEndian.PutUint16(buf[0:2], p.Buttons)
	binary.BigEndian.PutUint16(buf[2:4], p.Reserved)
	return buf
}

// DecodeInputEvent parses an input event payload.
func DecodeInputEvent(data []byte) InputEventPacket {
	if len(data) < inputEventMinSize {
		return InputEventPacket{}
	}
	return InputEventPacket{
		Buttons:  binary.BigEndian.Uint16(data[0:2]),
		Reserved: binary.BigEndian.Uint16(data[2:4]),
	}
}

// AudioChunkPacket carries a run of signed 16-bit PCM samples.
type AudioChunkPacket struct {
	SampleRate uint16
	Channels   uint8
	Samples    []int16
}

// Encode serializes the packet payload: sample rate (big-endian), channel
// count, then each sample as a big-endian int16.
func (p *AudioChunkPacket) Encode() []byte {
	buf := make([]byte, audioChunkMinSize+2*len(p.Samples))
	binary.BigEndian.PutUint16(buf[0:2], p.SampleRate)
	buf[2] = p.Channels
	for i, s := range p.Samples {
		binary.BigEndian.PutUint16(buf[audioChunkMinSize+2*i:], uint16(s))
	}
	return buf
}

// DecodeAudioChunk parses an audio chunk payload. The sample count is
// derived from the payload length; a trailing odd byte is ignored.
func DecodeAudioChunk(data []byte) AudioChunkPacket {
	if len(data) < audioChunkMinSize {
		return AudioChunkPacket{}
	}
	p := AudioChunkPacket{
		SampleRate: binary.BigEndian.Uint16(data[0:2]),
		Channels:   data[2],
	}
	n := (len(data) - audioChunkMinSize) / 2
	p.Samples = make([]int16, n)
	for i := 0; i < n; i++ {
		p.Samples[i] = int16(binary.BigEndian.Uint16(data[audioChunkMinSize+2*i:]))
	}
	return p
}
