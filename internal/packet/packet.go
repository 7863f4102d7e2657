// Package packet defines the data model flowing through video pipelines:
// encoded frames with codec metadata, their textual network form split into
// bounded chunks, and decoded images.
package packet

import (
	"encoding/base64"
	"fmt"
	"time"
)

// MaxPayloadSize caps the textual payload of one network fragment. Frames
// whose base64 form exceeds it are split into chunks.
const MaxPayloadSize = 65000

// maxChunkSize is the largest raw slice whose base64 encoding stays within
// MaxPayloadSize.
const maxChunkSize = MaxPayloadSize / 4 * 3

// FrameID is a half-open integer interval [I1, I2) identifying a source byte
// range. It is an interval because one of the sources is a packet protocol.
type FrameID struct {
	I1 int64 `json:"i1"`
	I2 int64 `json:"i2"`
}

func (id FrameID) String() string {
	return fmt.Sprintf("[%d,%d)", id.I1, id.I2)
}

// EncodedPacket is the sum of packet kinds carrying encoded video:
// EncodedMetadata or EncodedFrame. Dispatch with a type switch.
type EncodedPacket interface {
	isEncodedPacket()
}

// NetworkPacket is the sum of wire packet kinds: NetworkMetadata or
// NetworkFrame.
type NetworkPacket interface {
	isNetworkPacket()
}

// ImagePacket is the sum of decoded-image packet kinds: ImageMetadata or
// ImageFrame.
type ImagePacket interface {
	isImagePacket()
}

// EncodedMetadata carries the parameters a decoder needs before the first
// frame.
type EncodedMetadata struct {
	CodecName string
	CodecData []byte
}

func (EncodedMetadata) isEncodedPacket() {}

// ToNetwork converts binary codec data into its textual wire form.
func (m EncodedMetadata) ToNetwork() NetworkMetadata {
	return NetworkMetadata{
		CodecName:  m.CodecName,
		Base64Data: base64.StdEncoding.EncodeToString(m.CodecData),
	}
}

// EncodedFrame is one encoded video frame.
type EncodedFrame struct {
	Data         []byte
	ID           FrameID
	CreationTime time.Time
	KeyFrame     bool
}

func (EncodedFrame) isEncodedPacket() {}

// ToNetwork splits the frame into 1..N network fragments, each with a base64
// payload within MaxPayloadSize, stamped with t and the frame id. Chunks are
// numbered 1..N ascending.
func (f EncodedFrame) ToNetwork(t time.Time) []NetworkFrame {
	chunks := (len(f.Data) + maxChunkSize - 1) / maxChunkSize
	if chunks == 0 {
		chunks = 1
	}
	out := make([]NetworkFrame, 0, chunks)
	for i := 0; i < chunks; i++ {
		lo := i * maxChunkSize
		hi := lo + maxChunkSize
		if hi > len(f.Data) {
			hi = len(f.Data)
		}
		out = append(out, NetworkFrame{
			Base64Data: base64.StdEncoding.EncodeToString(f.Data[lo:hi]),
			ID:         f.ID,
			Timestamp:  t,
			Chunk:      uint32(i + 1),
			Chunks:     uint32(chunks),
		})
	}
	return out
}

// NetworkMetadata is the textual wire form of codec parameters; binary data
// travels base64-encoded because the pub/sub service carries text records.
type NetworkMetadata struct {
	CodecName  string
	Base64Data string
}

func (NetworkMetadata) isNetworkPacket() {}

// NetworkFrame is one fragment of an encoded frame. A frame with
// Chunks == 1 is self-contained; otherwise all fragments sharing the same ID
// concatenate in ascending Chunk order.
type NetworkFrame struct {
	Base64Data string
	ID         FrameID
	Timestamp  time.Time
	Chunk      uint32
	Chunks     uint32
}

func (NetworkFrame) isNetworkPacket() {}

// PixelFormat names the layout of a decoded image.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGB0
	PixelFormatBGR0
	PixelFormatYUV420P
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGB0:
		return "rgb0"
	case PixelFormatBGR0:
		return "bgr0"
	case PixelFormatYUV420P:
		return "yuv420p"
	default:
		return "unknown"
	}
}

// ImageMetadata precedes decoded frames. It is currently empty; frame rate
// and similar hints may land here.
type ImageMetadata struct{}

func (ImageMetadata) isImagePacket() {}

// ImageFrame is a decoded image. Packed pixel formats use a single plane;
// planar formats store each component as a separate plane with its own
// stride.
type ImageFrame struct {
	ID          FrameID
	PixelFormat PixelFormat
	Width       uint16
	Height      uint16
	PlaneData   [][]byte
	PlaneStride []uint32
}

func (ImageFrame) isImagePacket() {}
