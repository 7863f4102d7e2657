package runtime

import (
	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// FrameDecoder turns encoded packets into decoded images. Codec internals
// live outside this runtime; embedders supply a real decoder while the
// default hands the encoded bytes through untouched for bots that decode
// themselves.
type FrameDecoder = streams.Op[packet.EncodedPacket, packet.ImagePacket]

// PassthroughDecoder wraps encoded payloads into single-plane image frames
// without decoding.
func PassthroughDecoder() FrameDecoder {
	return streams.Map(func(p packet.EncodedPacket) packet.ImagePacket {
		switch v := p.(type) {
		case packet.EncodedMetadata:
			return packet.ImageMetadata{}
		case packet.EncodedFrame:
			return packet.ImageFrame{
				ID:          v.ID,
				PixelFormat: packet.PixelFormatUnknown,
				PlaneData:   [][]byte{v.Data},
				PlaneStride: []uint32{uint32(len(v.Data))},
			}
		default:
			return packet.ImageMetadata{}
		}
	})
}
