package packet

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire records are self-describing JSON objects with stable field names.
// A metadata record carries codec_name; a frame record carries id/t/chunk/
// chunks. The record shape, not a type tag, discriminates the two.

type metadataRecord struct {
	CodecName string `json:"codec_name"`
	Data      string `json:"data"`
}

type frameRecord struct {
	ID     FrameID `json:"id"`
	T      int64   `json:"t"`
	Chunk  uint32  `json:"chunk"`
	Chunks uint32  `json:"chunks"`
	Data   string  `json:"data"`
}

// MarshalRecord renders a network packet as its wire record.
func MarshalRecord(p NetworkPacket) ([]byte, error) {
	switch v := p.(type) {
	case NetworkMetadata:
		return json.Marshal(metadataRecord{CodecName: v.CodecName, Data: v.Base64Data})
	case NetworkFrame:
		return json.Marshal(frameRecord{
			ID:     v.ID,
			T:      v.Timestamp.UnixMilli(),
			Chunk:  v.Chunk,
			Chunks: v.Chunks,
			Data:   v.Base64Data,
		})
	default:
		return nil, fmt.Errorf("packet: unknown network packet type %T", p)
	}
}

// ParseRecord parses a wire record into a network packet.
func ParseRecord(data []byte) (NetworkPacket, error) {
	var probe struct {
		CodecName *string `json:"codec_name"`
		Chunks    *uint32 `json:"chunks"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("packet: malformed record: %w", err)
	}

	if probe.CodecName != nil {
		var rec metadataRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("packet: malformed metadata record: %w", err)
		}
		return NetworkMetadata{CodecName: rec.CodecName, Base64Data: rec.Data}, nil
	}

	var rec frameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("packet: malformed frame record: %w", err)
	}
	nf := NetworkFrame{
		Base64Data: rec.Data,
		ID:         rec.ID,
		Timestamp:  time.UnixMilli(rec.T),
		Chunk:      rec.Chunk,
		Chunks:     rec.Chunks,
	}
	if nf.Chunk == 0 {
		nf.Chunk = 1
	}
	if nf.Chunks == 0 {
		nf.Chunks = 1
	}
	if nf.Chunk > nf.Chunks {
		return nil, fmt.Errorf("packet: frame %v has chunk %d of %d", nf.ID, nf.Chunk, nf.Chunks)
	}
	return nf, nil
}
