package packet

import (
	"encoding/base64"
	"fmt"
	"time"

	"vidbot/pkg/streams"
)

// Assembler reassembles encoded packets from network fragments. Fragments
// of one frame may arrive in any order; a frame is emitted once every chunk
// is present. Pending partial frames older than a newly completed frame are
// dropped, so a lost fragment cannot pin memory forever.
type Assembler struct {
	pending map[FrameID]*pendingFrame
}

type pendingFrame struct {
	chunks   []string
	received uint32
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{pending: make(map[FrameID]*pendingFrame)}
}

// Add feeds one network packet in and returns zero or one encoded packets
// out. Metadata passes through decoded; frames surface once complete.
func (a *Assembler) Add(p NetworkPacket) ([]EncodedPacket, error) {
	switch v := p.(type) {
	case NetworkMetadata:
		data, err := base64.StdEncoding.DecodeString(v.Base64Data)
		if err != nil {
			return nil, fmt.Errorf("packet: metadata payload: %w", err)
		}
		return []EncodedPacket{EncodedMetadata{CodecName: v.CodecName, CodecData: data}}, nil
	case NetworkFrame:
		return a.addFrame(v)
	default:
		return nil, fmt.Errorf("packet: unknown network packet type %T", p)
	}
}

func (a *Assembler) addFrame(nf NetworkFrame) ([]EncodedPacket, error) {
	if nf.Chunk < 1 || nf.Chunk > nf.Chunks {
		return nil, fmt.Errorf("packet: frame %v has chunk %d of %d", nf.ID, nf.Chunk, nf.Chunks)
	}

	if nf.Chunks == 1 {
		f, err := a.assemble(nf.ID, nf.Timestamp, []string{nf.Base64Data})
		if err != nil {
			return nil, err
		}
		a.dropStale(nf.ID)
		return []EncodedPacket{f}, nil
	}

	pf := a.pending[nf.ID]
	if pf == nil {
		pf = &pendingFrame{chunks: make([]string, nf.Chunks)}
		a.pending[nf.ID] = pf
	}
	if len(pf.chunks) != int(nf.Chunks) {
		delete(a.pending, nf.ID)
		return nil, fmt.Errorf("packet: frame %v fragment count changed", nf.ID)
	}
	if pf.chunks[nf.Chunk-1] == "" {
		pf.chunks[nf.Chunk-1] = nf.Base64Data
		pf.received++
	}
	if pf.received < nf.Chunks {
		return nil, nil
	}

	delete(a.pending, nf.ID)
	f, err := a.assemble(nf.ID, nf.Timestamp, pf.chunks)
	if err != nil {
		return nil, err
	}
	a.dropStale(nf.ID)
	return []EncodedPacket{f}, nil
}

func (a *Assembler) assemble(id FrameID, t time.Time, chunks []string) (EncodedFrame, error) {
	var data []byte
	for i, c := range chunks {
		part, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return EncodedFrame{}, fmt.Errorf("packet: frame %v chunk %d: %w", id, i+1, err)
		}
		data = append(data, part...)
	}
	return EncodedFrame{Data: data, ID: id, CreationTime: t}, nil
}

// dropStale discards partial frames that precede a completed one; their
// missing fragments are not coming.
func (a *Assembler) dropStale(completed FrameID) {
	for id := range a.pending {
		if id.I2 <= completed.I1 {
			delete(a.pending, id)
		}
	}
}

// Pending reports how many partial frames are buffered.
func (a *Assembler) Pending() int {
	return len(a.pending)
}

// Probe reports why a frame has not been emitted yet. Complete frames leave
// the assembler through Add, so any id found here is still partial and
// yields ErrFrameNotReady with the chunk tally.
func (a *Assembler) Probe(id FrameID) error {
	pf, ok := a.pending[id]
	if !ok {
		return fmt.Errorf("%w: frame %v is not buffered", ErrFrameNotReady, id)
	}
	return fmt.Errorf("%w: frame %v has %d of %d chunks",
		ErrFrameNotReady, id, pf.received, len(pf.chunks))
}

// DecodeNetworkStream reassembles a network packet stream into encoded
// packets. Malformed fragments terminate the stream.
func DecodeNetworkStream() streams.Op[NetworkPacket, EncodedPacket] {
	asm := NewAssembler()
	return streams.FlatMap(func(p NetworkPacket) streams.Publisher[EncodedPacket] {
		out, err := asm.Add(p)
		if err != nil {
			return streams.Error[EncodedPacket](err)
		}
		return streams.Of(out...)
	})
}
