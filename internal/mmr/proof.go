package mmr

import (
	"encoding/binary"
	"fmt"
)

const proofFormatVersion = 1

const (
	proofTypeInclusion byte = 0x01
	proofTypeRange     byte = 0x02
)

// wireWriter appends big-endian fields to a growing buffer.
type wireWriter struct {
	buf []byte
}

func (w *wireWriter) byte1(b byte) { w.buf = append(w.buf, b) }

func (w *wireWriter) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *wireWriter) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *wireWriter) hash(h [32]byte) { w.buf = append(w.buf, h[:]...) }

func (w *wireWriter) pathElem(e ProofElement) {
	w.hash(e.Hash)
	if e.IsLeft {
		w.byte1(1)
	} else {
		w.byte1(0)
	}
}

// wireReader consumes the same layout, failing on truncation.
type wireReader struct {
	data []byte
	off  int
	err  error
}

func (r *wireReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.data) {
		r.err = ErrInvalidNodeData
		return false
	}
	return true
}

func (r *wireReader) byte1() byte {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.off]
	r.off++
	return b
}

func (r *wireReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *wireReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *wireReader) hash() (h [32]byte) {
	if !r.need(32) {
		return
	}
	copy(h[:], r.data[r.off:])
	r.off += 32
	return
}

func (r *wireReader) pathElem() (e ProofElement) {
	e.Hash = r.hash()
	e.IsLeft = r.byte1() == 1
	return
}

func (r *wireReader) header(wantType byte) {
	if v := r.byte1(); r.err == nil && v != proofFormatVersion {
		r.err = fmt.Errorf("mmr: unsupported proof version: %d", v)
		return
	}
	if t := r.byte1(); r.err == nil && t != wantType {
		r.err = fmt.Errorf("mmr: unexpected proof type %d", t)
	}
}

// Serialize renders the inclusion proof in its wire layout:
// version(1) type(1) leaf_index(8) leaf_hash(32) path_len(2)
// {hash(32) side(1)}* peaks_len(2) {peak(32)}* peak_pos(2)
// mmr_size(8) root(32).
func (p *InclusionProof) Serialize() []byte {
	w := &wireWriter{buf: make([]byte, 0, p.ProofSize())}
	w.byte1(proofFormatVersion)
	w.byte1(proofTypeInclusion)
	w.u64(p.LeafIndex)
	w.hash(p.LeafHash)
	w.u16(uint16(len(p.MerklePath)))
	for _, e := range p.MerklePath {
		w.pathElem(e)
	}
	w.u16(uint16(len(p.Peaks)))
	for _, pk := range p.Peaks {
		w.hash(pk)
	}
	w.u16(uint16(p.PeakPosition))
	w.u64(p.MMRSize)
	w.hash(p.Root)
	return w.buf
}

// DeserializeInclusionProof parses the wire layout produced by Serialize.
func DeserializeInclusionProof(data []byte) (*InclusionProof, error) {
	r := &wireReader{data: data}
	r.header(proofTypeInclusion)

	p := &InclusionProof{}
	p.LeafIndex = r.u64()
	p.LeafHash = r.hash()

	pathLen := int(r.u16())
	if r.err == nil && r.need(pathLen*33) {
		p.MerklePath = make([]ProofElement, pathLen)
		for i := range p.MerklePath {
			p.MerklePath[i] = r.pathElem()
		}
	}

	peaksLen := int(r.u16())
	if r.err == nil && r.need(peaksLen*32) {
		p.Peaks = make([][32]byte, peaksLen)
		for i := range p.Peaks {
			p.Peaks[i] = r.hash()
		}
	}

	p.PeakPosition = int(r.u16())
	p.MMRSize = r.u64()
	p.Root = r.hash()
	if r.err != nil {
		return nil, r.err
	}
	if peaksLen == 0 {
		return nil, fmt.Errorf("mmr: invalid proof: no peaks")
	}
	if p.PeakPosition < 0 || p.PeakPosition >= peaksLen {
		return nil, fmt.Errorf("mmr: invalid proof: peak position %d out of range (0-%d)", p.PeakPosition, peaksLen-1)
	}
	return p, nil
}

// Serialize renders the range proof in its wire layout: the inclusion
// header with type=0x02, then start(8) end(8) leaves_len(2) indices
// hashes path peaks peak_pos mmr_size root.
func (p *RangeProof) Serialize() []byte {
	w := &wireWriter{buf: make([]byte, 0, p.ProofSize())}
	w.byte1(proofFormatVersion)
	w.byte1(proofTypeRange)
	w.u64(p.StartLeaf)
	w.u64(p.EndLeaf)
	w.u16(uint16(len(p.LeafHashes)))
	for _, idx := range p.LeafIndices {
		w.u64(idx)
	}
	for _, h := range p.LeafHashes {
		w.hash(h)
	}
	w.u16(uint16(len(p.SiblingPath)))
	for _, e := range p.SiblingPath {
		w.pathElem(e)
	}
	w.u16(uint16(len(p.Peaks)))
	for _, pk := range p.Peaks {
		w.hash(pk)
	}
	w.u16(uint16(p.PeakPosition))
	w.u64(p.MMRSize)
	w.hash(p.Root)
	return w.buf
}

// DeserializeRangeProof parses the wire layout produced by Serialize.
func DeserializeRangeProof(data []byte) (*RangeProof, error) {
	r := &wireReader{data: data}
	r.header(proofTypeRange)

	p := &RangeProof{}
	p.StartLeaf = r.u64()
	p.EndLeaf = r.u64()
	if r.err == nil && p.StartLeaf > p.EndLeaf {
		return nil, fmt.Errorf("mmr: invalid range proof: start %d > end %d", p.StartLeaf, p.EndLeaf)
	}

	leavesLen := int(r.u16())
	if r.err == nil {
		if want := int(p.EndLeaf - p.StartLeaf + 1); leavesLen != want {
			return nil, fmt.Errorf("mmr: invalid range proof: expected %d leaves for range, got %d", want, leavesLen)
		}
	}
	if r.err == nil && r.need(leavesLen*8) {
		p.LeafIndices = make([]uint64, leavesLen)
		for i := range p.LeafIndices {
			p.LeafIndices[i] = r.u64()
		}
	}
	if r.err == nil && r.need(leavesLen*32) {
		p.LeafHashes = make([][32]byte, leavesLen)
		for i := range p.LeafHashes {
			p.LeafHashes[i] = r.hash()
		}
	}

	pathLen := int(r.u16())
	if r.err == nil && r.need(pathLen*33) {
		p.SiblingPath = make([]ProofElement, pathLen)
		for i := range p.SiblingPath {
			p.SiblingPath[i] = r.pathElem()
		}
	}

	peaksLen := int(r.u16())
	if r.err == nil && r.need(peaksLen*32) {
		p.Peaks = make([][32]byte, peaksLen)
		for i := range p.Peaks {
			p.Peaks[i] = r.hash()
		}
	}

	p.PeakPosition = int(r.u16())
	p.MMRSize = r.u64()
	p.Root = r.hash()
	if r.err != nil {
		return nil, r.err
	}
	if peaksLen == 0 {
		return nil, fmt.Errorf("mmr: invalid proof: no peaks")
	}
	if p.PeakPosition < 0 || p.PeakPosition >= peaksLen {
		return nil, fmt.Errorf("mmr: invalid proof: peak position %d out of range (0-%d)", p.PeakPosition, peaksLen-1)
	}
	return p, nil
}

// ProofSize is the serialized length in bytes.
func (p *InclusionProof) ProofSize() int {
	return 2 + 8 + 32 + 2 + len(p.MerklePath)*33 + 2 + len(p.Peaks)*32 + 2 + 8 + 32
}

// ProofSize is the serialized length in bytes.
func (p *RangeProof) ProofSize() int {
	n := len(p.LeafHashes)
	return 2 + 8 + 8 + 2 + n*8 + n*32 + 2 + len(p.SiblingPath)*33 + 2 + len(p.Peaks)*32 + 2 + 8 + 32
}
