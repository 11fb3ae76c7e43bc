package core

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

func bitsFromFloat64(f float64) uint64  { return math.Float64bits(f) }
func float64FromBits(b uint64) float64  { return math.Float64frombits(b) }

// Magic and Version identify the binary graph file format (spec.md §6).
const (
	Magic            uint32 = 0x434E5342 // 'CNSB'
	Version          uint32 = 0x00010000
	headerSize              = 64 // spec.md §3 summarizes the header as 32 bytes; §6's full field enumeration sums to 64 bytes.
	metadataSize            = 48
	nodeIndexEntrySz        = 16
)

// SideTableEntry is one RLP-encoded record of per-shape or
// per-transitive-property metadata (spec.md §4.7, "Output artifacts...
// (d) a side table of per-shape and per-transitive-property metadata").
//
// Grounded on core/replication.go's use of `rlp.EncodeToBytes` for block
// payloads, reused here for a much smaller fixed-schema record.
type SideTableEntry struct {
	Name              string
	TargetClass       uint32
	IsTransitiveProp  bool
	MaterializedCount uint64
}

// EncodeSideTable RLP-encodes the compiler's side table for embedding as
// the file's final section.
func EncodeSideTable(entries []SideTableEntry) ([]byte, error) {
	b, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return nil, newErr(IO, "rlp encode side table", err)
	}
	return b, nil
}

// DecodeSideTable parses a side table section back into entries.
func DecodeSideTable(data []byte) ([]SideTableEntry, error) {
	var entries []SideTableEntry
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return nil, newErr(InvalidFormat, "rlp decode side table", err)
	}
	return entries, nil
}

// Header is the fixed 64-byte file header (spec.md §6).
type Header struct {
	Magic          uint32
	Version        uint32
	BuildFlags     uint32
	Timestamp      uint64
	GraphFlags     uint32
	NodeCount      uint64
	EdgeCount      uint64
	MetadataOffset uint64
	Checksum       uint32
}

// Metadata carries section offsets (spec.md §6).
type Metadata struct {
	NodeIndexOffset    uint64
	NodeDataOffset     uint64
	EdgeDataOffset     uint64
	PropertyPoolOffset uint64
	SideTableOffset    uint64
	ExtensionCount     uint32
}

// NodeIndexEntry is one O(1)-lookup slot per node (spec.md §3, §6).
type NodeIndexEntry struct {
	DataOffset uint64
	OutDegree  uint32
	InDegree   uint32
}

// propertyPool deduplicates value blobs by content hash, grounded on
// core/storage.go's content-addressed gateway (ipfs/go-cid +
// multiformats/go-multihash) generalized from a remote blob store to an
// in-file dedup table (spec.md §3, "a deduplicated property pool").
type propertyPool struct {
	buf   bytes.Buffer
	index map[string]uint64 // cid string -> offset within buf
}

func newPropertyPool() *propertyPool {
	return &propertyPool{index: make(map[string]uint64, 64)}
}

// intern appends data to the pool (length-prefixed) unless an
// identical-content entry already exists, and returns its offset.
func (p *propertyPool) intern(data []byte) (uint64, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return 0, newErr(IO, "property pool hash", err)
	}
	key := cid.NewCidV1(cid.Raw, sum).String()
	if off, ok := p.index[key]; ok {
		return off, nil
	}
	off := uint64(p.buf.Len())
	lenBuf := varint.ToUvarint(uint64(len(data)))
	p.buf.Write(lenBuf)
	p.buf.Write(data)
	p.index[key] = off
	return off, nil
}

func putVarintOrFixed(buf *bytes.Buffer, v uint64, compress bool) {
	if compress {
		buf.Write(varint.ToUvarint(v))
	} else {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		buf.Write(tmp[:])
	}
}

// encodeGraph serializes g into the CNSB wire format described by
// spec.md §6, honoring BuildCompressVarints for integer fields and
// BuildIndex to emit the node index section.
func encodeGraph(g *Graph, flags BuildFlags, timestamp uint64, sideTable []byte) ([]byte, error) {
	compress := flags&BuildCompressVarints != 0

	var nodeData bytes.Buffer
	index := make([]NodeIndexEntry, 0, len(g.Nodes))
	pool := newPropertyPool()

	for _, n := range g.Nodes {
		off := uint64(nodeData.Len())
		putVarintOrFixed(&nodeData, n.ID, compress)
		putVarintOrFixed(&nodeData, uint64(n.Type), compress)
		putVarintOrFixed(&nodeData, uint64(n.Flags), compress)
		poolOff, err := pool.intern(n.Data)
		if err != nil {
			return nil, err
		}
		putVarintOrFixed(&nodeData, poolOff, compress)
		putVarintOrFixed(&nodeData, uint64(len(n.Data)), compress)
		index = append(index, NodeIndexEntry{
			DataOffset: off,
			OutDegree:  g.OutDegree(n.ID),
			InDegree:   g.InDegree(n.ID),
		})
	}

	var edgeData bytes.Buffer
	for _, e := range g.Edges {
		putVarintOrFixed(&edgeData, e.Src, compress)
		putVarintOrFixed(&edgeData, e.Dst, compress)
		putVarintOrFixed(&edgeData, uint64(e.Type), compress)
		var wbits [8]byte
		binary.LittleEndian.PutUint64(wbits[:], uint64(bitsFromFloat64(e.Weight)))
		edgeData.Write(wbits[:])
		putVarintOrFixed(&edgeData, uint64(e.Flags), compress)
		poolOff, err := pool.intern(e.Data)
		if err != nil {
			return nil, err
		}
		putVarintOrFixed(&edgeData, poolOff, compress)
		putVarintOrFixed(&edgeData, uint64(len(e.Data)), compress)
	}

	var nodeIndexBuf bytes.Buffer
	if flags&BuildIndex != 0 {
		for _, e := range index {
			var tmp [nodeIndexEntrySz]byte
			binary.LittleEndian.PutUint64(tmp[0:8], e.DataOffset)
			binary.LittleEndian.PutUint32(tmp[8:12], e.OutDegree)
			binary.LittleEndian.PutUint32(tmp[12:16], e.InDegree)
			nodeIndexBuf.Write(tmp[:])
		}
	}

	meta := Metadata{}
	cursor := uint64(headerSize + metadataSize)
	meta.NodeIndexOffset = cursor
	cursor += uint64(nodeIndexBuf.Len())
	meta.NodeDataOffset = cursor
	cursor += uint64(nodeData.Len())
	meta.EdgeDataOffset = cursor
	cursor += uint64(edgeData.Len())
	meta.PropertyPoolOffset = cursor
	cursor += uint64(pool.buf.Len())
	meta.SideTableOffset = cursor
	cursor += uint64(len(sideTable))

	var out bytes.Buffer
	out.Grow(int(cursor))

	hdr := Header{
		Magic: Magic, Version: Version, BuildFlags: uint32(flags),
		Timestamp: timestamp, GraphFlags: uint32(g.Flags),
		NodeCount: uint64(len(g.Nodes)), EdgeCount: uint64(len(g.Edges)),
		MetadataOffset: headerSize,
	}
	writeHeader(&out, hdr)
	writeMetadata(&out, meta)
	out.Write(nodeIndexBuf.Bytes())
	out.Write(nodeData.Bytes())
	out.Write(edgeData.Bytes())
	out.Write(pool.buf.Bytes())
	out.Write(sideTable)

	body := out.Bytes()[headerSize:]
	checksum := crc32.ChecksumIEEE(body)
	full := out.Bytes()
	binary.LittleEndian.PutUint32(full[48:52], checksum)

	return full, nil
}

func writeHeader(buf *bytes.Buffer, h Header) {
	var tmp [headerSize]byte
	binary.LittleEndian.PutUint32(tmp[0:4], h.Magic)
	binary.LittleEndian.PutUint32(tmp[4:8], h.Version)
	binary.LittleEndian.PutUint32(tmp[8:12], h.BuildFlags)
	binary.LittleEndian.PutUint64(tmp[12:20], h.Timestamp)
	binary.LittleEndian.PutUint32(tmp[20:24], h.GraphFlags)
	binary.LittleEndian.PutUint64(tmp[24:32], h.NodeCount)
	// Layout (little-endian, 64 bytes):
	// 0:4 magic, 4:8 version, 8:12 build_flags, 12:20 timestamp,
	// 20:24 graph_flags, 24:32 node_count, 32:40 edge_count,
	// 40:48 metadata_offset, 48:52 checksum, 52:64 reserved.
	binary.LittleEndian.PutUint64(tmp[32:40], h.EdgeCount)
	binary.LittleEndian.PutUint64(tmp[40:48], h.MetadataOffset)
	binary.LittleEndian.PutUint32(tmp[48:52], h.Checksum)
	buf.Write(tmp[:])
}

func readHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, newErr(InvalidFormat, "truncated header", nil)
	}
	h := Header{
		Magic:          binary.LittleEndian.Uint32(b[0:4]),
		Version:        binary.LittleEndian.Uint32(b[4:8]),
		BuildFlags:     binary.LittleEndian.Uint32(b[8:12]),
		Timestamp:      binary.LittleEndian.Uint64(b[12:20]),
		GraphFlags:     binary.LittleEndian.Uint32(b[20:24]),
		NodeCount:      binary.LittleEndian.Uint64(b[24:32]),
		EdgeCount:      binary.LittleEndian.Uint64(b[32:40]),
		MetadataOffset: binary.LittleEndian.Uint64(b[40:48]),
		Checksum:       binary.LittleEndian.Uint32(b[48:52]),
	}
	if h.Magic != Magic {
		return h, newErr(InvalidFormat, "bad magic", nil)
	}
	if h.Version != Version {
		return h, newErr(UnsupportedVersion, "", nil)
	}
	return h, nil
}

func writeMetadata(buf *bytes.Buffer, m Metadata) {
	var tmp [metadataSize]byte
	binary.LittleEndian.PutUint64(tmp[0:8], m.NodeIndexOffset)
	binary.LittleEndian.PutUint64(tmp[8:16], m.NodeDataOffset)
	binary.LittleEndian.PutUint64(tmp[16:24], m.EdgeDataOffset)
	binary.LittleEndian.PutUint64(tmp[24:32], m.PropertyPoolOffset)
	binary.LittleEndian.PutUint64(tmp[32:40], m.SideTableOffset)
	binary.LittleEndian.PutUint32(tmp[40:44], m.ExtensionCount)
	buf.Write(tmp[:])
}

func readMetadata(b []byte, off uint64) (Metadata, error) {
	if uint64(len(b)) < off+metadataSize {
		return Metadata{}, newErr(InvalidFormat, "truncated metadata", nil)
	}
	m := b[off:]
	return Metadata{
		NodeIndexOffset:    binary.LittleEndian.Uint64(m[0:8]),
		NodeDataOffset:     binary.LittleEndian.Uint64(m[8:16]),
		EdgeDataOffset:     binary.LittleEndian.Uint64(m[16:24]),
		PropertyPoolOffset: binary.LittleEndian.Uint64(m[24:32]),
		SideTableOffset:    binary.LittleEndian.Uint64(m[32:40]),
		ExtensionCount:     binary.LittleEndian.Uint32(m[40:44]),
	}, nil
}

// WriteGraphFile serializes g and writes it atomically to path: the body
// is built fully in memory, written to a temp file in the same directory,
// fsynced, then renamed into place — "file written atomically or not at
// all" (spec.md §1). Grounded on core/storage.go's disk-cache write path,
// hardened with the temp+rename step the cache itself lacked.
func WriteGraphFile(path string, g *Graph, flags BuildFlags, timestamp uint64, sideTable []byte) error {
	buf, err := encodeGraph(g, flags, timestamp, sideTable)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cnsb-tmp-*")
	if err != nil {
		return newErr(IO, "create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return newErr(IO, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return newErr(IO, "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return newErr(IO, "close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return newErr(IO, "rename into place", err)
	}
	return nil
}

// ReadGraphFile parses a CNSB file fully into memory (used for the P5
// round-trip property; the zero-copy read path lives in mmapview.go).
func ReadGraphFile(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(IO, "read file", err)
	}
	return decodeGraph(raw, true)
}

// ReadSideTableFromFile extracts and RLP-decodes the side table section
// of a CNSB file (spec.md §4.7, output artifact (d)).
func ReadSideTableFromFile(path string) ([]SideTableEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(IO, "read file", err)
	}
	hdr, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	meta, err := readMetadata(raw, hdr.MetadataOffset)
	if err != nil {
		return nil, err
	}
	if meta.SideTableOffset == 0 || meta.SideTableOffset >= uint64(len(raw)) {
		return nil, nil
	}
	return DecodeSideTable(raw[meta.SideTableOffset:])
}

func decodeGraph(raw []byte, verifyChecksum bool) (*Graph, error) {
	hdr, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	if verifyChecksum && hdr.Checksum != 0 {
		if crc32.ChecksumIEEE(raw[headerSize:]) != hdr.Checksum {
			return nil, newErr(ChecksumMismatch, "", nil)
		}
	}
	meta, err := readMetadata(raw, hdr.MetadataOffset)
	if err != nil {
		return nil, err
	}
	if err := validateSections(raw, hdr, meta); err != nil {
		return nil, err
	}

	compress := hdr.BuildFlags&uint32(BuildCompressVarints) != 0
	g := &Graph{Flags: GraphFlags(hdr.GraphFlags)}

	nodeEnd := meta.EdgeDataOffset
	cursor := meta.NodeDataOffset
	for i := uint64(0); i < hdr.NodeCount && cursor < nodeEnd; i++ {
		id, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		typ, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		flg, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		poolOff, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		dataLen, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		data := readPooled(raw, meta.PropertyPoolOffset+poolOff, int(dataLen))
		g.AddNode(Node{ID: id, Type: uint32(typ), Flags: uint32(flg), Data: data})
	}

	poolStart := meta.PropertyPoolOffset
	cursor = meta.EdgeDataOffset
	for i := uint64(0); i < hdr.EdgeCount && cursor < poolStart; i++ {
		src, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		dst, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		typ, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		wbits := binary.LittleEndian.Uint64(raw[cursor : cursor+8])
		cursor += 8
		flg, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		poolOff, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		dataLen, n := readVarintOrFixed(raw, cursor, compress)
		cursor += n
		data := readPooled(raw, meta.PropertyPoolOffset+poolOff, int(dataLen))
		g.AddEdge(Edge{Src: src, Dst: dst, Type: uint32(typ), Weight: float64FromBits(wbits), Flags: uint32(flg), Data: data})
	}

	return g, nil
}

func readVarintOrFixed(b []byte, off uint64, compress bool) (uint64, uint64) {
	if compress {
		v, n, err := varint.FromUvarint(b[off:])
		if err != nil {
			return 0, 1
		}
		return v, uint64(n)
	}
	return binary.LittleEndian.Uint64(b[off : off+8]), 8
}

func readPooled(b []byte, off uint64, length int) []byte {
	if length == 0 {
		return nil
	}
	_, n, err := varint.FromUvarint(b[off:])
	if err != nil {
		return nil
	}
	start := off + uint64(n)
	out := make([]byte, length)
	copy(out, b[start:start+uint64(length)])
	return out
}

// validateSections enforces the bounds part of spec.md §3's invariant I5
// and §4.8's open-time checks: every section offset lies inside the file,
// and when the file carries a node index (BuildIndex) the index ends
// before the node data section begins. The data offsets stored in the
// index entries are not compared against the node data section.
func validateSections(raw []byte, hdr Header, meta Metadata) error {
	size := uint64(len(raw))
	if meta.NodeDataOffset > size || meta.EdgeDataOffset > size ||
		meta.PropertyPoolOffset > size || meta.NodeIndexOffset > size ||
		meta.SideTableOffset > size {
		return newErr(InvalidFormat, "section offset exceeds file size", nil)
	}
	if hdr.BuildFlags&uint32(BuildIndex) != 0 && hdr.NodeCount > 0 {
		idxBytes := hdr.NodeCount * nodeIndexEntrySz
		if meta.NodeIndexOffset+idxBytes > meta.NodeDataOffset {
			return newErr(InvalidFormat, "node index overruns node data section", nil)
		}
	}
	return nil
}
