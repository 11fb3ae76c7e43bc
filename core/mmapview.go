package core

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/multiformats/go-varint"
)

// GraphView is a zero-copy, read-only view over a CNSB file (spec.md §3,
// §4.8). It keeps the file mapped for its lifetime; Close unmaps it.
//
// Grounded on core/network.go's pattern of validating a peer-supplied
// buffer's header before trusting any offset inside it (magic/version/
// length checks up front, then direct indexing) — generalized here from a
// wire frame to an mmap'd file.
type GraphView struct {
	data     mmap.MMap
	file     *os.File
	header   Header
	meta     Metadata
	compress bool
}

// OpenGraphView mmaps path read-only and validates the header, metadata
// block and section bounds before returning (invariant I5: "A graph file
// failing magic/version/bounds checks is rejected at open time, never
// partially loaded").
func OpenGraphView(path string) (*GraphView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(IO, "open file", err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, newErr(IO, "mmap file", err)
	}
	hdr, err := readHeader(m)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	if hdr.Checksum != 0 && crc32.ChecksumIEEE(m[headerSize:]) != hdr.Checksum {
		m.Unmap()
		f.Close()
		return nil, newErr(ChecksumMismatch, "", nil)
	}
	meta, err := readMetadata(m, hdr.MetadataOffset)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	if err := validateSections(m, hdr, meta); err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	return &GraphView{
		data: m, file: f, header: hdr, meta: meta,
		compress: hdr.BuildFlags&uint32(BuildCompressVarints) != 0,
	}, nil
}

// Close unmaps the file and releases the descriptor.
func (v *GraphView) Close() error {
	if err := v.data.Unmap(); err != nil {
		v.file.Close()
		return newErr(IO, "unmap", err)
	}
	return v.file.Close()
}

// NodeCount and EdgeCount expose the header counts without touching any
// section data.
func (v *GraphView) NodeCount() uint64 { return v.header.NodeCount }
func (v *GraphView) EdgeCount() uint64 { return v.header.EdgeCount }

// GraphFlags returns the file's graph-level flags.
func (v *GraphView) GraphFlags() GraphFlags { return GraphFlags(v.header.GraphFlags) }

// NodeIndexEntry returns the O(1) index slot for the i-th node (spec.md
// §3: "a node index enabling O(1) node lookup by id"), valid only when the
// file was written with BuildIndex.
func (v *GraphView) NodeIndexEntry(i uint64) (NodeIndexEntry, bool) {
	if v.header.BuildFlags&uint32(BuildIndex) == 0 {
		return NodeIndexEntry{}, false
	}
	off := v.meta.NodeIndexOffset + i*nodeIndexEntrySz
	if off+nodeIndexEntrySz > uint64(len(v.data)) {
		return NodeIndexEntry{}, false
	}
	b := v.data[off:]
	return NodeIndexEntry{
		DataOffset: binary.LittleEndian.Uint64(b[0:8]),
		OutDegree:  binary.LittleEndian.Uint32(b[8:12]),
		InDegree:   binary.LittleEndian.Uint32(b[12:16]),
	}, true
}

// NodeAt decodes the node record starting at an offset relative to the
// node data section, as reported by a NodeIndexEntry. It reads directly
// out of the mapped pages; no copy of the surrounding file is made,
// only of the node's own Data blob.
func (v *GraphView) NodeAt(relOffset uint64) (Node, error) {
	off := v.meta.NodeDataOffset + relOffset
	id, n := readVarintOrFixed(v.data, off, v.compress)
	off += n
	typ, n := readVarintOrFixed(v.data, off, v.compress)
	off += n
	flg, n := readVarintOrFixed(v.data, off, v.compress)
	off += n
	poolOff, n := readVarintOrFixed(v.data, off, v.compress)
	off += n
	dataLen, n := readVarintOrFixed(v.data, off, v.compress)
	off += n
	if off > uint64(len(v.data)) {
		return Node{}, newErr(InvalidFormat, "node record exceeds file size", nil)
	}
	data := v.propertyAt(poolOff, int(dataLen))
	return Node{ID: id, Type: uint32(typ), Flags: uint32(flg), Data: data}, nil
}

// propertyAt reads a dedup'd blob out of the property pool section
// without copying the whole pool.
func (v *GraphView) propertyAt(off uint64, length int) []byte {
	if length == 0 {
		return nil
	}
	start := v.meta.PropertyPoolOffset + off
	if start >= uint64(len(v.data)) {
		return nil
	}
	_, n, err := varint.FromUvarint(v.data[start:])
	if err != nil {
		return nil
	}
	dataStart := start + uint64(n)
	dataEnd := dataStart + uint64(length)
	if dataEnd > uint64(len(v.data)) {
		return nil
	}
	out := make([]byte, length)
	copy(out, v.data[dataStart:dataEnd])
	return out
}

// Materialize decodes the full view into an in-memory Graph, for callers
// that need the ordinary node/edge slices rather than zero-copy access.
func (v *GraphView) Materialize() (*Graph, error) {
	return decodeGraph(v.data, false)
}
