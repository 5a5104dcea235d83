package wire

import "encoding/binary"

// The encoders below are the mirror image of Decode: they build the inbound
// host frames this package's Decode understands. The viewer core itself
// never calls them — a real host is someone else's server — but a reference
// host implementation needs a symmetric codec, and the wire format belongs
// in one place rather than reimplemented ad hoc by every demo. cmd/demohost
// is the sole caller.

func putU64(buf []byte, off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }
func putU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }

// EncodeHello builds a hello frame.
func EncodeHello(subscription uint32, features FeatureBits) []byte {
	buf := make([]byte, 1+4+4)
	buf[0] = byte(KindHello)
	putU32(buf, 1, subscription)
	putU32(buf, 5, uint32(features))
	return buf
}

// EncodeGrid builds a grid frame. viewportRows is omitted when nil.
func EncodeGrid(baseRow uint64, historyRows, cols uint32, viewportRows *uint32) []byte {
	size := 1 + 8 + 4 + 4
	if viewportRows != nil {
		size += 4
	}
	buf := make([]byte, size)
	buf[0] = byte(KindGrid)
	putU64(buf, 1, baseRow)
	putU32(buf, 9, historyRows)
	putU32(buf, 13, cols)
	if viewportRows != nil {
		putU32(buf, 17, *viewportRows)
	}
	return buf
}

func encodeCellRun(cells []PackedCell) []byte {
	buf := make([]byte, 4+8*len(cells))
	putU32(buf, 0, uint32(len(cells)))
	for i, c := range cells {
		putU64(buf, 4+8*i, uint64(c))
	}
	return buf
}

func encodeUpdate(u Update) []byte {
	switch u.Kind {
	case UpdateCell:
		buf := make([]byte, 1+8+4+8+8)
		buf[0] = byte(UpdateCell)
		putU64(buf, 1, u.Row)
		putU32(buf, 9, u.Col)
		putU64(buf, 13, u.Seq)
		putU64(buf, 21, uint64(u.Packed))
		return buf

	case UpdateRow:
		head := make([]byte, 1+8+8)
		head[0] = byte(UpdateRow)
		putU64(head, 1, u.Row)
		putU64(head, 9, u.Seq)
		return append(head, encodeCellRun(u.Cells)...)

	case UpdateRowSegment:
		head := make([]byte, 1+8+4+8)
		head[0] = byte(UpdateRowSegment)
		putU64(head, 1, u.Row)
		putU32(head, 9, u.Col)
		putU64(head, 13, u.Seq)
		return append(head, encodeCellRun(u.Cells)...)

	case UpdateRect:
		buf := make([]byte, 1+8+8+4+4+8+8)
		buf[0] = byte(UpdateRect)
		putU64(buf, 1, u.Row)
		putU64(buf, 9, u.RowEnd)
		putU32(buf, 17, u.Col)
		putU32(buf, 21, u.ColEnd)
		putU64(buf, 25, u.Seq)
		putU64(buf, 33, uint64(u.Packed))
		return buf

	case UpdateTrim:
		buf := make([]byte, 1+8+8+8)
		buf[0] = byte(UpdateTrim)
		putU64(buf, 1, u.Row)
		putU64(buf, 9, u.Count)
		putU64(buf, 17, u.Seq)
		return buf

	case UpdateStyle:
		buf := make([]byte, 1+4+8+4+4+1)
		buf[0] = byte(UpdateStyle)
		putU32(buf, 1, u.Style.ID)
		putU64(buf, 5, u.Seq)
		putU32(buf, 13, uint32(u.Style.FG))
		putU32(buf, 17, uint32(u.Style.BG))
		buf[21] = byte(u.Style.Attrs)
		return buf

	default:
		return nil
	}
}

func encodeCursorFrame(cf CursorFrame) []byte {
	buf := make([]byte, 8+4+8+1+1)
	putU64(buf, 0, cf.Row)
	putU32(buf, 8, cf.Col)
	putU64(buf, 12, cf.Seq)
	if cf.Visible {
		buf[20] = 1
	}
	if cf.Blink {
		buf[21] = 1
	}
	return buf
}

func encodeBulk(updates []Update, cursor *CursorFrame) []byte {
	out := make([]byte, 4)
	putU32(out, 0, uint32(len(updates)))
	for _, u := range updates {
		out = append(out, encodeUpdate(u)...)
	}
	if cursor != nil {
		out = append(out, encodeCursorFrame(*cursor)...)
	}
	return out
}

// EncodeSnapshot builds a snapshot frame.
func EncodeSnapshot(updates []Update, cursor *CursorFrame) []byte {
	return append([]byte{byte(KindSnapshot)}, encodeBulk(updates, cursor)...)
}

// EncodeDelta builds a delta frame.
func EncodeDelta(updates []Update, cursor *CursorFrame) []byte {
	return append([]byte{byte(KindDelta)}, encodeBulk(updates, cursor)...)
}

// EncodeHistoryBackfill builds a history_backfill reply frame.
func EncodeHistoryBackfill(rangeStart, rangeEnd uint64, updates []Update, cursor *CursorFrame) []byte {
	head := make([]byte, 1+8+8)
	head[0] = byte(KindHistoryBackfill)
	putU64(head, 1, rangeStart)
	putU64(head, 9, rangeEnd)
	return append(head, encodeBulk(updates, cursor)...)
}

// EncodeSnapshotComplete builds a snapshot_complete frame.
func EncodeSnapshotComplete() []byte { return []byte{byte(KindSnapshotComplete)} }

// EncodeCursorFrame builds a standalone cursor frame.
func EncodeCursorFrame(cf CursorFrame) []byte {
	return append([]byte{byte(KindCursor)}, encodeCursorFrame(cf)...)
}

// EncodeInputAck builds an input_ack frame.
func EncodeInputAck(seq uint64) []byte {
	buf := make([]byte, 1+8)
	buf[0] = byte(KindInputAck)
	putU64(buf, 1, seq)
	return buf
}

// EncodeHeartbeat builds a heartbeat frame.
func EncodeHeartbeat(seq uint64) []byte {
	buf := make([]byte, 1+8)
	buf[0] = byte(KindHeartbeat)
	putU64(buf, 1, seq)
	return buf
}

// EncodeShutdown builds a shutdown frame.
func EncodeShutdown() []byte { return []byte{byte(KindShutdown)} }

// ViewerFrame is the decoded form of an outbound viewer frame, from a
// reference host's point of view.
type ViewerFrame struct {
	Kind ViewerFrameKind

	InputSeq  uint64
	InputData []byte

	ResizeRows uint32
	ResizeCols uint32

	RequestKind  RequestKind
	RequestRange RowRange
}

// DecodeViewerFrame parses one outbound frame this viewer emits (spec.md
// §6), from a reference host's perspective. Used only by cmd/demohost.
func DecodeViewerFrame(data []byte) (*ViewerFrame, error) {
	r := &reader{buf: data}
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch ViewerFrameKind(tag) {
	case ViewerInput:
		seq, err := r.u64()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return &ViewerFrame{Kind: ViewerInput, InputSeq: seq, InputData: append([]byte(nil), b...)}, nil

	case ViewerResize:
		rows, err := r.u32()
		if err != nil {
			return nil, err
		}
		cols, err := r.u32()
		if err != nil {
			return nil, err
		}
		return &ViewerFrame{Kind: ViewerResize, ResizeRows: rows, ResizeCols: cols}, nil

	case ViewerRequest:
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		start, err := r.u64()
		if err != nil {
			return nil, err
		}
		end, err := r.u64()
		if err != nil {
			return nil, err
		}
		return &ViewerFrame{
			Kind:         ViewerRequest,
			RequestKind:  RequestKind(kind),
			RequestRange: RowRange{Start: start, End: end},
		}, nil

	default:
		return nil, malformed("unknown viewer frame tag")
	}
}
