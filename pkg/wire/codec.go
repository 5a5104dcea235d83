package wire

import "encoding/binary"

// reader is a small cursor over a byte slice used for decoding. It never
// panics: every read checks remaining length and returns ErrMalformedFrame.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (byte, error) {
	if r.remaining() < 1 {
		return 0, malformed("truncated u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, malformed("truncated u32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, malformed("truncated u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, malformed("truncated byte run")
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// Decode parses one inbound host frame from its binary wire form
// (spec.md §6). On error the frame must be dropped without tearing down
// the channel (spec.md §7).
func Decode(data []byte) (*HostFrame, error) {
	r := &reader{buf: data}

	tagByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	kind := FrameKind(tagByte)

	f := &HostFrame{Kind: kind, ByteSize: len(data)}

	switch kind {
	case KindHello:
		sub, err := r.u32()
		if err != nil {
			return nil, err
		}
		features, err := r.u32()
		if err != nil {
			return nil, err
		}
		f.Hello = HelloFrame{Subscription: sub, Features: FeatureBits(features)}

	case KindGrid:
		base, err := r.u64()
		if err != nil {
			return nil, err
		}
		historyRows, err := r.u32()
		if err != nil {
			return nil, err
		}
		cols, err := r.u32()
		if err != nil {
			return nil, err
		}
		g := GridFrame{BaseRow: base, HistoryRows: historyRows, Cols: cols}
		if r.remaining() >= 4 {
			vp, err := r.u32()
			if err != nil {
				return nil, err
			}
			g.ViewportRows = vp
			g.HasViewport = true
		}
		f.Grid = g

	case KindSnapshot, KindDelta:
		bulk, err := decodeBulk(r)
		if err != nil {
			return nil, err
		}
		if kind == KindSnapshot {
			f.Snapshot = bulk
		} else {
			f.Delta = bulk
		}

	case KindHistoryBackfill:
		start, err := r.u64()
		if err != nil {
			return nil, err
		}
		end, err := r.u64()
		if err != nil {
			return nil, err
		}
		bulk, err := decodeBulk(r)
		if err != nil {
			return nil, err
		}
		f.HistoryBackfill = HistoryBackfillFrame{
			RangeStart: start,
			RangeEnd:   end,
			Updates:    bulk.Updates,
			Cursor:     bulk.Cursor,
		}

	case KindSnapshotComplete, KindShutdown:
		// no payload

	case KindInputAck:
		seq, err := r.u64()
		if err != nil {
			return nil, err
		}
		f.InputAckSeq = seq

	case KindCursor:
		cf, err := decodeCursor(r)
		if err != nil {
			return nil, err
		}
		f.Cursor = cf

	case KindHeartbeat:
		seq, err := r.u64()
		if err != nil {
			return nil, err
		}
		f.HeartbeatSeq = seq

	default:
		return nil, malformed("unknown frame tag")
	}

	return f, nil
}

func decodeCursor(r *reader) (CursorFrame, error) {
	row, err := r.u64()
	if err != nil {
		return CursorFrame{}, err
	}
	col, err := r.u32()
	if err != nil {
		return CursorFrame{}, err
	}
	seq, err := r.u64()
	if err != nil {
		return CursorFrame{}, err
	}
	visible, err := r.u8()
	if err != nil {
		return CursorFrame{}, err
	}
	blink, err := r.u8()
	if err != nil {
		return CursorFrame{}, err
	}
	return CursorFrame{Row: row, Col: col, Seq: seq, Visible: visible != 0, Blink: blink != 0}, nil
}

func decodeBulk(r *reader) (BulkFrame, error) {
	n, err := r.u32()
	if err != nil {
		return BulkFrame{}, err
	}

	updates := make([]Update, 0, n)
	for i := uint32(0); i < n; i++ {
		u, err := decodeUpdate(r)
		if err != nil {
			return BulkFrame{}, err
		}
		updates = append(updates, u)
	}

	bulk := BulkFrame{Updates: updates}
	if r.remaining() > 0 {
		cf, err := decodeCursor(r)
		if err != nil {
			return BulkFrame{}, err
		}
		bulk.Cursor = &cf
	}
	return bulk, nil
}

func decodeUpdate(r *reader) (Update, error) {
	subtag, err := r.u8()
	if err != nil {
		return Update{}, err
	}

	switch UpdateKind(subtag) {
	case UpdateCell:
		row, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		col, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		seq, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		packed, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		return Update{Kind: UpdateCell, Row: row, Col: col, Seq: seq, Packed: PackedCell(packed)}, nil

	case UpdateRow:
		row, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		seq, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		cells, err := decodeCellRun(r)
		if err != nil {
			return Update{}, err
		}
		return Update{Kind: UpdateRow, Row: row, Seq: seq, Cells: cells}, nil

	case UpdateRowSegment:
		row, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		startCol, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		seq, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		cells, err := decodeCellRun(r)
		if err != nil {
			return Update{}, err
		}
		return Update{Kind: UpdateRowSegment, Row: row, Col: startCol, Seq: seq, Cells: cells}, nil

	case UpdateRect:
		rowStart, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		rowEnd, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		colStart, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		colEnd, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		seq, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		packed, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		return Update{
			Kind: UpdateRect, Row: rowStart, RowEnd: rowEnd,
			Col: colStart, ColEnd: colEnd, Seq: seq, Packed: PackedCell(packed),
		}, nil

	case UpdateTrim:
		start, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		count, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		seq, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		return Update{Kind: UpdateTrim, Row: start, Count: count, Seq: seq}, nil

	case UpdateStyle:
		id, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		seq, err := r.u64()
		if err != nil {
			return Update{}, err
		}
		fg, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		bg, err := r.u32()
		if err != nil {
			return Update{}, err
		}
		attrs, err := r.u8()
		if err != nil {
			return Update{}, err
		}
		return Update{
			Kind: UpdateStyle, Seq: seq,
			Style: Style{ID: id, FG: Color(fg), BG: Color(bg), Attrs: Attrs(attrs)},
		}, nil

	default:
		return Update{}, malformed("unknown update subtag")
	}
}

func decodeCellRun(r *reader) ([]PackedCell, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	cells := make([]PackedCell, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		cells[i] = PackedCell(v)
	}
	return cells, nil
}

// --- outbound encoding ---

// ViewerFrameKind tags an outbound frame.
type ViewerFrameKind uint8

const (
	ViewerInput   ViewerFrameKind = 0
	ViewerResize  ViewerFrameKind = 1
	ViewerRequest ViewerFrameKind = 2
)

// EncodeInput builds an outbound input frame (spec.md §6).
func EncodeInput(seq uint64, data []byte) []byte {
	buf := make([]byte, 1+8+4+len(data))
	buf[0] = byte(ViewerInput)
	binary.LittleEndian.PutUint64(buf[1:], seq)
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(data)))
	copy(buf[13:], data)
	return buf
}

// EncodeResize builds an outbound resize frame.
func EncodeResize(rows, cols uint32) []byte {
	buf := make([]byte, 1+4+4)
	buf[0] = byte(ViewerResize)
	binary.LittleEndian.PutUint32(buf[1:], rows)
	binary.LittleEndian.PutUint32(buf[5:], cols)
	return buf
}

// EncodeBackfillRequest builds an outbound history-backfill request frame.
func EncodeBackfillRequest(r RowRange) []byte {
	buf := make([]byte, 1+1+8+8)
	buf[0] = byte(ViewerRequest)
	buf[1] = byte(RequestHistoryBackfill)
	binary.LittleEndian.PutUint64(buf[2:], r.Start)
	binary.LittleEndian.PutUint64(buf[10:], r.End)
	return buf
}
