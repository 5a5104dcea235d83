package wire

// FrameKind tags an inbound host frame (spec.md §6).
type FrameKind uint8

const (
	KindHello            FrameKind = 0
	KindGrid             FrameKind = 1
	KindSnapshot         FrameKind = 2
	KindDelta            FrameKind = 3
	KindHistoryBackfill  FrameKind = 4
	KindSnapshotComplete FrameKind = 5
	KindInputAck         FrameKind = 6
	KindCursor           FrameKind = 7
	KindHeartbeat        FrameKind = 8
	KindShutdown         FrameKind = 9
)

func (k FrameKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindGrid:
		return "grid"
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	case KindHistoryBackfill:
		return "history_backfill"
	case KindSnapshotComplete:
		return "snapshot_complete"
	case KindInputAck:
		return "input_ack"
	case KindCursor:
		return "cursor"
	case KindHeartbeat:
		return "heartbeat"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// FeatureBits is the hello.features bitfield.
type FeatureBits uint32

const FeatureCursorSync FeatureBits = 1 << 0

// UpdateKind tags the subtype of a grid Update.
type UpdateKind uint8

const (
	UpdateCell UpdateKind = iota
	UpdateRow
	UpdateRowSegment
	UpdateRect
	UpdateTrim
	UpdateStyle
)

// Update is a flattened tagged variant covering every update subtype named
// in spec.md §4.1/§6. Only the fields relevant to Kind are populated; this
// mirrors spec.md §9's "model updates as a tagged variant" design note in
// the idiom Go actually supports (a single struct switched on a tag) rather
// than forcing interface{} dispatch for what is, at its core, a closed set.
type Update struct {
	Kind UpdateKind

	// cell / row / row_segment: absolute row index. rect: row range start. trim: start row.
	Row uint64
	// rect: exclusive row range end.
	RowEnd uint64

	// cell: column. row_segment: start column. rect: column range start.
	Col uint32
	// rect: exclusive column range end.
	ColEnd uint32

	Seq uint64

	// cell: the packed cell. rect: the fill cell.
	Packed PackedCell
	// row / row_segment: the cell sequence written starting at Col (or 0 for row).
	Cells []PackedCell

	// trim: number of rows dropped starting at Row.
	Count uint64

	// style: the style definition being installed/replaced.
	Style Style
}

// CursorFrame is the authoritative cursor report (spec.md §3/§6).
type CursorFrame struct {
	Row     uint64
	Col     uint32
	Seq     uint64
	Visible bool
	Blink   bool
}

// HelloFrame resets the grid and establishes a subscription (spec.md §4.4).
type HelloFrame struct {
	Subscription uint32
	Features     FeatureBits
}

// CursorSyncEnabled reports whether the CURSOR_SYNC feature bit is set.
func (h HelloFrame) CursorSyncEnabled() bool {
	return h.Features&FeatureCursorSync != 0
}

// GridFrame announces the host's grid dimensions and history depth.
type GridFrame struct {
	BaseRow      uint64
	HistoryRows  uint32
	Cols         uint32
	ViewportRows uint32
	HasViewport  bool
}

// BulkFrame is the payload shared by snapshot/delta frames.
type BulkFrame struct {
	Updates []Update
	Cursor  *CursorFrame
}

// HistoryBackfillFrame replies to a backfill request.
type HistoryBackfillFrame struct {
	RangeStart uint64
	RangeEnd   uint64
	Updates    []Update
	Cursor     *CursorFrame
}

// HostFrame is the decoded form of any inbound frame. Exactly one of the
// typed fields is populated, selected by Kind.
type HostFrame struct {
	Kind FrameKind

	// ByteSize is the encoded length of the frame as received off the wire,
	// set by Decode. It exists solely for TraceSink instrumentation and is
	// zero for frames constructed directly (e.g. in tests).
	ByteSize int

	Hello            HelloFrame
	Grid             GridFrame
	Snapshot         BulkFrame
	Delta            BulkFrame
	HistoryBackfill  HistoryBackfillFrame
	Cursor           CursorFrame
	InputAckSeq      uint64
	HeartbeatSeq     uint64
}

// RequestKind tags an outbound request frame.
type RequestKind uint8

const RequestHistoryBackfill RequestKind = 0

// RowRange is an absolute, half-open row range [Start, End).
type RowRange struct {
	Start uint64
	End   uint64
}

// Overlaps reports whether two row ranges intersect.
func (r RowRange) Overlaps(o RowRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Len returns the number of rows spanned.
func (r RowRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// ReadySentinel is the plain-text message sent once after the data channel
// opens, signalling the viewer is listening (spec.md §6).
const ReadySentinel = "__ready__"
