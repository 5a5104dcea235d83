package wire

import "testing"

func TestHostCodecRoundTripSnapshot(t *testing.T) {
	updates := []Update{
		{Kind: UpdateCell, Row: 1, Col: 2, Seq: 3, Packed: EncodeCell('x', 0)},
		{Kind: UpdateRow, Row: 4, Seq: 5, Cells: []PackedCell{EncodeCell('a', 0), EncodeCell('b', 1)}},
		{Kind: UpdateTrim, Row: 0, Count: 10, Seq: 1},
		{Kind: UpdateStyle, Seq: 1, Style: Style{ID: 2, FG: PackColor(ColorRGB, 1, 2, 3), BG: 0, Attrs: AttrBold}},
	}
	cursor := &CursorFrame{Row: 4, Col: 5, Seq: 5, Visible: true}

	raw := EncodeSnapshot(updates, cursor)
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindSnapshot {
		t.Fatalf("expected snapshot kind, got %v", got.Kind)
	}
	if len(got.Snapshot.Updates) != len(updates) {
		t.Fatalf("expected %d updates, got %d", len(updates), len(got.Snapshot.Updates))
	}
	if got.Snapshot.Cursor == nil || got.Snapshot.Cursor.Row != 4 || got.Snapshot.Cursor.Col != 5 {
		t.Fatalf("cursor mismatch: %+v", got.Snapshot.Cursor)
	}
}

func TestHostCodecRoundTripGridAndHello(t *testing.T) {
	h, err := Decode(EncodeHello(7, FeatureCursorSync))
	if err != nil || h.Hello.Subscription != 7 || !h.Hello.CursorSyncEnabled() {
		t.Fatalf("hello round trip failed: %+v err=%v", h, err)
	}

	vp := uint32(24)
	g, err := Decode(EncodeGrid(91, 62, 80, &vp))
	if err != nil || g.Grid.BaseRow != 91 || g.Grid.Cols != 80 || !g.Grid.HasViewport || g.Grid.ViewportRows != 24 {
		t.Fatalf("grid round trip failed: %+v err=%v", g, err)
	}
}

func TestDecodeViewerFrameRoundTrip(t *testing.T) {
	vf, err := DecodeViewerFrame(EncodeInput(9, []byte("hi")))
	if err != nil || vf.Kind != ViewerInput || vf.InputSeq != 9 || string(vf.InputData) != "hi" {
		t.Fatalf("input round trip failed: %+v err=%v", vf, err)
	}

	vf, err = DecodeViewerFrame(EncodeResize(40, 120))
	if err != nil || vf.Kind != ViewerResize || vf.ResizeRows != 40 || vf.ResizeCols != 120 {
		t.Fatalf("resize round trip failed: %+v err=%v", vf, err)
	}

	vf, err = DecodeViewerFrame(EncodeBackfillRequest(RowRange{Start: 10, End: 20}))
	if err != nil || vf.Kind != ViewerRequest || vf.RequestRange != (RowRange{Start: 10, End: 20}) {
		t.Fatalf("request round trip failed: %+v err=%v", vf, err)
	}
}
