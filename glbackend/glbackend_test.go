package glbackend

import "testing"

func TestFirstAdvanceHasNoData(t *testing.T) {
	ctx := NewFakeContext(4, 4)
	db := NewDoubleBuffer(ctx, 4*4*4)
	defer db.Close()

	_, ok, err := db.Advance(0, 0, 4, 4, FormatBGRA)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if ok {
		t.Error("first Advance returned ok=true, want false (nothing captured yet)")
	}
}

func TestSecondAdvanceHarvestsFirstFrame(t *testing.T) {
	ctx := NewFakeContext(2, 2)
	for i := range ctx.Framebuffer {
		ctx.Framebuffer[i] = byte(i + 1)
	}
	db := NewDoubleBuffer(ctx, 2*2*4)
	defer db.Close()

	if _, ok, err := db.Advance(0, 0, 2, 2, FormatBGRA); err != nil || ok {
		t.Fatalf("first Advance: ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	data, ok, err := db.Advance(0, 0, 2, 2, FormatBGRA)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if !ok {
		t.Fatal("second Advance returned ok=false, want true (one frame lag resolved)")
	}
	if len(data) != 2*2*4 {
		t.Fatalf("len(data) = %d, want %d", len(data), 2*2*4)
	}
	for i, v := range data {
		if v != byte(i+1) {
			t.Errorf("data[%d] = %d, want %d", i, v, i+1)
		}
	}
}

func TestBGRDropsAlphaChannel(t *testing.T) {
	ctx := NewFakeContext(1, 1)
	ctx.Framebuffer[0], ctx.Framebuffer[1], ctx.Framebuffer[2], ctx.Framebuffer[3] = 10, 20, 30, 255
	db := NewDoubleBuffer(ctx, 1*1*3)
	defer db.Close()

	db.Advance(0, 0, 1, 1, FormatBGR)
	data, ok, err := db.Advance(0, 0, 1, 1, FormatBGR)
	if err != nil || !ok {
		t.Fatalf("Advance: ok=%v err=%v", ok, err)
	}
	want := []byte{10, 20, 30}
	if len(data) != 3 {
		t.Fatalf("len(data) = %d, want 3", len(data))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("data[%d] = %d, want %d", i, data[i], want[i])
		}
	}
}
