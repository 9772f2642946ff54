package cow

import "testing"

func TestSourceBlockNormalization(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		wantBlock uint64
		wantOff   uint64
		wantSpans bool
	}{
		{
			name:      "copy uses source as block index",
			op:        Operation{Kind: KindCopy, NewBlock: 10, Source: 42},
			wantBlock: 42,
		},
		{
			name:      "aligned xor",
			op:        Operation{Kind: KindXor, NewBlock: 3, Source: 7 * BlockSize, PayloadLen: 16},
			wantBlock: 7,
		},
		{
			name:      "xor with intra-block offset spans two blocks",
			op:        Operation{Kind: KindXor, NewBlock: 3, Source: 7*BlockSize + 5, PayloadLen: 16},
			wantBlock: 7,
			wantOff:   5,
			wantSpans: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.SourceBlock(); got != tt.wantBlock {
				t.Errorf("SourceBlock() = %d, want %d", got, tt.wantBlock)
			}
			if got := tt.op.XorOffset(); got != tt.wantOff {
				t.Errorf("XorOffset() = %d, want %d", got, tt.wantOff)
			}
			if got := tt.op.SpansTwoBlocks(); got != tt.wantSpans {
				t.Errorf("SpansTwoBlocks() = %t, want %t", got, tt.wantSpans)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := []Operation{
		{Kind: KindCopy, NewBlock: 1, Source: 2},
		{Kind: KindXor, NewBlock: 1, Source: 2*BlockSize + 9, PayloadLen: 32},
		{Kind: KindReplace, NewBlock: 1, PayloadLen: BlockSize},
		{Kind: KindZero, NewBlock: 1},
		{Kind: KindLabel, Source: 7},
	}
	for _, op := range valid {
		if err := op.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", op, err)
		}
	}

	invalid := []Operation{
		{Kind: KindXor, NewBlock: 1, Source: BlockSize},              // no payload
		{Kind: KindReplace, NewBlock: 1, PayloadLen: 100},            // short payload
		{Kind: KindZero, NewBlock: 1, PayloadLen: 8},                 // payload on zero
		{Kind: OpKind(99), NewBlock: 1},                              // unknown kind
	}
	for _, op := range invalid {
		if err := op.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", op)
		}
	}
}

func TestCursorResumability(t *testing.T) {
	ops := []Operation{
		{Kind: KindCopy, NewBlock: 0, Source: 1},
		{Kind: KindCopy, NewBlock: 1, Source: 2},
		{Kind: KindZero, NewBlock: 2},
	}
	log, err := NewLog(ops)
	if err != nil {
		t.Fatalf("NewLog() error = %v", err)
	}

	c, err := log.Cursor(0)
	if err != nil {
		t.Fatalf("Cursor(0) error = %v", err)
	}

	c.Advance()
	c.Advance()
	pos := c.Position()

	// A fresh cursor at the saved position sees the same remaining ops.
	resumed, err := log.Cursor(pos)
	if err != nil {
		t.Fatalf("Cursor(%d) error = %v", pos, err)
	}
	if resumed.Done() {
		t.Fatal("resumed cursor exhausted early")
	}
	if got := resumed.Current(); got.NewBlock != 2 || got.Kind != KindZero {
		t.Errorf("resumed Current() = %s, want zero{block 2}", got)
	}

	resumed.Advance()
	if !resumed.Done() {
		t.Error("cursor not exhausted after final advance")
	}

	if _, err := log.Cursor(len(ops) + 1); err == nil {
		t.Error("Cursor past end: expected error")
	}
}
