package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"4096", 4096, false},
		{"0", 0, false},
		{"1Ki", KiB, false},
		{"64Mi", 64 * MiB, false},
		{"64MiB", 64 * MiB, false},
		{"1Gi", GiB, false},
		{"100MB", 100 * MB, false},
		{"2kb", 2 * KB, false},
		{"1.5Gi", ByteSize(1.5 * float64(GiB)), false},
		{" 8 Mi ", 8 * MiB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"12xyz", 0, true},
		{"-5", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("16Mi")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if b != 16*MiB {
		t.Errorf("got %d, want %d", b, 16*MiB)
	}

	if err := b.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) expected error")
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{4 * KiB, "4.00KiB"},
		{64 * MiB, "64.00MiB"},
		{GiB, "1.00GiB"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}
