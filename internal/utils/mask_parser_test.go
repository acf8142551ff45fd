package utils

import (
	"strings"
	"testing"
)

func TestParseMask(t *testing.T) {
	tests := []struct {
		name    string
		mask    string
		wantLen int
		wantErr bool
	}{
		{
			name:    "simple lowercase mask",
			mask:    "?l?l?l",
			wantLen: 3,
			wantErr: false,
		},
		{
			name:    "mixed placeholders",
			mask:    "?l?d?u?s",
			wantLen: 4,
			wantErr: false,
		},
		{
			name:    "custom charset",
			mask:    "?1?1?2",
			wantLen: 3,
			wantErr: false,
		},
		{
			name:    "with literal characters",
			mask:    "pass?l?d",
			wantLen: 6,
			wantErr: false,
		},
		{
			name:    "escaped question mark",
			mask:    "a??b?d",
			wantLen: 4,
			wantErr: false,
		},
		{
			name:    "hex placeholders",
			mask:    "?h?H",
			wantLen: 2,
			wantErr: false,
		},
		{
			name:    "empty mask",
			mask:    "",
			wantLen: 0,
			wantErr: true,
		},
		{
			name:    "custom charset out of range",
			mask:    "?5",
			wantLen: 0,
			wantErr: true,
		},
		{
			name:    "mask too long",
			mask:    strings.Repeat("?d", MaxMaskLength+1),
			wantLen: 0,
			wantErr: true,
		},
		{
			name:    "incomplete placeholder",
			mask:    "?l?",
			wantLen: 0,
			wantErr: true,
		},
		{
			name:    "invalid placeholder",
			mask:    "?x",
			wantLen: 0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions, err := ParseMask(tt.mask)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMask() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(positions) != tt.wantLen {
				t.Errorf("ParseMask() got %d positions, want %d", len(positions), tt.wantLen)
			}
		})
	}
}

func TestGenerateIncrementLayers(t *testing.T) {
	tests := []struct {
		name      string
		mask      string
		minLength int
		maxLength int
		isInverse bool
		want      []string
		wantErr   bool
	}{
		{
			name:      "simple increment",
			mask:      "?l?l?l",
			minLength: 2,
			maxLength: 3,
			isInverse: false,
			want:      []string{"?l?l", "?l?l?l"},
			wantErr:   false,
		},
		{
			name:      "simple increment inverse",
			mask:      "?l?l?l",
			minLength: 2,
			maxLength: 3,
			isInverse: true,
			want:      []string{"?l?l?l", "?l?l"},
			wantErr:   false,
		},
		{
			name:      "mixed placeholders",
			mask:      "?l?d?u?s",
			minLength: 2,
			maxLength: 4,
			isInverse: false,
			want:      []string{"?l?d", "?l?d?u", "?l?d?u?s"},
			wantErr:   false,
		},
		{
			name:      "single length",
			mask:      "?l?l?l",
			minLength: 2,
			maxLength: 2,
			isInverse: false,
			want:      []string{"?l?l"},
			wantErr:   false,
		},
		{
			name:      "min > mask length",
			mask:      "?l?l",
			minLength: 5,
			maxLength: 6,
			isInverse: false,
			want:      nil,
			wantErr:   true,
		},
		{
			name:      "max > mask length (should cap)",
			mask:      "?l?l?l",
			minLength: 2,
			maxLength: 10,
			isInverse: false,
			want:      []string{"?l?l", "?l?l?l"},
			wantErr:   false,
		},
		{
			name:      "min < 1",
			mask:      "?l?l?l",
			minLength: 0,
			maxLength: 3,
			isInverse: false,
			want:      nil,
			wantErr:   true,
		},
		{
			name:      "max < min",
			mask:      "?l?l?l",
			minLength: 3,
			maxLength: 2,
			isInverse: false,
			want:      nil,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateIncrementLayers(tt.mask, tt.minLength, tt.maxLength, tt.isInverse)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateIncrementLayers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("GenerateIncrementLayers() got %d layers, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Errorf("GenerateIncrementLayers() layer %d = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestGetMaskLength(t *testing.T) {
	tests := []struct {
		name    string
		mask    string
		want    int
		wantErr bool
	}{
		{
			name:    "simple mask",
			mask:    "?l?l?l",
			want:    3,
			wantErr: false,
		},
		{
			name:    "mixed mask",
			mask:    "?l?d?u?s",
			want:    4,
			wantErr: false,
		},
		{
			name:    "with literals",
			mask:    "pass?l?d",
			want:    6,
			wantErr: false,
		},
		{
			name:    "empty mask",
			mask:    "",
			want:    0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetMaskLength(tt.mask)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetMaskLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("GetMaskLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateEffectiveKeyspace(t *testing.T) {
	tests := []struct {
		name    string
		mask    string
		custom  map[string]string
		want    string
		wantErr bool
	}{
		{name: "two lowercase", mask: "?l?l", want: "676"},
		{name: "lower and digit", mask: "?l?d", want: "260"},
		{name: "literals are fixed", mask: "pass?d?d", want: "100"},
		{name: "escaped question mark", mask: "??", want: "1"},
		{name: "all printable", mask: "?a", want: "95"},
		{name: "hex", mask: "?h?H", want: "256"},
		{name: "bytes", mask: "?b?b", want: "65536"},
		{name: "custom charset", mask: "?1?1", custom: map[string]string{"1": "?l?d"}, want: "1296"},
		{name: "custom charset literals dedupe", mask: "?1", custom: map[string]string{"1": "aab?d"}, want: "12"},
		{name: "undefined custom charset", mask: "?2", custom: map[string]string{"1": "abc"}, wantErr: true},
		{
			name: "beyond int64",
			mask: strings.Repeat("?a", 12),
			want: "540360087662636962890625",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateEffectiveKeyspace(tt.mask, tt.custom)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateEffectiveKeyspace() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("CalculateEffectiveKeyspace() = %s, want %s", got.String(), tt.want)
			}
		})
	}
}

func TestCalculateIncrementKeyspace(t *testing.T) {
	got, err := CalculateIncrementKeyspace("?d?d?d", nil, 1, 3)
	if err != nil {
		t.Fatalf("CalculateIncrementKeyspace() error = %v", err)
	}
	if got.Int64() != 1110 {
		t.Errorf("CalculateIncrementKeyspace() = %s, want 1110", got.String())
	}

	if _, err := CalculateIncrementKeyspace("?d?d", nil, 3, 4); err == nil {
		t.Error("expected error when min length exceeds mask length")
	}
}

func TestCharsetCardinality(t *testing.T) {
	tests := []struct {
		name       string
		definition string
		want       int64
		wantErr    bool
	}{
		{name: "lower and digit", definition: "?l?d", want: 36},
		{name: "all printable absorbs subsets", definition: "?a?d?l", want: 95},
		{name: "literal characters", definition: "abc", want: 3},
		{name: "duplicate literals", definition: "aaa", want: 1},
		{name: "hex union", definition: "?h?H", want: 22},
		{name: "empty", definition: "", wantErr: true},
		{name: "invalid placeholder", definition: "?x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CharsetCardinality(tt.definition, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("CharsetCardinality() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("CharsetCardinality() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetCharsetSize(t *testing.T) {
	tests := map[string]int64{
		"?l": 26,
		"?u": 26,
		"?d": 10,
		"?s": 33,
		"?a": 95,
		"?b": 256,
		"?h": 16,
		"?H": 16,
		"?z": 0,
	}

	for placeholder, want := range tests {
		if got := getCharsetSize(placeholder); got != want {
			t.Errorf("getCharsetSize(%q) = %d, want %d", placeholder, got, want)
		}
	}
}
