package options

import (
	"errors"
	"testing"

	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
)

func TestParseDefaults(t *testing.T) {
	opt, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\"): %v", err)
	}
	if opt != Default() {
		t.Fatalf("expected empty string to yield defaults, got %+v", opt)
	}
}

func TestParseOverrides(t *testing.T) {
	opt, err := Parse("blocksize=512,quick,resvblks=4")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opt.BlockSize != 512 {
		t.Fatalf("expected blocksize 512, got %d", opt.BlockSize)
	}
	if !opt.Quick {
		t.Fatalf("expected quick to be set")
	}
	if opt.ReservedBlocks != 4 {
		t.Fatalf("expected resvblks 4, got %d", opt.ReservedBlocks)
	}
	// untouched fields keep their defaults
	if opt.InodeRatio != Default().InodeRatio {
		t.Fatalf("expected inoderatio to keep default, got %d", opt.InodeRatio)
	}
}

func TestParseNegativeOneKeepsDefault(t *testing.T) {
	opt, err := Parse("blocksize=-1,cache=-1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opt != Default() {
		t.Fatalf("expected -1 values to keep defaults, got %+v", opt)
	}
}

func TestParseUnknownKeyFails(t *testing.T) {
	_, err := Parse("widgets=3")
	if err == nil {
		t.Fatalf("expected unknown key to fail")
	}
	if !errors.Is(err, dfserr.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestParseDoesNotMutateInput(t *testing.T) {
	s := "blocksize=512,quick"
	original := s
	if _, err := Parse(s); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s != original {
		t.Fatalf("expected input string to be unchanged, got %q", s)
	}
}
