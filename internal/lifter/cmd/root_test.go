package cmd

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"lifter/internal/report"
)

// arm64Blob is cbz x0, +8; nop; ret mapped anywhere.
func arm64Blob() []byte {
	var b []byte
	for _, w := range []uint32{0xb4000040, 0xd503201f, 0xd65f03c0} {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

// execute runs the command tree with output flags reset, since cobra
// keeps flag values between runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LIFTER_NO_COLOR", "1")
	t.Setenv("LIFTER_LOG_LEVEL", "error")
	for _, name := range []string{"json", "dot", "full", "no-tui", "arch", "config"} {
		f := rootCmd.PersistentFlags().Lookup(name)
		if err := f.Value.Set(f.DefValue); err != nil {
			t.Fatalf("reset --%s: %v", name, err)
		}
		f.Changed = false
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRawJSON(t *testing.T) {
	path := writeFile(t, "blob.bin", arm64Blob())
	out, err := execute(t, "raw", "--arch", "arm64", "--base", "0x1000", "--json", path)
	if err != nil {
		t.Fatalf("raw failed: %v\n%s", err, out)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if r.Arch != "arm64" || r.Entry != "0x1000" {
		t.Errorf("got arch %q entry %q", r.Arch, r.Entry)
	}
	if len(r.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(r.Blocks))
	}
	for i, want := range []string{"0x1000", "0x1004", "0x1008"} {
		if r.Blocks[i].Start != want {
			t.Errorf("block %d starts at %s, want %s", i, r.Blocks[i].Start, want)
		}
	}
}

func TestRawDot(t *testing.T) {
	path := writeFile(t, "blob.bin", arm64Blob())
	out, err := execute(t, "raw", "--arch", "arm64", "--base", "0x1000", "--dot", path)
	if err != nil {
		t.Fatalf("raw failed: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "digraph CFG {") {
		t.Errorf("not DOT output:\n%s", out)
	}
}

func TestRawFullListing(t *testing.T) {
	path := writeFile(t, "blob.bin", arm64Blob())
	out, err := execute(t, "raw", "--arch", "arm64", "--base", "0x1000", "--full", path)
	if err != nil {
		t.Fatalf("raw failed: %v\n%s", err, out)
	}
	for _, want := range []string{"# lifter", "; block 0", "ret"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRawNeedsArch(t *testing.T) {
	path := writeFile(t, "blob.bin", arm64Blob())
	if _, err := execute(t, "raw", "--json", path); err == nil {
		t.Error("expected error without --arch")
	}
}

func TestSchema(t *testing.T) {
	out, err := execute(t, "schema")
	if err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	for _, want := range []string{`"maxBlocks"`, `"resolveIndirect"`, `"passes"`} {
		if !strings.Contains(out, want) {
			t.Errorf("schema missing %s", want)
		}
	}
}

func TestPlainOutput(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"bin"}, false},
		{[]string{"-n", "bin"}, true},
		{[]string{"--json", "bin"}, true},
		{[]string{"raw", "--dot", "bin"}, true},
		{[]string{"--symbol", "main", "bin"}, false},
	}
	for _, tt := range tests {
		if got := plainOutput(tt.args); got != tt.want {
			t.Errorf("plainOutput(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x1000", 0x1000, false},
		{" 4096 ", 4096, false},
		{"0o10", 8, false},
		{"zz", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAddr(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseAddr(%q) = %#x, %v", tt.in, got, err)
		}
	}
}
