package payload

import (
	"bytes"
	"testing"
)

func TestText_EncodesUTF16LE(t *testing.T) {
	data, err := Text("hi").FormatData()
	if err != nil {
		t.Fatalf("FormatData failed: %v", err)
	}
	want := []byte{'h', 0, 'i', 0, 0, 0}
	if !bytes.Equal(data, want) {
		t.Errorf("Text(\"hi\") = %v, want %v", data, want)
	}
}

func TestText_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "héllo wörld", "剪贴板", "emoji 🎉"} {
		data, err := Text(s).FormatData()
		if err != nil {
			t.Fatalf("FormatData(%q) failed: %v", s, err)
		}
		got, err := DecodeText(data)
		if err != nil {
			t.Fatalf("DecodeText failed: %v", err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}
}

func TestDecodeText_StopsAtTerminator(t *testing.T) {
	got, err := DecodeText([]byte{'a', 0, 0, 0, 'b', 0})
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if got != "a" {
		t.Errorf("DecodeText = %q, want %q", got, "a")
	}
}

func TestDecodeText_OddLength(t *testing.T) {
	if _, err := DecodeText([]byte{'a', 0, 'b'}); err == nil {
		t.Error("expected error for odd-length data")
	}
}

func TestBytes_PassThrough(t *testing.T) {
	data, err := Bytes("raw").FormatData()
	if err != nil || string(data) != "raw" {
		t.Errorf("Bytes = %q, %v", data, err)
	}
}

func TestFileDescriptors_RoundTrip(t *testing.T) {
	list := FileDescriptors{
		{Name: "docs/report.pdf", Size: 1024},
		{Name: "huge.iso", Size: 5 << 30},
	}
	data, err := list.FormatData()
	if err != nil {
		t.Fatalf("FormatData failed: %v", err)
	}
	got, err := DecodeFileDescriptors(data)
	if err != nil {
		t.Fatalf("DecodeFileDescriptors failed: %v", err)
	}
	if len(got) != len(list) {
		t.Fatalf("len = %d, want %d", len(got), len(list))
	}
	for i := range list {
		if got[i] != list[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], list[i])
		}
	}
}

func TestFileDescriptors_WithoutPaths(t *testing.T) {
	list := FileDescriptors{
		{Name: "/home/u/a.txt", Size: 1},
		{Name: `C:\Users\u\b.txt`, Size: 2},
		{Name: "c.txt", Size: 3},
	}
	stripped := list.WithoutPaths()
	want := []string{"a.txt", "b.txt", "c.txt"}
	for i, w := range want {
		if stripped[i].Name != w {
			t.Errorf("[%d].Name = %q, want %q", i, stripped[i].Name, w)
		}
		if stripped[i].Size != list[i].Size {
			t.Errorf("[%d].Size changed", i)
		}
	}
	if list[0].Name != "/home/u/a.txt" {
		t.Error("WithoutPaths mutated the receiver")
	}
}

func TestDecodeFileDescriptors_Garbage(t *testing.T) {
	if _, err := DecodeFileDescriptors([]byte{0xC1}); err == nil {
		t.Error("expected error for invalid msgpack")
	}
}
