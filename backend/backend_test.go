package backend

import "testing"

func TestContent_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Content
		want bool
	}{
		{"both empty", Content{}, Content{}, true},
		{"empty text differs from none", TextContent(""), Content{}, false},
		{"same text", TextContent("x"), TextContent("x"), true},
		{"different text", TextContent("x"), TextContent("y"), false},
		{"nil and empty file lists", Content{Files: nil}, Content{Files: []string{}}, true},
		{"file order matters", FileContent("a", "b"), FileContent("b", "a"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContent_CloneIsDeep(t *testing.T) {
	orig := FileContent("a")
	clone := orig.Clone()
	clone.Files[0] = "z"
	if orig.Files[0] != "a" {
		t.Error("Clone shares the file slice")
	}
}

func TestContent_Empty(t *testing.T) {
	if !(Content{}).Empty() {
		t.Error("zero content should be empty")
	}
	if TextContent("").Empty() {
		t.Error("empty text is still an offer")
	}
	if FileContent("a").Empty() {
		t.Error("file list should not be empty")
	}
}

func TestNotify_Coalesces(t *testing.T) {
	ch := make(chan struct{}, 1)
	Notify(ch)
	Notify(ch)
	Notify(ch)
	<-ch
	select {
	case <-ch:
		t.Fatal("signals did not coalesce")
	default:
	}
}
