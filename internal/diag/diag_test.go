package diag

import (
	"strings"
	"testing"

	"github.com/cinder-lang/cinder/internal/source"
)

func TestBagOrdersBySpan(t *testing.T) {
	var bag Bag
	bag.Errorf(source.Span{Path: "b.cn", Start: 5, End: 6}, "L0002", "second file")
	bag.Errorf(source.Span{Path: "a.cn", Start: 9, End: 12}, "L0001", "later offset")
	bag.Errorf(source.Span{Path: "a.cn", Start: 1, End: 2}, "L0001", "earlier offset")

	all := bag.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Message != "earlier offset" || all[1].Message != "later offset" || all[2].Message != "second file" {
		t.Fatalf("wrong order: %q, %q, %q", all[0].Message, all[1].Message, all[2].Message)
	}
}

func TestWarningsDoNotFailBuild(t *testing.T) {
	var bag Bag
	bag.Warnf(source.Span{Path: "a.cn", Start: 0, End: 1}, "L0100", "suspicious but legal")
	if bag.HasErrors() {
		t.Fatal("warning counted as error")
	}
	if err := bag.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
	bag.Errorf(source.Span{}, "L0003", "real problem")
	if err := bag.Err(); err == nil {
		t.Fatal("error bag returned nil")
	}
}

func TestListRendersEveryEntry(t *testing.T) {
	var bag Bag
	bag.Errorf(source.Span{Path: "m.cn", Start: 3, End: 7}, "L0042", "no such field %q", "len")
	bag.Errorf(source.Span{Path: "m.cn", Start: 20, End: 24}, "L0007", "type mismatch")
	msg := bag.Err().Error()
	for _, want := range []string{"L0042", `no such field "len"`, "L0007", "type mismatch"} {
		if !strings.Contains(msg, want) {
			t.Errorf("rendered list missing %q in:\n%s", want, msg)
		}
	}
	if got := strings.Count(msg, "\n"); got != 1 {
		t.Fatalf("want 2 lines, got %d newlines", got)
	}
}
