package list_test

import (
	"testing"

	"learnql/pkg/list"
)

func TestPushHeadAndTail(t *testing.T) {
	l := list.New[int]()
	l.PushTail(1)
	l.PushTail(2)
	l.PushHead(0)

	var got []int
	l.Map(func(lk *list.Link[int]) { got = append(got, lk.Value()) })
	want := []int{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFind(t *testing.T) {
	l := list.New[string]()
	l.PushTail("a")
	l.PushTail("b")
	l.PushTail("c")

	lk := l.Find(func(lk *list.Link[string]) bool { return lk.Value() == "b" })
	if lk == nil || lk.Value() != "b" {
		t.Fatalf("Find: got %v, want link to \"b\"", lk)
	}
	if l.Find(func(lk *list.Link[string]) bool { return lk.Value() == "z" }) != nil {
		t.Errorf("Find: expected nil for missing value")
	}
}

func TestPopSelfMiddle(t *testing.T) {
	l := list.New[int]()
	l.PushTail(1)
	mid := l.PushTail(2)
	l.PushTail(3)

	mid.PopSelf()

	var got []int
	l.Map(func(lk *list.Link[int]) { got = append(got, lk.Value()) })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("got %v, want [1 3]", got)
	}
	if l.PeekHead().Value() != 1 || l.PeekTail().Value() != 3 {
		t.Errorf("expected head/tail to remain 1/3 after removing the middle link")
	}
}

func TestPopSelfHeadAndTail(t *testing.T) {
	l := list.New[int]()
	head := l.PushTail(1)
	tail := l.PushTail(2)

	head.PopSelf()
	if l.PeekHead().Value() != 2 {
		t.Errorf("expected head to become 2 after popping the old head")
	}

	tail.PopSelf()
	if l.PeekHead() != nil || l.PeekTail() != nil {
		t.Errorf("expected empty list after popping the only remaining link")
	}
}
