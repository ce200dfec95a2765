// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package copyqueue

import (
	"testing"

	"github.com/ferrum3d/core/engine/internal/ctxt"
	"github.com/ferrum3d/core/gpu"
	"github.com/ferrum3d/core/internal/wait"
)

func TestBuilderRecordsOrder(t *testing.T) {
	var order []opKind
	b := NewBuilder().
		UploadBuffer(nil, 0, []byte{1, 2, 3}).
		Invoke(func() {}).
		UploadBuffer(nil, 4, []byte{4, 5, 6})
	for _, o := range b.ops {
		order = append(order, o.kind)
	}
	want := []opKind{opUploadBuffer, opInvoke, opUploadBuffer}
	if len(order) != len(want) {
		t.Fatalf("Builder.ops: unexpected len\nhave %v\nwant %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Builder.ops[%d]: unexpected kind\nhave %v\nwant %v", i, order[i], want[i])
		}
	}
}

func TestBuilderBuildClearsBuilder(t *testing.T) {
	b := NewBuilder().UploadBuffer(nil, 0, []byte{1})
	list := b.Build()
	if len(list.ops) != 1 {
		t.Fatalf("CommandList.ops: unexpected len %d", len(list.ops))
	}
	if b.ops != nil {
		t.Fatal("Builder.ops: not cleared by Build")
	}
}

func TestQueueSubmitUploadBuffer(t *testing.T) {
	buf, err := ctxt.GPU().NewBuffer(256, true, gpu.UCopyDst)
	if err != nil {
		t.Fatalf("NewBuffer: unexpected error: %v", err)
	}
	defer buf.Destroy()

	q, err := New(1)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer q.Close()

	var invoked bool
	data := []byte{1, 2, 3, 4}
	list := NewBuilder().
		UploadBuffer(buf, 0, data).
		Invoke(func() { invoked = true }).
		Build()

	g := q.Submit(list)
	g.Wait()
	if g.Failed() {
		t.Fatal("Queue.Submit: list failed unexpectedly")
	}
	if !invoked {
		t.Fatal("Queue.Submit: invoke callback never ran")
	}
	if got := buf.Bytes()[:len(data)]; string(got) != string(data) {
		t.Fatalf("Queue.Submit: unexpected buffer contents\nhave %v\nwant %v", got, data)
	}
}

func TestQueueSubmitOrdersAcrossLists(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer q.Close()

	var order []int
	var groups []*wait.Group
	for i := 0; i < 4; i++ {
		i := i
		list := NewBuilder().Invoke(func() { order = append(order, i) }).Build()
		groups = append(groups, q.Submit(list))
	}
	for _, g := range groups {
		g.Wait()
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("Queue.Submit: invoke callbacks ran out of order: %v", order)
		}
	}
}
