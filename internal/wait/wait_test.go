// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wait

import "testing"

func TestNewZero(t *testing.T) {
	g := New(0)
	if !g.Signaled() {
		t.Fatal("New(0) must be pre-signaled")
	}
	if g.Failed() {
		t.Fatal("New(0) must not report failure")
	}
}

func TestDoneSignals(t *testing.T) {
	g := New(2)
	if g.Signaled() {
		t.Fatal("Group signaled before Done was called")
	}
	g.Done()
	if g.Signaled() {
		t.Fatal("Group signaled too early")
	}
	g.Done()
	if !g.Signaled() {
		t.Fatal("Group not signaled after expected Done calls")
	}
	g.Wait()
}

func TestFail(t *testing.T) {
	g := New(5)
	g.Fail()
	if !g.Signaled() {
		t.Fatal("Fail did not signal the group")
	}
	if !g.Failed() {
		t.Fatal("Failed did not report true after Fail")
	}
	g.Wait()
}
