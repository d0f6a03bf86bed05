package gitio

import (
	"reflect"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
)

func TestRefWalkerContains(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "1\n")
	c1 := f.commit("one")
	f.write("a.txt", "2\n")
	c2 := f.commit("two")
	f.checkout("topic", true)
	f.write("t.txt", "t\n")
	tc := f.commit("topic work")
	f.checkout("main", false)
	f.write("a.txt", "3\n")
	c3 := f.commit("three")

	g := f.open(DefaultOptions())
	w, err := g.walkerFor(plumbing.Main, c3)
	if err != nil {
		t.Fatalf("failed to build walker: %v", err)
	}

	for _, h := range []plumbing.Hash{c1, c2, c3} {
		ok, err := w.Contains(h)
		if err != nil {
			t.Fatalf("contains failed: %v", err)
		}
		if !ok {
			t.Errorf("expected %s to be reachable from main", h)
		}
	}
	ok, err := w.Contains(tc)
	if err != nil {
		t.Fatalf("contains failed: %v", err)
	}
	if ok {
		t.Errorf("topic commit %s must not be reachable from main", tc)
	}
}

func TestRefWalkerReverseFrom(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "1\n")
	c1 := f.commit("one")
	f.write("a.txt", "2\n")
	c2 := f.commit("two")
	f.write("a.txt", "3\n")
	c3 := f.commit("three")

	g := f.open(DefaultOptions())
	w, err := g.walkerFor(plumbing.Main, c3)
	if err != nil {
		t.Fatalf("failed to build walker: %v", err)
	}

	commits, err := w.ReverseFrom(c1)
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	var got []plumbing.Hash
	for _, c := range commits {
		got = append(got, c.Hash)
	}
	// Starts at the queried commit and ends at the tip.
	want := []plumbing.Hash{c1, c2, c3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Unreachable hashes yield nothing.
	commits, err = w.ReverseFrom(plumbing.NewHash("feedfacefeedfacefeedfacefeedfacefeedface"))
	if err != nil || commits != nil {
		t.Errorf("expected empty result, got %v (%v)", commits, err)
	}
}

func TestWalkerCacheReuseAndInvalidation(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "1\n")
	f.commit("one")
	f.write("a.txt", "2\n")
	c2 := f.commit("two")

	g := f.open(DefaultOptions())
	w1, err := g.walkerFor(plumbing.Main, c2)
	if err != nil {
		t.Fatalf("failed to build walker: %v", err)
	}
	w2, err := g.walkerFor(plumbing.Main, c2)
	if err != nil {
		t.Fatalf("failed to reuse walker: %v", err)
	}
	if w1 != w2 {
		t.Error("expected the cached walker to be reused for an unchanged tip")
	}

	f.write("a.txt", "3\n")
	c3 := f.commit("three")
	w3, err := g.walkerFor(plumbing.Main, c3)
	if err != nil {
		t.Fatalf("failed to rebuild walker: %v", err)
	}
	if w3 == w1 {
		t.Error("expected a moved tip to invalidate the cached walker")
	}
	ok, err := w3.Contains(c3)
	if err != nil || !ok {
		t.Errorf("expected the new tip to be reachable: %v", err)
	}
}

func TestBranchesContaining(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "1\n")
	c1 := f.commit("one")
	f.checkout("zeta", true)
	f.write("z.txt", "z\n")
	f.commit("zeta work")
	f.checkout("main", false)
	f.checkout("alpha", true)
	f.write("al.txt", "a\n")
	ac := f.commit("alpha work")

	g := f.open(DefaultOptions())
	base, err := g.Resolve(c1.String())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	pairs, err := g.BranchesContaining(base)
	if err != nil {
		t.Fatalf("failed to list containing branches: %v", err)
	}
	var names []string
	for _, p := range pairs {
		names = append(names, p[0])
	}
	// Every branch contains the base commit; sorted by name.
	want := []string{"alpha", "main", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}

	tip, err := g.Resolve(ac.String())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	pairs, err = g.BranchesContaining(tip)
	if err != nil {
		t.Fatalf("failed to list containing branches: %v", err)
	}
	if len(pairs) != 1 || pairs[0][0] != "alpha" {
		t.Errorf("expected only alpha, got %v", pairs)
	}
}

func TestChildRevs(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "1\n")
	c1 := f.commit("one")
	f.write("a.txt", "2\n")
	c2 := f.commit("two")
	// Give c1 a second child on another branch.
	f.branchAt("side", c1)
	f.write("s.txt", "s\n")
	s1 := f.commit("side work")

	g := f.open(DefaultOptions())
	base, err := g.Resolve(c1.String())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	children, err := g.ChildRevs(base)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	got := map[string]bool{}
	for _, c := range children {
		got[c] = true
	}
	if len(got) != 2 || !got[c2.String()] || !got[s1.String()] {
		t.Errorf("expected children {%s, %s}, got %v", c2, s1, children)
	}
}
