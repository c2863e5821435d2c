package internal

import (
	"strings"
	"sync"
	"testing"
)

func TestSessionIDString(t *testing.T) {
	a, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID error: %v", err)
	}
	b, _ := NewSessionID()
	if a == b {
		t.Fatal("expected distinct session ids")
	}

	s := a.String()
	if len(s) != 43 {
		t.Fatalf("expected 43 base64url chars, got %d", len(s))
	}
	if strings.ContainsAny(s, "+/=") {
		t.Fatalf("expected unpadded base64url, got %q", s)
	}
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("user-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 200 {
		t.Fatalf("lost updates: %d", counter)
	}
	if km.Len() != 0 {
		t.Fatalf("expected no retained keys, got %d", km.Len())
	}

	// different keys do not block each other
	unlockA := km.Lock("a")
	unlockB := km.Lock("b")
	unlockB()
	unlockA()
}
