package bridge

import "testing"

func TestSubjectIsStableAndPrefixed(t *testing.T) {
	a := subject("~")
	b := subject("~")
	if a != b {
		t.Fatalf("subject must be deterministic: %q != %q", a, b)
	}
	if len(a) <= len(subjectPrefix) {
		t.Fatalf("subject %q missing encoded channel suffix", a)
	}
}

func TestSubjectDistinguishesChannels(t *testing.T) {
	if subject("alice\x00\x1f\x00bob") == subject("~") {
		t.Fatalf("distinct channels must map to distinct subjects")
	}
}
