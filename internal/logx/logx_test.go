package logx

import "testing"

func TestNew(t *testing.T) {
	for _, tc := range []struct{ level, encoding string }{
		{"info", "json"},
		{"debug", "console"},
		{"warn", ""},
	} {
		l, err := New(tc.level, tc.encoding, "vending-api")
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tc.level, tc.encoding, err)
		}
		_ = l.Sync()
	}

	if _, err := New("loud", "json", ""); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New("info", "xml", ""); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
