package pickup

import (
	"strings"
	"testing"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

func TestNewIssuerLength(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		iss, err := NewIssuer(0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if iss.Length() != DefaultLength {
			t.Fatalf("expected length %d, got %d", DefaultLength, iss.Length())
		}
	})

	for _, n := range []int{5, 11, -1} {
		if _, err := NewIssuer(n); err == nil {
			t.Fatalf("expected error for length %d", n)
		}
	}
}

func TestIssueProducesWellFormedCodes(t *testing.T) {
	for _, n := range []int{MinLength, DefaultLength, MaxLength} {
		iss, err := NewIssuer(n)
		if err != nil {
			t.Fatalf("new issuer: %v", err)
		}
		seen := map[string]bool{}
		for i := 0; i < 200; i++ {
			code, err := iss.Issue()
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if len(code) != n {
				t.Fatalf("expected %d chars, got %q", n, code)
			}
			if !WellFormed(code) {
				t.Fatalf("code %q not drawn from alphabet", code)
			}
			if strings.ContainsAny(code, "01OI") {
				t.Fatalf("code %q contains ambiguous characters", code)
			}
			seen[code] = true
		}
		if len(seen) < 190 {
			t.Fatalf("expected mostly distinct codes, got %d of 200", len(seen))
		}
	}
}

func TestVerify(t *testing.T) {
	iss, _ := NewIssuer(8)
	code := "ABCD2345"
	sale := domain.Sale{PickupCode: &code}

	if !iss.Verify(sale, "ABCD2345") {
		t.Fatal("expected exact code to verify")
	}
	if iss.Verify(sale, "abcd2345") {
		t.Fatal("expected lowercase code to be rejected")
	}
	if iss.Verify(sale, "ABCD234") {
		t.Fatal("expected truncated code to be rejected")
	}
	if iss.Verify(domain.Sale{}, "") {
		t.Fatal("expected sale without code to never verify")
	}
}
