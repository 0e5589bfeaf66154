package primesig

import "testing"

func TestIPow32Identities(t *testing.T) {
	if got := IPow32(0, 0); got != 1 {
		t.Fatalf("IPow32(0, 0) = %d, want 1", got)
	}
	for _, exp := range []uint32{0, 1, 2, 10, 1000} {
		if got := IPow32(1, exp); got != 1 {
			t.Fatalf("IPow32(1, %d) = %d, want 1", exp, got)
		}
	}
}

func TestIPow32KnownValues(t *testing.T) {
	cases := []struct {
		base, exp uint32
		want      uint32
	}{
		{953, 3, 865523177},
		{953, 48, 1629949057},      // wraps around 2^32
		{1296829, 3600, 454359873}, // wraps around 2^32
	}
	for _, c := range cases {
		if got := IPow32(c.base, c.exp); got != c.want {
			t.Fatalf("IPow32(%d, %d) = %d, want %d", c.base, c.exp, got, c.want)
		}
	}
}

func TestGetPrimeDistinctX86Mnemonics(t *testing.T) {
	mnemonics := []string{"add", "sub", "xor", "aeskeygenassist", "mov", "vfnmsubss"}
	seen := map[uint32]string{}
	for _, m := range mnemonics {
		p := GetPrime(m)
		if other, ok := seen[p]; ok {
			t.Fatalf("GetPrime(%q) collides with GetPrime(%q) = %d", m, other, p)
		}
		seen[p] = m
	}
	if len(seen) != len(mnemonics) {
		t.Fatalf("expected %d distinct primes, got %d", len(mnemonics), len(seen))
	}
}

func TestGetPrimeCheckCollision(t *testing.T) {
	if GetPrime("ITTEE NETEE NE") == GetPrime("ITETT LSETT LS") {
		t.Fatalf("expected distinct primes for distinct mnemonic-like strings")
	}
}

func TestGetPrimeDeterministic(t *testing.T) {
	if GetPrime("mov") != GetPrime("mov") {
		t.Fatalf("GetPrime is not deterministic")
	}
}

func TestGetPrimeIsOdd(t *testing.T) {
	for _, m := range []string{"", "a", "mov", "vfnmsubss"} {
		if GetPrime(m)&1 == 0 {
			t.Fatalf("GetPrime(%q) = %d is even", m, GetPrime(m))
		}
	}
}
