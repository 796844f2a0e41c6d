package contracts

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtract_ChainScoped(t *testing.T) {
	markup := `<html><body>
		<a href="/ethereum/0xAAA">A</a>
		<a href="/ethereum/0xBBB">B</a>
		<a href="/bsc/0xCCC">C</a>
	</body></html>`

	got := Extract(markup, "ethereum").Sorted()
	want := []string{"0xAAA", "0xBBB"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_Hrefs(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string // "" means nothing extracted
	}{
		{"relative", "/ethereum/0xabc", "0xabc"},
		{"absolute", "https://dexscreener.com/ethereum/0xdef", "0xdef"},
		{"query stripped", "/ethereum/0x111?embed=1", "0x111"},
		{"fragment stripped", "/ethereum/0x222#chart", "0x222"},
		{"trailing slash", "/ethereum/0x333/", "0x333"},
		{"other chain", "/solana/abc", ""},
		{"chain only", "/ethereum/", ""},
		{"chain in query only", "/search?q=/ethereum/0x9", ""},
		{"substring chain", "/ethereumpow/0x9", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markup := fmt.Sprintf(`<a href=%q>x</a>`, tt.href)
			set := Extract(markup, "ethereum")
			if tt.want == "" {
				if set.Len() != 0 {
					t.Errorf("Extract(%q) = %v, want empty", tt.href, set.Sorted())
				}
				return
			}
			if set.Len() != 1 || !set.Contains(tt.want) {
				t.Errorf("Extract(%q) = %v, want [%s]", tt.href, set.Sorted(), tt.want)
			}
		})
	}
}

func TestExtract_IgnoresAnchorsWithoutHref(t *testing.T) {
	markup := `<a name="top">top</a><a>bare</a><a href="/ethereum/0x1">ok</a><div href="/ethereum/0x2"></div>`
	got := Extract(markup, "ethereum").Sorted()
	if fmt.Sprint(got) != "[0x1]" {
		t.Errorf("Extract() = %v, want [0x1]", got)
	}
}

func TestExtract_Deduplicates(t *testing.T) {
	markup := strings.Repeat(`<a href="/ethereum/0xdup">x</a>`, 5)
	if n := Extract(markup, "ethereum").Len(); n != 1 {
		t.Errorf("Extract() len = %d, want 1", n)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	markup := `<a href="/bsc/0x1"></a><a href="/bsc/0x2"></a><a href="/ethereum/0x3"></a>`
	first := Extract(markup, "bsc").Sorted()
	second := Extract(markup, "bsc").Sorted()
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("Extract() not idempotent: %v vs %v", first, second)
	}
}

func TestExtract_OrderIndependent(t *testing.T) {
	a := `<a href="/polygon/0x1"></a><a href="/polygon/0x2"></a><a href="/polygon/0x3"></a>`
	b := `<a href="/polygon/0x3"></a><a href="/polygon/0x1"></a><a href="/polygon/0x2"></a>`
	if fmt.Sprint(Extract(a, "polygon").Sorted()) != fmt.Sprint(Extract(b, "polygon").Sorted()) {
		t.Error("Extract() result depends on anchor order")
	}
}

func TestExtract_EmptyInputs(t *testing.T) {
	if n := Extract("", "ethereum").Len(); n != 0 {
		t.Errorf("Extract(empty markup) len = %d, want 0", n)
	}
	if n := Extract(`<a href="/ethereum/0x1"></a>`, "").Len(); n != 0 {
		t.Errorf("Extract(empty chain) len = %d, want 0", n)
	}
}

func TestFilterEVM(t *testing.T) {
	set := make(Set)
	set.Add("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	set.Add("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	set.Add("0xabc")
	set.Add("not-an-address")

	got := FilterEVM(set).Sorted()
	want := []string{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("FilterEVM() = %v, want %v", got, want)
	}
}
