package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Server 1", "Server 1"},
		{"Server 1 1.5GB/10GB", "Server 1"},
		{"Server 1 500MB/2GB extra", "Server 1 extra"},
		{"Server%201", "Server 1"},
		{"Server 1 👤 agent42", "Server 1"},
		{"Server 1 (aB3xK9)", "Server 1"},
		{"  Server   1  ", "Server 1"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanonicalizeName(tc.in), "input %q", tc.in)
	}
}

func TestCanonicalizeNameIdempotent(t *testing.T) {
	inputs := []string{
		"Server 1 1.5GB/10GB 👤 agent (aB3xK9)",
		"Server%201%20%F0%9F%91%A4%20x",
		"Plain Name",
		// Двойное экранирование: раскрывается целиком уже на первом проходе
		"a%2520b",
		"Server%25201",
	}
	for _, in := range inputs {
		once := CanonicalizeName(in)
		assert.Equal(t, once, CanonicalizeName(once), "input %q", in)
	}
}

func TestCanonicalizeNameDoubleEscaped(t *testing.T) {
	assert.Equal(t, "a b", CanonicalizeName("a%2520b"))
	assert.Equal(t, "a b", CanonicalizeName("a%20b"))
}

func TestCanonicalizeNameCapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "я"
	}
	got := CanonicalizeName(long)
	assert.Equal(t, 255, len([]rune(got)))
}

func TestExtractName(t *testing.T) {
	assert.Equal(t, "Server 1", ExtractName("vless://a@h:443?x=1#Server 1"))
	assert.Equal(t, "", ExtractName("vless://a@h:443"))
}

func TestFilterDedupe(t *testing.T) {
	links := []string{
		"vless://a#one",
		`"vmess://b#two"`,
		"vless://a#one",
		"http://junk.example",
		"",
		"  trojan://c#three  ",
	}

	// Дубликаты и нераспознаваемые схемы отбрасываются, порядок первого
	// вхождения сохраняется
	assert.Equal(t,
		[]string{"vless://a#one", "vmess://b#two", "trojan://c#three"},
		FilterDedupe(links))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0.00 B", FormatBytes(0))
	assert.Equal(t, "512.00 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "1.00 GB", FormatBytes(1<<30))
	assert.Equal(t, "2.00 TB", FormatBytes(2<<40))
}
