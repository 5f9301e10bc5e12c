package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashDeterministic(t *testing.T) {
	content := "Monad mainnet launches with 10k TPS"
	assert.Equal(t, ContentHash(content), ContentHash(content))
}

func TestContentHashIgnoresWhitespaceAndCase(t *testing.T) {
	a := ContentHash("Monad  mainnet   launches")
	b := ContentHash("monad mainnet launches")
	assert.Equal(t, a, b)
}

func TestContentHashDistinct(t *testing.T) {
	a := ContentHash("Monad mainnet launches with 10k TPS")
	b := ContentHash("Monad testnet launches with 10k TPS")
	assert.NotEqual(t, a, b)
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips utm parameters",
			in:   "https://example.com/article?utm_source=x&utm_campaign=launch&id=5",
			want: "https://example.com/article?id=5",
		},
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Article",
			want: "https://example.com/Article",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/a#section-2",
			want: "https://example.com/a",
		},
		{
			name: "drops default https port",
			in:   "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "drops default http port",
			in:   "http://example.com:80/a",
			want: "http://example.com/a",
		},
		{
			name: "sorts query parameters",
			in:   "https://example.com/a?b=2&a=1",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "trims trailing slash",
			in:   "https://example.com/a/",
			want: "https://example.com/a",
		},
		{
			name: "unparseable input unchanged",
			in:   "not a url",
			want: "not a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalizeURL(tt.in))
		})
	}
}

func TestContentHashEqualAfterURLVariation(t *testing.T) {
	a := ContentHash("read more at https://news.example.com/story?utm_source=tw&id=9")
	b := ContentHash("read more at https://NEWS.example.com/story?id=9#top")
	assert.Equal(t, a, b)
}
