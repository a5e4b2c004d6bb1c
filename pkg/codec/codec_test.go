package codec

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecode(t *testing.T) {
	cases := map[string]string{
		"nginx":                 "nginx",
		"library/nginx":         "library~nginx",
		"a/b/c":                 "a~b~c",
		"dotnet/runtime":        "dotnet~runtime",
		"":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, EncodeImageName(in))
		assert.Equal(t, in, DecodeImageName(want))
	}
}

// TestCodecLaw checks the testable-properties invariant from spec.md §8:
// decodeImageName(encodeImageName(n)) == n for every upstream repository name.
func TestCodecLaw(t *testing.T) {
	law := func(name string) bool {
		return DecodeImageName(EncodeImageName(name)) == name
	}
	if err := quick.Check(law, nil); err != nil {
		t.Error(err)
	}
}
