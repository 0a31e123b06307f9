package gmail

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBodyGolden(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{name: "padded text", input: "Q2xhaW0gIzQ0NzE6IGxvc3Mgbm90aWNlCg==", want: []byte("Claim #4471: loss notice\n")},
		{name: "unpadded text", input: "Q2xhaW0gIzQ0NzE6IGxvc3Mgbm90aWNlCg", want: []byte("Claim #4471: loss notice\n")},
		{name: "url alphabet", input: "-__-AAE=", want: []byte{0xfb, 0xff, 0xfe, 0x00, 0x01}},
		{name: "standard alphabet", input: "+//+AAE=", want: []byte{0xfb, 0xff, 0xfe, 0x00, 0x01}},
		{name: "wrapped lines", input: "YW\r\nI=", want: []byte("ab")},
		{name: "empty", input: "", want: []byte{}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeBody(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeBodyRejectsGarbage(t *testing.T) {
	_, err := DecodeBody("not*base64!")
	require.Error(t, err)
}

func TestProperty_DecodeInvertsEncode(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(b)) == b", prop.ForAll(
		func(data []byte) bool {
			got, err := DecodeBody(EncodeBody(data))
			return err == nil && bytes.Equal(got, data)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
