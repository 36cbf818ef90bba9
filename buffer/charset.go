package buffer

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// LookupCharset resolves a charset name (e.g. "fish:charset"'s value,
// such as "KOI8-R" or "Shift_JIS") to a decoder/encoder pair for
// SetTranslation, using golang.org/x/text's IANA index.
func LookupCharset(name string) (*encoding.Decoder, *encoding.Encoder, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, nil, err
	}
	return enc.NewDecoder(), enc.NewEncoder(), nil
}
