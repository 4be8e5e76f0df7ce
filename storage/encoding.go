package storage

import (
	"strings"

	"github.com/draftcode/ijaas/errdefs"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EncodingFromName returns the encoding source files are stored in. An empty
// name means UTF-8.
func EncodingFromName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name)) {
	case "", "utf8":
		return nil, nil
	case "shiftjis", "sjis", "windows31j", "cp932":
		return japanese.ShiftJIS, nil
	case "eucjp":
		return japanese.EUCJP, nil
	case "iso2022jp":
		return japanese.ISO2022JP, nil
	case "iso88591", "latin1":
		return charmap.ISO8859_1, nil
	case "windows1252", "cp1252":
		return charmap.Windows1252, nil
	case "utf16":
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), nil
	default:
		return nil, errdefs.Validationf("unsupported encoding: %s", name)
	}
}

// decode converts content to UTF-8. A byte order mark wins over enc, and is
// dropped either way. A nil enc leaves content without a mark untouched.
func decode(content []byte, enc encoding.Encoding) ([]byte, error) {
	if enc == nil {
		enc = encoding.Nop
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(enc.NewDecoder()), content)
	if err != nil {
		return nil, err
	}
	return out, nil
}
