package server

import (
	"io"

	"golang.org/x/text/transform"
)

// toNetwork converts bare LF line endings to CRLF for ASCII downloads.
// Existing CRLF pairs are left alone.
type toNetwork struct {
	prevCR bool
}

func (t *toNetwork) Reset() { t.prevCR = false }

func (t *toNetwork) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\n' && !t.prevCR {
			if nDst+2 > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = '\r'
			dst[nDst+1] = '\n'
			nDst += 2
		} else {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
		}
		t.prevCR = c == '\r'
		nSrc++
	}
	return nDst, nSrc, nil
}

// fromNetwork converts CRLF line endings to LF for ASCII uploads.
// A CR not followed by LF is kept.
type fromNetwork struct {
	transform.NopResetter
}

func (fromNetwork) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\r' {
			if nSrc+1 == len(src) && !atEOF {
				// Need the next byte to decide.
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nSrc+1 < len(src) && src[nSrc+1] == '\n' {
				nSrc++
				continue
			}
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// asciiOut wraps a file being downloaded in TYPE A.
func asciiOut(r io.Reader) io.Reader {
	return transform.NewReader(r, &toNetwork{})
}

// asciiIn wraps a data connection being uploaded in TYPE A.
func asciiIn(r io.Reader) io.Reader {
	return transform.NewReader(r, fromNetwork{})
}
