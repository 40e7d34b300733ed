package parser

import (
	"bytes"
	"encoding/base64"
	"io"
)

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func decodeBase64(data []byte) ([]byte, error) {
	cleaned := bytes.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, data)
	return base64.StdEncoding.DecodeString(string(cleaned))
}
