// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package edf reads and writes ESRF data format images: a plain-text
// header of "key = value ;" lines inside braces, padded to a 512-byte
// boundary, followed by a binary pixel block.
package edf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const headerBlock = 512

// Header holds the raw text header fields of an image.
type Header map[string]string

// Float parses a header field as a number.
func (h Header) Float(key string) (float64, error) {
	raw, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("edf: header field %q missing", key)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("edf: header field %q: %w", key, err)
	}
	return v, nil
}

// Int parses a header field as an integer.
func (h Header) Int(key string) (int, error) {
	v, err := h.Float(key)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Str returns a header field, trimmed.
func (h Header) Str(key string) string {
	return strings.TrimSpace(h[key])
}

// Image is one decoded EDF exposure.  Data is row-major, Data[i][j]
// with i the slow (Dim_2) and j the fast (Dim_1) index, converted to
// float64 whatever the stored type.
type Image struct {
	Header Header
	Data   [][]float64
}

// Read decodes the image stored at path.
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("edf: %s: %w", path, err)
	}
	return img, nil
}

// Decode reads one image from r.
func Decode(r io.Reader) (*Image, error) {
	hdr, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}

	w, err := hdr.Int("Dim_1")
	if err != nil {
		return nil, err
	}
	h, err := hdr.Int("Dim_2")
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("edf: bad dimensions %dx%d", w, h)
	}

	dtype := hdr.Str("DataType")
	size, ok := dtypeSize(dtype)
	if !ok {
		return nil, fmt.Errorf("edf: unsupported DataType %q", dtype)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if hdr.Str("ByteOrder") == "HighByteFirst" {
		order = binary.BigEndian
	}

	raw := make([]byte, w*h*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("edf: pixel block: %w", err)
	}

	data := make([][]float64, h)
	for i := 0; i < h; i++ {
		data[i] = make([]float64, w)
		for j := 0; j < w; j++ {
			off := (i*w + j) * size
			data[i][j] = decodePixel(dtype, order, raw[off:off+size])
		}
	}
	return &Image{Header: hdr, Data: data}, nil
}

func decodeHeader(r io.Reader) (Header, error) {
	// the header is one or more 512-byte blocks ending at the first '}'
	var buf bytes.Buffer
	block := make([]byte, headerBlock)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("edf: header: %w", err)
		}
		buf.Write(block)
		if bytes.ContainsRune(block, '}') {
			break
		}
		if buf.Len() > 64*headerBlock {
			return nil, fmt.Errorf("edf: unterminated header")
		}
	}
	text := buf.String()
	open := strings.IndexByte(text, '{')
	close_ := strings.IndexByte(text, '}')
	if open < 0 || close_ < open {
		return nil, fmt.Errorf("edf: malformed header braces")
	}

	hdr := Header{}
	for _, line := range strings.Split(text[open+1:close_], ";") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		hdr[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return hdr, nil
}

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case "FloatValue":
		return 4, true
	case "DoubleValue":
		return 8, true
	case "UnsignedShort":
		return 2, true
	case "SignedInteger", "UnsignedInteger", "SignedLong", "UnsignedLong":
		return 4, true
	default:
		return 0, false
	}
}

func decodePixel(dtype string, order binary.ByteOrder, b []byte) float64 {
	switch dtype {
	case "FloatValue":
		return float64(math.Float32frombits(order.Uint32(b)))
	case "DoubleValue":
		return math.Float64frombits(order.Uint64(b))
	case "UnsignedShort":
		return float64(order.Uint16(b))
	case "SignedInteger", "SignedLong":
		return float64(int32(order.Uint32(b)))
	default: // UnsignedInteger, UnsignedLong
		return float64(order.Uint32(b))
	}
}

// Write stores the image at path as DoubleValue, little endian.
func Write(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("edf: %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes one image to w.
func Encode(w io.Writer, img *Image) error {
	h := len(img.Data)
	if h == 0 {
		return fmt.Errorf("edf: empty image")
	}
	cols := len(img.Data[0])

	fields := Header{}
	for k, v := range img.Header {
		fields[k] = v
	}
	fields["HeaderID"] = "EH:000001:000000:000000"
	fields["ByteOrder"] = "LowByteFirst"
	fields["DataType"] = "DoubleValue"
	fields["Dim_1"] = strconv.Itoa(cols)
	fields["Dim_2"] = strconv.Itoa(h)
	fields["Size"] = strconv.Itoa(cols * h * 8)
	fields["Image"] = "1"

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// deterministic header, HeaderID first
	sortHeaderKeys(keys)

	var hdr bytes.Buffer
	hdr.WriteString("{\n")
	for _, k := range keys {
		fmt.Fprintf(&hdr, "%s = %s ;\n", k, fields[k])
	}
	pad := headerBlock - (hdr.Len()+2)%headerBlock
	if pad == headerBlock {
		pad = 0
	}
	hdr.WriteString(strings.Repeat(" ", pad))
	hdr.WriteString("}\n")
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	raw := make([]byte, cols*h*8)
	for i, row := range img.Data {
		if len(row) != cols {
			return fmt.Errorf("edf: ragged row %d", i)
		}
		for j, v := range row {
			binary.LittleEndian.PutUint64(raw[(i*cols+j)*8:], math.Float64bits(v))
		}
	}
	_, err := w.Write(raw)
	return err
}

func sortHeaderKeys(keys []string) {
	// HeaderID leads, the rest alphabetical
	for i, k := range keys {
		if k == "HeaderID" {
			keys[0], keys[i] = keys[i], keys[0]
			break
		}
	}
	rest := keys
	if len(keys) > 0 && keys[0] == "HeaderID" {
		rest = keys[1:]
	}
	for i := 1; i < len(rest); i++ {
		for j := i; j > 0 && rest[j] < rest[j-1]; j-- {
			rest[j], rest[j-1] = rest[j-1], rest[j]
		}
	}
}
