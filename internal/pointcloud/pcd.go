package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	// MaxPCDPoints bounds the point count accepted from a header.
	MaxPCDPoints = 50_000_000
	// MaxPCDFieldCount bounds the COUNT of a single field.
	MaxPCDFieldCount = 1024
	// MaxPCDBodyBytes bounds the decoded size of a binary body.
	MaxPCDBodyBytes = 1 << 30
)

// ErrUnsupportedPCD is returned for PCD variants the reader does not handle.
var ErrUnsupportedPCD = errors.New("pcd: unsupported format")

type pcdField struct {
	name   string
	size   int
	typ    byte // 'F', 'U' or 'I'
	count  int
	offset int // byte offset within a binary record
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   string
}

func (h *pcdHeader) field(names ...string) *pcdField {
	for _, n := range names {
		for i := range h.fields {
			if h.fields[i].name == n {
				return &h.fields[i]
			}
		}
	}
	return nil
}

func (h *pcdHeader) recordSize() int {
	n := 0
	for _, f := range h.fields {
		n += f.size * f.count
	}
	return n
}

// ReadPCD decodes a Point Cloud Data file (v0.7 header) with DATA ascii,
// binary or binary_compressed. Fields x, y and z are required; a packed
// rgb or rgba field becomes per-point colours in [0,1]. Other fields are
// skipped.
func ReadPCD(r io.Reader) (*Cloud, error) {
	br := bufio.NewReader(r)
	h, err := readPCDHeader(br)
	if err != nil {
		return nil, err
	}

	switch h.data {
	case "ascii":
		return readPCDASCII(br, h)
	case "binary":
		buf := make([]byte, h.points*h.recordSize())
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("pcd: binary body: %w", err)
		}
		return decodeRecords(buf, h, false)
	case "binary_compressed":
		return readPCDCompressed(br, h)
	default:
		return nil, fmt.Errorf("%w: DATA %s", ErrUnsupportedPCD, h.data)
	}
}

func readPCDHeader(br *bufio.Reader) (*pcdHeader, error) {
	h := &pcdHeader{height: 1, points: -1}
	var sizes, counts []int
	var types []string

	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("pcd: header ended before DATA: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, vals := strings.ToUpper(parts[0]), parts[1:]

		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			for _, v := range vals {
				h.fields = append(h.fields, pcdField{name: strings.ToLower(v), count: 1})
			}
		case "SIZE":
			if sizes, err = atoiAll(vals); err != nil {
				return nil, fmt.Errorf("pcd: SIZE: %w", err)
			}
		case "TYPE":
			types = vals
		case "COUNT":
			if counts, err = atoiAll(vals); err != nil {
				return nil, fmt.Errorf("pcd: COUNT: %w", err)
			}
		case "WIDTH":
			if h.width, err = atoi1(vals); err != nil {
				return nil, fmt.Errorf("pcd: WIDTH: %w", err)
			}
		case "HEIGHT":
			if h.height, err = atoi1(vals); err != nil {
				return nil, fmt.Errorf("pcd: HEIGHT: %w", err)
			}
		case "POINTS":
			if h.points, err = atoi1(vals); err != nil {
				return nil, fmt.Errorf("pcd: POINTS: %w", err)
			}
		case "DATA":
			if len(vals) != 1 {
				return nil, fmt.Errorf("pcd: DATA needs one value")
			}
			h.data = strings.ToLower(vals[0])
			return h, h.finish(sizes, types, counts)
		default:
			return nil, fmt.Errorf("pcd: unexpected header line %q", line)
		}
	}
}

func (h *pcdHeader) finish(sizes []int, types []string, counts []int) error {
	if len(h.fields) == 0 {
		return fmt.Errorf("pcd: missing FIELDS")
	}
	if len(sizes) != len(h.fields) || len(types) != len(h.fields) {
		return fmt.Errorf("pcd: SIZE/TYPE do not match %d fields", len(h.fields))
	}
	if counts != nil && len(counts) != len(h.fields) {
		return fmt.Errorf("pcd: COUNT does not match %d fields", len(h.fields))
	}
	offset := 0
	for i := range h.fields {
		f := &h.fields[i]
		f.size = sizes[i]
		if len(types[i]) != 1 || !strings.Contains("FUI", strings.ToUpper(types[i])) {
			return fmt.Errorf("pcd: field %s has type %q", f.name, types[i])
		}
		f.typ = strings.ToUpper(types[i])[0]
		if counts != nil {
			f.count = counts[i]
		}
		if f.size != 1 && f.size != 2 && f.size != 4 && f.size != 8 {
			return fmt.Errorf("pcd: field %s has size %d", f.name, f.size)
		}
		if f.typ == 'F' && f.size != 4 && f.size != 8 {
			return fmt.Errorf("pcd: float field %s has size %d", f.name, f.size)
		}
		if f.count < 1 || f.count > MaxPCDFieldCount {
			return fmt.Errorf("pcd: field %s has count %d", f.name, f.count)
		}
		f.offset = offset
		offset += f.size * f.count
	}
	if h.points < 0 {
		if h.width < 0 || h.height < 0 || (h.height > 0 && h.width > MaxPCDPoints/h.height) {
			return fmt.Errorf("pcd: WIDTH %d x HEIGHT %d out of range", h.width, h.height)
		}
		h.points = h.width * h.height
	}
	if h.points < 0 || h.points > MaxPCDPoints {
		return fmt.Errorf("pcd: point count %d out of range", h.points)
	}
	// offset is at most len(fields) * 8 * MaxPCDFieldCount, so the product
	// below cannot overflow once the point count is bounded.
	if offset > 0 && h.points > MaxPCDBodyBytes/offset {
		return fmt.Errorf("pcd: %d points of %d bytes exceed %d byte limit", h.points, offset, MaxPCDBodyBytes)
	}
	for _, n := range []string{"x", "y", "z"} {
		if h.field(n) == nil {
			return fmt.Errorf("pcd: missing field %s", n)
		}
	}
	return nil
}

func readPCDASCII(br *bufio.Reader, h *pcdHeader) (*Cloud, error) {
	// Column index of each field's first value.
	col := make(map[string]int, len(h.fields))
	c := 0
	for _, f := range h.fields {
		col[f.name] = c
		c += f.count
	}
	rgb := h.field("rgb", "rgba")

	// The header is not trusted for the allocation; append grows as rows arrive.
	capHint := min(h.points, 1<<16) * 3
	out := &Cloud{Positions: make([]float32, 0, capHint)}
	if rgb != nil {
		out.Colors = make([]float32, 0, capHint)
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() && out.Len() < h.points {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		vals := strings.Fields(line)
		if len(vals) < c {
			return nil, fmt.Errorf("pcd: point %d has %d values, want %d", out.Len(), len(vals), c)
		}
		for _, n := range []string{"x", "y", "z"} {
			v, err := strconv.ParseFloat(vals[col[n]], 32)
			if err != nil {
				return nil, fmt.Errorf("pcd: point %d %s: %w", out.Len(), n, err)
			}
			out.Positions = append(out.Positions, float32(v))
		}
		if rgb != nil {
			packed, err := asciiPackedColor(vals[col[rgb.name]], rgb.typ)
			if err != nil {
				return nil, fmt.Errorf("pcd: point %d %s: %w", out.Len()-1, rgb.name, err)
			}
			out.Colors = appendPacked(out.Colors, packed)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pcd: ascii body: %w", err)
	}
	if out.Len() != h.points {
		return nil, fmt.Errorf("pcd: got %d points, header declares %d", out.Len(), h.points)
	}
	return out, nil
}

// asciiPackedColor returns the 0x00RRGGBB word of an ascii colour value.
// Float-typed fields carry the word in the bits of a float32.
func asciiPackedColor(s string, typ byte) (uint32, error) {
	if typ == 'F' {
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, err
		}
		return math.Float32bits(float32(f)), nil
	}
	u, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

func appendPacked(dst []float32, packed uint32) []float32 {
	return append(dst,
		float32((packed>>16)&0xff)/255,
		float32((packed>>8)&0xff)/255,
		float32(packed&0xff)/255,
	)
}

// decodeRecords reads h.points records from buf. With columnar set the
// buffer holds each field's values for all points contiguously, as
// binary_compressed bodies do; otherwise records are interleaved.
func decodeRecords(buf []byte, h *pcdHeader, columnar bool) (*Cloud, error) {
	rec := h.recordSize()
	if len(buf) < h.points*rec {
		return nil, fmt.Errorf("pcd: body has %d bytes, want %d", len(buf), h.points*rec)
	}

	at := func(f *pcdField, i int) int {
		if columnar {
			return f.offset*h.points + i*f.size*f.count
		}
		return i*rec + f.offset
	}

	field := func(f *pcdField, i int) ([]byte, error) {
		start := at(f, i)
		if start < 0 || start+f.size > len(buf) {
			return nil, fmt.Errorf("pcd: point %d field %s overruns body", i, f.name)
		}
		return buf[start : start+f.size], nil
	}

	x, y, z := h.field("x"), h.field("y"), h.field("z")
	rgb := h.field("rgb", "rgba")

	out := &Cloud{Positions: make([]float32, h.points*3)}
	if rgb != nil {
		out.Colors = make([]float32, 0, h.points*3)
	}
	for i := 0; i < h.points; i++ {
		for k, f := range []*pcdField{x, y, z} {
			b, err := field(f, i)
			if err != nil {
				return nil, err
			}
			out.Positions[i*3+k] = float32(readScalar(b, f))
		}
		if rgb != nil && rgb.size == 4 {
			b, err := field(rgb, i)
			if err != nil {
				return nil, err
			}
			out.Colors = appendPacked(out.Colors, binary.LittleEndian.Uint32(b))
		}
	}
	if rgb != nil && rgb.size != 4 {
		out.Colors = nil
	}
	return out, nil
}

func readScalar(b []byte, f *pcdField) float64 {
	le := binary.LittleEndian
	switch f.typ {
	case 'F':
		if f.size == 8 {
			return math.Float64frombits(le.Uint64(b))
		}
		return float64(math.Float32frombits(le.Uint32(b)))
	case 'U':
		switch f.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(le.Uint16(b))
		case 4:
			return float64(le.Uint32(b))
		default:
			return float64(le.Uint64(b))
		}
	default:
		switch f.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(le.Uint16(b)))
		case 4:
			return float64(int32(le.Uint32(b)))
		default:
			return float64(int64(le.Uint64(b)))
		}
	}
}

func readPCDCompressed(br *bufio.Reader, h *pcdHeader) (*Cloud, error) {
	var sizes [2]uint32
	if err := binary.Read(br, binary.LittleEndian, &sizes); err != nil {
		return nil, fmt.Errorf("pcd: compressed sizes: %w", err)
	}
	compressed, raw := int(sizes[0]), int(sizes[1])
	if want := h.points * h.recordSize(); raw != want {
		return nil, fmt.Errorf("pcd: decompressed size %d, want %d", raw, want)
	}
	if compressed > MaxPCDBodyBytes {
		return nil, fmt.Errorf("pcd: compressed size %d exceeds %d byte limit", compressed, MaxPCDBodyBytes)
	}
	src := make([]byte, compressed)
	if _, err := io.ReadFull(br, src); err != nil {
		return nil, fmt.Errorf("pcd: compressed body: %w", err)
	}
	buf, err := lzfDecompress(src, raw)
	if err != nil {
		return nil, err
	}
	return decodeRecords(buf, h, true)
}

// lzfDecompress expands an LZF block into exactly n bytes.
func lzfDecompress(src []byte, n int) ([]byte, error) {
	dst := make([]byte, 0, n)
	for i := 0; i < len(src); {
		ctrl := int(src[i])
		i++
		if ctrl < 32 {
			lit := ctrl + 1
			if i+lit > len(src) || len(dst)+lit > n {
				return nil, fmt.Errorf("pcd: lzf literal overruns buffer")
			}
			dst = append(dst, src[i:i+lit]...)
			i += lit
			continue
		}
		length := ctrl >> 5
		if length == 7 {
			if i >= len(src) {
				return nil, fmt.Errorf("pcd: lzf truncated")
			}
			length += int(src[i])
			i++
		}
		if i >= len(src) {
			return nil, fmt.Errorf("pcd: lzf truncated")
		}
		ref := len(dst) - ((ctrl & 0x1f) << 8) - int(src[i]) - 1
		i++
		length += 2
		if ref < 0 || len(dst)+length > n {
			return nil, fmt.Errorf("pcd: lzf back-reference out of range")
		}
		for k := 0; k < length; k++ {
			dst = append(dst, dst[ref+k])
		}
	}
	if len(dst) != n {
		return nil, fmt.Errorf("pcd: lzf produced %d bytes, want %d", len(dst), n)
	}
	return dst, nil
}

// WritePCD encodes c as an ascii PCD file (x y z, plus rgb when coloured).
func WritePCD(w io.Writer, c *Cloud) error {
	var b bytes.Buffer
	fields, size, typ, count := "x y z", "4 4 4", "F F F", "1 1 1"
	if c.HasColors() {
		fields, size, typ, count = fields+" rgb", size+" 4", typ+" U", count+" 1"
	}
	fmt.Fprintf(&b, "# .PCD v0.7 - Point Cloud Data file format\nVERSION 0.7\n")
	fmt.Fprintf(&b, "FIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n", fields, size, typ, count)
	fmt.Fprintf(&b, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n", c.Len(), c.Len())
	for i := 0; i < c.Len(); i++ {
		j := i * 3
		fmt.Fprintf(&b, "%g %g %g", c.Positions[j], c.Positions[j+1], c.Positions[j+2])
		if c.HasColors() {
			r, g, bl := c.Color(i)
			fmt.Fprintf(&b, " %d", uint32(clamp01(r)*255+0.5)<<16|uint32(clamp01(g)*255+0.5)<<8|uint32(clamp01(bl)*255+0.5))
		}
		b.WriteByte('\n')
	}
	_, err := w.Write(b.Bytes())
	return err
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func atoiAll(vals []string) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func atoi1(vals []string) (int, error) {
	if len(vals) != 1 {
		return 0, fmt.Errorf("want one value, got %d", len(vals))
	}
	return strconv.Atoi(vals[0])
}
