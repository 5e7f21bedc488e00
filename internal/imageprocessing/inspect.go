package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"regexp"
	"strconv"
)

const SVGFormat = "svg"

// ImageInfo describes an encoded image without decoding its pixels.
// Width and Height are zero for an SVG without explicit size.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

func (i ImageInfo) Pixels() int64 {
	return int64(i.Width) * int64(i.Height)
}

// Inspect reads format and dimensions from the image header.
// Raster formats are those registered with the image package and win over SVG,
// so text metadata inside a raster file never changes its classification.
func Inspect(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
	}
	if IsSVGData(data) {
		w, h, _ := parseSVGExplicitSize(data)
		return ImageInfo{Format: SVGFormat, Width: w, Height: h}, nil
	}
	return ImageInfo{}, fmt.Errorf("unrecognized image data: %w", err)
}

// IsSVGData reports whether the document's root element is <svg>. Only an
// optional BOM, whitespace, XML declaration, processing instructions, comments
// and a DOCTYPE may precede it within the first 4KB.
func IsSVGData(data []byte) bool {
	head := bytes.TrimPrefix(data[:min(len(data), 4096)], []byte("\xef\xbb\xbf"))
	for {
		head = bytes.TrimLeft(head, " \t\r\n")
		switch {
		case len(head) > 4 && bytes.EqualFold(head[:4], []byte("<svg")):
			return isTagNameEnd(head[4])
		case bytes.HasPrefix(head, []byte("<?")):
			head = skipPast(head, "?>")
		case bytes.HasPrefix(head, []byte("<!--")):
			head = skipPast(head, "-->")
		case bytes.HasPrefix(head, []byte("<!")):
			head = skipDoctype(head)
		default:
			return false
		}
		if head == nil {
			return false
		}
	}
}

func isTagNameEnd(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '>' || c == '/'
}

// skipPast returns the bytes after the first terminator or nil if there is none.
func skipPast(data []byte, terminator string) []byte {
	i := bytes.Index(data, []byte(terminator))
	if i < 0 {
		return nil
	}
	return data[i+len(terminator):]
}

// skipDoctype also handles an internal subset in square brackets.
func skipDoctype(data []byte) []byte {
	end := bytes.IndexByte(data, '>')
	open := bytes.IndexByte(data, '[')
	if open < 0 || (end >= 0 && end < open) {
		if end < 0 {
			return nil
		}
		return data[end+1:]
	}
	rest := skipPast(data[open:], "]")
	if rest == nil {
		return nil
	}
	return skipPast(rest, ">")
}

var (
	svgStartTag   = regexp.MustCompile(`(?is)<svg\b[^>]*>`)
	svgWidthAttr  = regexp.MustCompile(`(?i)\swidth\s*=\s*["']\s*([0-9]+(?:\.[0-9]+)?)`)
	svgHeightAttr = regexp.MustCompile(`(?i)\sheight\s*=\s*["']\s*([0-9]+(?:\.[0-9]+)?)`)
)

// parseSVGExplicitSize extracts width and height from the root element.
// A viewBox alone is not treated as a pixel size.
func parseSVGExplicitSize(data []byte) (int, int, bool) {
	tag := svgStartTag.Find(data[:min(len(data), 8192)])
	if tag == nil {
		return 0, 0, false
	}
	w, wOk := svgDimension(svgWidthAttr, tag)
	h, hOk := svgDimension(svgHeightAttr, tag)
	if !wOk || !hOk {
		return 0, 0, false
	}
	return w, h, true
}

func svgDimension(attr *regexp.Regexp, tag []byte) (int, bool) {
	m := attr.FindSubmatch(tag)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil || f < 1 {
		return 0, false
	}
	return int(f), true
}
