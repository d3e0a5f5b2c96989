package thumbnail

import (
	"fmt"
	"html"
	"math"
	"strings"
)

const (
	canvasWidth  = 640
	canvasHeight = 400
	canvasPad    = 20.0
)

// sceneHTML renders scene elements into a self-contained HTML page with
// an inline SVG sized to the thumbnail canvas. Shapes are drawn from the
// element geometry; unknown details degrade to plain rectangles.
func sceneHTML(elements []map[string]any) string {
	minX, minY, maxX, maxY := boundingBox(elements)
	width := maxX - minX
	height := maxY - minY
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}

	var svg strings.Builder
	fmt.Fprintf(&svg, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="%.2f %.2f %.2f %.2f">`,
		canvasWidth, canvasHeight,
		minX-canvasPad, minY-canvasPad, width+2*canvasPad, height+2*canvasPad)
	svg.WriteString(`<rect x="-100000" y="-100000" width="200000" height="200000" fill="#ffffff"/>`)

	for _, element := range elements {
		if deleted, _ := element["isDeleted"].(bool); deleted {
			continue
		}
		drawElement(&svg, element)
	}

	svg.WriteString("</svg>")

	return `<!DOCTYPE html><html><head><meta charset="UTF-8"><style>` +
		`html,body{margin:0;padding:0;background:#ffffff}` +
		`</style></head><body>` + svg.String() + `</body></html>`
}

func drawElement(svg *strings.Builder, element map[string]any) {
	x := num(element["x"])
	y := num(element["y"])
	w := num(element["width"])
	h := num(element["height"])
	stroke := str(element["strokeColor"], "#1e1e1e")
	fill := str(element["backgroundColor"], "transparent")

	switch element["type"] {
	case "ellipse":
		fmt.Fprintf(svg, `<ellipse cx="%.2f" cy="%.2f" rx="%.2f" ry="%.2f" fill="%s" stroke="%s" stroke-width="2"/>`,
			x+w/2, y+h/2, w/2, h/2, esc(fill), esc(stroke))
	case "diamond":
		fmt.Fprintf(svg, `<polygon points="%.2f,%.2f %.2f,%.2f %.2f,%.2f %.2f,%.2f" fill="%s" stroke="%s" stroke-width="2"/>`,
			x+w/2, y, x+w, y+h/2, x+w/2, y+h, x, y+h/2, esc(fill), esc(stroke))
	case "line", "arrow", "freedraw":
		drawPath(svg, element, x, y, stroke)
	case "text":
		text := str(element["text"], "")
		size := num(element["fontSize"])
		if size <= 0 {
			size = 16
		}
		fmt.Fprintf(svg, `<text x="%.2f" y="%.2f" font-family="sans-serif" font-size="%.1f" fill="%s">%s</text>`,
			x, y+size, size, esc(stroke), html.EscapeString(firstLine(text)))
	default:
		// rectangle, image, frame, embeddable all render as boxes
		fmt.Fprintf(svg, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" rx="4" fill="%s" stroke="%s" stroke-width="2"/>`,
			x, y, w, h, esc(fill), esc(stroke))
	}
}

func drawPath(svg *strings.Builder, element map[string]any, x, y float64, stroke string) {
	points, ok := element["points"].([]any)
	if !ok || len(points) == 0 {
		return
	}
	var path strings.Builder
	for i, raw := range points {
		pair, ok := raw.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		verb := "L"
		if i == 0 {
			verb = "M"
		}
		fmt.Fprintf(&path, "%s %.2f %.2f ", verb, x+num(pair[0]), y+num(pair[1]))
	}
	if path.Len() == 0 {
		return
	}
	fmt.Fprintf(svg, `<path d="%s" fill="none" stroke="%s" stroke-width="2"/>`,
		strings.TrimSpace(path.String()), esc(stroke))
}

func boundingBox(elements []map[string]any) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	found := false
	for _, element := range elements {
		if deleted, _ := element["isDeleted"].(bool); deleted {
			continue
		}
		x := num(element["x"])
		y := num(element["y"])
		w := num(element["width"])
		h := num(element["height"])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x+w)
		maxY = math.Max(maxY, y+h)
		found = true
	}
	if !found {
		return 0, 0, float64(canvasWidth), float64(canvasHeight)
	}
	return minX, minY, maxX, maxY
}

func num(v any) float64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func str(v any, fallback string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return s
}

func esc(s string) string {
	return html.EscapeString(s)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
