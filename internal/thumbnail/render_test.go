package thumbnail

import (
	"strings"
	"testing"
)

func TestSceneHTMLShapes(t *testing.T) {
	tests := []struct {
		name    string
		element map[string]any
		want    []string
	}{
		{
			name: "rectangle renders as rect",
			element: map[string]any{
				"type": "rectangle", "x": 10.0, "y": 20.0, "width": 100.0, "height": 50.0,
			},
			want: []string{`<rect x="10.00" y="20.00" width="100.00" height="50.00"`},
		},
		{
			name: "ellipse uses center and radii",
			element: map[string]any{
				"type": "ellipse", "x": 0.0, "y": 0.0, "width": 40.0, "height": 20.0,
			},
			want: []string{`<ellipse cx="20.00" cy="10.00" rx="20.00" ry="10.00"`},
		},
		{
			name: "diamond renders a polygon",
			element: map[string]any{
				"type": "diamond", "x": 0.0, "y": 0.0, "width": 10.0, "height": 10.0,
			},
			want: []string{`<polygon points="5.00,0.00 10.00,5.00 5.00,10.00 0.00,5.00"`},
		},
		{
			name: "arrow renders its points as a path",
			element: map[string]any{
				"type": "arrow", "x": 5.0, "y": 5.0, "width": 10.0, "height": 10.0,
				"points": []any{[]any{0.0, 0.0}, []any{10.0, 10.0}},
			},
			want: []string{`<path d="M 5.00 5.00 L 15.00 15.00"`},
		},
		{
			name: "text escapes content",
			element: map[string]any{
				"type": "text", "x": 0.0, "y": 0.0, "width": 50.0, "height": 20.0,
				"text": "a<b>c", "fontSize": 12.0,
			},
			want: []string{`font-size="12.0"`, "a&lt;b&gt;c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sceneHTML([]map[string]any{tt.element})
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("sceneHTML() missing %q in:\n%s", want, got)
				}
			}
		})
	}
}

func TestSceneHTMLSkipsDeletedElements(t *testing.T) {
	got := sceneHTML([]map[string]any{
		{"type": "rectangle", "x": 0.0, "y": 0.0, "width": 10.0, "height": 10.0, "isDeleted": true},
	})
	if strings.Contains(got, `<rect x="0.00"`) {
		t.Error("deleted element should not be drawn")
	}
}

func TestSceneHTMLEmptyScene(t *testing.T) {
	got := sceneHTML(nil)
	if !strings.Contains(got, "<svg") || !strings.Contains(got, "</svg>") {
		t.Errorf("expected valid svg for empty scene, got:\n%s", got)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"a+b", "a%2Bb"},
		{"safe-chars_.~", "safe-chars_.~"},
		{"<svg>", "%3Csvg%3E"},
	}
	for _, tt := range tests {
		if got := percentEncodeForDataURL(tt.input); got != tt.expected {
			t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
