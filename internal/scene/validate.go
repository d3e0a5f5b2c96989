// Package scene holds the pure scene-document logic: structural validation,
// element merging, and ownership resolution. Nothing in this package touches
// storage or the network.
package scene

import (
	"fmt"
	"math"
	"sort"
)

// MaxSceneBytes is the cap applied to the raw serialized scene payload before
// any parsing happens.
const MaxSceneBytes = 50 << 20

// Diagnostic is one validation finding, addressed by a JSONPath-style string.
type Diagnostic struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is what Validate returns. ElementCount is reported even for invalid
// documents so callers can show partial feedback.
type Result struct {
	Valid        bool         `json:"valid"`
	Errors       []Diagnostic `json:"errors"`
	ElementCount int          `json:"elementCount"`
}

var knownElementTypes = map[string]struct{}{
	"rectangle":  {},
	"diamond":    {},
	"ellipse":    {},
	"line":       {},
	"arrow":      {},
	"freedraw":   {},
	"text":       {},
	"image":      {},
	"frame":      {},
	"embeddable": {},
}

var allowedStrokeStyles = map[string]struct{}{
	"solid":  {},
	"dashed": {},
	"dotted": {},
}

var allowedFillStyles = map[string]struct{}{
	"hachure":     {},
	"cross-hatch": {},
	"solid":       {},
	"zigzag":      {},
}

// typesNeedingPoints are the stroke-like element types that must carry a
// points array.
var typesNeedingPoints = map[string]struct{}{
	"line":     {},
	"arrow":    {},
	"freedraw": {},
}

// CheckSizeLimit rejects payloads larger than MaxSceneBytes. It must be called
// on the raw byte length of the serialized input, never the parsed value.
func CheckSizeLimit(byteLen int64) error {
	if byteLen > MaxSceneBytes {
		return fmt.Errorf("scene payload is %d bytes, limit is %d", byteLen, int64(MaxSceneBytes))
	}
	return nil
}

// Validate checks that a decoded scene body has the shape the rest of the
// system relies on. It never panics and never mutates the input; malformed
// input is exactly what it exists to describe. Diagnostics come out in a
// deterministic order for a given input.
func Validate(input any) Result {
	v := &validator{}

	if input == nil {
		v.addf("$", "scene body is required")
		return v.result(0)
	}

	body, ok := input.(map[string]any)
	if !ok {
		v.addf("$", "scene body must be an object, got %s", kindOf(input))
		return v.result(0)
	}

	elementCount := v.checkElements(body)
	v.checkAppState(body)
	v.checkFiles(body)
	return v.result(elementCount)
}

type validator struct {
	errors []Diagnostic
}

func (v *validator) addf(path, format string, args ...any) {
	v.errors = append(v.errors, Diagnostic{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) result(elementCount int) Result {
	if v.errors == nil {
		v.errors = []Diagnostic{}
	}
	return Result{
		Valid:        len(v.errors) == 0,
		Errors:       v.errors,
		ElementCount: elementCount,
	}
}

func (v *validator) checkElements(body map[string]any) int {
	raw, present := body["elements"]
	if !present {
		v.addf("$.elements", "elements is required")
		return 0
	}
	elements, ok := raw.([]any)
	if !ok {
		v.addf("$.elements", "elements must be an array, got %s", kindOf(raw))
		return 0
	}
	for i, item := range elements {
		v.checkElement(fmt.Sprintf("$.elements[%d]", i), item)
	}
	return len(elements)
}

// checkElement validates one element and keeps going: a broken element never
// stops validation of its siblings.
func (v *validator) checkElement(path string, item any) {
	element, ok := item.(map[string]any)
	if !ok {
		v.addf(path, "element must be an object, got %s", kindOf(item))
		return
	}

	if id, ok := element["id"].(string); !ok || id == "" {
		v.addf(path+".id", "id must be a non-empty string")
	}

	elementType := ""
	switch typed := element["type"].(type) {
	case string:
		elementType = typed
		if _, known := knownElementTypes[typed]; !known {
			v.addf(path+".type", "unknown element type %q", typed)
		}
	default:
		v.addf(path+".type", "type must be a string")
	}

	for _, field := range [...]string{"x", "y", "width", "height"} {
		v.checkFiniteNumber(path+"."+field, element, field)
	}

	v.checkOptionalFields(path, element)
	v.checkTypeRequirements(path, element, elementType)
}

func (v *validator) checkFiniteNumber(path string, element map[string]any, field string) {
	raw, present := element[field]
	if !present {
		v.addf(path, "%s is required and must be a number", field)
		return
	}
	value, ok := toFloat(raw)
	if !ok {
		v.addf(path, "%s must be a number, got %s", field, kindOf(raw))
		return
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		v.addf(path, "%s must be a finite number", field)
	}
}

func (v *validator) checkOptionalFields(path string, element map[string]any) {
	if raw, present := element["strokeStyle"]; present {
		if style, ok := raw.(string); !ok {
			v.addf(path+".strokeStyle", "strokeStyle must be a string")
		} else if _, allowed := allowedStrokeStyles[style]; !allowed {
			v.addf(path+".strokeStyle", "strokeStyle %q is not one of solid, dashed, dotted", style)
		}
	}
	if raw, present := element["fillStyle"]; present {
		if style, ok := raw.(string); !ok {
			v.addf(path+".fillStyle", "fillStyle must be a string")
		} else if _, allowed := allowedFillStyles[style]; !allowed {
			v.addf(path+".fillStyle", "fillStyle %q is not one of hachure, cross-hatch, solid, zigzag", style)
		}
	}
	if raw, present := element["roundness"]; present && raw != nil {
		if _, ok := raw.(map[string]any); !ok {
			v.addf(path+".roundness", "roundness must be an object or null")
		}
	}
	if raw, present := element["angle"]; present {
		value, ok := toFloat(raw)
		if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			v.addf(path+".angle", "angle must be a finite number")
		}
	}
	if raw, present := element["isDeleted"]; present {
		if _, ok := raw.(bool); !ok {
			v.addf(path+".isDeleted", "isDeleted must be a boolean")
		}
	}
}

func (v *validator) checkTypeRequirements(path string, element map[string]any, elementType string) {
	switch {
	case elementType == "text":
		if _, ok := element["text"].(string); !ok {
			v.addf(path+".text", "text elements require a string text field")
		}
		value, ok := toFloat(element["fontSize"])
		if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			v.addf(path+".fontSize", "text elements require a numeric fontSize")
		}
	case hasKey(typesNeedingPoints, elementType):
		if _, ok := element["points"].([]any); !ok {
			v.addf(path+".points", "%s elements require a points array", elementType)
		}
	case elementType == "image":
		if fileID, ok := element["fileId"].(string); !ok || fileID == "" {
			v.addf(path+".fileId", "image elements require a fileId string")
		}
	}
}

func (v *validator) checkAppState(body map[string]any) {
	raw, present := body["appState"]
	if !present || raw == nil {
		return
	}
	if _, ok := raw.(map[string]any); !ok {
		v.addf("$.appState", "appState must be an object, got %s", kindOf(raw))
	}
}

func (v *validator) checkFiles(body map[string]any) {
	raw, present := body["files"]
	if !present || raw == nil {
		return
	}
	files, ok := raw.(map[string]any)
	if !ok {
		v.addf("$.files", "files must be an object, got %s", kindOf(raw))
		return
	}
	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := files[key]
		path := "$.files." + key
		record, ok := value.(map[string]any)
		if !ok {
			v.addf(path, "file record must be an object, got %s", kindOf(value))
			continue
		}
		if mimeType, ok := record["mimeType"].(string); !ok || mimeType == "" {
			v.addf(path+".mimeType", "mimeType must be a non-empty string")
		}
		if _, ok := record["dataURL"].(string); !ok {
			v.addf(path+".dataURL", "dataURL must be a string")
		}
	}
}

func toFloat(raw any) (float64, bool) {
	switch value := raw.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}

func hasKey(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}
