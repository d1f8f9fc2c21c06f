package object

import (
	"strconv"
	"strings"
)

const maxFormatDepth = 4

// Format renders obj as a short literal: 1, 1.5, "hi", vec3(1, 2, 3), [1, "a", nil].
// Nested composites deeper than a few levels, and back-edges of cycles, print as "...".
func Format(obj *Object) string {
	var sb strings.Builder
	formatInto(&sb, obj, 0, make(map[*Object]bool))
	return sb.String()
}

func formatInto(sb *strings.Builder, obj *Object, depth int, visiting map[*Object]bool) {
	if obj == nil {
		sb.WriteString("nil")
		return
	}
	if !obj.Alive {
		sb.WriteString("<freed #")
		sb.WriteString(strconv.FormatUint(obj.ID, 10))
		sb.WriteString(">")
		return
	}
	switch obj.Kind {
	case KindInteger:
		sb.WriteString(strconv.FormatInt(int64(obj.Int), 10))
		return
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(float64(obj.Float), 'g', -1, 32))
		return
	case KindString:
		sb.WriteString(strconv.Quote(string(obj.Str)))
		return
	}

	if depth >= maxFormatDepth || visiting[obj] {
		sb.WriteString("...")
		return
	}
	visiting[obj] = true
	defer delete(visiting, obj)

	switch obj.Kind {
	case KindVector3:
		sb.WriteString("vec3(")
		for i, c := range obj.Vec.Components() {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatInto(sb, c, depth+1, visiting)
		}
		sb.WriteString(")")
	case KindArray:
		sb.WriteString("[")
		for i, c := range obj.Arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatInto(sb, c, depth+1, visiting)
		}
		sb.WriteString("]")
	default:
		sb.WriteString("<object>")
	}
}
