// internal/services/directive.go
package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Corphon/StorySproutMCP/internal/models"
)

// zoneDirectives 区位标签到具体构图指令的映射
var zoneDirectives = map[string]string{
	models.ZoneA: "LEFT THIRD OF FRAME, camera pans left",
	models.ZoneB: "CENTER-LEFT OF FRAME, camera holds steady",
	models.ZoneC: "CENTER-RIGHT OF FRAME, camera holds steady",
	models.ZoneD: "RIGHT THIRD OF FRAME, camera pans right",
}

// CompileDirective 把单页节拍编译为自足的图像指令文本。
// 纯函数：无副作用，相同输入字节级相同输出。每条指令都完整
// 携带角色/道具/环境DNA，下游图像后端不需要任何前页状态。
func CompileDirective(beat *models.Beat, visualDef *models.VisualDefinition, previousAction string) string {
	if beat == nil {
		return ""
	}

	var sb strings.Builder

	if visualDef != nil && visualDef.StyleEngine != "" {
		fmt.Fprintf(&sb, "STYLE: %s\n", visualDef.StyleEngine)
	}

	fmt.Fprintf(&sb, "SCENE (page %d): %s\n", beat.Page, beat.Action)
	if previousAction != "" {
		fmt.Fprintf(&sb, "CONTINUITY: previous page showed %q; this page follows directly.\n", previousAction)
	}

	if directive, ok := zoneDirectives[beat.Zone]; ok {
		fmt.Fprintf(&sb, "COMPOSITION: subject in %s.\n", directive)
	}

	writeDepthDirective(&sb, beat.Depth)
	writeActorDirectives(&sb, beat, visualDef)
	writePropDirectives(&sb, visualDef)

	if visualDef != nil && visualDef.Environment != "" {
		fmt.Fprintf(&sb, "ENVIRONMENT (immutable): %s\n", visualDef.Environment)
	}

	if beat.Interaction != "" {
		fmt.Fprintf(&sb, "INTERACTION: %s\n", beat.Interaction)
	}
	if beat.MicroExpression != "" {
		fmt.Fprintf(&sb, "EXPRESSION: %s\n", beat.MicroExpression)
	}

	for _, constraint := range beat.Constraints {
		fmt.Fprintf(&sb, "CONSTRAINT: %s\n", constraint)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// writeDepthDirective 景深层级翻译为明确的锐度/虚化指令
func writeDepthDirective(sb *strings.Builder, depth models.DepthPlan) {
	if depth.Focus != "" {
		fmt.Fprintf(sb, "FOREGROUND (sharp focus): %s\n", depth.Focus)
	}
	if depth.Midground != "" {
		fmt.Fprintf(sb, "MIDGROUND (standard focus): %s\n", depth.Midground)
	}
	if depth.Background != "" {
		fmt.Fprintf(sb, "BACKGROUND (soft bokeh blur): %s\n", depth.Background)
	}
}

// writeActorDirectives 输出本页出场角色的完整DNA与布局。
// 同时支持结构化 Layout 与旧版 Protagonist/Support 字段。
func writeActorDirectives(sb *strings.Builder, beat *models.Beat, visualDef *models.VisualDefinition) {
	if len(beat.Layout) > 0 {
		for _, layout := range beat.Layout {
			fmt.Fprintf(sb, "ACTOR %s: pose=%s, position=(%.0f%%, %.0f%%), scale=%.2f",
				layout.ActorID, layout.PoseID, layout.X, layout.Y, layout.Scale)
			if layout.Flip {
				sb.WriteString(", facing flipped")
			}
			sb.WriteString("\n")
			writeActorDNA(sb, layout.ActorID, visualDef)
		}
		return
	}

	for _, pos := range []*models.LegacyPosition{beat.Protagonist, beat.Support} {
		if pos == nil {
			continue
		}
		fmt.Fprintf(sb, "ACTOR %s: %s, %s", pos.ActorID, pos.Position, pos.Action)
		if pos.Emotion != "" {
			fmt.Fprintf(sb, ", emotion: %s", pos.Emotion)
		}
		sb.WriteString("\n")
		writeActorDNA(sb, pos.ActorID, visualDef)
	}
}

func writeActorDNA(sb *strings.Builder, actorID string, visualDef *models.VisualDefinition) {
	if visualDef == nil {
		return
	}
	dna, ok := visualDef.Actors[actorID]
	if !ok {
		return
	}
	fmt.Fprintf(sb, "  DNA (immutable): %s, %s, wearing %s", dna.Name, dna.Physical, dna.Clothing)
	if dna.Palette != "" {
		fmt.Fprintf(sb, ", palette: %s", dna.Palette)
	}
	sb.WriteString("\n")
}

// writePropDirectives 道具按ID排序输出，保证字节级确定性
func writePropDirectives(sb *strings.Builder, visualDef *models.VisualDefinition) {
	if visualDef == nil || len(visualDef.Props) == 0 {
		return
	}
	ids := make([]string, 0, len(visualDef.Props))
	for id := range visualDef.Props {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		prop := visualDef.Props[id]
		fmt.Fprintf(sb, "PROP %s (immutable): %s, %s\n", id, prop.Name, prop.Appearance)
	}
}
