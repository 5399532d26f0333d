// internal/services/directive_test.go
package services

import (
	"strings"
	"testing"

	"github.com/Corphon/StorySproutMCP/internal/models"
)

func testVisualDef() *models.VisualDefinition {
	return &models.VisualDefinition{
		StyleEngine: "soft watercolor picture book, warm light",
		Actors: map[string]models.ActorDNA{
			"ethan": {
				Name:     "Ethan",
				Role:     "protagonist",
				Physical: "7-year-old boy, short brown hair, round face",
				Clothing: "yellow raincoat and red boots",
				Palette:  "yellow, red, navy",
			},
			"puppy": {
				Name:     "Biscuit",
				Role:     "animal",
				Physical: "small golden puppy with floppy ears",
				Clothing: "blue collar",
			},
		},
		Props: map[string]models.PropDef{
			"umbrella": {Name: "striped umbrella", Appearance: "red and white stripes, wooden handle"},
			"leash":    {Name: "leash", Appearance: "braided brown leather"},
		},
		Environment: "rainy suburban street, late afternoon, gentle puddles",
	}
}

func testBeat() *models.Beat {
	return &models.Beat{
		Page:   2,
		Action: "Ethan kneels to read the puppy's collar tag",
		Zone:   models.ZoneB,
		Layout: []models.ActorLayout{
			{ActorID: "ethan", PoseID: "pose_kneel", X: 38, Y: 62, Scale: 1.0},
			{ActorID: "puppy", PoseID: "pose_sit", X: 50, Y: 70, Scale: 0.6, Flip: true},
		},
		Depth: models.DepthPlan{
			Focus:      "ethan and the puppy",
			Midground:  "wet sidewalk",
			Background: "houses with lit windows",
		},
		Interaction:     "Ethan's hand gently holds the collar tag",
		MicroExpression: "lips parted in quiet concentration",
		Constraints:     []string{"exactly 1 humans only", "no background crowds or extra bystanders"},
	}
}

// TestCompileDirectiveDeterministic 相同输入字节级相同输出
func TestCompileDirectiveDeterministic(t *testing.T) {
	beat := testBeat()
	visualDef := testVisualDef()

	first := CompileDirective(beat, visualDef, "Ethan spotted a puppy under the bench")
	for i := 0; i < 20; i++ {
		again := CompileDirective(beat, visualDef, "Ethan spotted a puppy under the bench")
		if again != first {
			t.Fatalf("第 %d 次编译结果与首次不一致", i+1)
		}
	}
}

// TestCompileDirectiveContent 每条指令自足携带全部连续性信息
func TestCompileDirectiveContent(t *testing.T) {
	directive := CompileDirective(testBeat(), testVisualDef(), "previous action text")

	required := []string{
		"STYLE: soft watercolor picture book",
		"SCENE (page 2): Ethan kneels",
		"CONTINUITY: previous page showed \"previous action text\"",
		"COMPOSITION: subject in CENTER-LEFT OF FRAME, camera holds steady",
		"FOREGROUND (sharp focus): ethan and the puppy",
		"MIDGROUND (standard focus): wet sidewalk",
		"BACKGROUND (soft bokeh blur): houses with lit windows",
		"ACTOR ethan: pose=pose_kneel, position=(38%, 62%), scale=1.00",
		"DNA (immutable): Ethan, 7-year-old boy",
		"wearing yellow raincoat and red boots",
		"palette: yellow, red, navy",
		"ACTOR puppy: pose=pose_sit",
		"facing flipped",
		"PROP leash (immutable): leash, braided brown leather",
		"PROP umbrella (immutable): striped umbrella",
		"ENVIRONMENT (immutable): rainy suburban street",
		"INTERACTION: Ethan's hand gently holds the collar tag",
		"EXPRESSION: lips parted in quiet concentration",
		"CONSTRAINT: exactly 1 humans only",
		"CONSTRAINT: no background crowds",
	}
	for _, fragment := range required {
		if !strings.Contains(directive, fragment) {
			t.Errorf("指令缺少片段 %q\n完整指令:\n%s", fragment, directive)
		}
	}
}

// TestCompileDirectivePropsSorted 道具按ID字典序输出
func TestCompileDirectivePropsSorted(t *testing.T) {
	directive := CompileDirective(testBeat(), testVisualDef(), "")

	leashIdx := strings.Index(directive, "PROP leash")
	umbrellaIdx := strings.Index(directive, "PROP umbrella")
	if leashIdx == -1 || umbrellaIdx == -1 {
		t.Fatal("两个道具都应出现在指令中")
	}
	if leashIdx > umbrellaIdx {
		t.Fatal("道具应按ID字典序输出: leash 在 umbrella 之前")
	}
}

// TestCompileDirectiveFirstPage 首页没有前页连续性行
func TestCompileDirectiveFirstPage(t *testing.T) {
	directive := CompileDirective(testBeat(), testVisualDef(), "")
	if strings.Contains(directive, "CONTINUITY") {
		t.Fatal("无前页动作时不应输出连续性行")
	}
}

// TestCompileDirectiveLegacyPositions 旧版定位字段同样可编译
func TestCompileDirectiveLegacyPositions(t *testing.T) {
	beat := &models.Beat{
		Page:   1,
		Action: "Ethan waves hello",
		Zone:   models.ZoneA,
		Protagonist: &models.LegacyPosition{
			ActorID: "ethan", Position: "left third", Action: "waving", Emotion: "cheerful",
		},
	}

	directive := CompileDirective(beat, testVisualDef(), "")

	if !strings.Contains(directive, "ACTOR ethan: left third, waving, emotion: cheerful") {
		t.Fatalf("旧版定位未编译: %s", directive)
	}
	if !strings.Contains(directive, "DNA (immutable): Ethan") {
		t.Fatal("旧版路径同样应附带角色DNA")
	}
	if !strings.Contains(directive, "LEFT THIRD OF FRAME, camera pans left") {
		t.Fatal("zone_a 应映射到左三分之一构图")
	}
}

// TestCompileDirectiveNilBeat nil节拍返回空串而不是panic
func TestCompileDirectiveNilBeat(t *testing.T) {
	if got := CompileDirective(nil, testVisualDef(), ""); got != "" {
		t.Fatalf("nil节拍应返回空串, got %q", got)
	}
}

// TestCompileDirectiveNoTrailingNewline 输出不以换行收尾
func TestCompileDirectiveNoTrailingNewline(t *testing.T) {
	directive := CompileDirective(testBeat(), testVisualDef(), "")
	if strings.HasSuffix(directive, "\n") {
		t.Fatal("指令不应以换行收尾")
	}
}
