// internal/models/culture.go
package models

// CulturalContext 文化锚点：命名习惯、价值观、感官元素与禁忌
type CulturalContext struct {
	Language      string   `json:"language"`
	BoyNames      []string `json:"boy_names"`
	GirlNames     []string `json:"girl_names"`
	Values        []string `json:"values"`
	VisualMotifs  []string `json:"visual_motifs"`
	SensoryDetail []string `json:"sensory_detail"`
	Negatives     []string `json:"negatives"`
}

// DefaultCultureLanguage 未知语言代码回退到的默认区域
const DefaultCultureLanguage = "en"

// staticCultureTable 按语言代码索引的静态兜底表。
// 生成失败时管线降级到这里的数据，保证每个必需字段始终存在。
var staticCultureTable = map[string]CulturalContext{
	"en": {
		Language:      "en",
		BoyNames:      []string{"Liam", "Noah", "Oliver", "Ethan"},
		GirlNames:     []string{"Emma", "Ava", "Sophia", "Lily"},
		Values:        []string{"kindness", "curiosity", "honesty", "helping neighbors"},
		VisualMotifs:  []string{"oak trees", "red mailboxes", "picket fences", "autumn leaves"},
		SensoryDetail: []string{"fresh-baked bread", "grass after rain", "crackling fireplace"},
		Negatives:     []string{"no brand logos", "no urban decay"},
	},
	"ta": {
		Language:      "ta",
		BoyNames:      []string{"Arun", "Karthik", "Vijay", "Surya"},
		GirlNames:     []string{"Priya", "Meena", "Lakshmi", "Kavya"},
		Values:        []string{"respect for elders", "family togetherness", "sharing food", "festival joy"},
		VisualMotifs:  []string{"kolam patterns", "banana leaves", "temple gopurams", "jasmine garlands"},
		SensoryDetail: []string{"filter coffee aroma", "jasmine fragrance", "monsoon rain"},
		Negatives:     []string{"no generic western suburbs", "no inaccurate temple imagery"},
	},
	"hi": {
		Language:      "hi",
		BoyNames:      []string{"Aarav", "Rohan", "Kabir", "Aryan"},
		GirlNames:     []string{"Ananya", "Diya", "Ishita", "Sara"},
		Values:        []string{"respect for elders", "hospitality", "celebrating together", "perseverance"},
		VisualMotifs:  []string{"rangoli", "marigold garlands", "kite flying", "courtyard homes"},
		SensoryDetail: []string{"chai on a rainy day", "diya lamps at dusk", "mango season"},
		Negatives:     []string{"no stereotyped poverty imagery"},
	},
	"ja": {
		Language:      "ja",
		BoyNames:      []string{"Haruto", "Yuto", "Sota", "Ren"},
		GirlNames:     []string{"Yui", "Sakura", "Hina", "Aoi"},
		Values:        []string{"harmony", "politeness", "diligence", "appreciating seasons"},
		VisualMotifs:  []string{"cherry blossoms", "paper lanterns", "torii gates", "tatami rooms"},
		SensoryDetail: []string{"onsen steam", "rain on paper umbrellas", "summer cicadas"},
		Negatives:     []string{"no mixed Chinese architectural elements"},
	},
	"zh": {
		Language:      "zh",
		BoyNames:      []string{"Wei", "Ming", "Hao", "Jun"},
		GirlNames:     []string{"Mei", "Lin", "Xiu", "Hua"},
		Values:        []string{"filial piety", "diligence", "harmony", "sharing meals"},
		VisualMotifs:  []string{"red lanterns", "paper cuttings", "courtyard houses", "bamboo groves"},
		SensoryDetail: []string{"steamed dumplings", "ink and paper", "firecrackers at new year"},
		Negatives:     []string{"no mixed Japanese architectural elements"},
	},
	"es": {
		Language:      "es",
		BoyNames:      []string{"Mateo", "Santiago", "Diego", "Lucas"},
		GirlNames:     []string{"Sofia", "Valentina", "Camila", "Lucia"},
		Values:        []string{"family gatherings", "warmth", "music and dance", "generosity"},
		VisualMotifs:  []string{"plazas", "colorful tiles", "papel picado", "orange trees"},
		SensoryDetail: []string{"fresh churros", "guitar music in the evening", "market mornings"},
		Negatives:     []string{"no tourist-brochure cliches"},
	},
}

// StaticCultureFor 返回指定语言的静态文化锚点，
// 未知语言代码回退到默认区域而不是报错
func StaticCultureFor(language string) CulturalContext {
	if ctx, ok := staticCultureTable[language]; ok {
		return ctx
	}
	ctx := staticCultureTable[DefaultCultureLanguage]
	ctx.Language = language
	return ctx
}

// MergeCulturalContext 将生成的上下文合并到静态默认值之上：
// 生成字段优先，缺失字段继承默认值
func MergeCulturalContext(base, generated CulturalContext) CulturalContext {
	merged := base
	if len(generated.BoyNames) > 0 {
		merged.BoyNames = generated.BoyNames
	}
	if len(generated.GirlNames) > 0 {
		merged.GirlNames = generated.GirlNames
	}
	if len(generated.Values) > 0 {
		merged.Values = generated.Values
	}
	if len(generated.VisualMotifs) > 0 {
		merged.VisualMotifs = generated.VisualMotifs
	}
	if len(generated.SensoryDetail) > 0 {
		merged.SensoryDetail = generated.SensoryDetail
	}
	if len(generated.Negatives) > 0 {
		merged.Negatives = generated.Negatives
	}
	return merged
}
