// internal/models/levels.go
package models

// LevelConfig 阅读难度层级配置，纯静态常量表
type LevelConfig struct {
	Level            int            `json:"level"`
	SentenceCount    int            `json:"sentence_count"`
	WordCountRange   [2]int         `json:"word_count_range"`
	GrammarFocus     string         `json:"grammar_focus"`
	VocabularyTier   string         `json:"vocabulary_tier"`
	QuizDistribution map[string]int `json:"quiz_distribution"`
}

// 8级难度表。SentenceCount 随级别单调不减。
var levelTable = [8]LevelConfig{
	{
		Level:            1,
		SentenceCount:    4,
		WordCountRange:   [2]int{3, 6},
		GrammarFocus:     "simple present, single clause",
		VocabularyTier:   "core-100",
		QuizDistribution: map[string]int{"picture_match": 2, "word_tap": 1},
	},
	{
		Level:            2,
		SentenceCount:    5,
		WordCountRange:   [2]int{4, 8},
		GrammarFocus:     "simple present + basic adjectives",
		VocabularyTier:   "core-250",
		QuizDistribution: map[string]int{"picture_match": 2, "word_tap": 2},
	},
	{
		Level:            3,
		SentenceCount:    6,
		WordCountRange:   [2]int{5, 10},
		GrammarFocus:     "past tense, and/but connectors",
		VocabularyTier:   "core-500",
		QuizDistribution: map[string]int{"picture_match": 1, "word_tap": 2, "fill_blank": 1},
	},
	{
		Level:            4,
		SentenceCount:    7,
		WordCountRange:   [2]int{6, 12},
		GrammarFocus:     "past tense, because/so clauses",
		VocabularyTier:   "core-750",
		QuizDistribution: map[string]int{"word_tap": 2, "fill_blank": 2},
	},
	{
		Level:            5,
		SentenceCount:    8,
		WordCountRange:   [2]int{8, 14},
		GrammarFocus:     "mixed tenses, dialogue lines",
		VocabularyTier:   "core-1000",
		QuizDistribution: map[string]int{"fill_blank": 2, "comprehension": 2},
	},
	{
		Level:            6,
		SentenceCount:    9,
		WordCountRange:   [2]int{10, 16},
		GrammarFocus:     "relative clauses, reported speech",
		VocabularyTier:   "extended-1500",
		QuizDistribution: map[string]int{"fill_blank": 2, "comprehension": 3},
	},
	{
		Level:            7,
		SentenceCount:    10,
		WordCountRange:   [2]int{12, 18},
		GrammarFocus:     "conditionals, descriptive paragraphs",
		VocabularyTier:   "extended-2000",
		QuizDistribution: map[string]int{"comprehension": 3, "open_response": 2},
	},
	{
		Level:            8,
		SentenceCount:    12,
		WordCountRange:   [2]int{14, 22},
		GrammarFocus:     "complex sentences, idioms, narrative voice",
		VocabularyTier:   "extended-3000",
		QuizDistribution: map[string]int{"comprehension": 3, "open_response": 3},
	},
}

// LevelConfigFor 返回指定级别的配置，级别裁剪到 1-8 区间
func LevelConfigFor(level int) LevelConfig {
	if level < 1 {
		level = 1
	}
	if level > 8 {
		level = 8
	}
	cfg := levelTable[level-1]
	// 复制 map，避免调用方改动共享表
	quiz := make(map[string]int, len(cfg.QuizDistribution))
	for k, v := range cfg.QuizDistribution {
		quiz[k] = v
	}
	cfg.QuizDistribution = quiz
	return cfg
}
