// internal/models/beatsheet.go
package models

import (
	"fmt"
	"strings"
)

// BeatSheet 版本标识
const (
	BeatSheetVersionLegacy  = "beat_sheet_v1"
	BeatSheetVersionCurrent = "beat_sheet_v2"
)

// 空间区位词汇：画面从左到右的4个离散区域
const (
	ZoneA = "zone_a" // 画面左三分之一
	ZoneB = "zone_b" // 画面中左
	ZoneC = "zone_c" // 画面中右
	ZoneD = "zone_d" // 画面右三分之一
)

// 景深层级
const (
	DepthForeground = "foreground" // 前景，锐利对焦
	DepthMidground  = "midground"  // 中景，标准对焦
	DepthBackground = "background" // 背景，虚化
)

// MaxConstraintsPerBeat 每个节拍约束条目上限，超出时淘汰最早的条目
const MaxConstraintsPerBeat = 5

// MaxSpotlightActors 聚光灯规则：1-2层景深最多同时容纳的角色数
const MaxSpotlightActors = 2

// Zones 按从左到右的顺序列出全部区位
var Zones = []string{ZoneA, ZoneB, ZoneC, ZoneD}

// BeatSheet 节拍表：Beat 生成器的中间产物，指令编译器的输入
type BeatSheet struct {
	Version  string   `json:"version"`
	Premise  string   `json:"premise"`
	CastLock CastLock `json:"cast_lock"`
	Beats    []Beat   `json:"beats"`
}

// CastLock 演员阵容硬限制
type CastLock struct {
	MaxHumans    int      `json:"max_humans"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	AllowCrowds  bool     `json:"allow_crowds"`
	AllowAnimals bool     `json:"allow_animals"`
}

// Fingerprint 阵容锁的确定性指纹。相同字段值产生相同指纹，
// 用于缓存键等需要区分阵容锁的场合。
func (c CastLock) Fingerprint() string {
	return fmt.Sprintf("h%d|r%s|c%t|a%t",
		c.MaxHumans, strings.Join(c.AllowedRoles, ","), c.AllowCrowds, c.AllowAnimals)
}

// Beat 单页节拍。Page 从1开始严格递增（beats[i].Page == i+1）。
// 定位信息存在两种表示：旧版自由文本（Protagonist/Support）
// 与结构化 Layout，迁移窗口内两者可能并存。
type Beat struct {
	Page   int    `json:"page"`
	Action string `json:"action"`
	Zone   string `json:"zone"`

	// 旧版自由文本定位
	Protagonist *LegacyPosition `json:"protagonist,omitempty"`
	Support     *LegacyPosition `json:"support,omitempty"`

	// 结构化布局（当前版本）
	Layout []ActorLayout `json:"layout,omitempty"`

	Depth           DepthPlan `json:"depth"`
	Interaction     string    `json:"interaction,omitempty"`
	MicroExpression string    `json:"micro_expression,omitempty"`
	Constraints     []string  `json:"constraints,omitempty"`
}

// LegacyPosition 旧版定位字段
type LegacyPosition struct {
	ActorID  string `json:"actor_id"`
	Position string `json:"position"`
	Action   string `json:"action"`
	Emotion  string `json:"emotion"`
}

// ActorLayout 结构化布局：姿势ID + 画面百分比坐标 + 缩放 + 翻转
type ActorLayout struct {
	ActorID string  `json:"actor_id"`
	PoseID  string  `json:"pose_id"`
	X       float64 `json:"x"` // 0-100
	Y       float64 `json:"y"` // 0-100
	Scale   float64 `json:"scale"`
	Flip    bool    `json:"flip"`
}

// ValidateBeatSheet 对节拍表做严格结构校验。
// 违反页数或页序不变量是硬错误，绝不静默修正。
func ValidateBeatSheet(sheet *BeatSheet, requestedPages int) error {
	if sheet == nil {
		return fmt.Errorf("节拍表为空")
	}
	if sheet.Version != BeatSheetVersionLegacy && sheet.Version != BeatSheetVersionCurrent {
		return fmt.Errorf("未知的节拍表版本: %q", sheet.Version)
	}
	if len(sheet.Beats) != requestedPages {
		return fmt.Errorf("节拍数量不匹配: 期望 %d, 实际 %d", requestedPages, len(sheet.Beats))
	}
	for i := range sheet.Beats {
		beat := &sheet.Beats[i]
		if beat.Page != i+1 {
			return fmt.Errorf("节拍页序错误: beats[%d].page = %d, 期望 %d", i, beat.Page, i+1)
		}
		if !isKnownZone(beat.Zone) {
			return fmt.Errorf("节拍 %d 使用了未知区位: %q", beat.Page, beat.Zone)
		}
		if len(beat.Constraints) > MaxConstraintsPerBeat {
			return fmt.Errorf("节拍 %d 约束条目超限: %d > %d", beat.Page, len(beat.Constraints), MaxConstraintsPerBeat)
		}
		if beat.Depth.Focus == "" {
			return fmt.Errorf("节拍 %d 景深缺少对焦层", beat.Page)
		}
		for _, layout := range beat.Layout {
			if layout.X < 0 || layout.X > 100 || layout.Y < 0 || layout.Y > 100 {
				return fmt.Errorf("节拍 %d 布局坐标越界: actor=%s x=%.1f y=%.1f", beat.Page, layout.ActorID, layout.X, layout.Y)
			}
		}
	}
	return nil
}

func isKnownZone(zone string) bool {
	for _, z := range Zones {
		if z == zone {
			return true
		}
	}
	return false
}

// NormalizeBeatSheet 注入阵容锁派生约束并执行聚光灯规则。
// 约束列表封顶为 MaxConstraintsPerBeat，新约束挤掉最早的条目。
func NormalizeBeatSheet(sheet *BeatSheet) {
	if sheet == nil {
		return
	}
	castConstraint := ""
	if sheet.CastLock.MaxHumans > 0 {
		castConstraint = fmt.Sprintf("exactly %d humans only", sheet.CastLock.MaxHumans)
	}

	for i := range sheet.Beats {
		beat := &sheet.Beats[i]

		if castConstraint != "" && !containsConstraint(beat.Constraints, castConstraint) {
			beat.Constraints = append(beat.Constraints, castConstraint)
		}
		if !sheet.CastLock.AllowCrowds && !containsConstraint(beat.Constraints, noCrowdConstraint) {
			beat.Constraints = append(beat.Constraints, noCrowdConstraint)
		}
		if over := len(beat.Constraints) - MaxConstraintsPerBeat; over > 0 {
			beat.Constraints = beat.Constraints[over:]
		}

		enforceSpotlightRule(beat)
	}
}

const noCrowdConstraint = "no background crowds or extra bystanders"

func containsConstraint(constraints []string, target string) bool {
	for _, c := range constraints {
		if c == target {
			return true
		}
	}
	return false
}

// enforceSpotlightRule 前两层景深最多2名角色，第3名及以后推到背景
func enforceSpotlightRule(beat *Beat) {
	inFocus := 0
	for i := range beat.Layout {
		layout := &beat.Layout[i]
		if layout.Scale >= backgroundScaleCutoff {
			inFocus++
			if inFocus > MaxSpotlightActors {
				layout.Scale = backgroundScaleCutoff / 2
			}
		}
	}
}

// 布局缩放小于该值视为背景角色
const backgroundScaleCutoff = 0.5

// MigrateLegacyBeatSheet 将旧版(v1)节拍表迁移为当前结构。
// 旧版自由文本定位被转换为结构化 Layout；已是当前版本时原样返回。
func MigrateLegacyBeatSheet(sheet *BeatSheet) *BeatSheet {
	if sheet == nil || sheet.Version == BeatSheetVersionCurrent {
		return sheet
	}

	migrated := *sheet
	migrated.Version = BeatSheetVersionCurrent
	migrated.Beats = make([]Beat, len(sheet.Beats))
	for i, beat := range sheet.Beats {
		converted := beat
		if len(beat.Layout) == 0 {
			if beat.Protagonist != nil {
				converted.Layout = append(converted.Layout, legacyToLayout(beat.Protagonist, beat.Zone, true))
			}
			if beat.Support != nil {
				converted.Layout = append(converted.Layout, legacyToLayout(beat.Support, beat.Zone, false))
			}
		}
		converted.Protagonist = nil
		converted.Support = nil
		// 旧版节拍可能没有景深规划，补默认三层
		if converted.Depth.Focus == "" {
			converted.Depth = defaultDepthPlan()
		}
		migrated.Beats[i] = converted
	}
	return &migrated
}

// legacyToLayout 把自由文本定位近似到区位中心坐标
func legacyToLayout(pos *LegacyPosition, zone string, isLead bool) ActorLayout {
	layout := ActorLayout{
		ActorID: pos.ActorID,
		PoseID:  "pose_neutral",
		X:       zoneCenterX(zone),
		Y:       60,
		Scale:   1.0,
	}
	if !isLead {
		// 配角偏移半个区位，避免与主角重叠
		layout.X += 12
		if layout.X > 100 {
			layout.X = 100
		}
		layout.Scale = 0.85
	}
	return layout
}

func zoneCenterX(zone string) float64 {
	switch zone {
	case ZoneA:
		return 15
	case ZoneB:
		return 38
	case ZoneC:
		return 62
	case ZoneD:
		return 85
	default:
		return 50
	}
}

// fallback 构建使用的固定姿势循环
var fallbackPoseCycle = []string{
	"pose_walk",
	"pose_point",
	"pose_kneel",
	"pose_reach",
	"pose_smile",
}

// BuildFallbackBeatSheet 构建确定性兜底节拍表：固定姿势循环 +
// 主角从左到右线性移动。产物保证通过 ValidateBeatSheet。
func BuildFallbackBeatSheet(premise string, pages int, castLock CastLock) *BeatSheet {
	if pages < 1 {
		pages = 1
	}
	sheet := &BeatSheet{
		Version:  BeatSheetVersionCurrent,
		Premise:  premise,
		CastLock: castLock,
		Beats:    make([]Beat, pages),
	}

	for i := 0; i < pages; i++ {
		zone := Zones[i*len(Zones)/pages%len(Zones)]
		pose := fallbackPoseCycle[i%len(fallbackPoseCycle)]
		sheet.Beats[i] = Beat{
			Page:   i + 1,
			Action: fmt.Sprintf("story moment %d of %d", i+1, pages),
			Zone:   zone,
			Layout: []ActorLayout{
				{
					ActorID: "protagonist",
					PoseID:  pose,
					X:       linearX(i, pages),
					Y:       60,
					Scale:   1.0,
				},
			},
			Depth: defaultDepthPlan(),
		}
	}

	NormalizeBeatSheet(sheet)
	return sheet
}

// defaultDepthPlan 通用三层景深，用于兜底表与旧版迁移补全
func defaultDepthPlan() DepthPlan {
	return DepthPlan{
		Focus:      "protagonist, sharp focus",
		Midground:  "story environment, standard focus",
		Background: "ambient scenery, soft blur",
	}
}

// linearX 主角横向线性移动：第1页在左，最后一页在右
func linearX(index, pages int) float64 {
	if pages <= 1 {
		return 50
	}
	return 15 + 70*float64(index)/float64(pages-1)
}
