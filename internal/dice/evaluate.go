package dice

import (
	"fmt"
	"sort"
)

// Faces 一次掷出的三个骰子点数，顺序即物理顺序
type Faces [3]int

// Sorted 返回升序排列后的点数
func (f Faces) Sorted() Faces {
	sort.Ints(f[:])
	return f
}

// Slice 转为切片，便于序列化
func (f Faces) Slice() []int {
	return []int{f[0], f[1], f[2]}
}

// Kind 掷骰结果分类
type Kind int

const (
	KindJunk Kind = iota
	KindPoint
	KindTriple
	KindAutoLoss
	KindAutoWin
)

func (k Kind) String() string {
	switch k {
	case KindAutoWin:
		return "auto_win"
	case KindAutoLoss:
		return "auto_loss"
	case KindTriple:
		return "triple"
	case KindPoint:
		return "point"
	}
	return "junk"
}

// Outcome 分类后的掷骰结果。Face 只对 Triple 和 Point 有意义。
type Outcome struct {
	Kind Kind
	Face int
	Dice Faces
}

var (
	autoWin  = Faces{4, 5, 6}
	autoLoss = Faces{1, 2, 3}
)

// Evaluate 对三个骰子分类。与顺序无关，对所有输入都有且只有一个结果。
func Evaluate(dice Faces) Outcome {
	s := dice.Sorted()
	out := Outcome{Kind: KindJunk, Dice: dice}

	switch {
	case s == autoWin:
		out.Kind = KindAutoWin
	case s == autoLoss:
		out.Kind = KindAutoLoss
	case s[0] == s[2]:
		out.Kind = KindTriple
		out.Face = s[0]
	case s[0] == s[1]:
		out.Kind = KindPoint
		out.Face = s[2]
	case s[1] == s[2]:
		out.Kind = KindPoint
		out.Face = s[0]
	}
	return out
}

// Comparable 是否带有可比较的强度
func (o Outcome) Comparable() bool {
	return o.Kind == KindTriple || o.Kind == KindPoint
}

// Strength 返回比较强度：Triple 为 20+点数，Point 为单点数值
func (o Outcome) Strength() (int, bool) {
	switch o.Kind {
	case KindTriple:
		return 20 + o.Face, true
	case KindPoint:
		return o.Face, true
	}
	return 0, false
}

// Label 展示用文字
func (o Outcome) Label() string {
	switch o.Kind {
	case KindAutoWin:
		return "4-5-6"
	case KindAutoLoss:
		return "1-2-3"
	case KindTriple:
		return fmt.Sprintf("TRIPLE %d", o.Face)
	case KindPoint:
		return fmt.Sprintf("POINT %d", o.Face)
	}
	return "NOTHING"
}

func (o Outcome) String() string {
	return fmt.Sprintf("%v %s", o.Dice, o.Label())
}
