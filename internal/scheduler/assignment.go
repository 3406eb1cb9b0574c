package scheduler

import "fmt"

type editState int

const (
	editPending editState = iota
	editCommitted
	editRolledBack
)

// Edit 是一次可回滚的试探性移动
//
// 由 TentativeMove 创建时就已经应用到 Assignment 上，必须在同一次评估中 Commit 或 Rollback
type Edit struct {
	family int
	from   int
	to     int
	size   int
	state  editState
}

func (e *Edit) Family() int { return e.family }
func (e *Edit) From() int   { return e.from }
func (e *Edit) To() int     { return e.to }

// Assignment 保存家庭到日期的映射以及由此导出的每日人数，两者在任何修改下都保持一致
type Assignment struct {
	days       []int // days[f] 是家庭 f 被分到的日期，从 1 开始
	attendance []int // attendance[d-1] 是第 d 天的人数
	sizes      []int
	locked     []bool
	pending    *Edit
}

// NewAssignment 根据每个家庭的日期构建分配，days 会被复制
func NewAssignment(sizes []int, numDays int, days []int) (*Assignment, error) {
	if len(sizes) != len(days) {
		return nil, fmt.Errorf("%w: 分配了 %d 个家庭，但一共有 %d 个家庭", ErrInvalidFamily, len(days), len(sizes))
	}

	a := &Assignment{
		days:       append([]int(nil), days...),
		attendance: make([]int, numDays),
		sizes:      append([]int(nil), sizes...),
		locked:     make([]bool, len(sizes)),
	}

	for f, d := range a.days {
		if d < 1 || d > numDays {
			return nil, fmt.Errorf("%w: 家庭 %d 被分到了第 %d 天", ErrInvalidDay, f, d)
		}
		a.attendance[d-1] += a.sizes[f]
	}

	return a, nil
}

func (a *Assignment) NumFamilies() int {
	return len(a.days)
}

func (a *Assignment) NumDays() int {
	return len(a.attendance)
}

// Day 返回家庭当前被分到的日期
func (a *Assignment) Day(family int) int {
	return a.days[family]
}

// Attendance 返回第 day 天的人数
func (a *Assignment) Attendance(day int) int {
	return a.attendance[day-1]
}

// Days 返回家庭到日期映射的副本
func (a *Assignment) Days() []int {
	return append([]int(nil), a.days...)
}

// AttendanceByDay 返回每日人数的副本，下标 0 对应第 1 天
func (a *Assignment) AttendanceByDay() []int {
	return append([]int(nil), a.attendance...)
}

// Clone 深拷贝，未完成的试探性移动不会被复制
func (a *Assignment) Clone() *Assignment {
	return &Assignment{
		days:       append([]int(nil), a.days...),
		attendance: append([]int(nil), a.attendance...),
		sizes:      a.sizes,
		locked:     append([]bool(nil), a.locked...),
	}
}

// Lock 将家庭固定在当前日期，之后的搜索不会再移动它
func (a *Assignment) Lock(family int) error {
	if family < 0 || family >= len(a.days) {
		return ErrInvalidFamily
	}
	a.locked[family] = true
	return nil
}

func (a *Assignment) Unlock(family int) error {
	if family < 0 || family >= len(a.days) {
		return ErrInvalidFamily
	}
	a.locked[family] = false
	return nil
}

func (a *Assignment) IsLocked(family int) bool {
	return a.locked[family]
}

// Pin 把家庭移到指定日期并锁定，不检查容量约束，用于搜索开始之前
func (a *Assignment) Pin(family, day int) error {
	if a.pending != nil {
		return ErrPendingEdit
	}
	if family < 0 || family >= len(a.days) {
		return ErrInvalidFamily
	}
	if day < 1 || day > len(a.attendance) {
		return ErrInvalidDay
	}
	a.move(family, a.days[family], day)
	a.locked[family] = true
	return nil
}

// TentativeMove 试探性地把家庭移到 day，返回可回滚的句柄
func (a *Assignment) TentativeMove(family, day int) (*Edit, error) {
	if a.pending != nil {
		return nil, ErrPendingEdit
	}
	if family < 0 || family >= len(a.days) {
		return nil, ErrInvalidFamily
	}
	if day < 1 || day > len(a.attendance) {
		return nil, ErrInvalidDay
	}
	if a.locked[family] {
		return nil, ErrLockedFamily
	}

	e := &Edit{
		family: family,
		from:   a.days[family],
		to:     day,
		size:   a.sizes[family],
	}
	a.move(e.family, e.from, e.to)
	a.pending = e

	return e, nil
}

func (a *Assignment) Commit(e *Edit) error {
	if e.state != editPending || a.pending != e {
		return ErrStaleEdit
	}
	e.state = editCommitted
	a.pending = nil
	return nil
}

func (a *Assignment) Rollback(e *Edit) error {
	if e.state != editPending || a.pending != e {
		return ErrStaleEdit
	}
	a.move(e.family, e.to, e.from)
	e.state = editRolledBack
	a.pending = nil
	return nil
}

// move 同时更新映射和两天的人数
func (a *Assignment) move(family, from, to int) {
	size := a.sizes[family]
	a.attendance[from-1] -= size
	a.attendance[to-1] += size
	a.days[family] = to
}
