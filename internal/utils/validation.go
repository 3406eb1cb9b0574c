package utils

import (
	"fmt"
	"slices"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

// ValidateTour 检查标签校验之外的约束：日期范围、人数区间以及家庭编号是否唯一
func ValidateTour(tour *domain.Tour) error {
	if tour.Days < 1 {
		return fmt.Errorf("%w: 天数必须为正数", domain.ErrInvalidInput)
	}
	if tour.MinAttendance > tour.MaxAttendance {
		return fmt.Errorf("%w: 每天人数的下限 %d 不能大于上限 %d", domain.ErrInvalidInput, tour.MinAttendance, tour.MaxAttendance)
	}
	if tour.MinAttendance < domain.AttendanceFloor || tour.MaxAttendance > domain.AttendanceCeiling {
		return fmt.Errorf("%w: 每天人数区间 [%d, %d] 必须在 [%d, %d] 之内", domain.ErrInvalidInput,
			tour.MinAttendance, tour.MaxAttendance, domain.AttendanceFloor, domain.AttendanceCeiling)
	}

	return ValidateFamilies(tour.Families, tour.Days)
}

func ValidateFamilies(families []domain.Family, days int32) error {
	if len(families) == 0 {
		return fmt.Errorf("%w: 没有任何家庭", domain.ErrInvalidInput)
	}

	seen := make(map[int32]bool, len(families))
	for i, family := range families {
		if seen[family.ID] {
			return fmt.Errorf("%w: 家庭编号 %d 重复", domain.ErrInvalidInput, family.ID)
		}
		seen[family.ID] = true

		if family.People <= 0 {
			return fmt.Errorf("%w: 第 %d 个家庭（编号 %d）的人数必须为正数", domain.ErrInvalidInput, i+1, family.ID)
		}
		if len(family.Choices) == 0 || len(family.Choices) > 10 {
			return fmt.Errorf("%w: 家庭 %d 的偏好数量必须在 1 到 10 之间", domain.ErrInvalidInput, family.ID)
		}

		for j, day := range family.Choices {
			if day < 1 || day > days {
				return fmt.Errorf("%w: 家庭 %d 的第 %d 个偏好日期 %d 不在 1 到 %d 之间", domain.ErrInvalidInput, family.ID, j, day, days)
			}
			if slices.Contains(family.Choices[:j], day) {
				return fmt.Errorf("%w: 家庭 %d 的偏好日期 %d 重复", domain.ErrInvalidInput, family.ID, day)
			}
		}
	}

	return nil
}

// AssignmentDays 把按家庭编号给出的分配转换为按 tour.Families 下标排列的日期，每个家庭必须恰好出现一次
func AssignmentDays(tour *domain.Tour, assignments []domain.DayAssignment) ([]int, error) {
	index := make(map[int32]int, len(tour.Families))
	for i, family := range tour.Families {
		index[family.ID] = i
	}

	days := make([]int, len(tour.Families))
	for _, a := range assignments {
		i, ok := index[a.FamilyID]
		if !ok {
			return nil, fmt.Errorf("%w: 家庭 %d 不存在", domain.ErrInvalidInput, a.FamilyID)
		}
		if days[i] != 0 {
			return nil, fmt.Errorf("%w: 家庭 %d 被分配了不止一次", domain.ErrInvalidInput, a.FamilyID)
		}
		if a.AssignedDay < 1 || a.AssignedDay > tour.Days {
			return nil, fmt.Errorf("%w: 家庭 %d 被分到了不存在的第 %d 天", domain.ErrInvalidInput, a.FamilyID, a.AssignedDay)
		}
		days[i] = int(a.AssignedDay)
	}

	for i, d := range days {
		if d == 0 {
			return nil, fmt.Errorf("%w: 家庭 %d 没有被分配", domain.ErrInvalidInput, tour.Families[i].ID)
		}
	}

	return days, nil
}

// ValidateAssignment 对最终结果做一次独立于搜索过程的检查：每个家庭恰好一天，每天人数都在区间内
func ValidateAssignment(days []int, sizes []int, numDays, minAttendance, maxAttendance int) error {
	if len(days) != len(sizes) {
		return fmt.Errorf("%w: 分配了 %d 个家庭，但一共有 %d 个家庭", domain.ErrInvariantViolation, len(days), len(sizes))
	}

	attendance := make([]int, numDays)
	for f, d := range days {
		if d < 1 || d > numDays {
			return fmt.Errorf("%w: 家庭 %d 被分到了第 %d 天", domain.ErrInvariantViolation, f, d)
		}
		attendance[d-1] += sizes[f]
	}

	for i, n := range attendance {
		if n < minAttendance || n > maxAttendance {
			return fmt.Errorf("%w: 第 %d 天的人数 %d 不在 [%d, %d] 内", domain.ErrInvariantViolation, i+1, n, minAttendance, maxAttendance)
		}
	}

	return nil
}

// ToAssignments 把按下标排列的日期转换回按家庭编号排序的结果行
func ToAssignments(families []domain.Family, days []int) []domain.DayAssignment {
	out := make([]domain.DayAssignment, len(families))
	for i, family := range families {
		out[i] = domain.DayAssignment{FamilyID: family.ID, AssignedDay: int32(days[i])}
	}
	slices.SortFunc(out, func(a, b domain.DayAssignment) int {
		return int(a.FamilyID) - int(b.FamilyID)
	})
	return out
}
