package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

var (
	ErrInvalidDay      = errors.New("无效的日期")
	ErrInvalidFamily   = errors.New("无效的家庭编号")
	ErrLockedFamily    = errors.New("家庭已被锁定在当前日期")
	ErrPendingEdit     = errors.New("存在尚未提交或回滚的试探性移动")
	ErrStaleEdit       = errors.New("试探性移动已经结束")
	ErrInfeasibleStart = errors.New("初始分配不满足容量约束")
)

// InvariantViolationError 在移动提交后的校验失败时返回，附带完整的移动历史
type InvariantViolationError struct {
	Reason   string
	Sweep    int
	FamilyID int
	History  []MoveRecord
}

func (e *InvariantViolationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: 第 %d 轮处理家庭 %d 时%s", domain.ErrInvariantViolation, e.Sweep, e.FamilyID, e.Reason)
	if len(e.History) > 0 {
		last := e.History[len(e.History)-1]
		fmt.Fprintf(&sb, "（已接受 %d 次移动，最后一次为家庭 %d: %d -> %d）", len(e.History), last.FamilyID, last.FromDay, last.ToDay)
	}
	return sb.String()
}

func (e *InvariantViolationError) Unwrap() error {
	return domain.ErrInvariantViolation
}
