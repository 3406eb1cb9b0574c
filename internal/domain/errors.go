package domain

import "errors"

var (
	// ErrInvalidInput 表示家庭或偏好数据不合法，在建模之前即被拒绝
	ErrInvalidInput = errors.New("输入数据不合法")
	// ErrInfeasible 表示在给定天数和人数上下限下不存在可行分配
	ErrInfeasible = errors.New("不存在可行分配")
	// ErrOracleFailure 表示外部求解器出错、超时或无法在预算内给出结果
	ErrOracleFailure = errors.New("求解器调用失败")
	// ErrInvariantViolation 表示移动后可行性或成本一致性校验失败，属于内部逻辑错误
	ErrInvariantViolation = errors.New("内部不变量被破坏")
)
