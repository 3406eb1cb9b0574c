package domain

import "time"

type RunStatus string

const (
	RunStatusQueued           RunStatus = "queued"
	RunStatusRunning          RunStatus = "running"
	RunStatusConverged        RunStatus = "converged"
	RunStatusMaxSweepsReached RunStatus = "max_sweeps_reached"
	RunStatusInterrupted      RunStatus = "interrupted"
	RunStatusInfeasible       RunStatus = "infeasible"
	RunStatusFailed           RunStatus = "failed"
)

// Finished 表示这个状态是否为终态
func (s RunStatus) Finished() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning:
		return false
	default:
		return true
	}
}

// RunParameters 是一次优化运行的可调参数，为零值的字段使用配置中的默认值
type RunParameters struct {
	MaxSweeps        int32           `json:"maxSweeps" validate:"min=0,max=1000"`
	Variant          string          `json:"variant" validate:"omitempty,oneof=preference_only soft_smoothing accounting_pairs"`
	MaxRank          int32           `json:"maxRank" validate:"min=0,max=10"`
	OracleTimeout    int32           `json:"oracleTimeout" validate:"min=0"` // 秒
	WarmStartRunID   string          `json:"warmStartRunID" validate:"omitempty,uuid"`
	Locks            []DayAssignment `json:"locks" validate:"dive"`
	SkipOracle       bool            `json:"skipOracle"`
	NotifyOnComplete bool            `json:"notifyOnComplete"`
}

// Run 记录一次优化运行的状态以及最终摘要
type Run struct {
	ID             string        `json:"id"`
	TourID         int64         `json:"tourID"`
	RequestedBy    int64         `json:"requestedBy"`
	Status         RunStatus     `json:"status"`
	Parameters     RunParameters `json:"parameters"`
	OracleStatus   string        `json:"oracleStatus"`
	Degraded       bool          `json:"degraded"`
	Gap            float64       `json:"gap"`
	InitialCost    float64       `json:"initialCost"`
	PreferenceCost float64       `json:"preferenceCost"`
	AccountingCost float64       `json:"accountingCost"`
	FinalCost      float64       `json:"finalCost"`
	Sweeps         int32         `json:"sweeps"`
	Moves          int32         `json:"moves"`
	ElapsedMillis  int64         `json:"elapsedMillis"`
	Feasible       bool          `json:"feasible"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	FinishedAt     *time.Time    `json:"finishedAt"`
	Version        int32         `json:"-"`
}

// MoveRecord 是局部搜索中被接受的一次移动
type MoveRecord struct {
	Sweep       int32         `json:"sweep"`
	FamilyID    int32         `json:"familyID"`
	FromDay     int32         `json:"fromDay"`
	ToDay       int32         `json:"toDay"`
	TotalCost   float64       `json:"totalCost"`
	Improvement float64       `json:"improvement"` // 相对于初始成本的累计节省
	Elapsed     time.Duration `json:"elapsed"`
	Tested      int64         `json:"tested"`
	Feasible    int64         `json:"feasible"`
	Accepted    int64         `json:"accepted"`
}

// OptimizeJob 是通过消息队列发给 worker 的任务
type OptimizeJob struct {
	RunID       string `json:"runID"`
	TourID      int64  `json:"tourID"`
	RequestedBy int64  `json:"requestedBy"`
}
