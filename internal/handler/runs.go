package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/progress"
)

// checkRunParameters 检查标签无法表达的参数约束，返回的错误可以直接展示给用户
func (h *Handler) checkRunParameters(tour *domain.Tour, params *domain.RunParameters) error {
	ids := make(map[int32]bool, len(tour.Families))
	for _, family := range tour.Families {
		ids[family.ID] = true
	}

	locked := make(map[int32]bool, len(params.Locks))
	for _, lock := range params.Locks {
		if !ids[lock.FamilyID] {
			return fmt.Errorf("锁定的家庭 %d 不存在", lock.FamilyID)
		}
		if locked[lock.FamilyID] {
			return fmt.Errorf("家庭 %d 被锁定了不止一次", lock.FamilyID)
		}
		if lock.AssignedDay < 1 || lock.AssignedDay > tour.Days {
			return fmt.Errorf("家庭 %d 被锁定在不存在的第 %d 天", lock.FamilyID, lock.AssignedDay)
		}
		locked[lock.FamilyID] = true
	}

	if params.WarmStartRunID == "" {
		return nil
	}

	warm, err := h.repository.GetRunByID(params.WarmStartRunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("热启动的运行记录不存在")
		}
		return err
	}
	if warm.TourID != tour.ID {
		return errors.New("热启动的运行记录不属于这个参观活动")
	}
	if !warm.Status.Finished() || !warm.Feasible {
		return errors.New("热启动的运行记录没有可行的分配")
	}

	return nil
}

func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	tour := r.Context().Value(TourCtx).(*domain.Tour)
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)

	var params domain.RunParameters
	if err := h.readJSON(w, r, &params); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(params); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.checkRunParameters(tour, &params); err != nil {
		h.badRequest(w, r, err)
		return
	}

	run := &domain.Run{
		ID:          uuid.NewString(),
		TourID:      tour.ID,
		RequestedBy: myInfo.ID,
		Status:      domain.RunStatusQueued,
		Parameters:  params,
	}

	if err := h.repository.InsertRun(run); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	job := domain.OptimizeJob{RunID: run.ID, TourID: tour.ID, RequestedBy: myInfo.ID}
	if err := h.publish(h.config.RabbitMQ.JobQueue, job); err != nil {
		// 任务没有进入队列，直接把运行标记为失败，避免它一直处于排队状态
		run.Status = domain.RunStatusFailed
		run.Error = "无法提交优化任务"
		if ferr := h.repository.FinishRun(run, nil, nil); ferr != nil {
			h.logInternalServerError(r, ferr)
		}
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "已提交优化任务", run)
}

func (h *Handler) GetTourRuns(w http.ResponseWriter, r *http.Request) {
	tour := r.Context().Value(TourCtx).(*domain.Tour)

	runs, err := h.repository.GetRunsByTourID(tour.ID)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取运行记录成功", runs)
}

func (h *Handler) redisContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(h.config.Redis.OperationTimeout)*time.Second)
}

type runResponse struct {
	*domain.Run
	Live map[string]string `json:"live,omitempty"` // 运行中的实时状态
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run := r.Context().Value(RunCtx).(*domain.Run)
	resp := runResponse{Run: run}

	if !run.Status.Finished() {
		ctx, cancel := h.redisContext()
		defer cancel()

		live, err := progress.ReadStatus(ctx, h.progressStore, run.ID)
		if err != nil {
			h.internalServerError(w, r, err)
			return
		}
		resp.Live = live
	}

	h.successResponse(w, r, "获取运行记录成功", resp)
}

// GetRunProgress 返回序号不小于 from 的移动记录，运行中的记录来自 redis，结束后来自数据库
func (h *Handler) GetRunProgress(w http.ResponseWriter, r *http.Request) {
	run := r.Context().Value(RunCtx).(*domain.Run)

	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.errorResponse(w, r, "参数 from 必须为非负整数")
			return
		}
		from = n
	}

	var moves []domain.MoveRecord
	var err error
	if run.Status.Finished() {
		moves, err = h.repository.GetRunMoves(run.ID, from)
	} else {
		ctx, cancel := h.redisContext()
		defer cancel()
		moves, err = progress.ReadMoves(ctx, h.progressStore, run.ID, int64(from))
	}
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取运行进度成功", struct {
		Status domain.RunStatus    `json:"status"`
		Moves  []domain.MoveRecord `json:"moves"`
		Next   int                 `json:"next"`
	}{
		Status: run.Status,
		Moves:  moves,
		Next:   from + len(moves),
	})
}

// GetRunAssignment 以 family_id,assigned_day 的 CSV 格式返回最终分配
func (h *Handler) GetRunAssignment(w http.ResponseWriter, r *http.Request) {
	run := r.Context().Value(RunCtx).(*domain.Run)

	if !run.Status.Finished() {
		h.errorResponse(w, r, "运行尚未结束")
		return
	}

	assignments, err := h.repository.GetRunAssignments(run.ID)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	if len(assignments) == 0 {
		h.errorResponse(w, r, "该运行没有可行的分配")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"run-%s.csv\"", run.ID))
	w.WriteHeader(http.StatusOK)

	if err := dataset.WriteAssignments(w, assignments); err != nil {
		// 响应头已经发出，只能记录日志
		h.logInternalServerError(r, err)
	}
}
