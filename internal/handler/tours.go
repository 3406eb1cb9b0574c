package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/scheduler"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/utils"
)

type tourRequest struct {
	Name          string          `json:"name" validate:"required,max=100"`
	Description   string          `json:"description" validate:"max=1000"`
	Days          int32           `json:"days" validate:"required,min=1,max=366"`
	MinAttendance int32           `json:"minAttendance" validate:"min=125,max=300"`
	MaxAttendance int32           `json:"maxAttendance" validate:"required,max=300,gtefield=MinAttendance"`
	Families      []domain.Family `json:"families" validate:"required,min=1,dive"`
}

// createTour 校验并保存 tour，校验失败时已经写好了响应
func (h *Handler) createTour(w http.ResponseWriter, r *http.Request, req *tourRequest) {
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	tour := &domain.Tour{
		Name:          req.Name,
		Description:   req.Description,
		Days:          req.Days,
		MinAttendance: req.MinAttendance,
		MaxAttendance: req.MaxAttendance,
		Families:      req.Families,
	}

	// 标签无法表达的约束：日期范围、编号唯一
	if err := utils.ValidateTour(tour); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.repository.InsertTour(tour); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "创建参观活动成功", tour)
}

func (h *Handler) CreateTour(w http.ResponseWriter, r *http.Request) {
	var req tourRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	h.createTour(w, r, &req)
}

// ImportTour 从请求体中的 CSV 偏好表创建 tour，其余字段通过查询参数给出，缺省时使用求解器配置
func (h *Handler) ImportTour(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := tourRequest{
		Name:          query.Get("name"),
		Description:   query.Get("description"),
		Days:          int32(h.config.Solver.Days),
		MinAttendance: int32(h.config.Solver.MinAttendance),
		MaxAttendance: int32(h.config.Solver.MaxAttendance),
	}

	for key, dst := range map[string]*int32{"days": &req.Days, "minAttendance": &req.MinAttendance, "maxAttendance": &req.MaxAttendance} {
		if v := query.Get(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				h.errorResponse(w, r, "参数 "+key+" 必须为整数")
				return
			}
			*dst = int32(n)
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadSize)
	families, err := dataset.ReadFamilies(r.Body)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	req.Families = families

	h.createTour(w, r, &req)
}

func (h *Handler) GetAllTours(w http.ResponseWriter, r *http.Request) {
	tours, err := h.repository.GetAllTours()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取参观活动列表成功", tours)
}

func (h *Handler) GetTour(w http.ResponseWriter, r *http.Request) {
	tour := r.Context().Value(TourCtx).(*domain.Tour)
	h.successResponse(w, r, "获取参观活动成功", tour)
}

// ExportTour 以导入时的 CSV 格式导出偏好表
func (h *Handler) ExportTour(w http.ResponseWriter, r *http.Request) {
	tour := r.Context().Value(TourCtx).(*domain.Tour)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"tour-%d.csv\"", tour.ID))
	w.WriteHeader(http.StatusOK)

	if err := dataset.WriteFamilies(w, tour.Families); err != nil {
		h.logInternalServerError(r, err)
	}
}

func (h *Handler) DeleteTour(w http.ResponseWriter, r *http.Request) {
	tour := r.Context().Value(TourCtx).(*domain.Tour)

	if err := h.repository.DeleteTour(tour.ID); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "删除参观活动成功", nil)
}

// EvaluateAssignment 计算请求体中 family_id,assigned_day 分配表的成本和可行性
func (h *Handler) EvaluateAssignment(w http.ResponseWriter, r *http.Request) {
	tour := r.Context().Value(TourCtx).(*domain.Tour)

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadSize)
	assignments, err := dataset.ReadAssignments(r.Body)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	days, err := utils.AssignmentDays(tour, assignments)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	params := scheduler.DefaultParameters()
	params.Precision = h.config.Solver.AccountingPrecision
	s, err := scheduler.New(params, tour, nil, nil, nil)
	if err != nil {
		// 已保存的 tour 一定是合法的
		h.internalServerError(w, r, err)
		return
	}

	evaluation, err := s.Evaluate(days)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			h.badRequest(w, r, err)
			return
		}
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "评估分配成功", evaluation)
}
