package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/scheduler"
)

// Store 是 RedisSink 用到的 redis 命令，*redis.Client 满足这个接口
type Store interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func movesKey(runID string) string {
	return fmt.Sprintf("run:%s:moves", runID)
}

func statusKey(runID string) string {
	return fmt.Sprintf("run:%s:status", runID)
}

// RedisSink 把每次移动追加到 run:<id>:moves 列表，把最新状态写入 run:<id>:status
//
// 写 redis 失败只记录日志，不影响搜索本身
type RedisSink struct {
	store   Store
	runID   string
	ids     []int32
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedisSink(store Store, runID string, ids []int32, ttl, timeout time.Duration, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{
		store:   store,
		runID:   runID,
		ids:     ids,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *RedisSink) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisSink) Move(rec scheduler.MoveRecord) {
	m := Convert(rec, s.ids)
	payload, err := json.Marshal(m)
	if err != nil {
		s.logger.Error("无法序列化移动记录", "runID", s.runID, "error", err)
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	key := movesKey(s.runID)
	if err := s.store.RPush(ctx, key, payload).Err(); err != nil {
		s.logger.Error("无法写入移动记录", "runID", s.runID, "error", err)
		return
	}
	if err := s.store.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Error("无法设置移动记录的过期时间", "runID", s.runID, "error", err)
	}

	s.setStatus(ctx, map[string]any{
		"state":       scheduler.StateScanning.String(),
		"sweep":       m.Sweep,
		"moves":       m.Accepted,
		"currentCost": m.TotalCost,
		"saved":       m.Improvement,
	})
}

func (s *RedisSink) Finish(sum scheduler.Summary) {
	ctx, cancel := s.opContext()
	defer cancel()

	s.setStatus(ctx, map[string]any{
		"state":       sum.State.String(),
		"sweep":       sum.Sweeps,
		"moves":       sum.Moves,
		"currentCost": sum.FinalCost.Float64(),
		"saved":       (sum.InitialCost - sum.FinalCost).Float64(),
		"interrupted": strconv.FormatBool(sum.Interrupted),
		"finished":    "true",
	})
}

// MarkStatus 在搜索开始之前或失败之后记录运行的状态
func (s *RedisSink) MarkStatus(status domain.RunStatus) {
	ctx, cancel := s.opContext()
	defer cancel()

	s.setStatus(ctx, map[string]any{"status": string(status)})
}

func (s *RedisSink) setStatus(ctx context.Context, fields map[string]any) {
	key := statusKey(s.runID)
	if err := s.store.HSet(ctx, key, fields).Err(); err != nil {
		s.logger.Error("无法写入运行状态", "runID", s.runID, "error", err)
		return
	}
	if err := s.store.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Error("无法设置运行状态的过期时间", "runID", s.runID, "error", err)
	}
}

// ReadMoves 返回下标不小于 from 的移动记录，列表不存在时返回空切片
func ReadMoves(ctx context.Context, store Store, runID string, from int64) ([]domain.MoveRecord, error) {
	if from < 0 {
		from = 0
	}

	values, err := store.LRange(ctx, movesKey(runID), from, -1).Result()
	if err != nil {
		return nil, err
	}

	moves := make([]domain.MoveRecord, 0, len(values))
	for _, v := range values {
		var m domain.MoveRecord
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}

	return moves, nil
}

// ReadStatus 返回运行的最新状态，运行不在缓存中时返回空 map
func ReadStatus(ctx context.Context, store Store, runID string) (map[string]string, error) {
	return store.HGetAll(ctx, statusKey(runID)).Result()
}
