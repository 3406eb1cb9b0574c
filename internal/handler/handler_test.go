package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{queue: key, msg: msg})
	return nil
}

// fakeStore 只实现读取进度需要的 redis 命令
type fakeStore struct {
	lists  map[string][]string
	hashes map[string]map[string]string
}

func (s *fakeStore) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, errors.New("不应写入"))
}

func (s *fakeStore) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	list := s.lists[key]
	if start >= int64(len(list)) {
		return redis.NewStringSliceResult([]string{}, nil)
	}
	return redis.NewStringSliceResult(list[start:], nil)
}

func (s *fakeStore) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, errors.New("不应写入"))
}

func (s *fakeStore) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	out := make(map[string]string)
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (s *fakeStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

type testEnv struct {
	handler   *Handler
	mock      sqlmock.Sqlmock
	publisher *fakePublisher
	store     *fakeStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Server.MaxUploadSize = 1 << 20
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 5
	cfg.InitialAdmin.Username = "admin"
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Expiration = 1
	cfg.RabbitMQ.PublishTimeout = 1
	cfg.RabbitMQ.JobQueue = "optimize_queue"
	cfg.RabbitMQ.MailQueue = "email_queue"
	cfg.Redis.OperationTimeout = 1
	cfg.Solver.Days = 100
	cfg.Solver.MinAttendance = 125
	cfg.Solver.MaxAttendance = 300
	cfg.Solver.AccountingPrecision = 6
	cfg.NewUser.PasswordLength = 12

	publisher := &fakePublisher{}
	store := &fakeStore{lists: make(map[string][]string), hashes: make(map[string]map[string]string)}

	h, err := NewHandler(cfg, repository.NewRepository(cfg, db), publisher, store)
	require.NoError(t, err)
	h.RegisterRoutes()

	return &testEnv{handler: h, mock: mock, publisher: publisher, store: store}
}

func (e *testEnv) token(t *testing.T, userID int64, role domain.Role) *http.Cookie {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AuthClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Subject:   strconv.FormatInt(userID, 10),
		},
	})
	ss, err := token.SignedString([]byte(e.handler.config.JWT.Secret))
	require.NoError(t, err)

	return &http.Cookie{Name: tokenCookieName, Value: ss}
}

func (e *testEnv) do(method, path string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.Mux.ServeHTTP(rec, req)
	return rec
}

type testResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) testResponse {
	t.Helper()

	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

var userColumns = []string{"id", "username", "password_hash", "full_name", "email", "role", "is_active", "created_at", "version"}

var runColumns = []string{
	"id", "tour_id", "requested_by", "status", "parameters", "oracle_status", "degraded", "gap",
	"initial_cost", "preference_cost", "accounting_cost", "final_cost", "sweeps", "moves", "elapsed_ms",
	"feasible", "error", "created_at", "finished_at", "version",
}

func expectUserByID(mock sqlmock.Sqlmock, id int64, role domain.Role, active bool) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(id, "zhangsan", "hash", "张三", "zs@example.com", string(role), active, time.Now(), 1))
}

// expectTour 模拟一个 2 天、每天 125 到 300 人的参观活动，两个家庭分别为 150 人和 160 人
func expectTour(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM tours WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "days", "min_attendance", "max_attendance", "created_at", "version"}).
			AddRow("小型参观", "", 2, 125, 300, time.Now(), 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM families f")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"family_id", "people", "contact_name", "contact_handle", "day"}).
			AddRow(0, 150, "", "", 1).
			AddRow(0, 150, "", "", 2).
			AddRow(1, 160, "", "", 2).
			AddRow(1, 160, "", "", 1))
}

func expectRun(mock sqlmock.Sqlmock, id string, status domain.RunStatus) {
	var finishedAt any
	if status.Finished() {
		finishedAt = time.Now()
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(runColumns).AddRow(
			id, 1, 7, string(status), `{"maxSweeps":10}`, "", false, 0.0,
			0.0, 0.0, 0.0, 0.0, 0, 0, 0,
			status.Finished(), "", time.Now(), finishedAt, 1,
		))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	env.mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("zhangsan").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(7, "zhangsan", string(hash), "张三", "zs@example.com", "规划员", true, time.Now(), 1))

	rec := env.do(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"zhangsan","password":"password123"}`), nil)
	resp := decode(t, rec)
	require.True(t, resp.Success, resp.Message)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// 密码哈希不会出现在响应中
	assert.NotContains(t, string(resp.Data), string(hash))

	env.mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("zhangsan").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(7, "zhangsan", string(hash), "张三", "zs@example.com", "规划员", true, time.Now(), 1))

	resp = decode(t, env.do(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"zhangsan","password":"wrong"}`), nil))
	assert.False(t, resp.Success)
	assert.Equal(t, "用户名不存在或密码错误", resp.Message)

	env.mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("lisi").
		WillReturnRows(sqlmock.NewRows(userColumns))

	resp = decode(t, env.do(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"lisi","password":"password123"}`), nil))
	assert.False(t, resp.Success)
	assert.Equal(t, "用户名不存在或密码错误", resp.Message)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := decode(t, env.do(http.MethodGet, "/tours", nil, nil))
	assert.False(t, resp.Success)
	assert.Equal(t, "用户未登录", resp.Message)

	resp = decode(t, env.do(http.MethodGet, "/tours", nil, &http.Cookie{Name: tokenCookieName, Value: "garbage"}))
	assert.False(t, resp.Success)
	assert.Equal(t, "无效的令牌", resp.Message)

	// 规划员不能创建用户
	resp = decode(t, env.do(http.MethodPost, "/users", strings.NewReader(`{}`), env.token(t, 7, domain.RolePlanner)))
	assert.False(t, resp.Success)
	assert.Equal(t, "权限不足", resp.Message)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateUserPublishesMail(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_active", "created_at", "version"}).AddRow(9, true, time.Now(), 1))

	body := `{"username":"wangwu","fullName":"王五","email":"ww@example.com","role":"规划员"}`
	resp := decode(t, env.do(http.MethodPost, "/users", strings.NewReader(body), env.token(t, 1, domain.RoleAdmin)))
	require.True(t, resp.Success, resp.Message)

	require.Len(t, env.publisher.messages, 1)
	assert.Equal(t, "email_queue", env.publisher.messages[0].queue)

	var msg struct {
		Type string                    `json:"type"`
		To   string                    `json:"to"`
		Data domain.CreateUserMailData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.publisher.messages[0].msg.Body, &msg))
	assert.Equal(t, domain.MailTypeCreateUser, msg.Type)
	assert.Equal(t, "ww@example.com", msg.To)
	assert.Len(t, []rune(msg.Data.Password), 12)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateTour(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tours")).
		WithArgs("春季参观", "", int32(2), int32(125), int32(300)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "version"}).AddRow(3, time.Now(), 1))
	families := env.mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO families"))
	choices := env.mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO family_choices"))
	families.ExpectExec().WithArgs(int64(3), int32(0), int32(4), "", "").WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(3), int32(0), 0, int32(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	body := `{"name":"春季参观","days":2,"minAttendance":125,"maxAttendance":300,"families":[{"familyID":0,"people":4,"choices":[2]}]}`
	resp := decode(t, env.do(http.MethodPost, "/tours", strings.NewReader(body), cookie))
	require.True(t, resp.Success, resp.Message)

	var tour domain.Tour
	require.NoError(t, json.Unmarshal(resp.Data, &tour))
	assert.Equal(t, int64(3), tour.ID)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateTourRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)

	tests := []struct {
		name string
		body string
	}{
		{"不是 JSON", `{`},
		{"缺少名称", `{"days":2,"minAttendance":125,"maxAttendance":300,"families":[{"familyID":0,"people":4,"choices":[2]}]}`},
		{"下限大于上限", `{"name":"a","days":2,"minAttendance":250,"maxAttendance":200,"families":[{"familyID":0,"people":4,"choices":[2]}]}`},
		{"下限低于 125", `{"name":"a","days":2,"minAttendance":1,"maxAttendance":300,"families":[{"familyID":0,"people":4,"choices":[2]}]}`},
		{"上限超过 300", `{"name":"a","days":2,"minAttendance":125,"maxAttendance":400,"families":[{"familyID":0,"people":4,"choices":[2]}]}`},
		{"偏好越界", `{"name":"a","days":2,"minAttendance":125,"maxAttendance":300,"families":[{"familyID":0,"people":4,"choices":[3]}]}`},
		{"编号重复", `{"name":"a","days":2,"minAttendance":125,"maxAttendance":300,"families":[{"familyID":0,"people":4,"choices":[1]},{"familyID":0,"people":2,"choices":[2]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode(t, env.do(http.MethodPost, "/tours", strings.NewReader(tt.body), cookie))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}

	// 校验失败时不会访问数据库
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestImportTour(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tours")).
		WithArgs("导入", "", int32(3), int32(125), int32(300)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "version"}).AddRow(4, time.Now(), 1))
	families := env.mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO families"))
	choices := env.mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO family_choices"))
	families.ExpectExec().WithArgs(int64(4), int32(0), int32(2), "", "").WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(4), int32(0), 0, int32(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(4), int32(0), 1, int32(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	families.ExpectExec().WithArgs(int64(4), int32(1), int32(5), "", "").WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(4), int32(1), 0, int32(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	csv := "family_id,choice_0,choice_1,n_people\n0,3,1,2\n1,2,,5\n"
	resp := decode(t, env.do(http.MethodPost, "/tours/import?name=%E5%AF%BC%E5%85%A5&days=3&minAttendance=125&maxAttendance=300", strings.NewReader(csv), env.token(t, 1, domain.RoleAdmin)))
	require.True(t, resp.Success, resp.Message)

	resp = decode(t, env.do(http.MethodPost, "/tours/import?name=%E5%AF%BC%E5%85%A5&days=x", strings.NewReader(csv), env.token(t, 1, domain.RoleAdmin)))
	assert.False(t, resp.Success)
	assert.Equal(t, "参数 days 必须为整数", resp.Message)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestExportTour(t *testing.T) {
	env := newTestEnv(t)

	expectTour(env.mock, 1)
	rec := env.do(http.MethodGet, "/tours/1/export", nil, env.token(t, 7, domain.RolePlanner))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "family_id,choice_0,"))
	assert.True(t, strings.HasSuffix(lines[0], ",n_people"))
	assert.Equal(t, "0,1,2,,,,,,,,,150", lines[1])
	assert.Equal(t, "1,2,1,,,,,,,,,160", lines[2])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestEvaluateAssignment(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)

	expectTour(env.mock, 1)
	resp := decode(t, env.do(http.MethodPost, "/tours/1/evaluate", strings.NewReader("family_id,assigned_day\n0,1\n1,2\n"), cookie))
	require.True(t, resp.Success, resp.Message)

	var ev struct {
		Feasible   bool  `json:"feasible"`
		Violations []int `json:"violations"`
		Attendance []int `json:"attendance"`
		Breakdown  struct {
			Preference float64 `json:"preference"`
		} `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &ev))
	assert.True(t, ev.Feasible)
	assert.Empty(t, ev.Violations)
	assert.Equal(t, []int{150, 160}, ev.Attendance)
	assert.Zero(t, ev.Breakdown.Preference)

	// 两个家庭挤在同一天，第 1 天超过上限，第 2 天人数为 0
	expectTour(env.mock, 1)
	resp = decode(t, env.do(http.MethodPost, "/tours/1/evaluate", strings.NewReader("family_id,assigned_day\n0,1\n1,1\n"), cookie))
	require.True(t, resp.Success, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &ev))
	assert.False(t, ev.Feasible)
	assert.Equal(t, []int{1, 2}, ev.Violations)

	expectTour(env.mock, 1)
	resp = decode(t, env.do(http.MethodPost, "/tours/1/evaluate", strings.NewReader("family_id,assigned_day\n0,1\n"), cookie))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "没有被分配")

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)

	expectTour(env.mock, 1)
	expectUserByID(env.mock, 7, domain.RolePlanner, true)
	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs(sqlmock.AnyArg(), int64(1), int64(7), domain.RunStatusQueued, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "version"}).AddRow(time.Now(), 1))

	body := `{"maxSweeps":5,"variant":"soft_smoothing","locks":[{"familyID":1,"assignedDay":2}]}`
	resp := decode(t, env.do(http.MethodPost, "/tours/1/runs", strings.NewReader(body), cookie))
	require.True(t, resp.Success, resp.Message)

	var run domain.Run
	require.NoError(t, json.Unmarshal(resp.Data, &run))
	assert.NoError(t, uuid.Validate(run.ID))
	assert.Equal(t, domain.RunStatusQueued, run.Status)

	require.Len(t, env.publisher.messages, 1)
	assert.Equal(t, "optimize_queue", env.publisher.messages[0].queue)
	assert.Equal(t, uint8(amqp.Persistent), env.publisher.messages[0].msg.DeliveryMode)

	var job domain.OptimizeJob
	require.NoError(t, json.Unmarshal(env.publisher.messages[0].msg.Body, &job))
	assert.Equal(t, domain.OptimizeJob{RunID: run.ID, TourID: 1, RequestedBy: 7}, job)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateRunRejectsBadLocks(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"家庭不存在", `{"locks":[{"familyID":99,"assignedDay":1}]}`, "锁定的家庭 99 不存在"},
		{"重复锁定", `{"locks":[{"familyID":0,"assignedDay":1},{"familyID":0,"assignedDay":2}]}`, "家庭 0 被锁定了不止一次"},
		{"日期越界", `{"locks":[{"familyID":0,"assignedDay":3}]}`, "家庭 0 被锁定在不存在的第 3 天"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectTour(env.mock, 1)
			expectUserByID(env.mock, 7, domain.RolePlanner, true)

			resp := decode(t, env.do(http.MethodPost, "/tours/1/runs", strings.NewReader(tt.body), cookie))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}

	assert.Empty(t, env.publisher.messages)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateRunInactiveUser(t *testing.T) {
	env := newTestEnv(t)

	expectTour(env.mock, 1)
	expectUserByID(env.mock, 7, domain.RolePlanner, false)

	resp := decode(t, env.do(http.MethodPost, "/tours/1/runs", strings.NewReader(`{}`), env.token(t, 7, domain.RolePlanner)))
	assert.False(t, resp.Success)
	assert.Equal(t, "您的账号已被停用", resp.Message)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetRunProgressFromRedis(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)
	runID := uuid.NewString()

	for i := 1; i <= 3; i++ {
		b, err := json.Marshal(domain.MoveRecord{Sweep: 1, FamilyID: int32(i), FromDay: 1, ToDay: 2})
		require.NoError(t, err)
		env.store.lists["run:"+runID+":moves"] = append(env.store.lists["run:"+runID+":moves"], string(b))
	}

	expectRun(env.mock, runID, domain.RunStatusRunning)
	resp := decode(t, env.do(http.MethodGet, "/runs/"+runID+"/progress?from=1", nil, cookie))
	require.True(t, resp.Success, resp.Message)

	var progress struct {
		Status domain.RunStatus    `json:"status"`
		Moves  []domain.MoveRecord `json:"moves"`
		Next   int                 `json:"next"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.Equal(t, domain.RunStatusRunning, progress.Status)
	require.Len(t, progress.Moves, 2)
	assert.Equal(t, int32(2), progress.Moves[0].FamilyID)
	assert.Equal(t, 3, progress.Next)

	expectRun(env.mock, runID, domain.RunStatusRunning)
	resp = decode(t, env.do(http.MethodGet, "/runs/"+runID+"/progress?from=-1", nil, cookie))
	assert.False(t, resp.Success)

	resp = decode(t, env.do(http.MethodGet, "/runs/not-a-uuid/progress", nil, cookie))
	assert.False(t, resp.Success)
	assert.Equal(t, "运行ID无效", resp.Message)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetRunWithLiveStatus(t *testing.T) {
	env := newTestEnv(t)
	runID := uuid.NewString()
	env.store.hashes["run:"+runID+":status"] = map[string]string{"state": "scanning", "sweep": "2"}

	expectRun(env.mock, runID, domain.RunStatusRunning)
	resp := decode(t, env.do(http.MethodGet, "/runs/"+runID, nil, env.token(t, 7, domain.RolePlanner)))
	require.True(t, resp.Success, resp.Message)

	var run struct {
		ID   string            `json:"id"`
		Live map[string]string `json:"live"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &run))
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, "2", run.Live["sweep"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetRunAssignment(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.token(t, 7, domain.RolePlanner)
	runID := uuid.NewString()

	expectRun(env.mock, runID, domain.RunStatusConverged)
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM run_assignments WHERE run_id = $1")).
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"family_id", "assigned_day"}).AddRow(0, 1).AddRow(1, 2))

	rec := env.do(http.MethodGet, "/runs/"+runID+"/assignment", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "family_id,assigned_day\n0,1\n1,2\n", rec.Body.String())

	// 还在运行的任务没有结果可以下载
	expectRun(env.mock, runID, domain.RunStatusRunning)
	resp := decode(t, env.do(http.MethodGet, "/runs/"+runID+"/assignment", nil, cookie))
	assert.False(t, resp.Success)
	assert.Equal(t, "运行尚未结束", resp.Message)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetMyRuns(t *testing.T) {
	env := newTestEnv(t)
	runID := uuid.NewString()

	expectUserByID(env.mock, 7, domain.RolePlanner, true)
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE requested_by = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(runColumns).AddRow(
			runID, 1, 7, string(domain.RunStatusConverged), `{}`, "optimal", false, 0.0,
			0.0, 0.0, 0.0, 0.0, 1, 0, 12,
			true, "", time.Now(), time.Now(), 1,
		))

	resp := decode(t, env.do(http.MethodGet, "/my-info/runs", nil, env.token(t, 7, domain.RolePlanner)))
	require.True(t, resp.Success, resp.Message)

	var runs []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "converged", runs[0].Status)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
