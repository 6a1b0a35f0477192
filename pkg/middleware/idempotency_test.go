package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPath = "/api/v1/bookings"
	testBody = `{"event_id":"e1","items":[{"ticket_type_id":"t1","quantity":2}]}`
	testUser = "user-1"
	testKey  = "key-123"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func hashFor(method, path, user, body string) string {
	h := sha256.Sum256([]byte(method + path + user + body))
	return hex.EncodeToString(h[:])
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func setupRouter(cfg *IdempotencyConfig, calls *int, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST(testPath, Idempotency(cfg), func(c *gin.Context) {
		*calls++
		c.Data(status, "application/json", []byte(`{"id":"b1"}`))
	})
	return r
}

func newRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, testPath, strings.NewReader(testBody))
	req.Header.Set(UserIDHeader, testUser)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func TestIdempotency_FirstRequestStoresResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := DefaultIdempotencyConfig(db)
	cfg.Now = func() time.Time { return fixedNow }

	redisKey := IdempotencyKeyPrefix + testKey
	hash := hashFor(http.MethodPost, testPath, testUser, testBody)

	processing := &IdempotencyRecord{Key: testKey, Status: StatusProcessing, RequestHash: hash, CreatedAt: fixedNow}
	mock.ExpectGet(redisKey).RedisNil()
	mock.ExpectSetNX(redisKey, mustJSON(t, processing), cfg.ProcessingTTL).SetVal(true)

	completed := *processing
	completed.Status = StatusCompleted
	completed.ResponseCode = http.StatusCreated
	completed.ResponseBody = `{"id":"b1"}`
	completed.CompletedAt = &fixedNow
	mock.ExpectSet(redisKey, mustJSON(t, &completed), cfg.TTL).SetVal("OK")

	calls := 0
	w := httptest.NewRecorder()
	setupRouter(cfg, &calls, http.StatusCreated).ServeHTTP(w, newRequest(testKey))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := DefaultIdempotencyConfig(db)

	stored := &IdempotencyRecord{
		Key:          testKey,
		Status:       StatusCompleted,
		RequestHash:  hashFor(http.MethodPost, testPath, testUser, testBody),
		ResponseCode: http.StatusCreated,
		ResponseBody: `{"id":"original"}`,
	}
	mock.ExpectGet(IdempotencyKeyPrefix + testKey).SetVal(mustJSON(t, stored))

	calls := 0
	w := httptest.NewRecorder()
	setupRouter(cfg, &calls, http.StatusCreated).ServeHTTP(w, newRequest(testKey))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"id":"original"}`, w.Body.String())
	assert.Equal(t, 0, calls)
}

func TestIdempotency_RejectsConflicts(t *testing.T) {
	tests := []struct {
		name     string
		record   *IdempotencyRecord
		wantCode int
	}{
		{
			name: "key reused with different body",
			record: &IdempotencyRecord{
				Key: testKey, Status: StatusCompleted, RequestHash: "something-else",
			},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "still processing",
			record: &IdempotencyRecord{
				Key: testKey, Status: StatusProcessing,
				RequestHash: hashFor(http.MethodPost, testPath, testUser, testBody),
			},
			wantCode: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			mock.ExpectGet(IdempotencyKeyPrefix + testKey).SetVal(mustJSON(t, tt.record))

			calls := 0
			w := httptest.NewRecorder()
			setupRouter(DefaultIdempotencyConfig(db), &calls, http.StatusCreated).ServeHTTP(w, newRequest(testKey))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, 0, calls)
		})
	}
}

func TestIdempotency_FailsOpenWhenRedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(IdempotencyKeyPrefix + testKey).SetErr(errors.New("connection refused"))

	calls := 0
	w := httptest.NewRecorder()
	setupRouter(DefaultIdempotencyConfig(db), &calls, http.StatusCreated).ServeHTTP(w, newRequest(testKey))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_MissingKey(t *testing.T) {
	db, _ := redismock.NewClientMock()

	t.Run("optional", func(t *testing.T) {
		calls := 0
		w := httptest.NewRecorder()
		setupRouter(DefaultIdempotencyConfig(db), &calls, http.StatusCreated).ServeHTTP(w, newRequest(""))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 1, calls)
	})

	t.Run("required", func(t *testing.T) {
		cfg := DefaultIdempotencyConfig(db)
		cfg.Required = true
		calls := 0
		w := httptest.NewRecorder()
		setupRouter(cfg, &calls, http.StatusCreated).ServeHTTP(w, newRequest(""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, calls)
	})
}

func TestIdempotency_ServerErrorIsNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := DefaultIdempotencyConfig(db)
	cfg.Now = func() time.Time { return fixedNow }

	redisKey := IdempotencyKeyPrefix + testKey
	processing := &IdempotencyRecord{
		Key: testKey, Status: StatusProcessing,
		RequestHash: hashFor(http.MethodPost, testPath, testUser, testBody),
		CreatedAt:   fixedNow,
	}
	mock.ExpectGet(redisKey).RedisNil()
	mock.ExpectSetNX(redisKey, mustJSON(t, processing), cfg.ProcessingTTL).SetVal(true)
	mock.ExpectDel(redisKey).SetVal(1)

	calls := 0
	w := httptest.NewRecorder()
	setupRouter(cfg, &calls, http.StatusInternalServerError).ServeHTTP(w, newRequest(testKey))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
