package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/config"
	"github.com/sjperalta/opcost-api/internal/database"
	"github.com/sjperalta/opcost-api/internal/jobs"
	"github.com/sjperalta/opcost-api/internal/middleware"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/services"
	"github.com/sjperalta/opcost-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "handler-test-secret"

type apiEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	owner    models.User
	property models.Property
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)

	cfg := &config.Config{PDFRenderer: config.RendererGoFPDF, Currency: "EUR", JWTSecret: testSecret}
	svcs := services.NewServices(repository.NewRepositories(db), worker, store, cfg, db)

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), NewHandlers(svcs), testSecret)

	env := &apiEnv{router: router, db: db}
	env.owner = models.User{Email: "owner@example.com", FullName: "Olga Owner"}
	require.NoError(t, db.Create(&env.owner).Error)
	env.property = models.Property{Name: "Lindenstraße 4", OwnerID: env.owner.ID}
	require.NoError(t, db.Create(&env.property).Error)

	unitA := models.Unit{PropertyID: env.property.ID, Name: "A", AreaSqm: decimal.NewNullDecimal(decimal.NewFromInt(60))}
	unitB := models.Unit{PropertyID: env.property.ID, Name: "B", AreaSqm: decimal.NewNullDecimal(decimal.NewFromInt(40))}
	require.NoError(t, db.Create(&unitA).Error)
	require.NoError(t, db.Create(&unitB).Error)

	tenantA := models.Tenant{FullName: "Anna Schmidt", Email: "anna@example.com"}
	tenantB := models.Tenant{FullName: "Bernd Weber", Email: "bernd@example.com"}
	require.NoError(t, db.Create(&tenantA).Error)
	require.NoError(t, db.Create(&tenantB).Error)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.RentalContract{TenantID: tenantA.ID, UnitID: unitA.ID, StartDate: start}).Error)
	require.NoError(t, db.Create(&models.RentalContract{TenantID: tenantB.ID, UnitID: unitB.ID, StartDate: start}).Error)

	return env
}

func (e *apiEnv) token(t *testing.T, userID uint, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID:           userID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *apiEnv) do(t *testing.T, token, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func assertDecimal(t *testing.T, want string, got any) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "expected a decimal string, got %v", got)
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(s)), "want %s, got %s", want, s)
}

// createStatement opens the 2023 statement with one insurance item by area
func (e *apiEnv) createStatement(t *testing.T, token string) uint {
	t.Helper()
	w := e.do(t, token, http.MethodPost, "/statements", fmt.Sprintf(`{"statement": {"property_id": %d, "year": 2023}}`, e.property.ID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	statement := decode(t, w)["statement"].(map[string]any)
	id := uint(statement["id"].(float64))

	w = e.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/cost_items", id),
		`{"cost_type": "Gebäudeversicherung", "allocation_key": "area", "amount": "1000.00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return id
}

func TestStatementHandler_RequiresAuth(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, "", http.MethodGet, "/statements", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "", http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "opcost-api", decode(t, w)["service"])
}

func TestStatementHandler_Create(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, env.owner.ID, middleware.RoleLandlord)

	w := env.do(t, token, http.MethodPost, "/statements",
		fmt.Sprintf(`{"property_id": %d, "period_start": "2023-07-01", "period_end": "2024-06-30"}`, env.property.ID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	statement := decode(t, w)["statement"].(map[string]any)
	assert.Equal(t, "draft", statement["status"])
	assert.Equal(t, "2023-07-01", statement["period_start"])
	assert.Equal(t, float64(366), statement["days"])

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"missing period", fmt.Sprintf(`{"property_id": %d}`, env.property.ID), http.StatusUnprocessableEntity, "year"},
		{"bad date", fmt.Sprintf(`{"property_id": %d, "period_start": "01.07.2023", "period_end": "2024-06-30"}`, env.property.ID), http.StatusUnprocessableEntity, "period_start"},
		{"missing property", `{"year": 2023}`, http.StatusUnprocessableEntity, "property_id"},
		{"unknown property", `{"property_id": 999, "year": 2023}`, http.StatusNotFound, ""},
		{"malformed", `{"property_id": "x"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, token, http.MethodPost, "/statements", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.field != "" {
				fields := decode(t, w)["fields"].(map[string]any)
				assert.Contains(t, fields, tt.field)
			}
		})
	}

	body := fmt.Sprintf(`{"property_id": %d, "year": 2023}`, env.property.ID)
	require.Equal(t, http.StatusCreated, env.do(t, token, http.MethodPost, "/statements", body).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, token, http.MethodPost, "/statements", body).Code)
}

func TestStatementHandler_ComputeAndRelease(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, env.owner.ID, middleware.RoleLandlord)
	id := env.createStatement(t, token)

	w := env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/cost_items", id),
		`{"cost_type": "Hauswart", "allocation_key": "rooms", "amount": -5}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := decode(t, w)["fields"].(map[string]any)
	assert.Contains(t, fields, "allocation_key")
	assert.Contains(t, fields, "amount")

	// releasing before computing is a conflict
	w = env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/ready", id), "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/compute", id), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assertDecimal(t, "600", results[0].(map[string]any)["cost_share"])
	assert.Equal(t, false, body["frozen"])

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d/results", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["results"].([]any), 2)

	w = env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/ready", id), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ready", decode(t, w)["statement"].(map[string]any)["status"])

	// a ready statement cannot be deleted
	w = env.do(t, token, http.MethodDelete, fmt.Sprintf("/statements/%d", id), "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/notifications?statement_id=%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	notifications := decode(t, w)["notifications"].([]any)
	require.NotEmpty(t, notifications)
	first := notifications[0].(map[string]any)
	assert.EqualValues(t, id, first["statement_id"])
	notificationID := uint(first["id"].(float64))

	w = env.do(t, token, http.MethodPost, fmt.Sprintf("/notifications/%d/mark_as_read", notificationID), "")
	assert.Equal(t, http.StatusOK, w.Code)

	stranger := env.token(t, env.owner.ID+100, middleware.RoleLandlord)
	w = env.do(t, stranger, http.MethodPost, fmt.Sprintf("/notifications/%d/mark_as_read", notificationID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatementHandler_CostItemLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, env.owner.ID, middleware.RoleLandlord)
	id := env.createStatement(t, token)

	w := env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/cost_items", id),
		`{"cost_item": {"cost_type": "Müllabfuhr", "allocation_key": "Units", "amount": 300}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode(t, w)["cost_item"].(map[string]any)
	itemID := uint(item["id"].(float64))
	assert.Equal(t, "units", item["allocation_key"])

	w = env.do(t, token, http.MethodPut, fmt.Sprintf("/statements/%d/cost_items/%d", id, itemID),
		`{"cost_type": "Müllabfuhr", "allocation_key": "units", "amount": 360}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assertDecimal(t, "1360", decode(t, w)["statement"].(map[string]any)["total_costs"])

	w = env.do(t, token, http.MethodDelete, fmt.Sprintf("/statements/%d/cost_items/%d", id, itemID), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, token, http.MethodDelete, fmt.Sprintf("/statements/%d/cost_items/%d", id, itemID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, token, http.MethodDelete, fmt.Sprintf("/statements/%d/cost_items/abc", id), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatementHandler_OwnerScoping(t *testing.T) {
	env := newAPIEnv(t)
	ownerToken := env.token(t, env.owner.ID, middleware.RoleLandlord)
	id := env.createStatement(t, ownerToken)

	stranger := env.token(t, env.owner.ID+100, middleware.RoleLandlord)
	w := env.do(t, stranger, http.MethodGet, fmt.Sprintf("/statements/%d", id), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, stranger, http.MethodGet, "/statements", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["statements"].([]any))

	w = env.do(t, stranger, http.MethodPost, "/statements", fmt.Sprintf(`{"property_id": %d, "year": 2024}`, env.property.ID))
	assert.Equal(t, http.StatusNotFound, w.Code)

	staff := env.token(t, env.owner.ID+200, middleware.RoleStaff)
	w = env.do(t, staff, http.MethodGet, "/statements?status=draft&year=2023", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["statements"].([]any), 1)

	w = env.do(t, ownerToken, http.MethodGet, "/audits", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, staff, http.MethodGet, fmt.Sprintf("/audits?entity=Statement&entity_id=%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["audits"].([]any))

	w = env.do(t, staff, http.MethodGet, "/jobs/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	worker, ok := decode(t, w)["worker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "idle", worker["state"])
}

func TestDocumentHandler(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, env.owner.ID, middleware.RoleLandlord)
	id := env.createStatement(t, token)

	w := env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/compute", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	resultID := uint(decode(t, w)["results"].([]any)[0].(map[string]any)["id"].(float64))

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d/results/%d/pdf", id, resultID), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "betriebskosten_20230101_20231231_")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d/export?format=csv", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "unit,tenant,contract_id"))

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d/export", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d/export?format=ods", id), "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDeliveryHandler(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, env.owner.ID, middleware.RoleLandlord)
	id := env.createStatement(t, token)

	w := env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/send", id), "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/compute", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	resultID := uint(decode(t, w)["results"].([]any)[0].(map[string]any)["id"].(float64))
	require.Equal(t, http.StatusOK, env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/ready", id), "").Code)

	// no mail provider is configured, so the attempt fails and is logged
	w = env.do(t, token, http.MethodPost, fmt.Sprintf("/statements/%d/results/%d/send", id, resultID), "")
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	delivery := decode(t, w)["delivery"].(map[string]any)
	assert.Equal(t, models.DeliveryStatusFailure, delivery["status"])

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d/deliveries", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["deliveries"].([]any), 1)
	assert.Equal(t, float64(1), body["counts"].(map[string]any)[models.DeliveryStatusFailure])

	w = env.do(t, token, http.MethodGet, fmt.Sprintf("/statements/%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["statement"].(map[string]any)["status"])
}
