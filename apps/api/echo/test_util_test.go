package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/josh-code/enlight/apps/api/echo"
	"github.com/josh-code/enlight/core"
	"github.com/josh-code/enlight/core/billing"
	"github.com/josh-code/enlight/core/quiz"
	"github.com/josh-code/enlight/core/user"
	emailsvc "github.com/josh-code/enlight/services/email"
	logsvc "github.com/josh-code/enlight/services/logger"
	notifysvc "github.com/josh-code/enlight/services/notifier"
	dummydb "github.com/josh-code/enlight/storage/database/dummy"
)

type testApp struct {
	conf        *core.Config
	app         echoapi.Server
	userRepo    user.Repository
	userSvc     user.ServiceInterface
	quizSvc     quiz.ServiceInterface
	billingRepo billing.Repository
	billingSvc  billing.ServiceInterface
}

func newTestConfig() *core.Config {
	return &core.Config{
		TestMode:         true,
		AppName:          "Enlight",
		SecretKey:        "secret",
		FrontendBaseURL:  "http://localhost:8080",
		DefaultFromEmail: mail.Address{Name: "Enlight", Address: "noreply@localhost"},
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
	}
}

// setup builds a full server on in-memory repos; depsMods may swap individual
// dependencies before the server is constructed.
func setup(t *testing.T, depsMods ...func(*echoapi.ServerDeps)) *testApp {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}

	conf := newTestConfig()
	logger := logsvc.NewNopLogger()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	notifier := notifysvc.NewConsoleNotifierMock()

	userRepo := dummydb.NewUserRepository(db)
	userSvc := user.NewService(userRepo, mailSvc, conf)
	quizSvc := quiz.NewService(dummydb.NewQuizRepository(db))
	billingRepo := dummydb.NewBillingRepository(db)
	billingSvc := billing.NewService(billingRepo, logger, notifier, mailSvc, conf)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	deps := echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    userSvc,
		QuizSvc:    quizSvc,
		BillingSvc: billingSvc,
		Validate:   validate,
		Translator: translator,
	}
	for _, mod := range depsMods {
		mod(&deps)
	}
	app := echoapi.NewServer(deps)

	return &testApp{
		conf:        conf,
		app:         app,
		userRepo:    userRepo,
		userSvc:     userSvc,
		quizSvc:     quizSvc,
		billingRepo: billingRepo,
		billingSvc:  billingSvc,
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()
	claims := echoapi.GetUserClaims(conf, usr)
	token, err := echoapi.GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func envData(t *testing.T, code int, data interface{}) []byte {
	t.Helper()
	return marchallObj(t, echoapi.Envelope{Success: true, Code: code, Data: data})
}

func envMsg(t *testing.T, code int, msg string) []byte {
	t.Helper()
	return marchallObj(t, echoapi.Envelope{Success: true, Code: code, Message: msg})
}

func envErr(t *testing.T, code int, msg string) []byte {
	t.Helper()
	return marchallObj(t, echoapi.Envelope{Success: false, Code: code, Message: msg})
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// decodeEnvelope unmarshals the response envelope and its data payload into dst.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) echoapi.Envelope {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decodeEnvelope() failed: %v; body %s", err, rec.Body.String())
	}
	if dst != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			t.Fatalf("decodeEnvelope() data failed: %v; data %s", err, string(env.Data))
		}
	}
	return echoapi.Envelope{Success: env.Success, Code: env.Code, Message: env.Message}
}

func createUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func createQuizSession(t *testing.T, svc quiz.ServiceInterface) quiz.Session {
	t.Helper()
	opts := []quiz.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}
	sess, err := svc.CreateSession(context.Background(), quiz.NewSession{
		CourseID: "crs-001",
		Title:    "Intro",
		Questions: []quiz.NewQuestion{
			{Text: "Q1", Options: opts, CorrectID: "a"},
			{Text: "Q2", Options: opts, CorrectID: "b"},
		},
	})
	if err != nil {
		t.Fatalf("createQuizSession() failed: %v", err)
	}
	return sess
}

func createSubscription(t *testing.T, repo billing.Repository, userID string, status billing.Status) billing.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub, err := repo.UpsertSubscription(context.Background(), billing.Subscription{
		UserID:             userID,
		StripeID:           "sub_" + userID,
		CustomerID:         "cus_" + userID,
		Status:             status,
		Plan:               billing.PlanMonthly,
		PriceID:            "price_m",
		Amount:             1999,
		Currency:           "usd",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		t.Fatalf("createSubscription() failed: %v", err)
	}
	return sub
}
