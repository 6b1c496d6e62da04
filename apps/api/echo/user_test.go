package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/josh-code/enlight/core/user"
)

func TestUserLogin(t *testing.T) {
	ta := setup(t)
	createUser(t, ta.userRepo, "Jane Doe", "janedoe", "jane@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	createUser(t, ta.userRepo, "John Doe", "johndoe", "john@test.com", "Str0ngPwd!", []string{user.RoleStudent}, false)

	tests := []httpTest{
		{
			name:     "login with username",
			body:     marchallObj(t, map[string]string{"username": "janedoe", "password": "Str0ngPwd!"}),
			wantCode: http.StatusOK,
		},
		{
			name:     "login with email",
			body:     marchallObj(t, map[string]string{"username": "jane@test.com", "password": "Str0ngPwd!"}),
			wantCode: http.StatusOK,
		},
		{
			name:     "bad password",
			body:     marchallObj(t, map[string]string{"username": "janedoe", "password": "nope"}),
			wantCode: http.StatusBadRequest,
			wantData: envErr(t, http.StatusBadRequest, "authentication failed"),
		},
		{
			name:     "unknown user",
			body:     marchallObj(t, map[string]string{"username": "ghost", "password": "Str0ngPwd!"}),
			wantCode: http.StatusBadRequest,
			wantData: envErr(t, http.StatusBadRequest, "authentication failed"),
		},
		{
			name:     "deactivated account",
			body:     marchallObj(t, map[string]string{"username": "johndoe", "password": "Str0ngPwd!"}),
			wantCode: http.StatusForbidden,
			wantData: envErr(t, http.StatusForbidden, "account deactivated"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			ta.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var data struct {
					Token string `json:"token"`
				}
				decodeEnvelope(t, rec, &data)
				if data.Token == "" {
					t.Error("want a token in the response")
				}
			}
		})
	}
}

func TestUserRegisterAdminOnly(t *testing.T) {
	ta := setup(t)
	student := createUser(t, ta.userRepo, "Student", "student1", "student@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	admin := createUser(t, ta.userRepo, "Admin", "admin1", "admin@test.com", "Str0ngPwd!", []string{user.RoleAdmin}, true)

	body := marchallObj(t, map[string]interface{}{
		"name":             "New Student",
		"email":            "new@test.com",
		"password":         "Str0ngPwd!",
		"password_confirm": "Str0ngPwd!",
		"roles":            []string{user.RoleStudent},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, ta.conf, student), body)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, ta.conf, admin), body)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
	}
	var usr user.User
	decodeEnvelope(t, rec, &usr)
	if usr.Email != "new@test.com" || usr.ID == "" {
		t.Errorf("unexpected user: %+v", usr)
	}

	// usernames only allow word characters
	bad := marchallObj(t, map[string]interface{}{
		"name":             "Bad Username",
		"username":         "new user",
		"email":            "bad@test.com",
		"password":         "Str0ngPwd!",
		"password_confirm": "Str0ngPwd!",
	})
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, ta.conf, admin), bad)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
	}
	var fields map[string]string
	decodeEnvelope(t, rec, &fields)
	if fields["username"] != "only alphanumeric characters and underscores are allowed" {
		t.Errorf("unexpected field errors: %v", fields)
	}
}

func TestUserRetrieve(t *testing.T) {
	ta := setup(t)
	jane := createUser(t, ta.userRepo, "Jane Doe", "janedoe", "jane@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	john := createUser(t, ta.userRepo, "John Doe", "johndoe", "john@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	admin := createUser(t, ta.userRepo, "Admin", "admin1", "admin@test.com", "Str0ngPwd!", []string{user.RoleAdmin}, true)

	tests := []httpTest{
		{
			name:     "own profile",
			path:     "/v1/users/" + jane.ID,
			token:    getToken(t, ta.conf, jane),
			wantCode: http.StatusOK,
			wantData: envData(t, http.StatusOK, jane),
		},
		{
			name:     "another user's profile is hidden",
			path:     "/v1/users/" + john.ID,
			token:    getToken(t, ta.conf, jane),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "admin sees anyone",
			path:     "/v1/users/" + john.ID,
			token:    getToken(t, ta.conf, admin),
			wantCode: http.StatusOK,
			wantData: envData(t, http.StatusOK, john),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			ta.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
