package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/josh-code/enlight/core/billing"
	"github.com/josh-code/enlight/core/user"
)

func webhookBody(t *testing.T, typ, id string, payload interface{}) []byte {
	t.Helper()
	return marchallObj(t, map[string]interface{}{
		"id":   id,
		"type": typ,
		"data": map[string]interface{}{"object": payload},
	})
}

func checkoutSession(subID, userID string) map[string]interface{} {
	return map[string]interface{}{
		"id":                  "cs_123",
		"client_reference_id": userID,
		"subscription":        map[string]interface{}{"id": subID},
		"customer":            map[string]interface{}{"id": "cus_123"},
		"amount_total":        1999,
		"currency":            "usd",
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	ta := setup(t)
	usr := createUser(t, ta.userRepo, "Student", "student1", "student@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{
			name:     "handled event type",
			body:     webhookBody(t, "checkout.session.completed", "evt_1", checkoutSession("sub_123", usr.ID)),
			wantCode: http.StatusOK,
			wantData: envMsg(t, http.StatusOK, "received"),
		},
		{
			name:     "unknown event type",
			body:     webhookBody(t, "customer.created", "evt_2", map[string]interface{}{"id": "cus_123"}),
			wantCode: http.StatusOK,
			wantData: envMsg(t, http.StatusOK, "received"),
		},
		{
			name:     "handler failure still acknowledged",
			body:     webhookBody(t, "invoice.paid", "evt_3", map[string]interface{}{"id": "in_1"}),
			wantCode: http.StatusOK,
			wantData: envMsg(t, http.StatusOK, "received"),
		},
		{
			name:     "unreadable payload rejected",
			body:     []byte("{not json"),
			wantCode: http.StatusBadRequest,
			wantData: envErr(t, http.StatusBadRequest, "invalid payload"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/billing/webhook", tt.body)
			ta.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestWebhookCheckoutOpensTheGate(t *testing.T) {
	ta := setup(t)
	sess := createQuizSession(t, ta.quizSvc)
	usr := createUser(t, ta.userRepo, "Student", "student1", "student@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	token := getToken(t, ta.conf, usr)

	// gated before checkout
	req, rec := newAuthRequest(http.MethodGet, "/v1/quiz/sessions/"+sess.ID, token)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	// checkout completes via webhook
	req, rec = newRequest(http.MethodPost, "/v1/billing/webhook",
		webhookBody(t, "checkout.session.completed", "evt_1", checkoutSession("sub_123", usr.ID)))
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook failed: code = %v; body %s", rec.Code, rec.Body.String())
	}

	// gate now opens
	req, rec = newAuthRequest(http.MethodGet, "/v1/quiz/sessions/"+sess.ID, token)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("code = %v; body %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookInvoiceRedelivery(t *testing.T) {
	ta := setup(t)
	usr := createUser(t, ta.userRepo, "Student", "student1", "student@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)

	deliver := func(body []byte) {
		req, rec := newRequest(http.MethodPost, "/v1/billing/webhook", body)
		ta.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("webhook failed: code = %v; body %s", rec.Code, rec.Body.String())
		}
	}

	deliver(webhookBody(t, "checkout.session.completed", "evt_1", checkoutSession("sub_123", usr.ID)))

	invoice := map[string]interface{}{
		"id":           "in_1",
		"subscription": map[string]interface{}{"id": "sub_123"},
		"amount_paid":  1999,
		"currency":     "usd",
	}
	deliver(webhookBody(t, "invoice.paid", "evt_2", invoice))
	deliver(webhookBody(t, "invoice.paid", "evt_3", invoice)) // redelivery

	sub, err := ta.billingRepo.GetSubscriptionByStripeID(context.Background(), "sub_123")
	if err != nil {
		t.Fatalf("GetSubscriptionByStripeID() failed: %v", err)
	}
	if sub.TotalPaid != 1999 || sub.InvoiceCount != 1 {
		t.Errorf("totals = %d/%d; want 1999/1", sub.TotalPaid, sub.InvoiceCount)
	}
}

func TestMySubscription(t *testing.T) {
	ta := setup(t)
	usr := createUser(t, ta.userRepo, "Student", "student1", "student@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	token := getToken(t, ta.conf, usr)

	req, rec := newAuthRequest(http.MethodGet, "/v1/subscriptions/me", token)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %v; want %v", rec.Code, http.StatusNotFound)
	}

	createSubscription(t, ta.billingRepo, usr.ID, billing.StatusActive)

	req, rec = newAuthRequest(http.MethodGet, "/v1/subscriptions/me", token)
	ta.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %v; body %s", rec.Code, rec.Body.String())
	}
	var sub billing.Subscription
	decodeEnvelope(t, rec, &sub)
	if sub.UserID != usr.ID || sub.Status != billing.StatusActive {
		t.Errorf("unexpected subscription: %+v", sub)
	}
}

func TestPlanEndpoints(t *testing.T) {
	ta := setup(t)
	student := createUser(t, ta.userRepo, "Student", "student1", "student@test.com", "Str0ngPwd!", []string{user.RoleStudent}, true)
	admin := createUser(t, ta.userRepo, "Admin", "admin1", "admin@test.com", "Str0ngPwd!", []string{user.RoleAdmin}, true)

	planBody := marchallObj(t, billing.UpdatePlan{
		MonthlyPriceID: "price_m",
		MonthlyAmount:  1999,
		YearlyPriceID:  "price_y",
		YearlyAmount:   19990,
		Currency:       "usd",
	})

	tests := []httpTest{
		{
			name:     "students cannot read the plan",
			method:   http.MethodGet,
			token:    getToken(t, ta.conf, student),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "no active plan yet",
			method:   http.MethodGet,
			token:    getToken(t, ta.conf, admin),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "admin sets the plan",
			method:   http.MethodPut,
			token:    getToken(t, ta.conf, admin),
			body:     planBody,
			wantCode: http.StatusOK,
		},
		{
			name:     "plan readable once set",
			method:   http.MethodGet,
			token:    getToken(t, ta.conf, admin),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, "/v1/billing/plan", tt.token, tt.body)
			ta.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
