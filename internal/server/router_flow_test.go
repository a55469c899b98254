package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
)

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: shade, G: shade, B: shade, A: 255})
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buffer.Bytes()
}

func TestSignupLoginAndExpiry(t *testing.T) {
	server := newTestServer(t)

	signup := server.signup(t, "Ada", "Ada@Example.com", "correct-horse")
	if signup.User.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", signup.User.Email)
	}
	if signup.ExpiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("unexpected expires_in %d", signup.ExpiresIn)
	}

	server.clock.Advance(time.Second)
	recorder := server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	login := decodeSession(t, recorder)
	if login.Token == signup.Token {
		t.Fatalf("expected a fresh token on login")
	}
	if login.User.ID != signup.User.ID {
		t.Fatalf("login resolved a different user")
	}

	profile := server.do(t, http.MethodGet, "/api/profile", login.Token, nil)
	if profile.Code != http.StatusOK {
		t.Fatalf("profile failed with %d", profile.Code)
	}
	if strings.Contains(profile.Body.String(), "password") {
		t.Fatalf("profile leaked credential material: %s", profile.Body.String())
	}

	server.clock.Advance(time.Hour + time.Second)
	for _, token := range []string{signup.Token, login.Token} {
		expired := server.do(t, http.MethodGet, "/api/profile", token, nil)
		if expired.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 after expiry, got %d", expired.Code)
		}
	}
}

func TestSignupConflictsAndValidation(t *testing.T) {
	server := newTestServer(t)
	server.signup(t, "Ada", "ada@example.com", "correct-horse")

	duplicate := server.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"name": "Other", "email": "ADA@example.com", "password": "another-pass"})
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", duplicate.Code)
	}
	if payload := decodeError(t, duplicate); payload.Error != "already_exists" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	short := server.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"name": "Bob", "email": "bob@example.com", "password": "short"})
	if short.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", short.Code)
	}
	if payload := decodeError(t, short); payload.Error != "validation_failed" || !containsFold(payload.Message, "password") {
		t.Fatalf("unexpected payload %+v", payload)
	}

	malformed := server.do(t, http.MethodPost, "/api/auth/signup", "", "not an object")
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", malformed.Code)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	server := newTestServer(t)
	server.signup(t, "Ada", "ada@example.com", "correct-horse")

	wrongPassword := server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-horse"})
	unknownEmail := server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "wrong-horse"})

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("login failures differ: %q vs %q", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestGoogleCallbackCreatesAndLinksAccounts(t *testing.T) {
	server := newTestServer(t)

	created := server.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"id_token": server.signGoogleToken(t, "g-123", "grace@example.com", true)})
	if created.Code != http.StatusOK {
		t.Fatalf("google sign-in failed with %d: %s", created.Code, created.Body.String())
	}
	session := decodeSession(t, created)
	if session.User.Email != "grace@example.com" || session.User.Name != "grace" {
		t.Fatalf("unexpected federated user %+v", session.User)
	}

	var record users.UserRecord
	if err := server.db.First(&record, "id = ?", session.User.ID).Error; err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if record.FederatedID == nil || *record.FederatedID != "g-123" {
		t.Fatalf("expected federated id g-123, got %v", record.FederatedID)
	}
	if record.PasswordHash != nil {
		t.Fatalf("federated account must not carry a password hash")
	}

	again := server.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"id_token": server.signGoogleToken(t, "g-123", "grace@example.com", true)})
	if again.Code != http.StatusOK || decodeSession(t, again).User.ID != session.User.ID {
		t.Fatalf("second sign-in did not resolve the same user")
	}

	local := server.signup(t, "Ada", "ada@example.com", "correct-horse")
	linked := server.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"id_token": server.signGoogleToken(t, "g-456", "ada@example.com", true)})
	if linked.Code != http.StatusOK || decodeSession(t, linked).User.ID != local.User.ID {
		t.Fatalf("expected google sign-in to link the local account, got %d", linked.Code)
	}
	login := server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	if login.Code != http.StatusOK {
		t.Fatalf("linked account lost its password, got %d", login.Code)
	}
}

func TestGoogleCallbackRejectsBadTokens(t *testing.T) {
	server := newTestServer(t)
	server.signup(t, "Ada", "ada@example.com", "correct-horse")

	cases := map[string]struct {
		idToken string
		status  int
	}{
		"empty":      {idToken: "", status: http.StatusBadRequest},
		"garbage":    {idToken: "not-a-jwt", status: http.StatusUnauthorized},
		"unverified": {idToken: server.signGoogleToken(t, "g-789", "ada@example.com", false), status: http.StatusUnauthorized},
	}
	for name, tc := range cases {
		recorder := server.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"id_token": tc.idToken})
		if recorder.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", name, tc.status, recorder.Code, recorder.Body.String())
		}
	}
}

func TestProfileUpdateAndPhoto(t *testing.T) {
	server := newTestServer(t)
	ada := server.signup(t, "Ada", "ada@example.com", "correct-horse")
	server.signup(t, "Grace", "grace@example.com", "correct-horse")

	conflict := server.do(t, http.MethodPut, "/api/profile", ada.Token, map[string]string{"email": "grace@example.com"})
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", conflict.Code)
	}

	renamed := server.do(t, http.MethodPut, "/api/profile", ada.Token, map[string]string{
		"name":             "Ada Lovelace",
		"current_password": "correct-horse",
		"new_password":     "analytical-engine",
	})
	if renamed.Code != http.StatusOK {
		t.Fatalf("profile update failed with %d: %s", renamed.Code, renamed.Body.String())
	}
	var updated userPayload
	if err := json.Unmarshal(renamed.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	if updated.Name != "Ada Lovelace" {
		t.Fatalf("unexpected name %q", updated.Name)
	}
	relogin := server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "analytical-engine"})
	if relogin.Code != http.StatusOK {
		t.Fatalf("login with new password failed with %d", relogin.Code)
	}

	photoData := "data:image/png;base64,iVBORw0KGgo="
	photo := server.do(t, http.MethodPost, "/api/profile/photo", ada.Token, map[string]string{"photo_data": photoData})
	if photo.Code != http.StatusOK {
		t.Fatalf("photo update failed with %d: %s", photo.Code, photo.Body.String())
	}
	var withPhoto userPayload
	if err := json.Unmarshal(photo.Body.Bytes(), &withPhoto); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	if withPhoto.ProfilePhoto == nil || withPhoto.ProfilePhoto.Data != photoData || withPhoto.ProfilePhoto.ContentType != "image/png" {
		t.Fatalf("unexpected photo %+v", withPhoto.ProfilePhoto)
	}

	badPhoto := server.do(t, http.MethodPost, "/api/profile/photo", ada.Token, map[string]string{"photo_data": "https://example.com/a.png"})
	if badPhoto.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non data url photo, got %d", badPhoto.Code)
	}
}

func TestImageHistoryIsScopedToOwner(t *testing.T) {
	server := newTestServer(t)
	ada := server.signup(t, "Ada", "ada@example.com", "correct-horse")
	grace := server.signup(t, "Grace", "grace@example.com", "correct-horse")

	uploaded := server.upload(t, ada.Token, map[string][]byte{
		formFieldSketch:    pngBytes(t, 10),
		formFieldGenerated: pngBytes(t, 200),
	})
	if uploaded.Code != http.StatusOK {
		t.Fatalf("upload failed with %d: %s", uploaded.Code, uploaded.Body.String())
	}
	var upload uploadResponsePayload
	if err := json.Unmarshal(uploaded.Body.Bytes(), &upload); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if upload.ImageID == "" {
		t.Fatalf("expected image id in upload response")
	}

	history := server.do(t, http.MethodGet, "/api/images/history", ada.Token, nil)
	var entries []entryPayload
	if err := json.Unmarshal(history.Body.Bytes(), &entries); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != upload.ImageID {
		t.Fatalf("unexpected history %+v", entries)
	}
	if !strings.HasPrefix(entries[0].SketchImage, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %.40q", entries[0].SketchImage)
	}

	otherHistory := server.do(t, http.MethodGet, "/api/images/history", grace.Token, nil)
	if strings.TrimSpace(otherHistory.Body.String()) != "[]" {
		t.Fatalf("expected empty history for another user, got %s", otherHistory.Body.String())
	}

	foreignDelete := server.do(t, http.MethodDelete, "/api/images/"+upload.ImageID, grace.Token, nil)
	if foreignDelete.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign delete, got %d", foreignDelete.Code)
	}
	ownDelete := server.do(t, http.MethodDelete, "/api/images/"+upload.ImageID, ada.Token, nil)
	if ownDelete.Code != http.StatusOK {
		t.Fatalf("expected 200 for own delete, got %d", ownDelete.Code)
	}
}

func TestImageUploadRejectsInvalidFiles(t *testing.T) {
	server := newTestServer(t)
	ada := server.signup(t, "Ada", "ada@example.com", "correct-horse")

	cases := map[string]map[string][]byte{
		"missing generated": {formFieldSketch: pngBytes(t, 10)},
		"not an image":      {formFieldSketch: pngBytes(t, 10), formFieldGenerated: []byte("plain text, not pixels")},
		"too large":         {formFieldSketch: pngBytes(t, 10), formFieldGenerated: append(pngBytes(t, 20), make([]byte, testMaxImageBytes)...)},
	}
	for name, files := range cases {
		recorder := server.upload(t, ada.Token, files)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", name, recorder.Code, recorder.Body.String())
		}
		if payload := decodeError(t, recorder); payload.Error != "validation_failed" {
			t.Fatalf("%s: unexpected payload %+v", name, payload)
		}
	}
}

func TestUnknownRouteReturnsNotFoundEnvelope(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodGet, "/api/nowhere", "", nil)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if payload := decodeError(t, recorder); payload.Error != "not_found" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
