// Package authtest provides an in-process stand-in for the auth backend.
// It implements every endpoint the client consumes against in-memory
// accounts, with bcrypt password hashes, TOTP-derived SMS passcodes, and
// HS256 exchange tokens. Used by tests and the demo binary.
package authtest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/casaflow/devicetrust/pkg/apierror"
	"github.com/casaflow/devicetrust/pkg/authapi"
)

const (
	otpPeriod = 300
	otpSkew   = 1

	exchangeTokenTTL = 5 * time.Minute
)

// Account is one registered user on the fake backend.
type Account struct {
	UID          string
	PhoneNumber  string
	PasswordHash []byte
	OTPSecret    string
	Profile      json.RawMessage
}

// Server is the fake auth backend.
type Server struct {
	jwtSecret []byte

	mu       sync.Mutex
	accounts map[string]*Account // keyed by phone number
	lastCode map[string]string   // last issued passcode per phone, for tests
}

// NewServer creates an empty fake backend signing tokens with jwtSecret
func NewServer(jwtSecret string) *Server {
	return &Server{
		jwtSecret: []byte(jwtSecret),
		accounts:  make(map[string]*Account),
		lastCode:  make(map[string]string),
	}
}

// AddAccount registers an account. An empty password leaves the account in
// the PASSWORD_NOT_SET state.
func (s *Server) AddAccount(phoneNumber, password string, profile json.RawMessage) (*Account, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "authtest",
		AccountName: phoneNumber,
	})
	if err != nil {
		return nil, err
	}

	account := &Account{
		UID:         uuid.New().String(),
		PhoneNumber: phoneNumber,
		OTPSecret:   key.Secret(),
		Profile:     profile,
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = hash
	}

	s.mu.Lock()
	s.accounts[phoneNumber] = account
	s.mu.Unlock()
	return account, nil
}

// LastCode returns the most recently issued passcode for the phone number.
// Stands in for reading the SMS in tests.
func (s *Server) LastCode(phoneNumber string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode[phoneNumber]
}

// Handler returns the backend's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/auth/check-phone", s.handleCheckPhone)
	r.Post("/auth/password-login", s.handlePasswordLogin)
	r.Post("/auth/request-otp", s.handleRequestOTP)
	r.Post("/auth/verify-otp", s.handleVerifyOTP)
	r.Post("/auth/login-with-otp", s.handleLoginWithOTP)
	r.Post("/auth/register-with-otp", s.handleRegisterWithOTP)
	return r
}

func (s *Server) handleCheckPhone(w http.ResponseWriter, r *http.Request) {
	var req authapi.CheckPhoneRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, apierror.New(apierror.CodeBadRequest, "invalid request body"))
		return
	}

	s.mu.Lock()
	account, exists := s.accounts[req.PhoneNumber]
	s.mu.Unlock()

	resp := authapi.CheckPhoneResponse{Exists: exists}
	if exists {
		resp.UserID = account.UID
	}
	render.JSON(w, r, resp)
}

func (s *Server) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req authapi.PasswordLoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, apierror.New(apierror.CodeBadRequest, "invalid request body"))
		return
	}

	s.mu.Lock()
	account, exists := s.accounts[req.PhoneNumber]
	s.mu.Unlock()

	if !exists {
		renderError(w, r, apierror.New(apierror.CodeUserNotFound, "no account for phone number"))
		return
	}
	if len(account.PasswordHash) == 0 {
		renderError(w, r, apierror.New(apierror.CodePasswordNotSet, "password login not configured"))
		return
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(req.Password)); err != nil {
		renderError(w, r, apierror.New(apierror.CodeInvalidPassword, "wrong password"))
		return
	}

	s.renderLogin(w, r, account)
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req authapi.RequestOTPRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, apierror.New(apierror.CodeBadRequest, "invalid request body"))
		return
	}

	s.mu.Lock()
	account, exists := s.accounts[req.PhoneNumber]
	s.mu.Unlock()

	if !exists && req.Purpose != authapi.PurposeRegister {
		renderError(w, r, apierror.New(apierror.CodeUserNotFound, "no account for phone number"))
		return
	}

	secret := s.secretFor(req.PhoneNumber, account)
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    otpPeriod,
		Skew:      otpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		renderError(w, r, apierror.New(apierror.CodeInternal, "failed to generate passcode"))
		return
	}

	s.mu.Lock()
	s.lastCode[req.PhoneNumber] = code
	s.mu.Unlock()

	// SMS delivery is the real backend's job; the passcode is only kept for
	// LastCode.
	slog.Debug("Issued OTP passcode", "phone", req.PhoneNumber, "purpose", req.Purpose)
	render.JSON(w, r, authapi.RequestOTPResponse{OK: true})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req authapi.VerifyOTPRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, apierror.New(apierror.CodeBadRequest, "invalid request body"))
		return
	}

	render.JSON(w, r, authapi.VerifyOTPResponse{Verified: s.validCode(req.PhoneNumber, req.Code)})
}

func (s *Server) handleLoginWithOTP(w http.ResponseWriter, r *http.Request) {
	var req authapi.LoginWithOTPRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, apierror.New(apierror.CodeBadRequest, "invalid request body"))
		return
	}

	s.mu.Lock()
	account, exists := s.accounts[req.PhoneNumber]
	s.mu.Unlock()

	if !exists {
		renderError(w, r, apierror.New(apierror.CodeUserNotFound, "no account for phone number"))
		return
	}
	if !s.validCode(req.PhoneNumber, req.Code) {
		renderError(w, r, apierror.New(apierror.CodeInvalidOTP, "wrong or expired passcode"))
		return
	}

	s.renderLogin(w, r, account)
}

func (s *Server) handleRegisterWithOTP(w http.ResponseWriter, r *http.Request) {
	var req authapi.RegisterWithOTPRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, apierror.New(apierror.CodeBadRequest, "invalid request body"))
		return
	}

	s.mu.Lock()
	_, exists := s.accounts[req.PhoneNumber]
	s.mu.Unlock()
	if exists {
		renderError(w, r, apierror.New(apierror.CodeConflict, "account already exists"))
		return
	}
	if !s.validCode(req.PhoneNumber, req.Code) {
		renderError(w, r, apierror.New(apierror.CodeInvalidOTP, "wrong or expired passcode"))
		return
	}

	account, err := s.AddAccount(req.PhoneNumber, "", req.ProfileData)
	if err != nil {
		renderError(w, r, apierror.New(apierror.CodeInternal, "failed to create account"))
		return
	}
	s.renderLogin(w, r, account)
}

// secretFor returns the account's OTP secret, or a registration secret for
// phones without an account yet.
func (s *Server) secretFor(phoneNumber string, account *Account) string {
	if account != nil {
		return account.OTPSecret
	}
	// Registration codes for unknown phones use a deterministic secret
	// derived from the phone number so verify can recompute it.
	return registrationSecret(s.jwtSecret, phoneNumber)
}

func (s *Server) validCode(phoneNumber, code string) bool {
	s.mu.Lock()
	account := s.accounts[phoneNumber]
	s.mu.Unlock()

	var secret string
	if account != nil {
		secret = account.OTPSecret
	} else {
		secret = registrationSecret(s.jwtSecret, phoneNumber)
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    otpPeriod,
		Skew:      otpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Debug("Passcode validation failed", "phone", phoneNumber, "error", err)
		return false
	}
	return valid
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, account *Account) {
	token, err := s.exchangeToken(account.UID)
	if err != nil {
		renderError(w, r, apierror.New(apierror.CodeInternal, "failed to sign token"))
		return
	}
	render.JSON(w, r, authapi.LoginResponse{
		UID:   account.UID,
		Token: token,
		User:  account.Profile,
	})
}

// exchangeToken signs a short-lived HS256 token the client exchanges for a
// session.
func (s *Server) exchangeToken(uid string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"uid":     uid,
		"purpose": "exchange",
		"iat":     now.Unix(),
		"exp":     now.Add(exchangeTokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func renderError(w http.ResponseWriter, r *http.Request, apiErr *apierror.Error) {
	render.Status(r, apierror.HTTPStatus(apiErr.Code))
	render.JSON(w, r, apiErr)
}
