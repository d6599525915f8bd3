// Package response writes the JSON envelope every endpoint answers with:
// {"code": <int>, "message": <string>, "data": <any>}.
package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
)

// Code is the stable machine-readable result code carried in the envelope.
type Code int

const (
	Ok Code = iota + 1
	NotFound
	OAuthCodeError
	OAuthGetUserInfoError
	LoginUserNotFoundError
	LoginPasswordError
	SignUpEmailAlreadyRegistered
	AuthError
	VerifyEmailError
	EditUserFailed
	InternalError
	BadRequest
	TooManyRequests
)

var messages = map[Code]string{
	Ok:                           "ok",
	NotFound:                     "not found",
	OAuthCodeError:               "oauth login failed",
	OAuthGetUserInfoError:        "oauth login failed",
	LoginUserNotFoundError:       "user not found",
	LoginPasswordError:           "wrong password",
	SignUpEmailAlreadyRegistered: "email already registered",
	AuthError:                    "unauthorized",
	VerifyEmailError:             "email verification failed",
	EditUserFailed:               "edit user failed",
	InternalError:                "internal error",
	BadRequest:                   "bad request",
	TooManyRequests:              "too many requests",
}

var statuses = map[Code]int{
	Ok:                           http.StatusOK,
	NotFound:                     http.StatusNotFound,
	OAuthCodeError:               http.StatusBadRequest,
	OAuthGetUserInfoError:        http.StatusBadRequest,
	LoginUserNotFoundError:       http.StatusUnauthorized,
	LoginPasswordError:           http.StatusUnauthorized,
	SignUpEmailAlreadyRegistered: http.StatusConflict,
	AuthError:                    http.StatusUnauthorized,
	VerifyEmailError:             http.StatusBadRequest,
	EditUserFailed:               http.StatusBadRequest,
	InternalError:                http.StatusInternalServerError,
	BadRequest:                   http.StatusBadRequest,
	TooManyRequests:              http.StatusTooManyRequests,
}

func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[InternalError]
}

func (c Code) Status() int {
	if s, ok := statuses[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type Envelope struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes data under code Ok.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Code: Ok, Message: Ok.Message(), Data: data})
}

// Fail writes code with its fixed message and status and no data.
func Fail(w http.ResponseWriter, code Code) {
	writeJSON(w, code.Status(), Envelope{Code: code, Message: code.Message()})
}

// RetryAfter is Fail(TooManyRequests) with a Retry-After header.
func RetryAfter(w http.ResponseWriter, seconds int) {
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	Fail(w, TooManyRequests)
}

const maxBody = 1 << 20

// DecodeJSON reads a JSON body into v, capped at 1 MiB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

// IsForm reports whether the request carries a form body.
func IsForm(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}
