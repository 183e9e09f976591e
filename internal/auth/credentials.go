package auth

import "crypto/subtle"

// ServerCredentials authorize server control requests without an account.
type ServerCredentials struct {
	Login    string
	Password string
}

// Match reports whether login and password equal the configured pair.
func (c ServerCredentials) Match(login, password string) bool {
	if c.Login == "" || c.Password == "" {
		return false
	}
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(c.Login)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	return loginOK && passwordOK
}
