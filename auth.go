// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

// Authenticator performs one authentication method.
//
// Attempt is a try-once step against ac.Engine: it returns nil once the
// server accepted the credentials, iox.ErrWouldBlock when the engine
// stalled on readiness, or a failure. Attempt is called again with the
// same AuthContext after every would-block.
type Authenticator interface {
	Attempt(ac AuthContext) error
}

// AuthContext is the session view handed to an Authenticator.
type AuthContext struct {
	Engine   Engine
	Username string
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ac AuthContext) error

// Attempt calls f(ac).
func (f AuthenticatorFunc) Attempt(ac AuthContext) error { return f(ac) }

type passwordAuth struct {
	password string
}

func (p passwordAuth) Attempt(ac AuthContext) error {
	return ac.Engine.UserauthPassword(ac.Username, p.password)
}

// Password authenticates with a password.
func Password(password string) Authenticator {
	return passwordAuth{password: password}
}

type publicKeyAuth struct {
	key, passphrase []byte
}

func (p publicKeyAuth) Attempt(ac AuthContext) error {
	return ac.Engine.UserauthPublickey(ac.Username, p.key, p.passphrase)
}

// PublicKey authenticates with a PEM-encoded private key. passphrase
// is nil for an unencrypted key.
func PublicKey(privateKey, passphrase []byte) Authenticator {
	return publicKeyAuth{key: privateKey, passphrase: passphrase}
}
